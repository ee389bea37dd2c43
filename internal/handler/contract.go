package handler

import (
	"context"

	"github.com/SlavaLB/it-school/internal/domain"
)

type LessonScheduler interface {
	OnLessonCreated(ctx context.Context, lesson domain.Lesson) (string, error)
}

type TaskService interface {
	Status(ctx context.Context, id string) (domain.TaskStatus, error)
	Cancel(ctx context.Context, id string) error
	List(ctx context.Context) ([]*domain.Task, error)
}
