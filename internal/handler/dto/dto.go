package dto

import (
	"time"

	"github.com/SlavaLB/it-school/internal/domain"
)

type CreateLessonRequest struct {
	Title     string `json:"title" validate:"required"`
	StartTime string `json:"start_time" validate:"required"`
}

type LessonScheduledResponse struct {
	TaskID    string    `json:"task_id"`
	Title     string    `json:"title"`
	StartTime time.Time `json:"start_time"`
}

type TaskResponse struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	FireAt    time.Time `json:"fire_at"`
	Status    string    `json:"status"`
	Attempts  int       `json:"attempts"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type StatusResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func FromDomain(t *domain.Task) TaskResponse {
	return TaskResponse{
		ID:        t.ID,
		Type:      string(t.Type),
		FireAt:    t.FireAt,
		Status:    string(t.Status),
		Attempts:  t.Attempts,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
}
