package executor

import (
	"context"
	"time"

	"github.com/SlavaLB/it-school/internal/domain"
)

type TaskRepository interface {
	Create(ctx context.Context, task *domain.Task) error
	Get(ctx context.Context, id string) (*domain.Task, error)
	ClaimByID(ctx context.Context, id string, now time.Time, visibility time.Duration) (*domain.Task, error)
	ClaimNextDue(ctx context.Context, now time.Time, visibility time.Duration) (*domain.Task, error)
	Ack(ctx context.Context, id string, now time.Time) error
	Fail(ctx context.Context, id string, now, nextFireAt time.Time) error
	MarkDead(ctx context.Context, id string, now time.Time) error
	Cancel(ctx context.Context, id string, now time.Time) error
	List(ctx context.Context) ([]*domain.Task, error)
}
