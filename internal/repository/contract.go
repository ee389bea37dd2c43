package repository

import (
	"context"
	"time"

	"github.com/SlavaLB/it-school/internal/domain"
)

type Cache interface {
	Set(ctx context.Context, id string, task *domain.Task, ttl time.Duration) error
	Del(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*domain.Task, error)
	Close() error
}
