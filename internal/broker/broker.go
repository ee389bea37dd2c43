package broker

import (
	"context"
	"time"
)

type Publisher interface {
	PublishDelayed(ctx context.Context, taskID string, delay time.Duration) error
}

type Worker interface {
	Start(ctx context.Context)
	Stop()
}

type ProcessFunc func(ctx context.Context, taskID string) error
