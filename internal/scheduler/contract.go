package scheduler

import (
	"context"
	"time"

	"github.com/SlavaLB/it-school/internal/domain"
)

type TaskSubmitter interface {
	Submit(ctx context.Context, taskType domain.TaskType, payload domain.ReminderPayload, fireAt time.Time) (string, error)
}
