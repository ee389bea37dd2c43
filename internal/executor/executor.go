package executor

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/SlavaLB/it-school/internal/broker"
	"github.com/SlavaLB/it-school/internal/clock"
	"github.com/SlavaLB/it-school/internal/domain"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"
)

// Handler is a task body. It must tolerate re-runs: the queue guarantees
// at-least-once execution, not exactly-once.
type Handler func(ctx context.Context, payload domain.ReminderPayload) error

// Executor is the delayed-task queue. Submit persists a task and schedules
// a wake-up; Process claims the task at fire time, routes it to the handler
// registered for its type and applies the retry/dead-letter policy.
type Executor struct {
	repo       TaskRepository
	publisher  broker.Publisher
	clk        *clock.Clock
	validate   *validator.Validate
	retries    retry.Strategy
	visibility time.Duration

	mu       sync.RWMutex
	handlers map[domain.TaskType]Handler
}

func New(
	repo TaskRepository,
	publisher broker.Publisher,
	clk *clock.Clock,
	retries retry.Strategy,
	visibility time.Duration,
) *Executor {
	return &Executor{
		repo:       repo,
		publisher:  publisher,
		clk:        clk,
		validate:   validator.New(),
		retries:    retries,
		visibility: visibility,
		handlers:   make(map[domain.TaskType]Handler),
	}
}

func (e *Executor) Register(taskType domain.TaskType, handler Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[taskType] = handler
}

// Submit durably enqueues a task and returns without waiting for execution.
// A store failure propagates to the caller: a silently lost reminder is a
// correctness violation. A failed wake-up publish is only logged, the due
// sweeper picks the task up from the store.
func (e *Executor) Submit(ctx context.Context, taskType domain.TaskType, payload domain.ReminderPayload, fireAt time.Time) (string, error) {
	if err := e.validate.Struct(payload); err != nil {
		return "", fmt.Errorf("invalid task payload: %w", err)
	}
	body, err := domain.MarshalPayload(payload)
	if err != nil {
		return "", err
	}

	now := e.clk.Now()
	task := &domain.Task{
		ID:        uuid.New().String(),
		Type:      taskType,
		Payload:   body,
		FireAt:    fireAt,
		Status:    domain.StatusPending,
		Attempts:  0,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.repo.Create(ctx, task); err != nil {
		return "", fmt.Errorf("failed to persist task: %w", err)
	}

	if err := e.publisher.PublishDelayed(ctx, task.ID, fireAt.Sub(now)); err != nil {
		zlog.Logger.Warn().Err(err).Str("task_id", task.ID).Msg("Failed to publish wake-up, sweeper will recover")
	}

	return task.ID, nil
}

// Process handles one wake-up. Claiming the row gives this worker an
// exclusive lease; a nil claim means another worker won, the task was
// cancelled, or the fire instant has not arrived yet.
func (e *Executor) Process(ctx context.Context, taskID string) error {
	now := e.clk.Now()
	task, err := e.repo.ClaimByID(ctx, taskID, now, e.visibility)
	if err != nil {
		return err
	}
	if task == nil {
		return e.handleUnclaimable(ctx, taskID, now)
	}
	return e.execute(ctx, task)
}

// ProcessNextDue claims and executes the earliest due task. Returns false
// when nothing is claimable.
func (e *Executor) ProcessNextDue(ctx context.Context) (bool, error) {
	task, err := e.repo.ClaimNextDue(ctx, e.clk.Now(), e.visibility)
	if err != nil {
		return false, err
	}
	if task == nil {
		return false, nil
	}
	return true, e.execute(ctx, task)
}

func (e *Executor) handleUnclaimable(ctx context.Context, taskID string, now time.Time) error {
	task, err := e.repo.Get(ctx, taskID)
	if err != nil {
		return err
	}
	if task == nil {
		return domain.ErrNotFound
	}
	// An early wake-up (clock skew between broker and store) is rescheduled.
	if task.Status == domain.StatusPending && task.FireAt.After(now) {
		return e.publisher.PublishDelayed(ctx, taskID, task.FireAt.Sub(now))
	}
	zlog.Logger.Info().Str("task_id", taskID).Str("status", string(task.Status)).Msg("Task not claimable, skipping")
	return nil
}

func (e *Executor) execute(ctx context.Context, task *domain.Task) error {
	e.mu.RLock()
	handler, ok := e.handlers[task.Type]
	e.mu.RUnlock()
	if !ok {
		zlog.Logger.Error().Str("task_id", task.ID).Str("task_type", string(task.Type)).Msg("No handler for task type, dead-lettering")
		return e.repo.MarkDead(ctx, task.ID, e.clk.Now())
	}

	payload, err := domain.UnmarshalPayload(task.Payload)
	if err != nil {
		zlog.Logger.Error().Err(err).Str("task_id", task.ID).Msg("Malformed task payload, dead-lettering")
		return e.repo.MarkDead(ctx, task.ID, e.clk.Now())
	}

	if err := runHandler(ctx, handler, payload); err != nil {
		return e.fail(ctx, task, err)
	}
	return e.repo.Ack(ctx, task.ID, e.clk.Now())
}

func (e *Executor) fail(ctx context.Context, task *domain.Task, cause error) error {
	now := e.clk.Now()
	attempts := task.Attempts + 1
	if attempts >= e.retries.Attempts {
		zlog.Logger.Error().Err(cause).Str("task_id", task.ID).Int("attempts", attempts).Msg("Retries exhausted, dead-lettering task")
		return e.repo.MarkDead(ctx, task.ID, now)
	}

	backoff := time.Duration(float64(e.retries.Delay) * math.Pow(e.retries.Backoff, float64(attempts-1)))
	zlog.Logger.Warn().Err(cause).Str("task_id", task.ID).Int("attempts", attempts).Dur("backoff", backoff).Msg("Task failed, retrying")

	if err := e.repo.Fail(ctx, task.ID, now, now.Add(backoff)); err != nil {
		return err
	}
	if err := e.publisher.PublishDelayed(ctx, task.ID, backoff); err != nil {
		zlog.Logger.Warn().Err(err).Str("task_id", task.ID).Msg("Failed to publish retry wake-up, sweeper will recover")
	}
	return nil
}

// runHandler keeps a panicking task body from taking down the worker loop.
func runHandler(ctx context.Context, handler Handler, payload domain.ReminderPayload) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task handler panic: %v", r)
		}
	}()
	return handler(ctx, payload)
}

func (e *Executor) Status(ctx context.Context, id string) (domain.TaskStatus, error) {
	task, err := e.repo.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if task == nil {
		return "", domain.ErrNotFound
	}
	return task.Status, nil
}

func (e *Executor) Cancel(ctx context.Context, id string) error {
	task, err := e.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if task == nil {
		return domain.ErrNotFound
	}
	return e.repo.Cancel(ctx, id, e.clk.Now())
}

func (e *Executor) List(ctx context.Context) ([]*domain.Task, error) {
	return e.repo.List(ctx)
}
