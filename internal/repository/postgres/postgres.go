package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/SlavaLB/it-school/internal/domain"
	"github.com/SlavaLB/it-school/internal/repository"

	"github.com/wb-go/wbf/dbpg"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"
)

// TaskRepository is the durable side of the task queue. A task row becomes
// claimable once fire_at has passed and it is either pending or its previous
// claim lease (claimed_until) has expired.
type TaskRepository struct {
	db      *dbpg.DB
	cache   repository.Cache
	retries retry.Strategy
	ttl     time.Duration
}

func NewTaskRepository(
	db *dbpg.DB,
	cache repository.Cache,
	retries retry.Strategy,
	ttl time.Duration,
) *TaskRepository {
	r := &TaskRepository{
		db:      db,
		cache:   cache,
		retries: retries,
		ttl:     ttl,
	}
	r.initSchema()
	return r
}

func (r *TaskRepository) initSchema() {
	_, err := r.db.ExecWithRetry(context.Background(), r.retries,
		`CREATE TABLE IF NOT EXISTS tasks (
			id VARCHAR(36) PRIMARY KEY,
			task_type VARCHAR(50) NOT NULL,
			payload JSONB NOT NULL,
			fire_at TIMESTAMP WITH TIME ZONE NOT NULL,
			status VARCHAR(20) NOT NULL DEFAULT 'pending',
			attempts INTEGER NOT NULL DEFAULT 0,
			claimed_until TIMESTAMP WITH TIME ZONE,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("Failed to create tasks table")
	}
	_, err = r.db.ExecWithRetry(context.Background(), r.retries,
		`CREATE INDEX IF NOT EXISTS tasks_due_idx ON tasks (fire_at) WHERE status = 'pending'`)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("Failed to create tasks index")
	}
}

func (r *TaskRepository) Create(ctx context.Context, task *domain.Task) error {
	_, err := r.db.ExecWithRetry(ctx, r.retries,
		`INSERT INTO tasks (id, task_type, payload, fire_at, status, attempts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		task.ID, task.Type, []byte(task.Payload), task.FireAt,
		task.Status, task.Attempts, task.CreatedAt, task.UpdatedAt,
	)

	if err == nil {
		r.cache.Set(ctx, task.ID, task, r.ttl)
	}

	return err
}

func (r *TaskRepository) Get(ctx context.Context, id string) (*domain.Task, error) {
	cached, err := r.cache.Get(ctx, id)
	if err == nil && cached != nil {
		return cached, nil
	}

	row, err := r.db.QueryRowWithRetry(ctx, r.retries,
		`SELECT id, task_type, payload, fire_at, status, attempts, claimed_until, created_at, updated_at
		FROM tasks WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}

	task, err := scanTask(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	r.cache.Set(ctx, id, task, r.ttl)
	return task, nil
}

// ClaimByID leases one specific task. Returns nil without error when the
// task is not claimable yet (not due, already claimed, or finished).
func (r *TaskRepository) ClaimByID(ctx context.Context, id string, now time.Time, visibility time.Duration) (*domain.Task, error) {
	return r.claim(ctx, now, visibility, `AND id = $3`, id)
}

// ClaimNextDue leases the earliest due task, competing with other workers
// through FOR UPDATE SKIP LOCKED.
func (r *TaskRepository) ClaimNextDue(ctx context.Context, now time.Time, visibility time.Duration) (*domain.Task, error) {
	return r.claim(ctx, now, visibility, ``)
}

func (r *TaskRepository) claim(ctx context.Context, now time.Time, visibility time.Duration, extraCond string, extraArgs ...interface{}) (*domain.Task, error) {
	args := append([]interface{}{now, now.Add(visibility)}, extraArgs...)
	row, err := r.db.QueryRowWithRetry(ctx, r.retries,
		`UPDATE tasks SET claimed_until = $2, updated_at = $1
		WHERE id = (
			SELECT id FROM tasks
			WHERE fire_at <= $1
			  AND status = 'pending'
			  AND (claimed_until IS NULL OR claimed_until <= $1)
			  `+extraCond+`
			ORDER BY fire_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING id, task_type, payload, fire_at, status, attempts, claimed_until, created_at, updated_at`,
		args...)
	if err != nil {
		return nil, err
	}

	task, err := scanTask(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	r.cache.Del(ctx, task.ID)
	return task, nil
}

// Ack marks the task done. The caller supplies now from the canonical clock
// so the stamp lines up with the claim that preceded it.
func (r *TaskRepository) Ack(ctx context.Context, id string, now time.Time) error {
	_, err := r.db.ExecWithRetry(ctx, r.retries,
		`UPDATE tasks SET status = $1, claimed_until = NULL, updated_at = $2 WHERE id = $3`,
		domain.StatusDone, now, id,
	)

	if err == nil {
		r.cache.Del(ctx, id)
	}

	return err
}

// Fail releases the claim and reschedules the task for the given instant,
// counting the attempt.
func (r *TaskRepository) Fail(ctx context.Context, id string, now, nextFireAt time.Time) error {
	_, err := r.db.ExecWithRetry(ctx, r.retries,
		`UPDATE tasks SET attempts = attempts + 1, claimed_until = NULL, fire_at = $1, updated_at = $2 WHERE id = $3`,
		nextFireAt, now, id,
	)

	if err == nil {
		r.cache.Del(ctx, id)
	}

	return err
}

func (r *TaskRepository) MarkDead(ctx context.Context, id string, now time.Time) error {
	_, err := r.db.ExecWithRetry(ctx, r.retries,
		`UPDATE tasks SET status = $1, attempts = attempts + 1, claimed_until = NULL, updated_at = $2 WHERE id = $3`,
		domain.StatusDead, now, id,
	)

	if err == nil {
		r.cache.Del(ctx, id)
	}

	return err
}

// Cancel withdraws a still-pending, unclaimed task. The lease comparison uses
// the caller's now, the same clock the claim lease was written with.
func (r *TaskRepository) Cancel(ctx context.Context, id string, now time.Time) error {
	res, err := r.db.ExecWithRetry(ctx, r.retries,
		`UPDATE tasks SET status = $1, updated_at = $2
		WHERE id = $3 AND status = 'pending' AND (claimed_until IS NULL OR claimed_until <= $2)`,
		domain.StatusCancelled, now, id,
	)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrCannotCancel
	}

	r.cache.Del(ctx, id)
	return nil
}

func (r *TaskRepository) List(ctx context.Context) ([]*domain.Task, error) {
	rows, err := r.db.QueryWithRetry(ctx, r.retries,
		`SELECT id, task_type, payload, fire_at, status, attempts, claimed_until, created_at, updated_at
		FROM tasks ORDER BY created_at DESC LIMIT 100`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*domain.Task
	for rows.Next() {
		task, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}

	return tasks, rows.Err()
}

func (r *TaskRepository) Close() error {
	return r.db.Master.Close()
}

func scanTask(scan func(dest ...interface{}) error) (*domain.Task, error) {
	var (
		task         domain.Task
		payload      []byte
		claimedUntil sql.NullTime
	)
	err := scan(
		&task.ID, &task.Type, &payload, &task.FireAt,
		&task.Status, &task.Attempts, &claimedUntil, &task.CreatedAt, &task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	task.Payload = payload
	if claimedUntil.Valid {
		task.ClaimedUntil = &claimedUntil.Time
	}
	return &task, nil
}
