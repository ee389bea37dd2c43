package executor

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/SlavaLB/it-school/internal/clock"
	"github.com/SlavaLB/it-school/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wb-go/wbf/retry"
)

// memRepo implements TaskRepository with the same claim semantics as the
// Postgres store: a task is claimable only when due, pending and not under
// an unexpired lease.
type memRepo struct {
	mu    sync.Mutex
	tasks map[string]*domain.Task
}

func newMemRepo() *memRepo {
	return &memRepo{tasks: make(map[string]*domain.Task)}
}

func (m *memRepo) Create(ctx context.Context, task *domain.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *task
	m.tasks[task.ID] = &cp
	return nil
}

func (m *memRepo) Get(ctx context.Context, id string) (*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	if !ok {
		return nil, nil
	}
	cp := *task
	return &cp, nil
}

func (m *memRepo) claimable(task *domain.Task, now time.Time) bool {
	if task.Status != domain.StatusPending || task.FireAt.After(now) {
		return false
	}
	return task.ClaimedUntil == nil || !task.ClaimedUntil.After(now)
}

func (m *memRepo) ClaimByID(ctx context.Context, id string, now time.Time, visibility time.Duration) (*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	if !ok || !m.claimable(task, now) {
		return nil, nil
	}
	until := now.Add(visibility)
	task.ClaimedUntil = &until
	cp := *task
	return &cp, nil
}

func (m *memRepo) ClaimNextDue(ctx context.Context, now time.Time, visibility time.Duration) (*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []*domain.Task
	for _, task := range m.tasks {
		if m.claimable(task, now) {
			due = append(due, task)
		}
	}
	if len(due) == 0 {
		return nil, nil
	}
	sort.Slice(due, func(i, j int) bool { return due[i].FireAt.Before(due[j].FireAt) })
	task := due[0]
	until := now.Add(visibility)
	task.ClaimedUntil = &until
	cp := *task
	return &cp, nil
}

func (m *memRepo) Ack(ctx context.Context, id string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[id].Status = domain.StatusDone
	m.tasks[id].ClaimedUntil = nil
	m.tasks[id].UpdatedAt = now
	return nil
}

func (m *memRepo) Fail(ctx context.Context, id string, now, nextFireAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[id].Attempts++
	m.tasks[id].FireAt = nextFireAt
	m.tasks[id].ClaimedUntil = nil
	m.tasks[id].UpdatedAt = now
	return nil
}

func (m *memRepo) MarkDead(ctx context.Context, id string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[id].Status = domain.StatusDead
	m.tasks[id].Attempts++
	m.tasks[id].ClaimedUntil = nil
	m.tasks[id].UpdatedAt = now
	return nil
}

func (m *memRepo) Cancel(ctx context.Context, id string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	if !ok || task.Status != domain.StatusPending {
		return domain.ErrCannotCancel
	}
	if task.ClaimedUntil != nil && task.ClaimedUntil.After(now) {
		return domain.ErrCannotCancel
	}
	task.Status = domain.StatusCancelled
	task.UpdatedAt = now
	return nil
}

func (m *memRepo) List(ctx context.Context) ([]*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var tasks []*domain.Task
	for _, task := range m.tasks {
		cp := *task
		tasks = append(tasks, &cp)
	}
	return tasks, nil
}

type publish struct {
	taskID string
	delay  time.Duration
}

type fakePublisher struct {
	mu        sync.Mutex
	published []publish
	err       error
}

func (f *fakePublisher) PublishDelayed(ctx context.Context, taskID string, delay time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, publish{taskID: taskID, delay: delay})
	return nil
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

func testStrategy() retry.Strategy {
	return retry.Strategy{Attempts: 3, Delay: 500 * time.Millisecond, Backoff: 2}
}

func newTestExecutor(t *testing.T) (*Executor, *memRepo, *fakePublisher, *clock.Clock) {
	t.Helper()
	clk, err := clock.New("Europe/Moscow")
	require.NoError(t, err)
	repo := newMemRepo()
	pub := &fakePublisher{}
	return New(repo, pub, clk, testStrategy(), 30*time.Second), repo, pub, clk
}

func payloadFor(clk *clock.Clock, offset time.Duration) domain.ReminderPayload {
	return domain.ReminderPayload{
		Title:   "Math",
		StartAt: clk.Now().Add(offset).Format(time.RFC3339),
	}
}

func TestSubmit_PersistsAndPublishes(t *testing.T) {
	exec, repo, pub, clk := newTestExecutor(t)

	fireAt := clk.Now().Add(10 * time.Minute)
	id, err := exec.Submit(context.Background(), domain.TypeSendReminder, payloadFor(clk, 15*time.Minute), fireAt)
	require.NoError(t, err)

	task, err := repo.Get(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, domain.TypeSendReminder, task.Type)
	assert.Equal(t, domain.StatusPending, task.Status)
	assert.True(t, task.FireAt.Equal(fireAt))

	require.Equal(t, 1, pub.count())
	assert.Equal(t, id, pub.published[0].taskID)
	assert.InDelta(t, (10 * time.Minute).Seconds(), pub.published[0].delay.Seconds(), 1)
}

func TestSubmit_InvalidPayload(t *testing.T) {
	exec, _, pub, clk := newTestExecutor(t)

	_, err := exec.Submit(context.Background(), domain.TypeSendReminder, domain.ReminderPayload{}, clk.Now())
	require.Error(t, err)
	assert.Zero(t, pub.count())
}

func TestSubmit_PublishFailureIsNotFatal(t *testing.T) {
	exec, repo, pub, clk := newTestExecutor(t)
	pub.err = assert.AnError

	id, err := exec.Submit(context.Background(), domain.TypeSendReminder, payloadFor(clk, time.Hour), clk.Now().Add(time.Hour))
	require.NoError(t, err, "the sweeper recovers lost wake-ups")

	task, _ := repo.Get(context.Background(), id)
	require.NotNil(t, task)
	assert.Equal(t, domain.StatusPending, task.Status)
}

func TestProcess_RoutesToHandlerAndAcks(t *testing.T) {
	exec, repo, _, clk := newTestExecutor(t)

	var got domain.ReminderPayload
	exec.Register(domain.TypeSendReminder, func(ctx context.Context, payload domain.ReminderPayload) error {
		got = payload
		return nil
	})

	id, err := exec.Submit(context.Background(), domain.TypeSendReminder, payloadFor(clk, time.Minute), clk.Now())
	require.NoError(t, err)

	require.NoError(t, exec.Process(context.Background(), id))
	assert.Equal(t, "Math", got.Title)

	task, _ := repo.Get(context.Background(), id)
	assert.Equal(t, domain.StatusDone, task.Status)
}

func TestProcess_NeverBeforeFireInstant(t *testing.T) {
	exec, repo, pub, clk := newTestExecutor(t)

	executed := false
	exec.Register(domain.TypeSendReminder, func(ctx context.Context, payload domain.ReminderPayload) error {
		executed = true
		return nil
	})

	id, err := exec.Submit(context.Background(), domain.TypeSendReminder, payloadFor(clk, time.Hour), clk.Now().Add(time.Hour))
	require.NoError(t, err)

	require.NoError(t, exec.Process(context.Background(), id))
	assert.False(t, executed, "a task must not run before its fire instant")

	task, _ := repo.Get(context.Background(), id)
	assert.Equal(t, domain.StatusPending, task.Status)
	// The premature wake-up was rescheduled for the remaining delay.
	assert.Equal(t, 2, pub.count())
}

func TestProcess_ClaimMutualExclusion(t *testing.T) {
	exec, _, _, clk := newTestExecutor(t)

	var executions int
	var mu sync.Mutex
	exec.Register(domain.TypeSendReminder, func(ctx context.Context, payload domain.ReminderPayload) error {
		mu.Lock()
		executions++
		mu.Unlock()
		return nil
	})

	id, err := exec.Submit(context.Background(), domain.TypeSendReminder, payloadFor(clk, time.Minute), clk.Now())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			exec.Process(context.Background(), id)
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, executions, "only one worker may execute a claimed task")
}

func TestProcess_RetryThenDeadLetter(t *testing.T) {
	exec, repo, pub, clk := newTestExecutor(t)

	exec.Register(domain.TypeSendReminder, func(ctx context.Context, payload domain.ReminderPayload) error {
		return assert.AnError
	})

	id, err := exec.Submit(context.Background(), domain.TypeSendReminder, payloadFor(clk, time.Minute), clk.Now())
	require.NoError(t, err)

	// First failure: rescheduled with backoff, still pending.
	require.NoError(t, exec.Process(context.Background(), id))
	task, _ := repo.Get(context.Background(), id)
	assert.Equal(t, domain.StatusPending, task.Status)
	assert.Equal(t, 1, task.Attempts)
	require.Equal(t, 2, pub.count())
	assert.Equal(t, 500*time.Millisecond, pub.published[1].delay)

	// Second failure: backoff doubles.
	task.FireAt = clk.Now().Add(-time.Second)
	repo.tasks[id].FireAt = task.FireAt
	require.NoError(t, exec.Process(context.Background(), id))
	task, _ = repo.Get(context.Background(), id)
	assert.Equal(t, 2, task.Attempts)
	require.Equal(t, 3, pub.count())
	assert.Equal(t, time.Second, pub.published[2].delay)

	// Third failure exhausts the retry limit.
	repo.tasks[id].FireAt = clk.Now().Add(-time.Second)
	require.NoError(t, exec.Process(context.Background(), id))
	task, _ = repo.Get(context.Background(), id)
	assert.Equal(t, domain.StatusDead, task.Status)
}

func TestProcess_UnknownTypeDeadLetters(t *testing.T) {
	exec, repo, _, clk := newTestExecutor(t)

	id, err := exec.Submit(context.Background(), domain.TaskType("lesson.unknown"), payloadFor(clk, time.Minute), clk.Now())
	require.NoError(t, err)

	require.NoError(t, exec.Process(context.Background(), id))
	task, _ := repo.Get(context.Background(), id)
	assert.Equal(t, domain.StatusDead, task.Status)
}

func TestProcess_HandlerPanicIsContained(t *testing.T) {
	exec, repo, _, clk := newTestExecutor(t)

	exec.Register(domain.TypeSendReminder, func(ctx context.Context, payload domain.ReminderPayload) error {
		panic("boom")
	})

	id, err := exec.Submit(context.Background(), domain.TypeSendReminder, payloadFor(clk, time.Minute), clk.Now())
	require.NoError(t, err)

	require.NotPanics(t, func() {
		exec.Process(context.Background(), id)
	})
	task, _ := repo.Get(context.Background(), id)
	assert.Equal(t, domain.StatusPending, task.Status)
	assert.Equal(t, 1, task.Attempts)
}

func TestProcess_CancelledTaskIsSkipped(t *testing.T) {
	exec, repo, _, clk := newTestExecutor(t)

	executed := false
	exec.Register(domain.TypeSendReminder, func(ctx context.Context, payload domain.ReminderPayload) error {
		executed = true
		return nil
	})

	id, err := exec.Submit(context.Background(), domain.TypeSendReminder, payloadFor(clk, time.Minute), clk.Now())
	require.NoError(t, err)
	require.NoError(t, exec.Cancel(context.Background(), id))

	require.NoError(t, exec.Process(context.Background(), id))
	assert.False(t, executed)

	task, _ := repo.Get(context.Background(), id)
	assert.Equal(t, domain.StatusCancelled, task.Status)
}

func TestCancel_RespectsActiveClaimLease(t *testing.T) {
	exec, repo, _, clk := newTestExecutor(t)

	id, err := exec.Submit(context.Background(), domain.TypeSendReminder, payloadFor(clk, time.Minute), clk.Now())
	require.NoError(t, err)

	// A worker holds the lease: the task may already be executing.
	task, err := repo.ClaimByID(context.Background(), id, clk.Now(), 30*time.Second)
	require.NoError(t, err)
	require.NotNil(t, task)

	err = exec.Cancel(context.Background(), id)
	assert.ErrorIs(t, err, domain.ErrCannotCancel)
}

func TestCancel_ExpiredClaimLeaseIsCancellable(t *testing.T) {
	exec, repo, _, clk := newTestExecutor(t)

	id, err := exec.Submit(context.Background(), domain.TypeSendReminder, payloadFor(clk, time.Minute), clk.Now())
	require.NoError(t, err)

	// The lease lapsed, measured against the same clock that wrote it.
	task, err := repo.ClaimByID(context.Background(), id, clk.Now(), -time.Second)
	require.NoError(t, err)
	require.NotNil(t, task)

	require.NoError(t, exec.Cancel(context.Background(), id))

	got, _ := repo.Get(context.Background(), id)
	assert.Equal(t, domain.StatusCancelled, got.Status)
}

func TestProcess_ExpiredClaimIsReclaimable(t *testing.T) {
	clk, err := clock.New("Europe/Moscow")
	require.NoError(t, err)
	repo := newMemRepo()
	pub := &fakePublisher{}
	// Visibility timeout in the past means every claim is already expired.
	exec := New(repo, pub, clk, testStrategy(), -time.Second)

	var executions int
	exec.Register(domain.TypeSendReminder, func(ctx context.Context, payload domain.ReminderPayload) error {
		executions++
		if executions == 1 {
			// Simulate a worker dying mid-execution: the ack never happens.
			return assert.AnError
		}
		return nil
	})

	id, err := exec.Submit(context.Background(), domain.TypeSendReminder, payloadFor(clk, time.Minute), clk.Now())
	require.NoError(t, err)

	require.NoError(t, exec.Process(context.Background(), id))
	repo.tasks[id].FireAt = clk.Now().Add(-time.Second)
	require.NoError(t, exec.Process(context.Background(), id))

	assert.Equal(t, 2, executions, "an expired claim must become claimable again")
	task, _ := repo.Get(context.Background(), id)
	assert.Equal(t, domain.StatusDone, task.Status)
}

func TestProcessNextDue_PicksEarliestDueTask(t *testing.T) {
	exec, _, _, clk := newTestExecutor(t)

	var order []string
	exec.Register(domain.TypeSendReminder, func(ctx context.Context, payload domain.ReminderPayload) error {
		order = append(order, payload.Title)
		return nil
	})

	now := clk.Now()
	_, err := exec.Submit(context.Background(), domain.TypeSendReminder,
		domain.ReminderPayload{Title: "Second", StartAt: now.Format(time.RFC3339)}, now.Add(-time.Minute))
	require.NoError(t, err)
	_, err = exec.Submit(context.Background(), domain.TypeSendReminder,
		domain.ReminderPayload{Title: "First", StartAt: now.Format(time.RFC3339)}, now.Add(-2*time.Minute))
	require.NoError(t, err)
	_, err = exec.Submit(context.Background(), domain.TypeSendReminder,
		domain.ReminderPayload{Title: "NotDue", StartAt: now.Format(time.RFC3339)}, now.Add(time.Hour))
	require.NoError(t, err)

	for {
		processed, err := exec.ProcessNextDue(context.Background())
		require.NoError(t, err)
		if !processed {
			break
		}
	}

	assert.Equal(t, []string{"First", "Second"}, order)
}

func TestStatusAndList(t *testing.T) {
	exec, _, _, clk := newTestExecutor(t)

	id, err := exec.Submit(context.Background(), domain.TypeSendReminder, payloadFor(clk, time.Hour), clk.Now().Add(time.Hour))
	require.NoError(t, err)

	status, err := exec.Status(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, status)

	_, err = exec.Status(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	tasks, err := exec.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
}
