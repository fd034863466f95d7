package delivery

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	apperrors "tgqqbridge/internal/errors"
	"tgqqbridge/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu       sync.Mutex
	tasks    map[int64]*models.RetryTask
	nextID   int64
	requeued int
}

func newMemStore() *memStore {
	return &memStore{tasks: make(map[int64]*models.RetryTask)}
}

func (m *memStore) EnqueueRetryTask(ctx context.Context, task *models.RetryTask) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	stored := *task
	stored.ID = m.nextID
	stored.State = models.TaskStatePending
	m.tasks[stored.ID] = &stored
	return stored.ID, nil
}

func (m *memStore) ClaimDueTasks(ctx context.Context, now time.Time, limit int) ([]*models.RetryTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var due []*models.RetryTask
	for _, t := range m.tasks {
		if t.State == models.TaskStatePending && !t.NextAttemptAt.After(now) {
			due = append(due, t)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextAttemptAt.Before(due[j].NextAttemptAt) })
	if len(due) > limit {
		due = due[:limit]
	}

	claimed := make([]*models.RetryTask, 0, len(due))
	for _, t := range due {
		t.State = models.TaskStateProcessing
		snapshot := *t
		claimed = append(claimed, &snapshot)
	}
	return claimed, nil
}

func (m *memStore) MarkTaskSucceeded(ctx context.Context, id int64) error {
	return m.setState(id, models.TaskStateSucceeded, "")
}

func (m *memStore) MarkTaskFailed(ctx context.Context, id int64, lastError string) error {
	return m.setState(id, models.TaskStateFailed, lastError)
}

func (m *memStore) setState(id int64, state models.TaskState, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tasks[id]; ok {
		t.State = state
		t.LastError = lastError
	}
	return nil
}

func (m *memStore) RescheduleTask(ctx context.Context, id int64, attemptCount int, nextAttemptAt time.Time, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tasks[id]; ok {
		t.State = models.TaskStatePending
		t.AttemptCount = attemptCount
		t.NextAttemptAt = nextAttemptAt
		t.LastError = lastError
	}
	return nil
}

func (m *memStore) ReleaseTask(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tasks[id]; ok && t.State == models.TaskStateProcessing {
		t.State = models.TaskStatePending
	}
	return nil
}

func (m *memStore) RequeueProcessingTasks(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requeued++
	var n int64
	for _, t := range m.tasks {
		if t.State == models.TaskStateProcessing {
			t.State = models.TaskStatePending
			n++
		}
	}
	return n, nil
}

func (m *memStore) EarliestPendingAt(ctx context.Context) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var earliest time.Time
	for _, t := range m.tasks {
		if t.State != models.TaskStatePending {
			continue
		}
		if earliest.IsZero() || t.NextAttemptAt.Before(earliest) {
			earliest = t.NextAttemptAt
		}
	}
	return earliest, nil
}

func (m *memStore) QueueStats(ctx context.Context) (*models.QueueStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := &models.QueueStats{}
	for _, t := range m.tasks {
		switch t.State {
		case models.TaskStatePending:
			stats.Pending++
		case models.TaskStateProcessing:
			stats.Processing++
		}
	}
	stats.Total = stats.Pending + stats.Processing
	return stats, nil
}

func (m *memStore) taskState(id int64) models.TaskState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tasks[id]; ok {
		return t.State
	}
	return ""
}

func (m *memStore) task(id int64) models.RetryTask {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tasks[id]; ok {
		return *t
	}
	return models.RetryTask{}
}

type funcDispatcher struct {
	mu    sync.Mutex
	calls int
	fn    func(attempt int, task *models.RetryTask) error
}

func (d *funcDispatcher) Dispatch(ctx context.Context, task *models.RetryTask) error {
	d.mu.Lock()
	d.calls++
	n := d.calls
	d.mu.Unlock()
	return d.fn(n, task)
}

func (d *funcDispatcher) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

type countingRecorder struct {
	mu     sync.Mutex
	failed int
}

func (r *countingRecorder) IncDeliveryFailed() {
	r.mu.Lock()
	r.failed++
	r.mu.Unlock()
}

func (r *countingRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failed
}

func testRetryConfig() models.RetryConfig {
	return models.RetryConfig{
		MaxAttempts:  5,
		BaseDelaySec: 1,
		MaxDelaySec:  300,
		Workers:      2,
	}
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

func TestBackoffDelay(t *testing.T) {
	b := Backoff{Base: time.Second, Max: 300 * time.Second}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{5, 16 * time.Second},
		{9, 256 * time.Second},
		{10, 300 * time.Second},
		{60, 300 * time.Second},
		{0, time.Second},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, b.Delay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestBackoffDelayCapEqualBase(t *testing.T) {
	b := Backoff{Base: 5 * time.Second, Max: 5 * time.Second}
	assert.Equal(t, 5*time.Second, b.Delay(1))
	assert.Equal(t, 5*time.Second, b.Delay(4))
}

func TestEnqueueDerivesDeadline(t *testing.T) {
	store := newMemStore()
	s := NewScheduler(store, &funcDispatcher{fn: func(int, *models.RetryTask) error { return nil }}, nil, testRetryConfig(), quietLogger())

	// A freshly failed live send enters with no queue attempts behind it
	// and waits exactly the base delay.
	task := &models.RetryTask{
		TargetPlatform: models.PlatformQQ,
		ChatID:         "12345",
		Body:           "[TG] alice: hi",
		SourcePlatform: models.PlatformTelegram,
		SourceID:       "901",
	}

	before := time.Now()
	require.NoError(t, s.Enqueue(context.Background(), task))

	assert.NotZero(t, task.ID)
	assert.False(t, task.NextAttemptAt.Before(before.Add(time.Second)))
	assert.True(t, task.NextAttemptAt.Before(before.Add(2*time.Second)))
	assert.Equal(t, models.TaskStatePending, store.taskState(task.ID))
}

func startScheduler(t *testing.T, s *Scheduler) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()
	return func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("scheduler did not stop")
		}
	}
}

func TestSchedulerDeliversDueTask(t *testing.T) {
	store := newMemStore()
	dispatcher := &funcDispatcher{fn: func(int, *models.RetryTask) error { return nil }}
	s := NewScheduler(store, dispatcher, nil, testRetryConfig(), quietLogger())

	id, err := store.EnqueueRetryTask(context.Background(), &models.RetryTask{
		TargetPlatform: models.PlatformTelegram,
		ChatID:         "-100123",
		Body:           "[QQ] bob: hello",
		NextAttemptAt:  time.Now().Add(-time.Second),
		AttemptCount:   1,
	})
	require.NoError(t, err)

	stop := startScheduler(t, s)
	defer stop()

	assert.Eventually(t, func() bool {
		return store.taskState(id) == models.TaskStateSucceeded
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, dispatcher.callCount())
}

func TestSchedulerReschedulesTransientFailure(t *testing.T) {
	store := newMemStore()
	dispatcher := &funcDispatcher{fn: func(int, *models.RetryTask) error {
		return apperrors.NewTransientDeliveryError(apperrors.ErrCodeNetwork, errors.New("gateway unreachable"))
	}}
	s := NewScheduler(store, dispatcher, nil, testRetryConfig(), quietLogger())

	id, err := store.EnqueueRetryTask(context.Background(), &models.RetryTask{
		TargetPlatform: models.PlatformQQ,
		ChatID:         "12345",
		Body:           "[TG] alice: hi",
		NextAttemptAt:  time.Now().Add(-time.Second),
	})
	require.NoError(t, err)

	stop := startScheduler(t, s)
	defer stop()

	assert.Eventually(t, func() bool {
		got := store.task(id)
		return got.State == models.TaskStatePending && got.AttemptCount == 1
	}, 3*time.Second, 10*time.Millisecond)

	// One completed attempt means the next delay is the second rung, 2s.
	got := store.task(id)
	assert.True(t, got.NextAttemptAt.After(time.Now().Add(time.Second)))
	assert.Contains(t, got.LastError, "gateway unreachable")
}

func TestSchedulerFailsPermanentErrorImmediately(t *testing.T) {
	store := newMemStore()
	dispatcher := &funcDispatcher{fn: func(int, *models.RetryTask) error {
		return apperrors.NewPermanentDeliveryError(apperrors.ErrCodeRejected, errors.New("message rejected"))
	}}
	recorder := &countingRecorder{}
	s := NewScheduler(store, dispatcher, recorder, testRetryConfig(), quietLogger())

	id, err := store.EnqueueRetryTask(context.Background(), &models.RetryTask{
		TargetPlatform: models.PlatformQQ,
		ChatID:         "12345",
		Body:           "[TG] alice: hi",
		NextAttemptAt:  time.Now().Add(-time.Second),
		AttemptCount:   1,
	})
	require.NoError(t, err)

	stop := startScheduler(t, s)
	defer stop()

	assert.Eventually(t, func() bool {
		return store.taskState(id) == models.TaskStateFailed
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, dispatcher.callCount())
	assert.Equal(t, 1, recorder.count())
}

func TestSchedulerExhaustsAttempts(t *testing.T) {
	store := newMemStore()
	dispatcher := &funcDispatcher{fn: func(int, *models.RetryTask) error {
		return apperrors.NewTransientDeliveryError(apperrors.ErrCodeTimeout, errors.New("send timed out"))
	}}
	recorder := &countingRecorder{}
	s := NewScheduler(store, dispatcher, recorder, testRetryConfig(), quietLogger())

	// One attempt left before the cap.
	id, err := store.EnqueueRetryTask(context.Background(), &models.RetryTask{
		TargetPlatform: models.PlatformTelegram,
		ChatID:         "-100123",
		Body:           "[QQ] bob: hello",
		NextAttemptAt:  time.Now().Add(-time.Second),
		AttemptCount:   4,
	})
	require.NoError(t, err)

	stop := startScheduler(t, s)
	defer stop()

	assert.Eventually(t, func() bool {
		return store.taskState(id) == models.TaskStateFailed
	}, 3*time.Second, 10*time.Millisecond)

	got := store.task(id)
	assert.Contains(t, got.LastError, "send timed out")
	assert.Equal(t, 1, recorder.count())
}

func TestSchedulerRunsFullAttemptBudget(t *testing.T) {
	store := newMemStore()
	dispatcher := &funcDispatcher{fn: func(int, *models.RetryTask) error {
		return apperrors.NewTransientDeliveryError(apperrors.ErrCodeNetwork, errors.New("still down"))
	}}
	recorder := &countingRecorder{}

	// Zero delays so the whole ladder runs immediately.
	cfg := testRetryConfig()
	cfg.BaseDelaySec = 0
	cfg.MaxDelaySec = 0
	s := NewScheduler(store, dispatcher, recorder, cfg, quietLogger())

	task := &models.RetryTask{
		TargetPlatform: models.PlatformQQ,
		ChatID:         "12345",
		Body:           "[TG] alice: hi",
		SourcePlatform: models.PlatformTelegram,
		SourceID:       "901",
	}
	require.NoError(t, s.Enqueue(context.Background(), task))

	stop := startScheduler(t, s)
	defer stop()

	assert.Eventually(t, func() bool {
		return store.taskState(task.ID) == models.TaskStateFailed
	}, 3*time.Second, 10*time.Millisecond)

	// A queued delivery gets the full five scheduled attempts before it
	// goes terminal.
	assert.Equal(t, 5, dispatcher.callCount())
	assert.Equal(t, 1, recorder.count())
}

func TestSchedulerRecoversInterruptedTasks(t *testing.T) {
	store := newMemStore()
	id, err := store.EnqueueRetryTask(context.Background(), &models.RetryTask{
		TargetPlatform: models.PlatformQQ,
		ChatID:         "12345",
		Body:           "[TG] alice: hi",
		NextAttemptAt:  time.Now().Add(-time.Second),
		AttemptCount:   1,
	})
	require.NoError(t, err)
	require.NoError(t, store.setState(id, models.TaskStateProcessing, ""))

	dispatcher := &funcDispatcher{fn: func(int, *models.RetryTask) error { return nil }}
	s := NewScheduler(store, dispatcher, nil, testRetryConfig(), quietLogger())

	stop := startScheduler(t, s)
	defer stop()

	assert.Eventually(t, func() bool {
		return store.taskState(id) == models.TaskStateSucceeded
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, store.requeued)
}

func TestSchedulerWaitsForFutureDeadline(t *testing.T) {
	store := newMemStore()
	dispatcher := &funcDispatcher{fn: func(int, *models.RetryTask) error { return nil }}
	s := NewScheduler(store, dispatcher, nil, testRetryConfig(), quietLogger())

	id, err := store.EnqueueRetryTask(context.Background(), &models.RetryTask{
		TargetPlatform: models.PlatformQQ,
		ChatID:         "12345",
		Body:           "[TG] alice: later",
		NextAttemptAt:  time.Now().Add(300 * time.Millisecond),
		AttemptCount:   1,
	})
	require.NoError(t, err)

	stop := startScheduler(t, s)
	defer stop()

	// Not yet due.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, dispatcher.callCount())
	assert.Equal(t, models.TaskStatePending, store.taskState(id))

	assert.Eventually(t, func() bool {
		return store.taskState(id) == models.TaskStateSucceeded
	}, 3*time.Second, 10*time.Millisecond)
}

func TestSchedulerStopDrainsInFlightAttempt(t *testing.T) {
	store := newMemStore()
	started := make(chan struct{})
	release := make(chan struct{})
	dispatcher := &funcDispatcher{fn: func(int, *models.RetryTask) error {
		close(started)
		<-release
		return nil
	}}
	s := NewScheduler(store, dispatcher, nil, testRetryConfig(), quietLogger())

	id, err := store.EnqueueRetryTask(context.Background(), &models.RetryTask{
		TargetPlatform: models.PlatformQQ,
		ChatID:         "12345",
		Body:           "[TG] alice: hi",
		NextAttemptAt:  time.Now().Add(-time.Second),
		AttemptCount:   1,
	})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		s.Start(context.Background())
		close(done)
	}()

	<-started
	s.Stop()

	// Start must not return while an attempt is still in flight; callers
	// close the database right after joining it.
	select {
	case <-done:
		t.Fatal("scheduler stopped before the in-flight attempt finished")
	case <-time.After(100 * time.Millisecond):
	}

	close(release)
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.Equal(t, models.TaskStateSucceeded, store.taskState(id))
}

func TestQueueStatsPassthrough(t *testing.T) {
	store := newMemStore()
	s := NewScheduler(store, &funcDispatcher{fn: func(int, *models.RetryTask) error { return nil }}, nil, testRetryConfig(), quietLogger())

	for i := 0; i < 3; i++ {
		_, err := store.EnqueueRetryTask(context.Background(), &models.RetryTask{
			TargetPlatform: models.PlatformQQ,
			ChatID:         "12345",
			Body:           "queued",
			NextAttemptAt:  time.Now().Add(time.Hour),
			AttemptCount:   1,
		})
		require.NoError(t, err)
	}

	stats, err := s.QueueStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Pending)
	assert.Equal(t, 3, stats.Total)
}
