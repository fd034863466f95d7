package delivery

import (
	"context"
	"sync"
	"time"

	apperrors "tgqqbridge/internal/errors"
	"tgqqbridge/internal/models"

	"github.com/sirupsen/logrus"
)

// idleWait bounds how long the scheduler sleeps when the queue is empty.
// Enqueue kicks the scheduler immediately, so this is only a safety net.
const idleWait = time.Minute

// releaseTimeout bounds the flush of an interrupted attempt back to
// pending during shutdown.
const releaseTimeout = 5 * time.Second

// Store is the durable queue the scheduler drives.
type Store interface {
	EnqueueRetryTask(ctx context.Context, task *models.RetryTask) (int64, error)
	ClaimDueTasks(ctx context.Context, now time.Time, limit int) ([]*models.RetryTask, error)
	MarkTaskSucceeded(ctx context.Context, id int64) error
	MarkTaskFailed(ctx context.Context, id int64, lastError string) error
	RescheduleTask(ctx context.Context, id int64, attemptCount int, nextAttemptAt time.Time, lastError string) error
	ReleaseTask(ctx context.Context, id int64) error
	RequeueProcessingTasks(ctx context.Context) (int64, error)
	EarliestPendingAt(ctx context.Context) (time.Time, error)
	QueueStats(ctx context.Context) (*models.QueueStats, error)
}

// Dispatcher re-sends a queued task to its target platform.
type Dispatcher interface {
	Dispatch(ctx context.Context, task *models.RetryTask) error
}

// DispatcherFunc adapts a function to the Dispatcher interface.
type DispatcherFunc func(ctx context.Context, task *models.RetryTask) error

func (f DispatcherFunc) Dispatch(ctx context.Context, task *models.RetryTask) error {
	return f(ctx, task)
}

// FailureRecorder counts deliveries that exhausted their attempts.
type FailureRecorder interface {
	IncDeliveryFailed()
}

// Scheduler wakes at the earliest pending deadline, claims due tasks and
// re-dispatches them through a bounded worker pool. Each task has at most
// one attempt in flight at a time; independent tasks run concurrently.
type Scheduler struct {
	store       Store
	dispatcher  Dispatcher
	stats       FailureRecorder
	backoff     Backoff
	maxAttempts int
	claimLimit  int
	workers     int
	logger      *logrus.Logger

	wakeCh chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewScheduler(store Store, dispatcher Dispatcher, stats FailureRecorder, cfg models.RetryConfig, logger *logrus.Logger) *Scheduler {
	return &Scheduler{
		store:      store,
		dispatcher: dispatcher,
		stats:      stats,
		backoff: Backoff{
			Base: time.Duration(cfg.BaseDelaySec) * time.Second,
			Max:  time.Duration(cfg.MaxDelaySec) * time.Second,
		},
		maxAttempts: cfg.MaxAttempts,
		claimLimit:  10,
		workers:     cfg.Workers,
		logger:      logger,
		wakeCh:      make(chan struct{}, 1),
		stopCh:      make(chan struct{}),
	}
}

// Enqueue persists a failed dispatch for later re-delivery and wakes the
// scheduler. AttemptCount counts completed queue attempts, so a freshly
// failed live send enters at zero and waits the base delay. When
// NextAttemptAt is unset it is derived from that count and the backoff
// policy.
func (s *Scheduler) Enqueue(ctx context.Context, task *models.RetryTask) error {
	if task.NextAttemptAt.IsZero() {
		task.NextAttemptAt = time.Now().Add(s.backoff.Delay(task.AttemptCount + 1))
	}

	id, err := s.store.EnqueueRetryTask(ctx, task)
	if err != nil {
		return err
	}
	task.ID = id

	s.logger.WithFields(logrus.Fields{
		"taskId":        id,
		"target":        task.TargetPlatform,
		"nextAttemptAt": task.NextAttemptAt,
	}).Debug("Enqueued delivery retry")

	s.Kick()
	return nil
}

// Kick wakes the scheduler loop so it recomputes its next deadline.
func (s *Scheduler) Kick() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

// QueueStats reports current queue depth.
func (s *Scheduler) QueueStats(ctx context.Context) (*models.QueueStats, error) {
	return s.store.QueueStats(ctx)
}

// Start recovers interrupted tasks and runs the scheduling loop until the
// context is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	requeued, err := s.store.RequeueProcessingTasks(ctx)
	if err != nil {
		s.logger.WithError(err).Error("Failed to requeue interrupted tasks")
	} else if requeued > 0 {
		s.logger.WithField("count", requeued).Info("Requeued interrupted delivery tasks")
	}

	s.logger.Info("Starting delivery scheduler")
	defer s.wg.Wait()

	timer := time.NewTimer(0)
	defer timer.Stop()
	if !timer.Stop() {
		<-timer.C
	}

	for {
		timer.Reset(s.nextWait(ctx))

		select {
		case <-ctx.Done():
			s.logger.Info("Delivery scheduler context cancelled, stopping")
			return
		case <-s.stopCh:
			s.logger.Info("Delivery scheduler stop signal received, stopping")
			return
		case <-s.wakeCh:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		case <-timer.C:
			s.drainDue(ctx)
		}
	}
}

// Stop signals the loop to exit. Start returns once in-flight attempts
// have been flushed back to pending.
func (s *Scheduler) Stop() {
	close(s.stopCh)
}

func (s *Scheduler) nextWait(ctx context.Context) time.Duration {
	earliest, err := s.store.EarliestPendingAt(ctx)
	if err != nil {
		s.logger.WithError(err).Error("Failed to get next retry deadline")
		return idleWait
	}
	if earliest.IsZero() {
		return idleWait
	}

	wait := time.Until(earliest)
	if wait < 0 {
		return 0
	}
	return wait
}

// drainDue claims and dispatches due tasks until the queue has none left.
func (s *Scheduler) drainDue(ctx context.Context) {
	sem := make(chan struct{}, s.workers)

	for {
		tasks, err := s.store.ClaimDueTasks(ctx, time.Now(), s.claimLimit)
		if err != nil {
			s.logger.WithError(err).Error("Failed to claim due tasks")
			return
		}
		if len(tasks) == 0 {
			return
		}

		var batch sync.WaitGroup
		for _, task := range tasks {
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				s.release(task.ID)
				continue
			}

			batch.Add(1)
			s.wg.Add(1)
			go func(task *models.RetryTask) {
				defer s.wg.Done()
				defer batch.Done()
				defer func() { <-sem }()
				s.attempt(ctx, task)
			}(task)
		}
		batch.Wait()

		if len(tasks) < s.claimLimit {
			return
		}
	}
}

func (s *Scheduler) attempt(ctx context.Context, task *models.RetryTask) {
	log := s.logger.WithFields(logrus.Fields{
		"taskId":  task.ID,
		"target":  task.TargetPlatform,
		"attempt": task.AttemptCount + 1,
	})

	err := s.dispatcher.Dispatch(ctx, task)
	if err == nil {
		if markErr := s.store.MarkTaskSucceeded(ctx, task.ID); markErr != nil {
			log.WithError(markErr).Error("Failed to finalize delivered task")
			return
		}
		log.Info("Re-delivery succeeded")
		return
	}

	if ctx.Err() != nil {
		s.release(task.ID)
		return
	}

	attempts := task.AttemptCount + 1
	if !apperrors.IsRetryable(err) || attempts >= s.maxAttempts {
		log.WithError(err).Warn("Delivery failed permanently")
		if markErr := s.store.MarkTaskFailed(ctx, task.ID, err.Error()); markErr != nil {
			log.WithError(markErr).Error("Failed to finalize failed task")
		}
		if s.stats != nil {
			s.stats.IncDeliveryFailed()
		}
		return
	}

	next := time.Now().Add(s.backoff.Delay(attempts + 1))
	log.WithError(err).WithField("nextAttemptAt", next).Info("Delivery failed, rescheduling")
	if resErr := s.store.RescheduleTask(ctx, task.ID, attempts, next, err.Error()); resErr != nil {
		log.WithError(resErr).Error("Failed to reschedule task")
	}
}

// release flushes an interrupted attempt back to pending so a restart
// picks it up. Runs on its own context because the loop's is already dead.
func (s *Scheduler) release(id int64) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()

	if err := s.store.ReleaseTask(ctx, id); err != nil {
		s.logger.WithError(err).WithField("taskId", id).Error("Failed to release interrupted task")
	}
}
