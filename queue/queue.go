package queue

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/curioshelf/curio/config"
	"github.com/curioshelf/curio/errors"
	"github.com/curioshelf/curio/logger"
)

// Stats is an aggregate snapshot of queue health.
type Stats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Cancelled  int `json:"cancelled"`

	// QueueDepth is the number of jobs waiting for a slot (same as Pending,
	// surfaced under the name operators ask for).
	QueueDepth int `json:"queue_depth"`

	// AvgWaitMs is the mean enqueue-to-start latency over retained completed
	// jobs, in milliseconds. AvgProcessingMs is the mean start-to-finish time.
	AvgWaitMs       float64 `json:"avg_wait_ms"`
	AvgProcessingMs float64 `json:"avg_processing_ms"`
}

// Queue is the job queue facade: enqueue, inspect, cancel, and administer
// background jobs. It owns the dispatcher, the retention sweep, and startup
// orphan recovery.
type Queue struct {
	store      Store
	registry   *Registry
	dispatcher *Dispatcher
	cfg        config.QueueConfig
	log        *zap.SugaredLogger

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New assembles a queue over the given store and handlers.
func New(store Store, registry *Registry, cfg config.QueueConfig) *Queue {
	log := logger.Named("queue")

	policy := RetryPolicy{Backoff: NewBackoff(cfg.Backoff, cfg.RetryDelay())}
	dispatcher := NewDispatcher(store, registry, policy, DispatcherConfig{
		Slots:              cfg.MaxConcurrentJobs,
		JobTimeout:         cfg.JobTimeout(),
		PollInterval:       cfg.PollInterval(),
		RateLimitPerMinute: cfg.RateLimitPerMinute,
	}, log)

	return &Queue{
		store:      store,
		registry:   registry,
		dispatcher: dispatcher,
		cfg:        cfg,
		log:        log,
	}
}

// Store exposes the underlying job store for handlers that report progress.
func (q *Queue) Store() Store {
	return q.store
}

// Start recovers orphaned jobs, then launches the dispatcher and the
// retention sweep. Calling Start on a started queue is a no-op.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return nil
	}

	if err := q.recoverOrphans(); err != nil {
		return errors.Wrap(err, "failed to recover orphaned jobs")
	}

	runCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.dispatcher.Start(runCtx)

	if q.cfg.CleanupInterval() > 0 && q.cfg.Retention() > 0 {
		q.wg.Add(1)
		go q.sweepLoop(runCtx)
	}

	q.started = true
	q.stopped = false
	q.log.Infow("Queue started",
		"slots", q.cfg.MaxConcurrentJobs,
		"poll_interval", q.cfg.PollInterval(),
		"backoff", q.cfg.Backoff,
		"retention", q.cfg.Retention())
	return nil
}

// Stop shuts the queue down: scheduling halts, in-flight handler contexts
// are cancelled, and interrupted jobs return to pending without consuming
// retry budget. Safe to call on a stopped queue.
func (q *Queue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.started {
		return
	}

	q.cancel()
	q.dispatcher.Stop()
	q.wg.Wait()
	q.started = false
	q.stopped = true
	q.log.Infow("Queue stopped")
}

// recoverOrphans returns processing jobs left behind by a previous crash to
// pending. Runs before the dispatcher starts, so no attempt is in flight.
func (q *Queue) recoverOrphans() error {
	orphans, err := q.store.ListByStatus(StatusProcessing, MaxJobsLimit)
	if err != nil {
		return err
	}

	for _, job := range orphans {
		job.ReturnToPending()
		if err := q.store.Update(job); err != nil {
			return errors.Wrapf(err, "failed to requeue orphaned job %s", job.ID)
		}
		q.log.Warnw("Recovered orphaned job",
			"job_id", job.ID,
			"type", job.Type,
			"retry_count", job.RetryCount)
	}
	if len(orphans) > 0 {
		q.log.Infow("Orphan recovery complete", "recovered", len(orphans))
	}
	return nil
}

// sweepLoop prunes terminal jobs older than the retention window.
func (q *Queue) sweepLoop(ctx context.Context) {
	defer q.wg.Done()

	ticker := time.NewTicker(q.cfg.CleanupInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-q.cfg.Retention())
			removed, err := q.store.DeleteTerminalBefore(cutoff)
			if err != nil {
				// Sweep failures never disturb job processing
				q.log.Errorw("Retention sweep failed", "error", err)
				continue
			}
			if removed > 0 {
				q.log.Infow("Retention sweep removed old jobs", "removed", removed)
			}
		}
	}
}

// Enqueue validates, persists, and schedules a new job, returning its ID.
// The job is durable before Enqueue returns.
func (q *Queue) Enqueue(jobType JobType, payload json.RawMessage, priority Priority) (string, error) {
	q.mu.Lock()
	stopped := q.stopped
	q.mu.Unlock()
	if stopped {
		return "", errors.Wrapf(errors.ErrQueueStopped, "cannot enqueue %s job", jobType)
	}

	if !q.registry.Has(jobType) {
		return "", errors.Wrapf(errors.ErrInvalidRequest, "no handler registered for job type %q", jobType)
	}

	job, err := NewJob(jobType, payload, priority, q.cfg.MaxRetries)
	if err != nil {
		return "", err
	}

	if err := q.store.Insert(job); err != nil {
		return "", errors.Wrap(err, "failed to enqueue job")
	}

	q.log.Infow("Job enqueued",
		"job_id", job.ID,
		"type", job.Type,
		"priority", priority.String())

	q.dispatcher.Nudge()
	return job.ID, nil
}

// GetJob returns the current record for a job.
func (q *Queue) GetJob(id string) (*Job, error) {
	return q.store.GetByID(id)
}

// JobsByStatus lists up to limit jobs in the given status, newest first.
func (q *Queue) JobsByStatus(status Status, limit int) ([]*Job, error) {
	if limit <= 0 || limit > MaxJobsLimit {
		limit = MaxJobsLimit
	}
	return q.store.ListByStatus(status, limit)
}

// JobsByType lists up to limit jobs of the given type, newest first.
func (q *Queue) JobsByType(jobType JobType, limit int) ([]*Job, error) {
	if limit <= 0 || limit > MaxJobsLimit {
		limit = MaxJobsLimit
	}
	return q.store.ListByType(jobType, limit)
}

// CancelJob cancels a pending or processing job. Returns true if the job
// was cancelled, false if it was already terminal or unknown. Cancelling a
// processing job signals its handler context; the job record is cancelled
// immediately and any late handler result is discarded.
func (q *Queue) CancelJob(id string, reason string) (bool, error) {
	if reason == "" {
		reason = "cancelled by user"
	}

	// The conditional write only lands on the status we read. When it
	// misses, the job moved under us (a claim or a settle won the race);
	// re-read and decide again against the new status.
	for attempt := 0; attempt < 3; attempt++ {
		job, err := q.store.GetByID(id)
		if err != nil {
			if errors.IsNotFoundError(err) {
				return false, nil
			}
			return false, err
		}

		if job.Terminal() {
			return false, nil
		}

		from := job.Status
		wasProcessing := from == StatusProcessing
		job.Cancel(reason)
		written, err := q.store.UpdateIf(job, from)
		if err != nil {
			if errors.IsNotFoundError(err) {
				return false, nil
			}
			return false, errors.Wrapf(err, "failed to cancel job %s", id)
		}
		if !written {
			continue
		}

		if wasProcessing {
			q.dispatcher.CancelInFlight(id)
		}

		q.log.Infow("Job cancelled",
			"job_id", id,
			"type", job.Type,
			"was_processing", wasProcessing,
			"reason", reason)
		return true, nil
	}

	return false, nil
}

// RetryAllFailed returns every failed job to pending with a fresh retry
// budget. Returns the number of jobs requeued.
func (q *Queue) RetryAllFailed() (int, error) {
	failed, err := q.store.ListByStatus(StatusFailed, MaxJobsLimit)
	if err != nil {
		return 0, errors.Wrap(err, "failed to list failed jobs")
	}

	requeued := 0
	for _, job := range failed {
		job.ResetForRetry()
		written, err := q.store.UpdateIf(job, StatusFailed)
		if err != nil {
			q.log.Errorw("Failed to requeue failed job",
				"job_id", job.ID,
				"error", err)
			continue
		}
		if !written {
			continue
		}
		requeued++
	}

	if requeued > 0 {
		q.log.Infow("Requeued failed jobs", "count", requeued)
		q.dispatcher.Nudge()
	}
	return requeued, nil
}

// DeleteJob removes a terminal job's record. Pending and processing jobs
// must be cancelled first.
func (q *Queue) DeleteJob(id string) error {
	job, err := q.store.GetByID(id)
	if err != nil {
		return err
	}
	if !job.Terminal() {
		return errors.Wrapf(errors.ErrInvalidRequest, "job %s is %s; cancel it before deleting", id, job.Status)
	}
	return q.store.Delete(id)
}

// Stats returns an aggregate snapshot of queue health.
func (q *Queue) Stats() (*Stats, error) {
	counts, err := q.store.CountByStatus()
	if err != nil {
		return nil, errors.Wrap(err, "failed to count jobs")
	}

	stats := &Stats{
		Pending:    counts[StatusPending],
		Processing: counts[StatusProcessing],
		Completed:  counts[StatusCompleted],
		Failed:     counts[StatusFailed],
		Cancelled:  counts[StatusCancelled],
	}
	stats.QueueDepth = stats.Pending

	// Latency averages come from retained completed jobs. Wait time spans
	// enqueue to the final attempt's start, so retried jobs include their
	// backoff waits.
	completed, err := q.store.ListByStatus(StatusCompleted, MaxJobsLimit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list completed jobs")
	}

	var waitTotal, processingTotal time.Duration
	var waitCount, processingCount int
	for _, job := range completed {
		if job.StartedAt != nil {
			waitTotal += job.StartedAt.Sub(job.CreatedAt)
			waitCount++
			if job.CompletedAt != nil {
				processingTotal += job.CompletedAt.Sub(*job.StartedAt)
				processingCount++
			}
		}
	}
	if waitCount > 0 {
		stats.AvgWaitMs = float64(waitTotal.Milliseconds()) / float64(waitCount)
	}
	if processingCount > 0 {
		stats.AvgProcessingMs = float64(processingTotal.Milliseconds()) / float64(processingCount)
	}

	return stats, nil
}

// WorkerStatus returns a snapshot of dispatcher slot occupancy.
func (q *Queue) WorkerStatus() WorkerStatus {
	return q.dispatcher.Status()
}
