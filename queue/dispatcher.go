package queue

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/curioshelf/curio/errors"
)

const (
	// defaultPollInterval is the safety-net scheduling tick when no
	// poll interval is configured.
	defaultPollInterval = 5 * time.Second

	// drainTimeout bounds how long Stop waits for in-flight handlers to
	// notice cancellation before returning anyway.
	drainTimeout = 30 * time.Second
)

// DispatcherConfig contains configuration for the dispatcher.
type DispatcherConfig struct {
	Slots              int           `json:"slots"`                 // Concurrent execution slots
	JobTimeout         time.Duration `json:"job_timeout"`           // Per-job handler deadline
	PollInterval       time.Duration `json:"poll_interval"`         // Safety-net scheduling tick
	RateLimitPerMinute int           `json:"rate_limit_per_minute"` // 0 = unlimited
}

// WorkerStatus is an operational snapshot of the dispatcher's slots.
type WorkerStatus struct {
	Slots    int      `json:"slots"`
	Occupied int      `json:"occupied"`
	Free     int      `json:"free"`
	InFlight []string `json:"in_flight"`
}

// inflightJob tracks one occupied slot.
type inflightJob struct {
	startedAt       time.Time
	cancel          context.CancelFunc
	cancelRequested bool
}

// Dispatcher pulls eligible pending jobs from the store in priority order
// and executes them in a fixed number of slots.
//
// Scheduling ticks happen after an enqueue, after a slot frees, and on a
// fixed polling interval as a safety net. Slot occupancy is the only shared
// mutable state across ticks; all other decisions come from a fresh read of
// the store, which stays authoritative.
type Dispatcher struct {
	store    Store
	registry *Registry
	policy   RetryPolicy
	cfg      DispatcherConfig
	limiter  *rate.Limiter // nil when rate limiting is disabled

	wake chan struct{}

	mu       sync.Mutex
	inflight map[string]*inflightJob

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	log    *zap.SugaredLogger
}

// NewDispatcher creates a dispatcher over the given store and handler
// registry. Callers must register all handlers before Start.
func NewDispatcher(store Store, registry *Registry, policy RetryPolicy, cfg DispatcherConfig, logger *zap.SugaredLogger) *Dispatcher {
	if cfg.Slots < 1 {
		cfg.Slots = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}

	var limiter *rate.Limiter
	if cfg.RateLimitPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RateLimitPerMinute)), cfg.RateLimitPerMinute)
	}

	return &Dispatcher{
		store:    store,
		registry: registry,
		policy:   policy,
		cfg:      cfg,
		limiter:  limiter,
		wake:     make(chan struct{}, 1),
		inflight: make(map[string]*inflightJob),
		log:      logger.Named("dispatch"),
	}
}

// Start launches the scheduling loop. The loop runs until the parent
// context is cancelled or Stop is called.
func (d *Dispatcher) Start(ctx context.Context) {
	d.ctx, d.cancel = context.WithCancel(ctx)

	d.wg.Add(1)
	go d.loop()
}

// Stop cancels scheduling and in-flight job contexts, then waits for
// handlers to exit. Handlers that ignore cancellation are abandoned after
// drainTimeout so shutdown never blocks indefinitely.
func (d *Dispatcher) Stop() {
	if d.cancel != nil {
		d.cancel()
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.log.Infow("Dispatcher stopped, all slots drained")
	case <-time.After(drainTimeout):
		d.log.Warnw("Dispatcher stop timeout, abandoning in-flight handlers", "timeout", drainTimeout)
	}
}

// Nudge triggers a scheduling tick. Called after enqueue and after a slot
// frees; coalesces when a tick is already queued.
func (d *Dispatcher) Nudge() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Status returns a snapshot of slot occupancy.
func (d *Dispatcher) Status() WorkerStatus {
	d.mu.Lock()
	defer d.mu.Unlock()

	ids := make([]string, 0, len(d.inflight))
	for id := range d.inflight {
		ids = append(ids, id)
	}
	return WorkerStatus{
		Slots:    d.cfg.Slots,
		Occupied: len(d.inflight),
		Free:     d.cfg.Slots - len(d.inflight),
		InFlight: ids,
	}
}

// CancelInFlight signals the handler context of a processing job. The
// handler is expected to notice at its next I/O boundary; the slot is
// reclaimed when it returns and any late result is discarded.
func (d *Dispatcher) CancelInFlight(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	entry, ok := d.inflight[id]
	if !ok {
		return false
	}
	if entry.cancel != nil {
		entry.cancel()
	} else {
		// Handler goroutine has not installed its cancel func yet
		entry.cancelRequested = true
	}
	return true
}

// loop is the scheduling loop: tick on wake, tick on the poll interval.
func (d *Dispatcher) loop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-d.wake:
		case <-ticker.C:
		}
		d.fill()
	}
}

// fill claims eligible pending jobs up to the free slot count.
func (d *Dispatcher) fill() {
	d.mu.Lock()
	free := d.cfg.Slots - len(d.inflight)
	d.mu.Unlock()
	if free <= 0 {
		return
	}

	jobs, err := d.store.NextEligible(time.Now().UTC(), free)
	if err != nil {
		// Scheduling errors never escape the loop; the next tick retries
		d.log.Errorw("Failed to select eligible jobs", "error", err)
		return
	}

	for _, job := range jobs {
		if d.limiter != nil && !d.limiter.Allow() {
			d.log.Debugw("Dispatch rate limit reached, deferring to next tick",
				"job_id", job.ID)
			return
		}
		d.claim(job)
	}
}

// claim occupies a slot for the job and marks it processing. Returns false
// if the slot race was lost or the store write failed; the job stays pending
// for a later tick.
func (d *Dispatcher) claim(job *Job) bool {
	d.mu.Lock()
	if len(d.inflight) >= d.cfg.Slots {
		d.mu.Unlock()
		return false
	}
	if _, dup := d.inflight[job.ID]; dup {
		d.mu.Unlock()
		return false
	}
	entry := &inflightJob{startedAt: time.Now().UTC()}
	d.inflight[job.ID] = entry
	d.mu.Unlock()

	// The conditional write closes the window between NextEligible and the
	// claim: a job cancelled in that gap stays cancelled and is never run.
	job.Start()
	claimed, err := d.store.UpdateIf(job, StatusPending)
	if err != nil || !claimed {
		d.mu.Lock()
		delete(d.inflight, job.ID)
		d.mu.Unlock()
		if err != nil {
			d.log.Errorw("Failed to mark job processing",
				"job_id", job.ID,
				"type", job.Type,
				"error", err)
		} else {
			d.log.Infow("Job no longer pending, skipping claim",
				"job_id", job.ID,
				"type", job.Type)
		}
		return false
	}

	d.wg.Add(1)
	go d.run(job, entry)
	return true
}

type handlerResult struct {
	result json.RawMessage
	err    error
}

// run executes one job in its slot, enforcing the job timeout.
func (d *Dispatcher) run(job *Job, entry *inflightJob) {
	defer d.wg.Done()
	defer d.release(job.ID)

	jobCtx, cancel := context.WithTimeout(d.ctx, d.cfg.JobTimeout)
	defer cancel()

	d.mu.Lock()
	entry.cancel = cancel
	requested := entry.cancelRequested
	d.mu.Unlock()
	if requested {
		cancel()
	}

	handler := d.registry.Get(job.Type)
	if handler == nil {
		// Unreachable for a correctly assembled registry; guard anyway
		d.log.Errorw("No handler registered for job type", "job_id", job.ID, "type", job.Type)
		d.settle(job, nil, Permanent(errors.Newf("no handler registered for job type %s", job.Type)))
		return
	}

	log := d.log.With("job_id", job.ID, "type", job.Type)
	log.Infow("Job dispatched",
		"priority", job.Priority.String(),
		"retry_count", job.RetryCount)

	// Buffered so a handler finishing after timeout does not leak its
	// goroutine on the send
	done := make(chan handlerResult, 1)
	go func() {
		result, err := handler.Execute(jobCtx, job)
		done <- handlerResult{result: result, err: err}
	}()

	select {
	case r := <-done:
		// A cooperative handler may return its context error before this
		// select observes jobCtx.Done; normalize those outcomes so timeout
		// and shutdown behave identically on both paths.
		switch {
		case r.err != nil && errors.Is(r.err, context.DeadlineExceeded) && errors.Is(jobCtx.Err(), context.DeadlineExceeded):
			log.Warnw("Job timed out", "timeout", d.cfg.JobTimeout)
			d.settle(job, nil, errors.Wrapf(errors.ErrTimeout, "handler exceeded %s", d.cfg.JobTimeout))
		case r.err != nil && errors.Is(r.err, context.Canceled) && d.ctx.Err() != nil:
			d.requeueInterrupted(job, log)
		default:
			d.settle(job, r.result, r.err)
		}

	case <-jobCtx.Done():
		if errors.Is(jobCtx.Err(), context.DeadlineExceeded) {
			// Timeout: the slot is reclaimed whether or not the handler is
			// still running. A cooperative handler exits at its next
			// ctx check; either way its result is discarded.
			log.Warnw("Job timed out", "timeout", d.cfg.JobTimeout)
			d.settle(job, nil, errors.Wrapf(errors.ErrTimeout, "handler exceeded %s", d.cfg.JobTimeout))
			return
		}

		// Parent context cancelled: either the whole dispatcher is
		// shutting down, or this job was cancelled individually.
		select {
		case <-d.ctx.Done():
			// Shutdown: return the attempt to the queue without consuming
			// retry budget; orphan recovery also covers hard crashes
			d.requeueInterrupted(job, log)
		default:
			// Individual cancellation: the facade already persisted the
			// cancelled status, nothing to write
			log.Infow("Job cancelled, slot reclaimed")
		}
	}
}

// settle records the outcome of a finished attempt. Every write is
// conditional on the record still being processing: a cancel or
// administrative action that raced with execution wins and the result is
// discarded. Execution errors are captured into the job record and never
// escape the scheduling loop.
func (d *Dispatcher) settle(job *Job, result json.RawMessage, jobErr error) {
	log := d.log.With("job_id", job.ID, "type", job.Type)

	if jobErr == nil {
		job.Complete(result)
		if !d.settleWrite(job, log, "completed") {
			return
		}
		log.Infow("Job completed",
			"duration", durationSince(job.StartedAt),
			"retry_count", job.RetryCount)
		return
	}

	decision := d.policy.Decide(job.RetryCount, job.MaxRetries, jobErr)
	if decision.Retry {
		job.RequeueForRetry(jobErr, time.Now().UTC().Add(decision.Delay))
		if !d.settleWrite(job, log, "requeued") {
			return
		}
		log.Infow("Retry scheduled",
			"error", jobErr.Error(),
			"retry_count", job.RetryCount,
			"max_retries", job.MaxRetries,
			"delay", decision.Delay)
		return
	}

	job.Fail(jobErr)
	if !d.settleWrite(job, log, "failed") {
		return
	}
	log.Warnw("Job failed permanently",
		"error", jobErr.Error(),
		"retry_count", job.RetryCount,
		"max_retries", job.MaxRetries)
}

// settleWrite performs the processing-guarded outcome write. Returns false
// when the outcome was discarded or the write failed.
func (d *Dispatcher) settleWrite(job *Job, log *zap.SugaredLogger, outcome string) bool {
	written, err := d.store.UpdateIf(job, StatusProcessing)
	if err != nil {
		if errors.IsNotFoundError(err) {
			log.Warnw("Job deleted during execution, discarding result")
			return false
		}
		log.Errorw("Failed to mark job "+outcome, "error", err)
		return false
	}
	if !written {
		log.Infow("Job no longer processing, discarding result")
		return false
	}
	return true
}

// requeueInterrupted returns a shutdown-interrupted attempt to pending. The
// processing guard keeps a concurrent cancel from being resurrected.
func (d *Dispatcher) requeueInterrupted(job *Job, log *zap.SugaredLogger) {
	log.Infow("Job interrupted by shutdown, returning to pending")
	job.ReturnToPending()
	written, err := d.store.UpdateIf(job, StatusProcessing)
	if err != nil && !errors.IsNotFoundError(err) {
		log.Errorw("Failed to requeue interrupted job", "error", err)
		return
	}
	if err == nil && !written {
		log.Infow("Job no longer processing, leaving record as is")
	}
}

// release frees the job's slot and triggers a scheduling tick.
func (d *Dispatcher) release(id string) {
	d.mu.Lock()
	delete(d.inflight, id)
	d.mu.Unlock()
	d.Nudge()
}

func durationSince(t *time.Time) time.Duration {
	if t == nil {
		return 0
	}
	return time.Since(*t).Round(time.Millisecond)
}
