package queue

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/curioshelf/curio/logger"
)

// progressWriteInterval throttles progress persistence so chatty handlers
// do not turn every item into a database write.
const progressWriteInterval = 500 * time.Millisecond

// ProgressReporter persists progress updates for a running job. Handlers
// call Report as they work through their items; writes are throttled, with
// the final counters always persisted via Flush.
//
// A reporter is bound to one job and must not be shared across jobs.
type ProgressReporter struct {
	store Store
	job   *Job
	log   *zap.SugaredLogger

	mu        sync.Mutex
	lastWrite time.Time
}

// NewProgressReporter creates a reporter for the given job.
func NewProgressReporter(store Store, job *Job) *ProgressReporter {
	return &ProgressReporter{
		store: store,
		job:   job,
		log:   logger.Named("progress").With("job_id", job.ID, "type", job.Type),
	}
}

// Report records progress, persisting at most once per write interval.
// Persistence failures are logged and swallowed; progress is advisory and
// must never fail the job.
func (r *ProgressReporter) Report(current, total int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.job.UpdateProgress(current, total)
	if time.Since(r.lastWrite) < progressWriteInterval {
		return
	}
	r.write()
}

// Flush persists the latest progress unconditionally. Handlers call this
// before returning so the final counters are never lost to throttling.
func (r *ProgressReporter) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.write()
}

func (r *ProgressReporter) write() {
	// Progress-only write: a concurrent cancel must keep its status
	if err := r.store.UpdateProgress(r.job.ID, r.job.Progress.Current, r.job.Progress.Total); err != nil {
		r.log.Debugw("Failed to persist progress", "error", err)
		return
	}
	r.lastWrite = time.Now()
}
