package queue

import "time"

const (
	// MaxJobsLimit bounds unfiltered job listings and status counts
	MaxJobsLimit = 10000
)

// Store persists job records. It is the single source of truth for job
// lifecycle state: the dispatcher and the facade both read and write through
// it rather than caching status in memory, so correctness within a process
// rests only on atomic slot accounting, not on broader locking.
//
// Implementations exist over SQLite (production) and in memory (tests,
// embedders without a database).
type Store interface {
	// Insert persists a new job record.
	Insert(job *Job) error

	// GetByID returns the job with the given id, or an error wrapping
	// errors.ErrNotFound when no such job exists.
	GetByID(id string) (*Job, error)

	// Update overwrites the mutable fields of an existing job record.
	Update(job *Job) error

	// UpdateIf overwrites the mutable fields of an existing job record only
	// if its stored status still equals from. Returns false with a nil error
	// when the record exists but has moved to another status; the caller
	// lost the transition race and must not write. Status transitions go
	// through UpdateIf so a concurrent cancel is never silently overwritten.
	UpdateIf(job *Job, from Status) (bool, error)

	// UpdateProgress writes only the progress counters for a job, leaving
	// status and the rest of the record untouched. Progress updates race
	// with cancellation and must never resurrect an overwritten status.
	UpdateProgress(id string, current, total int) error

	// Delete removes a job record. Returns an error wrapping
	// errors.ErrNotFound when no such job exists.
	Delete(id string) error

	// ListByStatus returns up to limit jobs with the given status,
	// newest first.
	ListByStatus(status Status, limit int) ([]*Job, error)

	// ListByType returns up to limit jobs of the given type, newest first.
	ListByType(jobType JobType, limit int) ([]*Job, error)

	// NextEligible returns up to limit pending jobs whose NotBefore gate has
	// passed, ordered by priority (descending) then creation time (ascending).
	NextEligible(now time.Time, limit int) ([]*Job, error)

	// CountByStatus returns the number of jobs in each status.
	CountByStatus() (map[Status]int, error)

	// DeleteTerminalBefore removes terminal jobs whose terminal transition
	// happened before the cutoff. Pending and processing jobs are never
	// touched regardless of age. Returns the number of rows removed.
	DeleteTerminalBefore(cutoff time.Time) (int, error)
}
