// Package queue provides the curio background job queue: a priority-aware,
// retry-capable, concurrency-bounded scheduler with persisted lifecycle state.
//
// ARCHITECTURE: Generic job system with handler-based execution
// - Infrastructure (queue) is domain-agnostic
// - Domain packages provide handlers and payloads
// - Job.Type identifies which handler executes the job
// - Payload contains handler-specific data (domain logic controls structure)
package queue

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/curioshelf/curio/errors"
)

// Status represents the current state of a job
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// IsValidStatus returns true if the status string is a valid Status
func IsValidStatus(s string) bool {
	switch Status(s) {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal returns true if the status permits no further automatic transition.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// JobType identifies the handler and expected payload shape for a job.
// The set is closed: every type has exactly one registered handler.
type JobType string

const (
	TypeCatalogItemSync    JobType = "catalog_item_sync"
	TypeCatalogBulkSync    JobType = "catalog_bulk_sync"
	TypeCacheWarmup        JobType = "cache_warmup"
	TypeUserCollectionSync JobType = "user_collection_sync"
	TypeSearchPrefetch     JobType = "search_prefetch"
)

// JobTypes returns all known job types.
func JobTypes() []JobType {
	return []JobType{
		TypeCatalogItemSync,
		TypeCatalogBulkSync,
		TypeCacheWarmup,
		TypeUserCollectionSync,
		TypeSearchPrefetch,
	}
}

// IsValidType returns true if the string names a known job type
func IsValidType(s string) bool {
	switch JobType(s) {
	case TypeCatalogItemSync, TypeCatalogBulkSync, TypeCacheWarmup,
		TypeUserCollectionSync, TypeSearchPrefetch:
		return true
	default:
		return false
	}
}

// Priority orders pending jobs for dispatch. Higher values dispatch first;
// among equal priorities, older jobs win. Priority strictly dominates age.
type Priority int

const (
	PriorityLow      Priority = 10
	PriorityNormal   Priority = 20
	PriorityHigh     Priority = 30
	PriorityCritical Priority = 40
)

// String returns the lowercase name of the priority.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "normal"
	}
}

// ParsePriority converts a priority name to a Priority.
func ParsePriority(s string) (Priority, error) {
	switch s {
	case "low":
		return PriorityLow, nil
	case "normal", "":
		return PriorityNormal, nil
	case "high":
		return PriorityHigh, nil
	case "critical":
		return PriorityCritical, nil
	default:
		return PriorityNormal, errors.Newf("unknown priority: %q", s)
	}
}

// MarshalJSON renders the priority by name ("critical", "high", ...).
func (p Priority) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// UnmarshalJSON accepts a priority name.
func (p *Priority) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParsePriority(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Progress represents job progress information
type Progress struct {
	Current int `json:"current,omitempty"` // Completed operations
	Total   int `json:"total,omitempty"`   // Total operations
}

// Percentage calculates progress as a percentage (0-100)
func (p Progress) Percentage() float64 {
	if p.Total == 0 {
		return 0
	}
	return float64(p.Current) / float64(p.Total) * 100
}

// Job represents a single typed, schedulable unit of asynchronous work.
//
// ID, Type, and Payload are immutable after creation. Priority is read-only
// after enqueue. Exactly one of Error/Result is set once the job is terminal.
type Job struct {
	ID         string          `json:"id"`
	Type       JobType         `json:"type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Priority   Priority        `json:"priority"`
	Status     Status          `json:"status"`
	Progress   Progress        `json:"progress,omitempty"`
	RetryCount int             `json:"retry_count"`
	MaxRetries int             `json:"max_retries"`

	// NotBefore gates retry dispatch: a pending job is not eligible until
	// this instant has passed. Nil means immediately eligible.
	NotBefore *time.Time `json:"not_before,omitempty"`

	Error  string          `json:"error,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewJob creates a pending job for the given type and payload.
// maxRetries is copied from configuration at creation and fixed thereafter.
func NewJob(jobType JobType, payload json.RawMessage, priority Priority, maxRetries int) (*Job, error) {
	if !IsValidType(string(jobType)) {
		return nil, errors.Newf("unknown job type: %q", jobType)
	}
	if maxRetries < 0 {
		return nil, errors.Newf("maxRetries cannot be negative: %d", maxRetries)
	}

	now := time.Now().UTC()
	return &Job{
		ID:         uuid.NewString(),
		Type:       jobType,
		Payload:    payload,
		Priority:   priority,
		Status:     StatusPending,
		MaxRetries: maxRetries,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// Terminal returns true once the job has reached a terminal status.
func (j *Job) Terminal() bool {
	return j.Status.Terminal()
}

// Eligible reports whether a pending job may be dispatched at the given time.
func (j *Job) Eligible(now time.Time) bool {
	if j.Status != StatusPending {
		return false
	}
	return j.NotBefore == nil || !j.NotBefore.After(now)
}

// Start marks the job as processing. StartedAt is recorded on every
// dispatch attempt, so after a retry it reflects the latest attempt.
func (j *Job) Start() {
	now := time.Now().UTC()
	j.Status = StatusProcessing
	j.StartedAt = &now
	j.NotBefore = nil
	j.UpdatedAt = now
}

// Complete marks the job as completed with its result.
func (j *Job) Complete(result json.RawMessage) {
	now := time.Now().UTC()
	j.Status = StatusCompleted
	j.Result = result
	j.Error = ""
	j.CompletedAt = &now
	j.UpdatedAt = now
}

// Fail marks the job as permanently failed with an error message.
func (j *Job) Fail(err error) {
	now := time.Now().UTC()
	j.Status = StatusFailed
	j.Error = err.Error()
	j.Result = nil
	j.CompletedAt = &now
	j.UpdatedAt = now
}

// Cancel marks the job as cancelled with a reason.
func (j *Job) Cancel(reason string) {
	now := time.Now().UTC()
	j.Status = StatusCancelled
	j.Error = reason
	j.Result = nil
	j.CompletedAt = &now
	j.UpdatedAt = now
}

// RequeueForRetry returns a failed attempt to pending, recording the error
// and the earliest instant the next attempt may be dispatched.
func (j *Job) RequeueForRetry(err error, notBefore time.Time) {
	j.RetryCount++
	j.Status = StatusPending
	j.Error = err.Error()
	j.NotBefore = &notBefore
	j.UpdatedAt = time.Now().UTC()
}

// ReturnToPending puts an interrupted attempt back on the queue without
// consuming retry budget. Used when the dispatcher shuts down mid-flight.
func (j *Job) ReturnToPending() {
	j.Status = StatusPending
	j.NotBefore = nil
	j.UpdatedAt = time.Now().UTC()
}

// ResetForRetry returns a failed job to pending with a fresh retry budget.
// Used by administrative "retry all failed" actions.
func (j *Job) ResetForRetry() {
	j.Status = StatusPending
	j.RetryCount = 0
	j.Error = ""
	j.Result = nil
	j.NotBefore = nil
	j.StartedAt = nil
	j.CompletedAt = nil
	j.UpdatedAt = time.Now().UTC()
}

// UpdateProgress updates the job's progress counters.
func (j *Job) UpdateProgress(current, total int) {
	j.Progress.Current = current
	if total > 0 {
		j.Progress.Total = total
	}
	j.UpdatedAt = time.Now().UTC()
}
