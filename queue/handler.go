package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Handler defines the interface for executing a specific job type.
// Domain packages implement this interface to handle their job types,
// allowing the queue infrastructure to remain decoupled from domain logic.
//
// Design: Dependency Inversion
// - queue package defines this abstraction
// - domain packages provide implementations
// - the dispatcher executes jobs through handlers without knowing domain details
type Handler interface {
	// Execute runs the job and returns its result.
	// The handler should:
	// - Decode job.Payload into a handler-specific struct
	// - Update job progress as work proceeds (see ProgressReporter)
	// - Return the result on success, an error on failure
	//
	// Context cancellation: handlers MUST check ctx.Done() at I/O boundaries
	// and exit cleanly when cancelled. The dispatcher never forcibly kills
	// execution; it reclaims the slot and discards late results instead.
	Execute(ctx context.Context, job *Job) (json.RawMessage, error)

	// Type returns the job type this handler serves.
	Type() JobType
}

// Registry maps each job type to its handler. The registry is built once at
// startup and read-only afterwards, so dispatch of a registered application
// can never hit an unknown type at runtime.
type Registry struct {
	handlers map[JobType]Handler
	mu       sync.RWMutex
}

// NewRegistry creates a registry pre-populated with the given handlers.
func NewRegistry(handlers ...Handler) *Registry {
	r := &Registry{handlers: make(map[JobType]Handler)}
	for _, h := range handlers {
		r.Register(h)
	}
	return r
}

// Register adds a handler for its job type.
// Panics if a handler is already registered for that type: duplicate
// registration is a programming error, not a runtime condition.
func (r *Registry) Register(handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	jobType := handler.Type()
	if _, exists := r.handlers[jobType]; exists {
		panic(fmt.Sprintf("handler already registered for job type: %s", jobType))
	}
	r.handlers[jobType] = handler
}

// Get retrieves the handler for a job type.
// Returns nil if no handler is registered.
func (r *Registry) Get(jobType JobType) Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handlers[jobType]
}

// Has checks if a handler is registered for a type.
func (r *Registry) Has(jobType JobType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.handlers[jobType]
	return exists
}

// Types returns all registered job types.
func (r *Registry) Types() []JobType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]JobType, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	return types
}
