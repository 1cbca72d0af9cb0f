package queue

import (
	"sort"
	"sync"
	"time"

	"github.com/curioshelf/curio/errors"
)

// MemoryStore is an in-memory Store implementation. It backs tests and
// embedders that do not want a database; semantics match SQLiteStore.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewMemoryStore creates an empty in-memory job store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*Job)}
}

func (s *MemoryStore) Insert(job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return errors.Wrapf(errors.ErrConflict, "job %s already exists", job.ID)
	}
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

func (s *MemoryStore) GetByID(id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, errors.Wrapf(errors.ErrNotFound, "job %s", id)
	}
	return cloneJob(job), nil
}

func (s *MemoryStore) Update(job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.jobs[job.ID]
	if !ok {
		return errors.Wrapf(errors.ErrNotFound, "job %s", job.ID)
	}

	// Immutable fields keep their stored values
	updated := cloneJob(job)
	updated.Type = stored.Type
	updated.Payload = stored.Payload
	updated.Priority = stored.Priority
	updated.CreatedAt = stored.CreatedAt
	s.jobs[job.ID] = updated
	return nil
}

func (s *MemoryStore) UpdateIf(job *Job, from Status) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.jobs[job.ID]
	if !ok {
		return false, errors.Wrapf(errors.ErrNotFound, "job %s", job.ID)
	}
	if stored.Status != from {
		return false, nil
	}

	// Immutable fields keep their stored values
	updated := cloneJob(job)
	updated.Type = stored.Type
	updated.Payload = stored.Payload
	updated.Priority = stored.Priority
	updated.CreatedAt = stored.CreatedAt
	s.jobs[job.ID] = updated
	return true, nil
}

func (s *MemoryStore) UpdateProgress(id string, current, total int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return errors.Wrapf(errors.ErrNotFound, "job %s", id)
	}
	job.UpdateProgress(current, total)
	return nil
}

func (s *MemoryStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[id]; !ok {
		return errors.Wrapf(errors.ErrNotFound, "job %s", id)
	}
	delete(s.jobs, id)
	return nil
}

func (s *MemoryStore) ListByStatus(status Status, limit int) ([]*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var jobs []*Job
	for _, job := range s.jobs {
		if job.Status == status {
			jobs = append(jobs, cloneJob(job))
		}
	}
	sortNewestFirst(jobs)
	return truncate(jobs, limit), nil
}

func (s *MemoryStore) ListByType(jobType JobType, limit int) ([]*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var jobs []*Job
	for _, job := range s.jobs {
		if job.Type == jobType {
			jobs = append(jobs, cloneJob(job))
		}
	}
	sortNewestFirst(jobs)
	return truncate(jobs, limit), nil
}

func (s *MemoryStore) NextEligible(now time.Time, limit int) ([]*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var jobs []*Job
	for _, job := range s.jobs {
		if job.Eligible(now) {
			jobs = append(jobs, cloneJob(job))
		}
	}

	// Priority descending, then creation time ascending
	sort.Slice(jobs, func(i, k int) bool {
		if jobs[i].Priority != jobs[k].Priority {
			return jobs[i].Priority > jobs[k].Priority
		}
		return jobs[i].CreatedAt.Before(jobs[k].CreatedAt)
	})
	return truncate(jobs, limit), nil
}

func (s *MemoryStore) CountByStatus() (map[Status]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[Status]int)
	for _, job := range s.jobs {
		counts[job.Status]++
	}
	return counts, nil
}

func (s *MemoryStore) DeleteTerminalBefore(cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, job := range s.jobs {
		if job.Terminal() && job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
			delete(s.jobs, id)
			removed++
		}
	}
	return removed, nil
}

func cloneJob(job *Job) *Job {
	clone := *job
	if job.NotBefore != nil {
		t := *job.NotBefore
		clone.NotBefore = &t
	}
	if job.StartedAt != nil {
		t := *job.StartedAt
		clone.StartedAt = &t
	}
	if job.CompletedAt != nil {
		t := *job.CompletedAt
		clone.CompletedAt = &t
	}
	return &clone
}

func sortNewestFirst(jobs []*Job) {
	sort.Slice(jobs, func(i, k int) bool {
		return jobs[i].CreatedAt.After(jobs[k].CreatedAt)
	})
}

func truncate(jobs []*Job, limit int) []*Job {
	if limit > 0 && len(jobs) > limit {
		return jobs[:limit]
	}
	return jobs
}
