package queue

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curioshelf/curio/config"
	"github.com/curioshelf/curio/errors"
	curiotest "github.com/curioshelf/curio/internal/testing"
)

func testQueueConfig() config.QueueConfig {
	return config.QueueConfig{
		MaxConcurrentJobs:   2,
		PollIntervalSeconds: 1,
		MaxRetries:          3,
		RetryDelaySeconds:   1,
		Backoff:             "fixed",
		JobTimeoutSeconds:   5,
	}
}

func startedQueue(t *testing.T, store Store, handlers ...Handler) *Queue {
	t.Helper()
	q := New(store, NewRegistry(handlers...), testQueueConfig())
	require.NoError(t, q.Start(context.Background()))
	t.Cleanup(q.Stop)
	return q
}

func TestQueueEnqueue(t *testing.T) {
	store := NewMemoryStore()
	q := startedQueue(t, store, &stubHandler{
		jobType: TypeCacheWarmup,
		fn: func(_ context.Context, _ *Job) (json.RawMessage, error) {
			return json.RawMessage(`{"done":true}`), nil
		},
	})

	t.Run("accepted and completed", func(t *testing.T) {
		id, err := q.Enqueue(TypeCacheWarmup, json.RawMessage(`{"keys":["a"]}`), PriorityHigh)
		require.NoError(t, err)
		require.NotEmpty(t, id)

		job := waitForStatus(t, store, id, StatusCompleted)
		assert.Equal(t, PriorityHigh, job.Priority)
		assert.Equal(t, 3, job.MaxRetries, "retry budget copied from configuration")
	})

	t.Run("unregistered type is rejected", func(t *testing.T) {
		_, err := q.Enqueue(TypeCatalogBulkSync, nil, PriorityNormal)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
	})

	t.Run("unknown type is rejected", func(t *testing.T) {
		_, err := q.Enqueue(JobType("mystery"), nil, PriorityNormal)
		require.Error(t, err)
	})
}

func TestQueueEnqueueDurableBeforeReturn(t *testing.T) {
	// A stopped queue never dispatches, so the record must be readable
	// purely from the store write in Enqueue.
	store := NewMemoryStore()
	q := New(store, NewRegistry(&stubHandler{
		jobType: TypeCacheWarmup,
		fn:      func(_ context.Context, _ *Job) (json.RawMessage, error) { return nil, nil },
	}), testQueueConfig())

	id, err := q.Enqueue(TypeCacheWarmup, nil, PriorityNormal)
	require.NoError(t, err)

	job, err := q.GetJob(id)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, job.Status)
}

func TestQueueEnqueueAfterStop(t *testing.T) {
	store := NewMemoryStore()
	q := New(store, NewRegistry(&stubHandler{
		jobType: TypeCacheWarmup,
		fn:      func(_ context.Context, _ *Job) (json.RawMessage, error) { return nil, nil },
	}), testQueueConfig())

	require.NoError(t, q.Start(context.Background()))
	q.Stop()

	_, err := q.Enqueue(TypeCacheWarmup, nil, PriorityNormal)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrQueueStopped))
}

func TestQueueCancelJob(t *testing.T) {
	t.Run("pending job is cancelled without dispatch", func(t *testing.T) {
		store := NewMemoryStore()
		var executed int64
		q := New(store, NewRegistry(&stubHandler{
			jobType: TypeCacheWarmup,
			fn: func(_ context.Context, _ *Job) (json.RawMessage, error) {
				atomic.AddInt64(&executed, 1)
				return nil, nil
			},
		}), testQueueConfig())

		// Not started: the job stays pending
		id, err := q.Enqueue(TypeCacheWarmup, nil, PriorityNormal)
		require.NoError(t, err)

		cancelled, err := q.CancelJob(id, "")
		require.NoError(t, err)
		assert.True(t, cancelled)

		require.NoError(t, q.Start(context.Background()))
		defer q.Stop()

		// Give the dispatcher a tick; the cancelled job must never run
		time.Sleep(50 * time.Millisecond)
		assert.Equal(t, int64(0), atomic.LoadInt64(&executed))

		job, err := q.GetJob(id)
		require.NoError(t, err)
		assert.Equal(t, StatusCancelled, job.Status)
		assert.Equal(t, "cancelled by user", job.Error)
	})

	t.Run("processing job is interrupted", func(t *testing.T) {
		store := NewMemoryStore()
		started := make(chan struct{})
		q := startedQueue(t, store, &stubHandler{
			jobType: TypeUserCollectionSync,
			fn: func(ctx context.Context, _ *Job) (json.RawMessage, error) {
				close(started)
				<-ctx.Done()
				return nil, ctx.Err()
			},
		})

		id, err := q.Enqueue(TypeUserCollectionSync, nil, PriorityNormal)
		require.NoError(t, err)
		<-started

		cancelled, err := q.CancelJob(id, "superseded")
		require.NoError(t, err)
		assert.True(t, cancelled)

		require.Eventually(t, func() bool {
			return q.WorkerStatus().Occupied == 0
		}, 5*time.Second, 5*time.Millisecond)

		job, err := q.GetJob(id)
		require.NoError(t, err)
		assert.Equal(t, StatusCancelled, job.Status)
		assert.Equal(t, "superseded", job.Error)
	})

	t.Run("terminal job returns false", func(t *testing.T) {
		store := NewMemoryStore()
		q := startedQueue(t, store, &stubHandler{
			jobType: TypeCacheWarmup,
			fn:      func(_ context.Context, _ *Job) (json.RawMessage, error) { return nil, nil },
		})

		id, err := q.Enqueue(TypeCacheWarmup, nil, PriorityNormal)
		require.NoError(t, err)
		waitForStatus(t, store, id, StatusCompleted)

		cancelled, err := q.CancelJob(id, "")
		require.NoError(t, err)
		assert.False(t, cancelled)

		job, err := q.GetJob(id)
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, job.Status, "cancel on a terminal job must not mutate it")
	})

	t.Run("unknown job returns false without error", func(t *testing.T) {
		q := New(NewMemoryStore(), NewRegistry(), testQueueConfig())
		cancelled, err := q.CancelJob("no-such-job", "")
		require.NoError(t, err)
		assert.False(t, cancelled)
	})
}

func TestQueueRetryAllFailed(t *testing.T) {
	store := NewMemoryStore()
	var failures int64
	q := startedQueue(t, store, &stubHandler{
		jobType: TypeCatalogItemSync,
		fn: func(_ context.Context, _ *Job) (json.RawMessage, error) {
			// Fail the first wave of attempts, succeed after the reset
			if atomic.AddInt64(&failures, 1) <= 2 {
				return nil, Permanent(errors.New("catalog misconfigured"))
			}
			return nil, nil
		},
	})

	idA, err := q.Enqueue(TypeCatalogItemSync, nil, PriorityNormal)
	require.NoError(t, err)
	idB, err := q.Enqueue(TypeCatalogItemSync, nil, PriorityNormal)
	require.NoError(t, err)

	waitForStatus(t, store, idA, StatusFailed)
	waitForStatus(t, store, idB, StatusFailed)

	requeued, err := q.RetryAllFailed()
	require.NoError(t, err)
	assert.Equal(t, 2, requeued)

	a := waitForStatus(t, store, idA, StatusCompleted)
	b := waitForStatus(t, store, idB, StatusCompleted)
	assert.Equal(t, 0, a.RetryCount, "administrative retry resets the budget")
	assert.Equal(t, 0, b.RetryCount)

	t.Run("nothing failed", func(t *testing.T) {
		requeued, err := q.RetryAllFailed()
		require.NoError(t, err)
		assert.Equal(t, 0, requeued)
	})
}

func TestQueueDeleteJob(t *testing.T) {
	store := NewMemoryStore()
	q := New(store, NewRegistry(&stubHandler{
		jobType: TypeCacheWarmup,
		fn:      func(_ context.Context, _ *Job) (json.RawMessage, error) { return nil, nil },
	}), testQueueConfig())

	id, err := q.Enqueue(TypeCacheWarmup, nil, PriorityNormal)
	require.NoError(t, err)

	t.Run("pending job is protected", func(t *testing.T) {
		err := q.DeleteJob(id)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
	})

	t.Run("terminal job is deleted", func(t *testing.T) {
		cancelled, err := q.CancelJob(id, "cleanup")
		require.NoError(t, err)
		require.True(t, cancelled)

		require.NoError(t, q.DeleteJob(id))

		_, err = q.GetJob(id)
		assert.True(t, errors.IsNotFoundError(err))
	})

	t.Run("unknown job", func(t *testing.T) {
		err := q.DeleteJob("no-such-job")
		assert.True(t, errors.IsNotFoundError(err))
	})
}

func TestQueueOrphanRecovery(t *testing.T) {
	store := NewSQLiteStore(curiotest.CreateTestDB(t))

	// A previous process died mid-attempt, leaving a processing record
	orphan, err := NewJob(TypeCatalogItemSync, nil, PriorityNormal, 3)
	require.NoError(t, err)
	require.NoError(t, store.Insert(orphan))
	orphan.Start()
	orphan.RetryCount = 1
	require.NoError(t, store.Update(orphan))

	startedQueue(t, store, &stubHandler{
		jobType: TypeCatalogItemSync,
		fn:      func(_ context.Context, _ *Job) (json.RawMessage, error) { return nil, nil },
	})

	// Recovery returns the orphan to pending and the dispatcher picks it up
	job := waitForStatus(t, store, orphan.ID, StatusCompleted)
	assert.Equal(t, 1, job.RetryCount, "recovery must not consume retry budget")
}

func TestQueueJobListings(t *testing.T) {
	store := NewMemoryStore()
	q := New(store, NewRegistry(&stubHandler{
		jobType: TypeCacheWarmup,
		fn:      func(_ context.Context, _ *Job) (json.RawMessage, error) { return nil, nil },
	}, &stubHandler{
		jobType: TypeSearchPrefetch,
		fn:      func(_ context.Context, _ *Job) (json.RawMessage, error) { return nil, nil },
	}), testQueueConfig())

	for i := 0; i < 3; i++ {
		_, err := q.Enqueue(TypeCacheWarmup, nil, PriorityNormal)
		require.NoError(t, err)
	}
	_, err := q.Enqueue(TypeSearchPrefetch, nil, PriorityNormal)
	require.NoError(t, err)

	byStatus, err := q.JobsByStatus(StatusPending, 0)
	require.NoError(t, err)
	assert.Len(t, byStatus, 4)

	byType, err := q.JobsByType(TypeCacheWarmup, 0)
	require.NoError(t, err)
	assert.Len(t, byType, 3)
}

func TestQueueStats(t *testing.T) {
	store := NewMemoryStore()
	q := startedQueue(t, store, &stubHandler{
		jobType: TypeCacheWarmup,
		fn:      func(_ context.Context, _ *Job) (json.RawMessage, error) { return nil, nil },
	}, &stubHandler{
		jobType: TypeCatalogItemSync,
		fn: func(_ context.Context, _ *Job) (json.RawMessage, error) {
			return nil, Permanent(errors.New("boom"))
		},
	})

	okID, err := q.Enqueue(TypeCacheWarmup, nil, PriorityNormal)
	require.NoError(t, err)
	badID, err := q.Enqueue(TypeCatalogItemSync, nil, PriorityNormal)
	require.NoError(t, err)

	waitForStatus(t, store, okID, StatusCompleted)
	waitForStatus(t, store, badID, StatusFailed)

	stats, err := q.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Completed)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 0, stats.Pending)
	assert.Equal(t, stats.Pending, stats.QueueDepth)
	assert.GreaterOrEqual(t, stats.AvgWaitMs, 0.0)
	assert.GreaterOrEqual(t, stats.AvgProcessingMs, 0.0)
}

func TestQueueWorkerStatus(t *testing.T) {
	store := NewMemoryStore()
	started := make(chan struct{})
	release := make(chan struct{})
	q := startedQueue(t, store, &stubHandler{
		jobType: TypeCacheWarmup,
		fn: func(ctx context.Context, _ *Job) (json.RawMessage, error) {
			close(started)
			select {
			case <-release:
			case <-ctx.Done():
			}
			return nil, nil
		},
	})

	id, err := q.Enqueue(TypeCacheWarmup, nil, PriorityNormal)
	require.NoError(t, err)
	<-started

	status := q.WorkerStatus()
	assert.Equal(t, 2, status.Slots)
	assert.Equal(t, 1, status.Occupied)
	assert.Equal(t, 1, status.Free)
	assert.Contains(t, status.InFlight, id)

	close(release)
	waitForStatus(t, store, id, StatusCompleted)
}

func TestQueueRetentionSweep(t *testing.T) {
	store := NewMemoryStore()

	// An old terminal job past the retention window
	old, err := NewJob(TypeCacheWarmup, nil, PriorityNormal, 0)
	require.NoError(t, err)
	require.NoError(t, store.Insert(old))
	old.Start()
	old.Complete(nil)
	stale := time.Now().UTC().Add(-2 * time.Hour)
	old.CompletedAt = &stale
	require.NoError(t, store.Update(old))

	cfg := testQueueConfig()
	cfg.CleanupIntervalSeconds = 1
	cfg.RetentionHours = 1

	q := New(store, NewRegistry(), cfg)
	require.NoError(t, q.Start(context.Background()))
	defer q.Stop()

	require.Eventually(t, func() bool {
		_, err := store.GetByID(old.ID)
		return errors.IsNotFoundError(err)
	}, 5*time.Second, 50*time.Millisecond)
}
