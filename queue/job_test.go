package queue

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curioshelf/curio/errors"
)

func TestNewJob(t *testing.T) {
	t.Run("creates pending job with defaults", func(t *testing.T) {
		payload := json.RawMessage(`{"item_id":"itm_123"}`)
		job, err := NewJob(TypeCatalogItemSync, payload, PriorityNormal, 3)
		require.NoError(t, err)

		assert.NotEmpty(t, job.ID)
		assert.Equal(t, TypeCatalogItemSync, job.Type)
		assert.Equal(t, StatusPending, job.Status)
		assert.Equal(t, PriorityNormal, job.Priority)
		assert.Equal(t, 0, job.RetryCount)
		assert.Equal(t, 3, job.MaxRetries)
		assert.Nil(t, job.NotBefore)
		assert.Nil(t, job.StartedAt)
		assert.Nil(t, job.CompletedAt)
		assert.False(t, job.Terminal())
	})

	t.Run("rejects unknown job type", func(t *testing.T) {
		_, err := NewJob(JobType("mystery"), nil, PriorityNormal, 3)
		require.Error(t, err)
	})

	t.Run("rejects negative max retries", func(t *testing.T) {
		_, err := NewJob(TypeCacheWarmup, nil, PriorityNormal, -1)
		require.Error(t, err)
	})

	t.Run("unique IDs", func(t *testing.T) {
		a, err := NewJob(TypeCacheWarmup, nil, PriorityNormal, 0)
		require.NoError(t, err)
		b, err := NewJob(TypeCacheWarmup, nil, PriorityNormal, 0)
		require.NoError(t, err)
		assert.NotEqual(t, a.ID, b.ID)
	})
}

func TestJobLifecycle(t *testing.T) {
	newTestJob := func(t *testing.T) *Job {
		t.Helper()
		job, err := NewJob(TypeCatalogItemSync, nil, PriorityNormal, 3)
		require.NoError(t, err)
		return job
	}

	t.Run("start records attempt time and clears gate", func(t *testing.T) {
		job := newTestJob(t)
		gate := time.Now().UTC().Add(time.Minute)
		job.NotBefore = &gate

		job.Start()
		assert.Equal(t, StatusProcessing, job.Status)
		require.NotNil(t, job.StartedAt)
		assert.Nil(t, job.NotBefore)
	})

	t.Run("complete sets result and clears error", func(t *testing.T) {
		job := newTestJob(t)
		job.Start()
		job.Error = "leftover from a failed attempt"

		job.Complete(json.RawMessage(`{"synced":12}`))
		assert.Equal(t, StatusCompleted, job.Status)
		assert.True(t, job.Terminal())
		assert.Empty(t, job.Error)
		assert.JSONEq(t, `{"synced":12}`, string(job.Result))
		require.NotNil(t, job.CompletedAt)
	})

	t.Run("fail sets error and clears result", func(t *testing.T) {
		job := newTestJob(t)
		job.Start()

		job.Fail(errors.New("catalog returned 500"))
		assert.Equal(t, StatusFailed, job.Status)
		assert.True(t, job.Terminal())
		assert.Equal(t, "catalog returned 500", job.Error)
		assert.Nil(t, job.Result)
		require.NotNil(t, job.CompletedAt)
	})

	t.Run("cancel records reason as error", func(t *testing.T) {
		job := newTestJob(t)

		job.Cancel("cancelled by user")
		assert.Equal(t, StatusCancelled, job.Status)
		assert.True(t, job.Terminal())
		assert.Equal(t, "cancelled by user", job.Error)
		assert.Nil(t, job.Result)
	})

	t.Run("requeue for retry increments count and gates dispatch", func(t *testing.T) {
		job := newTestJob(t)
		job.Start()

		notBefore := time.Now().UTC().Add(30 * time.Second)
		job.RequeueForRetry(errors.New("transient"), notBefore)
		assert.Equal(t, StatusPending, job.Status)
		assert.Equal(t, 1, job.RetryCount)
		assert.Equal(t, "transient", job.Error)
		require.NotNil(t, job.NotBefore)
		assert.Equal(t, notBefore, *job.NotBefore)
	})

	t.Run("return to pending preserves retry budget", func(t *testing.T) {
		job := newTestJob(t)
		job.Start()
		job.RetryCount = 2

		job.ReturnToPending()
		assert.Equal(t, StatusPending, job.Status)
		assert.Equal(t, 2, job.RetryCount)
		assert.Nil(t, job.NotBefore)
	})

	t.Run("reset for retry clears everything", func(t *testing.T) {
		job := newTestJob(t)
		job.Start()
		job.Fail(errors.New("boom"))
		job.RetryCount = 3

		job.ResetForRetry()
		assert.Equal(t, StatusPending, job.Status)
		assert.Equal(t, 0, job.RetryCount)
		assert.Empty(t, job.Error)
		assert.Nil(t, job.Result)
		assert.Nil(t, job.StartedAt)
		assert.Nil(t, job.CompletedAt)
	})
}

func TestJobEligible(t *testing.T) {
	now := time.Now().UTC()

	job, err := NewJob(TypeSearchPrefetch, nil, PriorityNormal, 0)
	require.NoError(t, err)

	t.Run("pending without gate", func(t *testing.T) {
		assert.True(t, job.Eligible(now))
	})

	t.Run("gate in the future blocks dispatch", func(t *testing.T) {
		future := now.Add(time.Minute)
		job.NotBefore = &future
		assert.False(t, job.Eligible(now))
	})

	t.Run("gate in the past allows dispatch", func(t *testing.T) {
		past := now.Add(-time.Minute)
		job.NotBefore = &past
		assert.True(t, job.Eligible(now))
	})

	t.Run("processing is never eligible", func(t *testing.T) {
		job.NotBefore = nil
		job.Status = StatusProcessing
		assert.False(t, job.Eligible(now))
	})
}

func TestPriority(t *testing.T) {
	t.Run("ordering", func(t *testing.T) {
		assert.Greater(t, PriorityCritical, PriorityHigh)
		assert.Greater(t, PriorityHigh, PriorityNormal)
		assert.Greater(t, PriorityNormal, PriorityLow)
	})

	t.Run("parse round trip", func(t *testing.T) {
		for _, p := range []Priority{PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical} {
			parsed, err := ParsePriority(p.String())
			require.NoError(t, err)
			assert.Equal(t, p, parsed)
		}
	})

	t.Run("empty string defaults to normal", func(t *testing.T) {
		p, err := ParsePriority("")
		require.NoError(t, err)
		assert.Equal(t, PriorityNormal, p)
	})

	t.Run("unknown name is rejected", func(t *testing.T) {
		_, err := ParsePriority("urgent")
		require.Error(t, err)
	})

	t.Run("json renders the name", func(t *testing.T) {
		data, err := json.Marshal(PriorityCritical)
		require.NoError(t, err)
		assert.Equal(t, `"critical"`, string(data))

		var p Priority
		require.NoError(t, json.Unmarshal([]byte(`"high"`), &p))
		assert.Equal(t, PriorityHigh, p)
	})
}

func TestProgressPercentage(t *testing.T) {
	assert.Equal(t, 0.0, Progress{}.Percentage())
	assert.Equal(t, 50.0, Progress{Current: 5, Total: 10}.Percentage())
	assert.Equal(t, 100.0, Progress{Current: 10, Total: 10}.Percentage())
}
