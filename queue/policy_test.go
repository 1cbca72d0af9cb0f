package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curioshelf/curio/errors"
)

func TestFixedBackoff(t *testing.T) {
	b := FixedBackoff{Interval: 30 * time.Second}
	assert.Equal(t, 30*time.Second, b.Delay(1))
	assert.Equal(t, 30*time.Second, b.Delay(5))
}

func TestExponentialBackoff(t *testing.T) {
	b := ExponentialBackoff{Initial: 10 * time.Second, Max: 5 * time.Minute}

	assert.Equal(t, 10*time.Second, b.Delay(1))
	assert.Equal(t, 20*time.Second, b.Delay(2))
	assert.Equal(t, 40*time.Second, b.Delay(3))
	assert.Equal(t, 80*time.Second, b.Delay(4))

	t.Run("caps at max", func(t *testing.T) {
		assert.Equal(t, 5*time.Minute, b.Delay(10))
	})

	t.Run("clamps attempt below one", func(t *testing.T) {
		assert.Equal(t, 10*time.Second, b.Delay(0))
	})
}

func TestNewBackoff(t *testing.T) {
	t.Run("fixed by name", func(t *testing.T) {
		b := NewBackoff("fixed", 30*time.Second)
		assert.Equal(t, 30*time.Second, b.Delay(4))
	})

	t.Run("exponential by name", func(t *testing.T) {
		b := NewBackoff("exponential", 30*time.Second)
		assert.Equal(t, 60*time.Second, b.Delay(2))
	})

	t.Run("unknown name falls back to fixed", func(t *testing.T) {
		b := NewBackoff("", 30*time.Second)
		assert.Equal(t, 30*time.Second, b.Delay(3))
	})
}

func TestRetryPolicyDecide(t *testing.T) {
	policy := RetryPolicy{Backoff: FixedBackoff{Interval: 30 * time.Second}}
	transient := errors.New("connection reset")

	t.Run("retries while budget remains", func(t *testing.T) {
		d := policy.Decide(0, 3, transient)
		require.True(t, d.Retry)
		assert.Equal(t, 30*time.Second, d.Delay)

		d = policy.Decide(2, 3, transient)
		assert.True(t, d.Retry)
	})

	t.Run("fails permanently when budget exhausted", func(t *testing.T) {
		d := policy.Decide(3, 3, transient)
		assert.False(t, d.Retry)
	})

	t.Run("zero budget means one attempt", func(t *testing.T) {
		d := policy.Decide(0, 0, transient)
		assert.False(t, d.Retry)
	})

	t.Run("permanent errors skip remaining budget", func(t *testing.T) {
		d := policy.Decide(0, 3, Permanent(errors.New("item does not exist")))
		assert.False(t, d.Retry)
	})

	t.Run("wrapped permanent errors are detected", func(t *testing.T) {
		err := errors.Wrap(Permanent(errors.New("bad payload")), "handler failed")
		d := policy.Decide(0, 3, err)
		assert.False(t, d.Retry)
	})

	t.Run("timeouts follow the normal budget", func(t *testing.T) {
		err := errors.Wrap(errors.ErrTimeout, "handler exceeded 5m0s")
		d := policy.Decide(1, 3, err)
		assert.True(t, d.Retry)
	})
}

func TestPermanent(t *testing.T) {
	assert.Nil(t, Permanent(nil))
	assert.False(t, IsPermanent(errors.New("transient")))
	assert.True(t, IsPermanent(Permanent(errors.New("fatal"))))

	t.Run("preserves the message", func(t *testing.T) {
		err := Permanent(errors.New("item does not exist"))
		assert.Equal(t, "item does not exist", err.Error())
	})
}
