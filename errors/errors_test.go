package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	err := New("test error")
	require.NotNil(t, err)
	assert.Equal(t, "test error", err.Error())
}

func TestNewf(t *testing.T) {
	err := Newf("error: %s %d", "test", 42)
	require.NotNil(t, err)
	assert.Equal(t, "error: test 42", err.Error())
}

func TestWrap(t *testing.T) {
	original := New("original")
	wrapped := Wrap(original, "wrapped")

	assert.Contains(t, wrapped.Error(), "wrapped")
	assert.Contains(t, wrapped.Error(), "original")
	assert.True(t, Is(wrapped, original))
}

func TestWrapf(t *testing.T) {
	original := New("original")
	wrapped := Wrapf(original, "wrapped: %d", 42)

	assert.Contains(t, wrapped.Error(), "wrapped: 42")
	assert.Contains(t, wrapped.Error(), "original")
}

func TestSentinels(t *testing.T) {
	t.Run("wrapped sentinel remains detectable", func(t *testing.T) {
		err := Wrap(ErrNotFound, "job lookup")
		assert.True(t, Is(err, ErrNotFound))
		assert.True(t, IsNotFoundError(err))
		assert.False(t, IsTimeoutError(err))
	})

	t.Run("deeply wrapped timeout", func(t *testing.T) {
		err := Wrapf(Wrap(ErrTimeout, "handler"), "job %s", "abc")
		assert.True(t, IsTimeoutError(err))
	})

	t.Run("nil is neither", func(t *testing.T) {
		assert.False(t, IsNotFoundError(nil))
		assert.False(t, IsTimeoutError(nil))
	})
}

func TestWithDetail(t *testing.T) {
	err := New("base")
	err = WithDetail(err, "Job ID: abc-123")

	detailed := fmt.Sprintf("%+v", err)
	assert.Contains(t, detailed, "Job ID: abc-123")
}
