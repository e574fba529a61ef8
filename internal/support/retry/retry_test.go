package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mastermobile/callexport/internal/support/exception"
)

func transientErr() error {
	return exception.NewExportError("source", "503", nil, exception.KindTransient)
}

func TestPolicy_SucceedsFirstTry(t *testing.T) {
	p := NewPolicy(3, []int{0, 0, 0})
	retries, err := p.Do(context.Background(), func() error { return nil })
	require.NoError(t, err)
	assert.Zero(t, retries)
}

func TestPolicy_RetriesTransientThenSucceeds(t *testing.T) {
	// provider fails twice then succeeds on the 3rd attempt
	p := NewPolicy(3, []int{0, 0, 0})
	calls := 0
	retries, err := p.Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return transientErr()
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 2, retries)
}

func TestPolicy_ExhaustsAttempts(t *testing.T) {
	p := NewPolicy(5, []int{0, 0, 0, 0, 0})
	calls := 0
	retries, err := p.Do(context.Background(), func() error {
		calls++
		return transientErr()
	})
	require.Error(t, err)
	assert.Equal(t, 5, calls)
	assert.Equal(t, 4, retries)
}

func TestPolicy_DoesNotRetryFatal(t *testing.T) {
	p := NewPolicy(5, []int{0, 0, 0, 0, 0})
	calls := 0
	_, err := p.Do(context.Background(), func() error {
		calls++
		return exception.NewExportError("source", "bad token", nil, exception.KindFatal)
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestPolicy_DoesNotRetryNotFound(t *testing.T) {
	p := NewPolicy(3, []int{0, 0, 0})
	calls := 0
	_, err := p.Do(context.Background(), func() error {
		calls++
		return exception.NewExportError("source", "gone", nil, exception.KindNotFound)
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, exception.IsNotFound(err))
}

func TestPolicy_ContextCancellationStopsRetries(t *testing.T) {
	p := NewPolicy(5, []int{1, 1, 1, 1, 1})
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := p.Do(ctx, func() error { return transientErr() })
	require.Error(t, err)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestPolicy_PlainErrorsAreNotRetried(t *testing.T) {
	p := NewPolicy(3, []int{0, 0, 0})
	calls := 0
	_, err := p.Do(context.Background(), func() error {
		calls++
		return errors.New("unclassified")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}
