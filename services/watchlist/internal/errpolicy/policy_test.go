package errpolicy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/tv-watchlist/services/watchlist/internal/kv"
	"github.com/example/tv-watchlist/services/watchlist/internal/watchlist"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{&watchlist.StorageError{Kind: watchlist.KindCorruptedData, Op: "get", Err: watchlist.ErrUnparseable}, CorruptedDataMessage},
		{&watchlist.StorageError{Kind: watchlist.KindStorageFull, Op: "save", Err: errors.New("x")}, StorageFullMessage},
		{&watchlist.StorageError{Kind: watchlist.KindNetwork, Op: "get", Err: errors.New("x")}, NetworkMessage},
		{&watchlist.StorageError{Kind: watchlist.KindUnknown, Op: "get", Err: errors.New("x")}, UnknownMessage},
		{errors.New("Network request failed"), NetworkMessage},
		{errors.New("request timeout"), NetworkMessage},
		{errors.New("QuotaExceededError"), StorageFullMessage},
		{fmt.Errorf("set: %w", kv.ErrQuotaExceeded), StorageFullMessage},
		{fmt.Errorf("get: %w", kv.ErrUnavailable), NetworkMessage},
		{&watchlist.ValidationError{ID: watchlist.IntID(1), Field: "movie", Rule: "required"}, InvalidItemMessage},
		{fmt.Errorf("%w: %w", ErrMaxRetries, errors.New("timeout")), MaxRetriesMessage},
		{errors.New("boom"), UnknownMessage},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Classify(tc.err), tc.err.Error())
		assert.Equal(t, tc.want, Classify(tc.err), "classify must be deterministic")
	}
	assert.Empty(t, Classify(nil))
}

// instantPolicy records requested delays instead of sleeping.
func instantPolicy(maxRetries int) (*Policy, *[]time.Duration) {
	p := New(Config{MaxRetries: maxRetries, RetryDelay: 100 * time.Millisecond})
	var delays []time.Duration
	p.after = func(d time.Duration) <-chan time.Time {
		delays = append(delays, d)
		ch := make(chan time.Time, 1)
		ch <- time.Time{}
		return ch
	}
	return p, &delays
}

func TestRetry_ExhaustsAfterMaxRetries(t *testing.T) {
	p, delays := instantPolicy(2)
	attempts := 0
	cause := errors.New("timeout")

	err := p.Retry(context.Background(), func(context.Context) error {
		attempts++
		return cause
	})

	require.ErrorIs(t, err, ErrMaxRetries)
	require.ErrorIs(t, err, cause)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, *delays)

	st := p.State()
	assert.Equal(t, MaxRetriesMessage, st.Message)
	assert.False(t, st.IsRetrying)
	assert.Equal(t, 2, st.RetryCount)
}

func TestRetry_ManualRetryAfterExhaustion(t *testing.T) {
	p, _ := instantPolicy(2)
	fail := func(context.Context) error { return errors.New("boom") }
	require.Error(t, p.Retry(context.Background(), fail))

	attempts := 0
	err := p.Retry(context.Background(), func(context.Context) error {
		attempts++
		return errors.New("boom")
	})
	require.ErrorIs(t, err, ErrMaxRetries)
	assert.Equal(t, 1, attempts, "retry count is only reset on success or clear")
	assert.LessOrEqual(t, p.State().RetryCount, 2)

	require.NoError(t, p.Retry(context.Background(), func(context.Context) error { return nil }))
	assert.Equal(t, State{}, p.State())
}

func TestRetry_SucceedsAfterFailures(t *testing.T) {
	p, delays := instantPolicy(3)
	attempts := 0
	err := p.Retry(context.Background(), func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("connection refused")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Len(t, *delays, 2)
	assert.Equal(t, State{}, p.State())
}

func TestRetry_RejectsConcurrentRetry(t *testing.T) {
	p := New(Config{MaxRetries: 1, RetryDelay: time.Millisecond})
	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- p.Retry(context.Background(), func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	err := p.Retry(context.Background(), func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrRetryInProgress)

	close(release)
	require.NoError(t, <-done)
}

func TestClearError_CancelsBackoff(t *testing.T) {
	p := New(Config{MaxRetries: 3, RetryDelay: time.Hour})
	waiting := make(chan struct{})
	var once sync.Once
	p.SetOnChange(func(s State) {
		if s.Message != "" && s.IsRetrying {
			once.Do(func() { close(waiting) })
		}
	})

	done := make(chan error, 1)
	go func() {
		done <- p.Retry(context.Background(), func(context.Context) error { return errors.New("timeout") })
	}()
	<-waiting
	p.ClearError()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrCleared)
	case <-time.After(5 * time.Second):
		t.Fatal("retry did not stop after ClearError")
	}
	assert.Equal(t, State{}, p.State())
}

func TestClearError_NoErrorIsSafe(t *testing.T) {
	calls := 0
	p := New(Config{OnChange: func(State) { calls++ }})
	p.ClearError()
	p.ClearError()
	assert.Equal(t, State{}, p.State())
	assert.Zero(t, calls)
}

func TestRetry_ContextCancelledDuringBackoff(t *testing.T) {
	p := New(Config{MaxRetries: 3, RetryDelay: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	p.SetOnChange(func(s State) {
		if s.Message != "" && s.IsRetrying {
			cancel()
		}
	})
	err := p.Retry(ctx, func(context.Context) error { return errors.New("timeout") })
	require.ErrorIs(t, err, context.Canceled)
	st := p.State()
	assert.False(t, st.IsRetrying)
	assert.Equal(t, NetworkMessage, st.Message)
}

func TestReport(t *testing.T) {
	var got []State
	p := New(Config{OnChange: func(s State) { got = append(got, s) }})
	p.Report(nil)
	p.Report(errors.New("storage full"))
	require.Len(t, got, 1)
	assert.Equal(t, StorageFullMessage, got[0].Message)
	assert.True(t, p.State().HasError())
}
