package kv

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sony/gobreaker"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runContract exercises the behaviour every backend must share.
func runContract(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, ok, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok, "absent key must report ok=false")

	require.NoError(t, s.Set(ctx, "@watchlist", `{"version":1,"items":[]}`))
	v, ok, err := s.Get(ctx, "@watchlist")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `{"version":1,"items":[]}`, v)

	require.NoError(t, s.Set(ctx, "@watchlist", `{"version":1,"items":[{"id":1}]}`))
	v, _, err = s.Get(ctx, "@watchlist")
	require.NoError(t, err)
	assert.Equal(t, `{"version":1,"items":[{"id":1}]}`, v, "set must replace the whole value")

	require.NoError(t, s.Delete(ctx, "@watchlist"))
	_, ok, err = s.Get(ctx, "@watchlist")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Delete(ctx, "@watchlist"), "deleting an absent key is not an error")
}

func TestMemory_Contract(t *testing.T) {
	runContract(t, NewMemory())
}

func TestFile_Contract(t *testing.T) {
	f, err := NewFile(afero.NewMemMapFs(), "/data/watchlist")
	require.NoError(t, err)
	runContract(t, f)
}

func TestFile_LeavesNoTempFiles(t *testing.T) {
	fs := afero.NewMemMapFs()
	f, err := NewFile(fs, "/data")
	require.NoError(t, err)
	require.NoError(t, f.Set(context.Background(), "profile/1", "x"))

	entries, err := afero.ReadDir(fs, "/data")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "profile%2F1.json", entries[0].Name())
}

func TestBadger_Contract(t *testing.T) {
	b, err := OpenBadger(BadgerConfig{InMemory: true})
	require.NoError(t, err)
	defer b.Close()
	runContract(t, b)
}

func TestOpenBadger_RequiresPath(t *testing.T) {
	_, err := OpenBadger(BadgerConfig{})
	require.Error(t, err)
}

func TestRedis_Contract(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	r := NewRedis(url)
	defer r.Close()
	runContract(t, r)
}

func TestPostgres_Contract(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}
	s, err := Open(context.Background(), Config{DatabaseURL: dsn})
	require.NoError(t, err)
	defer s.Close()
	runContract(t, s)
}

func TestClassifyRedis(t *testing.T) {
	oom := errors.New("OOM command not allowed when used memory > 'maxmemory'.")
	assert.ErrorIs(t, classifyRedis("set", oom), ErrQuotaExceeded)

	refused := &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}
	assert.ErrorIs(t, classifyRedis("get", refused), ErrUnavailable)

	other := classifyRedis("get", errors.New("WRONGTYPE Operation against a key holding the wrong kind of value"))
	assert.NotErrorIs(t, other, ErrUnavailable)
	assert.NotErrorIs(t, other, ErrQuotaExceeded)
}

func TestClassifyPostgres(t *testing.T) {
	full := classifyPostgres("set", &pgconn.PgError{Code: "53100", Message: "could not extend file"})
	assert.ErrorIs(t, full, ErrQuotaExceeded)

	conn := classifyPostgres("get", &pgconn.PgError{Code: "08006", Message: "connection failure"})
	assert.ErrorIs(t, conn, ErrUnavailable)

	shutdown := classifyPostgres("get", &pgconn.PgError{Code: "57P01", Message: "terminating connection"})
	assert.ErrorIs(t, shutdown, ErrUnavailable)

	syntax := classifyPostgres("get", &pgconn.PgError{Code: "42601"})
	assert.NotErrorIs(t, syntax, ErrUnavailable)

	assert.ErrorIs(t, classifyPostgres("get", context.DeadlineExceeded), ErrUnavailable)
}

func TestClassifyFile(t *testing.T) {
	err := classifyFile("set", &os.PathError{Op: "write", Path: "/x", Err: syscall.ENOSPC})
	assert.ErrorIs(t, err, ErrQuotaExceeded)
	assert.ErrorIs(t, err, syscall.ENOSPC, "driver error stays in the chain")
}

// flaky fails every call with err until healed.
type flaky struct {
	*Memory
	err   error
	calls int
}

func (f *flaky) Get(ctx context.Context, key string) (string, bool, error) {
	f.calls++
	if f.err != nil {
		return "", false, f.err
	}
	return f.Memory.Get(ctx, key)
}

func TestWithBreaker_OpensOnUnavailable(t *testing.T) {
	inner := &flaky{Memory: NewMemory(), err: fmt.Errorf("dial: %w", ErrUnavailable)}
	cb := NewBreaker(BreakerConfig{FailureThreshold: 2, Timeout: time.Minute}, nil)
	s := WithBreaker(inner, cb)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, _, err := s.Get(ctx, "k")
		require.ErrorIs(t, err, ErrUnavailable)
	}
	assert.Equal(t, gobreaker.StateOpen, cb.State())

	_, _, err := s.Get(ctx, "k")
	require.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 2, inner.calls, "open breaker must not reach the backend")
}

func TestWithBreaker_IgnoresQuotaErrors(t *testing.T) {
	inner := &flaky{Memory: NewMemory(), err: fmt.Errorf("set: %w", ErrQuotaExceeded)}
	cb := NewBreaker(BreakerConfig{FailureThreshold: 1}, nil)
	s := WithBreaker(inner, cb)

	for i := 0; i < 3; i++ {
		_, _, err := s.Get(context.Background(), "k")
		require.ErrorIs(t, err, ErrQuotaExceeded)
	}
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

func TestWithBreaker_PassesValuesThrough(t *testing.T) {
	s := WithBreaker(NewMemory(), NewBreaker(BreakerConfig{}, nil))
	runContract(t, s)
}

func TestOpen_FallsBackToMemory(t *testing.T) {
	s, err := Open(context.Background(), Config{})
	require.NoError(t, err)
	_, ok := s.(*Memory)
	assert.True(t, ok, "expected *Memory when nothing is configured, got %T", s)
}

func TestOpen_RejectsMemoryInProd(t *testing.T) {
	s, err := Open(context.Background(), Config{Production: true})
	require.Error(t, err)
	assert.Nil(t, s)
}

func TestOpen_WrapsWithBreaker(t *testing.T) {
	s, err := Open(context.Background(), Config{Breaker: &BreakerConfig{}})
	require.NoError(t, err)
	_, ok := s.(*breakerStore)
	assert.True(t, ok, "expected breaker wrapper, got %T", s)
}
