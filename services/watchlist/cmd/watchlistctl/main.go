// Command watchlistctl inspects and edits a stored watchlist document
// directly, without going through the HTTP service.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/example/tv-watchlist/internal/platform/logging"
	"github.com/example/tv-watchlist/services/watchlist/internal/kv"
	"github.com/example/tv-watchlist/services/watchlist/internal/watchlist"

	wlconfig "github.com/example/tv-watchlist/services/watchlist/internal/config"
)

func main() {
	root := newRootCmd(openFromEnv)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// opener returns the storage to operate on and a close func.
type opener func(ctx context.Context, log *zap.Logger) (*watchlist.Storage, func(), error)

func openFromEnv(ctx context.Context, log *zap.Logger) (*watchlist.Storage, func(), error) {
	wl := wlconfig.Load()
	kvs, err := kv.Open(ctx, kv.Config{
		RedisURL:    wl.RedisURL,
		DatabaseURL: wl.DatabaseURL,
		BadgerPath:  wl.BadgerPath,
		Dir:         wl.Dir,
		// An in-memory store would silently discard every edit.
		Production: true,
		Logger:     log,
	})
	if err != nil {
		return nil, nil, err
	}
	s := watchlist.NewStorage(kvs,
		watchlist.WithKey(wl.Key),
		watchlist.WithLogger(log),
		watchlist.WithRetry(wl.StorageRetryAttempts, wl.StorageRetryDelay),
	)
	return s, func() { _ = kvs.Close() }, nil
}

func newLogger(level string) *zap.Logger {
	log, err := logging.New(level)
	if err != nil {
		return zap.NewNop()
	}
	return log
}

func withTimeout(d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), d)
}

func printf(out io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(out, format, args...)
}
