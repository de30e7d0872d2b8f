package run

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
)

type Runner struct {
	Logger *zap.Logger
	// DrainTimeout bounds how long WithSignals waits for start to return
	// after a shutdown signal.
	DrainTimeout time.Duration
}

func New(log *zap.Logger) *Runner {
	return &Runner{Logger: log, DrainTimeout: 15 * time.Second}
}

func (r *Runner) WithSignals(start func(ctx context.Context) error) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return r.Run(ctx, start)
}

// Run calls start and returns an exit code once it returns or ctx is done.
func (r *Runner) Run(ctx context.Context, start func(ctx context.Context) error) int {
	errCh := make(chan error, 1)
	go func() {
		errCh <- start(ctx)
	}()

	select {
	case <-ctx.Done():
		r.Logger.Info("shutdown signal received")
		select {
		case err := <-errCh:
			return r.code(err)
		case <-time.After(r.DrainTimeout):
			r.Logger.Warn("shutdown drain timed out", zap.Duration("timeout", r.DrainTimeout))
			return 0
		}
	case err := <-errCh:
		return r.code(err)
	}
}

func (r *Runner) code(err error) int {
	if err == nil || errors.Is(err, http.ErrServerClosed) || errors.Is(err, context.Canceled) {
		return 0
	}
	r.Logger.Error("service exited with error", zap.Error(err))
	return 1
}

// Graceful runs shutdown with a fresh DrainTimeout deadline; ctx is usually
// already cancelled when this is called.
func (r *Runner) Graceful(_ context.Context, shutdown func(context.Context) error) {
	c, cancel := context.WithTimeout(context.Background(), r.DrainTimeout)
	defer cancel()
	if err := shutdown(c); err != nil {
		r.Logger.Warn("graceful shutdown", zap.Error(err))
	}
}

func Exit(code int) {
	os.Exit(code)
}
