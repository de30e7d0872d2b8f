package kv

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/example/tv-watchlist/internal/platform/db"
)

// Config selects and tunes a backend. The first configured backend wins:
// Redis > Postgres > Badger > File > Memory.
type Config struct {
	RedisURL    string
	DatabaseURL string
	BadgerPath  string
	Dir         string
	// Production refuses the in-memory fallback.
	Production bool
	// Breaker wraps the backend in a circuit breaker when non-nil.
	Breaker *BreakerConfig
	Logger  *zap.Logger
}

// Open creates the best available store for cfg.
func Open(ctx context.Context, cfg Config) (Store, error) {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	s, backend, err := openBackend(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	log.Info("kv backend selected", zap.String("backend", backend))

	if cfg.Breaker != nil {
		bc := *cfg.Breaker
		if bc.Name == "" {
			bc.Name = "kv-" + backend
		}
		s = WithBreaker(s, NewBreaker(bc, log))
	}
	return s, nil
}

func openBackend(ctx context.Context, cfg Config, log *zap.Logger) (Store, string, error) {
	switch {
	case cfg.RedisURL != "":
		r := NewRedis(cfg.RedisURL)
		if err := r.Ping(ctx); err != nil {
			// The breaker and storage retries cover a backend that comes up later.
			log.Warn("redis ping failed", zap.Error(err))
		}
		return r, "redis", nil
	case cfg.DatabaseURL != "":
		pool, err := db.OpenDSN(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, "", fmt.Errorf("open postgres: %w", err)
		}
		p := NewPostgres(pool)
		if err := p.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, "", err
		}
		return p, "postgres", nil
	case cfg.BadgerPath != "":
		b, err := OpenBadger(BadgerConfig{Path: cfg.BadgerPath, SyncWrites: true, Logger: log})
		if err != nil {
			return nil, "", err
		}
		return b, "badger", nil
	case cfg.Dir != "":
		f, err := NewFile(afero.NewOsFs(), cfg.Dir)
		if err != nil {
			return nil, "", err
		}
		return f, "file", nil
	}
	if cfg.Production {
		return nil, "", errors.New("production requires REDIS_URL, DATABASE_URL, BADGER_PATH or WATCHLIST_DIR; in-memory store is not allowed")
	}
	return NewMemory(), "memory", nil
}
