package kv

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// BreakerConfig mirrors the gobreaker settings exposed through env.
type BreakerConfig struct {
	Name             string
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
}

// NewBreaker builds a circuit breaker that only trips on ErrUnavailable;
// quota and data errors are the caller's problem, not the backend's health.
func NewBreaker(cfg BreakerConfig, log *zap.Logger) *gobreaker.CircuitBreaker {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Name == "" {
		cfg.Name = "kv"
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	threshold := cfg.FailureThreshold
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, ErrUnavailable)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("kv circuit breaker state change",
				zap.String("breaker", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
}

type breakerStore struct {
	next Store
	cb   *gobreaker.CircuitBreaker
}

// WithBreaker routes every call to next through cb. Rejections while the
// breaker is open surface as ErrUnavailable.
func WithBreaker(next Store, cb *gobreaker.CircuitBreaker) Store {
	if cb == nil {
		return next
	}
	return &breakerStore{next: next, cb: cb}
}

type getResult struct {
	val string
	ok  bool
}

func (b *breakerStore) Get(ctx context.Context, key string) (string, bool, error) {
	res, err := b.cb.Execute(func() (interface{}, error) {
		v, ok, err := b.next.Get(ctx, key)
		return getResult{val: v, ok: ok}, err
	})
	if err != nil {
		return "", false, breakerErr("get", err)
	}
	r := res.(getResult)
	return r.val, r.ok, nil
}

func (b *breakerStore) Set(ctx context.Context, key, value string) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.next.Set(ctx, key, value)
	})
	return breakerErr("set", err)
}

func (b *breakerStore) Delete(ctx context.Context, key string) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.next.Delete(ctx, key)
	})
	return breakerErr("delete", err)
}

func (b *breakerStore) Close() error {
	return b.next.Close()
}

func breakerErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return tag(ErrUnavailable, "breaker "+op, err)
	}
	return err
}
