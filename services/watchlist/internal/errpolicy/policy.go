// Package errpolicy turns storage failures into user-facing messages and runs
// the bounded exponential-backoff retry loop behind "Retry" buttons.
package errpolicy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/example/tv-watchlist/services/watchlist/internal/watchlist"
)

const (
	DefaultMaxRetries = 3
	DefaultRetryDelay = time.Second
)

var (
	// ErrMaxRetries wraps the last failure once every retry has been used.
	ErrMaxRetries = errors.New("errpolicy: maximum retry attempts reached")
	// ErrRetryInProgress is returned when Retry is called while another Retry runs.
	ErrRetryInProgress = errors.New("errpolicy: retry already in progress")
	// ErrCleared is returned by a Retry whose state was reset by ClearError.
	ErrCleared = errors.New("errpolicy: retry cancelled by clear")
)

// State is the transient error state shown by the UI. Never persisted.
type State struct {
	Message    string `json:"message,omitempty"`
	IsRetrying bool   `json:"is_retrying"`
	RetryCount int    `json:"retry_count"`
}

func (s State) HasError() bool { return s.Message != "" }

type Config struct {
	MaxRetries int
	RetryDelay time.Duration
	Logger     *zap.Logger
	// OnChange is called after every state transition, outside the lock.
	OnChange func(State)
}

// Policy owns one ErrorState. Retry backoff is retryDelay * 2^retryCount, and
// retryCount only resets on success or ClearError.
type Policy struct {
	maxRetries int
	retryDelay time.Duration
	log        *zap.Logger
	onChange   func(State)
	after      func(time.Duration) <-chan time.Time

	mu     sync.Mutex
	state  State
	gen    uint64
	cancel context.CancelFunc
}

func New(cfg Config) *Policy {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Policy{
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		log:        cfg.Logger,
		onChange:   cfg.OnChange,
		after:      time.After,
	}
}

// State returns a copy of the current error state.
func (p *Policy) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// SetOnChange replaces the transition callback.
func (p *Policy) SetOnChange(fn func(State)) {
	p.mu.Lock()
	p.onChange = fn
	p.mu.Unlock()
}

// Report records a failure from any operation. Retry bookkeeping is untouched.
func (p *Policy) Report(err error) {
	if err == nil {
		return
	}
	p.mu.Lock()
	p.state.Message = Classify(err)
	s := p.state
	p.mu.Unlock()
	p.log.Warn("watchlist error reported", zap.String("kind", string(watchlist.KindOf(err))), zap.Error(err))
	p.emit(s)
}

// ClearError cancels a pending backoff and resets to the no-error state.
// Safe to call at any time.
func (p *Policy) ClearError() {
	p.mu.Lock()
	p.gen++
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	changed := p.state != (State{})
	p.state = State{}
	p.mu.Unlock()
	if changed {
		p.emit(State{})
	}
}

// Retry runs op until it succeeds or retries are exhausted. op receives ctx
// unchanged; only the backoff waits are cancelled by ClearError.
func (p *Policy) Retry(ctx context.Context, op func(context.Context) error) error {
	p.mu.Lock()
	if p.state.IsRetrying {
		p.mu.Unlock()
		return ErrRetryInProgress
	}
	gen := p.gen
	waitCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.state.IsRetrying = true
	s := p.state
	p.mu.Unlock()
	defer cancel()
	p.emit(s)

	for {
		err := op(ctx)

		p.mu.Lock()
		if gen != p.gen {
			p.mu.Unlock()
			return ErrCleared
		}
		if err == nil {
			p.state = State{}
			p.cancel = nil
			p.mu.Unlock()
			p.log.Info("watchlist retry succeeded")
			p.emit(State{})
			return nil
		}
		if p.state.RetryCount >= p.maxRetries {
			p.state.Message = MaxRetriesMessage
			p.state.IsRetrying = false
			p.cancel = nil
			s = p.state
			p.mu.Unlock()
			p.log.Error("watchlist retries exhausted", zap.Int("retry_count", s.RetryCount), zap.Error(err))
			p.emit(s)
			return fmt.Errorf("%w: %w", ErrMaxRetries, err)
		}
		delay := p.retryDelay << p.state.RetryCount
		p.state.Message = Classify(err)
		s = p.state
		p.mu.Unlock()
		p.log.Warn("watchlist retry scheduled",
			zap.Int("retry_count", s.RetryCount), zap.Duration("delay", delay), zap.Error(err))
		p.emit(s)

		select {
		case <-waitCtx.Done():
			return p.abort(ctx, gen)
		case <-p.after(delay):
		}

		p.mu.Lock()
		if gen != p.gen {
			p.mu.Unlock()
			return ErrCleared
		}
		p.state.RetryCount++
		s = p.state
		p.mu.Unlock()
		p.emit(s)
	}
}

// abort handles a backoff wait that ended early, either from ClearError or
// from the caller's context.
func (p *Policy) abort(ctx context.Context, gen uint64) error {
	p.mu.Lock()
	if gen != p.gen {
		p.mu.Unlock()
		return ErrCleared
	}
	p.state.IsRetrying = false
	p.cancel = nil
	s := p.state
	p.mu.Unlock()
	p.emit(s)
	return ctx.Err()
}

func (p *Policy) emit(s State) {
	p.mu.Lock()
	fn := p.onChange
	p.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}
