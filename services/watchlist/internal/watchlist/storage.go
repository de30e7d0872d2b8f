package watchlist

import (
	"context"
	"time"

	"github.com/avast/retry-go/v4"
	"go.uber.org/zap"

	"github.com/example/tv-watchlist/services/watchlist/internal/kv"
)

// DefaultKey is the single key the document lives under.
const DefaultKey = "@watchlist"

const (
	defaultRetryAttempts = 2
	defaultRetryDelay    = time.Second
)

// Observer receives per-operation outcomes. metrics.Storage implements it.
type Observer interface {
	ObserveOp(op string, d time.Duration, err error)
	ObserveDropped(n int)
}

type nopObserver struct{}

func (nopObserver) ObserveOp(string, time.Duration, error) {}
func (nopObserver) ObserveDropped(int)                     {}

// Storage is the sole authority for translating between the in-memory item
// collection and the persisted document.
//
// Every mutation reads the full document, changes it and writes it back in one
// Set. There is no locking: two writers racing on the same key can lose an
// update, which is acceptable for a single local consumer only.
type Storage struct {
	kv  kv.Store
	key string
	log *zap.Logger
	now func() time.Time
	obs Observer

	retryAttempts uint
	retryDelay    time.Duration
}

type Option func(*Storage)

func WithKey(key string) Option {
	return func(s *Storage) {
		if key != "" {
			s.key = key
		}
	}
}

func WithLogger(log *zap.Logger) Option {
	return func(s *Storage) {
		if log != nil {
			s.log = log
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Storage) { s.now = now }
}

func WithObserver(obs Observer) Option {
	return func(s *Storage) {
		if obs != nil {
			s.obs = obs
		}
	}
}

// WithRetry sets how many extra attempts network-like failures get and the
// linear backoff step (attempt n waits n*delay).
func WithRetry(attempts int, delay time.Duration) Option {
	return func(s *Storage) {
		if attempts >= 0 {
			s.retryAttempts = uint(attempts)
		}
		if delay >= 0 {
			s.retryDelay = delay
		}
	}
}

func NewStorage(store kv.Store, opts ...Option) *Storage {
	s := &Storage{
		kv:            store,
		key:           DefaultKey,
		log:           zap.NewNop(),
		now:           time.Now,
		obs:           nopObserver{},
		retryAttempts: defaultRetryAttempts,
		retryDelay:    defaultRetryDelay,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Storage) Key() string { return s.key }

// GetWatchlist returns the stored items. A missing document is an empty list.
// An unreadable document is deleted and reported as KindCorruptedData.
func (s *Storage) GetWatchlist(ctx context.Context) (items []Item, err error) {
	start := time.Now()
	defer func() { s.obs.ObserveOp("get", time.Since(start), err) }()

	raw, ok, err := s.read(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []Item{}, nil
	}

	doc, rep, err := Decode([]byte(raw))
	if err != nil {
		s.log.Error("watchlist document corrupted, resetting", zap.String("key", s.key), zap.Error(err))
		if derr := s.kv.Delete(ctx, s.key); derr != nil {
			s.log.Warn("reset corrupted watchlist failed", zap.String("key", s.key), zap.Error(derr))
		}
		return nil, &StorageError{Kind: KindCorruptedData, Op: "get", Err: err}
	}
	s.logReport(rep)
	return doc.Items, nil
}

// Inspect decodes the stored document without any recovery side effects.
func (s *Storage) Inspect(ctx context.Context) (Document, MigrationReport, error) {
	raw, ok, err := s.read(ctx)
	if err != nil {
		return Document{}, MigrationReport{}, err
	}
	if !ok {
		return Document{Version: CurrentVersion, Items: []Item{}}, MigrationReport{SourceVersion: CurrentVersion}, nil
	}
	doc, rep, err := Decode([]byte(raw))
	if err != nil {
		return Document{}, rep, &StorageError{Kind: KindCorruptedData, Op: "inspect", Err: err}
	}
	return doc, rep, nil
}

func (s *Storage) read(ctx context.Context) (string, bool, error) {
	var (
		raw string
		ok  bool
	)
	err := s.withRetry(ctx, "get", func() error {
		var err error
		raw, ok, err = s.kv.Get(ctx, s.key)
		return err
	})
	if err != nil {
		return "", false, readError("get", err)
	}
	return raw, ok, nil
}

// SaveWatchlist replaces the document with items. The first invalid item
// aborts the write; nothing is persisted in that case.
func (s *Storage) SaveWatchlist(ctx context.Context, items []Item) (err error) {
	start := time.Now()
	defer func() { s.obs.ObserveOp("save", time.Since(start), err) }()

	if err := ValidateAll(items); err != nil {
		return err
	}
	data, err := Encode(items)
	if err != nil {
		return &StorageError{Kind: KindUnknown, Op: "save", Err: err}
	}
	err = s.withRetry(ctx, "save", func() error {
		return s.kv.Set(ctx, s.key, string(data))
	})
	if err != nil {
		return writeError("save", err)
	}
	return nil
}

// AddItem appends in unless its ID is already present, in which case the
// stored collection is returned unchanged and nothing is written.
func (s *Storage) AddItem(ctx context.Context, in ItemInput) ([]Item, error) {
	items, err := s.GetWatchlist(ctx)
	if err != nil {
		return nil, err
	}
	if IndexOf(items, in.ID) >= 0 {
		s.log.Debug("watchlist item already present", zap.String("id", in.ID.String()))
		return items, nil
	}

	item := in.Stamp(s.now())
	if err := item.Validate(); err != nil {
		return nil, err
	}
	items = append(items, item)
	if err := s.SaveWatchlist(ctx, items); err != nil {
		return nil, err
	}
	return items, nil
}

// RemoveItem drops id. An absent id is a successful no-op and skips the write.
func (s *Storage) RemoveItem(ctx context.Context, id ItemID) ([]Item, error) {
	items, err := s.GetWatchlist(ctx)
	if err != nil {
		return nil, err
	}
	if IndexOf(items, id) < 0 {
		return items, nil
	}
	items = Without(items, id)
	if err := s.SaveWatchlist(ctx, items); err != nil {
		return nil, err
	}
	return items, nil
}

// ResetWatchlist deletes the document. Corruption recovery only.
func (s *Storage) ResetWatchlist(ctx context.Context) (err error) {
	start := time.Now()
	defer func() { s.obs.ObserveOp("reset", time.Since(start), err) }()

	err = s.withRetry(ctx, "reset", func() error {
		return s.kv.Delete(ctx, s.key)
	})
	if err != nil {
		return readError("reset", err)
	}
	s.log.Info("watchlist reset", zap.String("key", s.key))
	return nil
}

func (s *Storage) withRetry(ctx context.Context, op string, fn func() error) error {
	return retry.Do(fn,
		retry.Context(ctx),
		retry.Attempts(s.retryAttempts+1),
		retry.RetryIf(IsNetwork),
		retry.DelayType(func(n uint, _ error, _ *retry.Config) time.Duration {
			return s.backoff(n)
		}),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			s.log.Warn("watchlist storage retry",
				zap.String("op", op), zap.Uint("attempt", n+1), zap.Error(err))
		}),
	)
}

// backoff is the wait before retry n, counted from 1: delay, 2*delay, ...
func (s *Storage) backoff(n uint) time.Duration {
	return time.Duration(max(n, 1)) * s.retryDelay
}

func (s *Storage) logReport(rep MigrationReport) {
	if rep.Legacy {
		s.log.Info("migrated legacy watchlist document",
			zap.Int("from_version", rep.SourceVersion), zap.Int("to_version", CurrentVersion))
	}
	if rep.Future {
		s.log.Warn("watchlist document is newer than supported, reading as-is",
			zap.Int("version", rep.SourceVersion), zap.Int("supported", CurrentVersion))
	}
	if rep.Dropped > 0 {
		s.log.Warn("dropped invalid watchlist items",
			zap.Int("dropped", rep.Dropped), zap.Int("total", rep.Total))
		s.obs.ObserveDropped(rep.Dropped)
	}
}
