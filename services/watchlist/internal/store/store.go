// Package store is the in-memory source of truth for the watchlist. It applies
// mutations optimistically, persists them through the storage service and
// rolls back on failure.
package store

import (
	"context"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/example/tv-watchlist/internal/platform/events"
	"github.com/example/tv-watchlist/services/watchlist/internal/errpolicy"
	"github.com/example/tv-watchlist/services/watchlist/internal/watchlist"
)

// Storage is the persistence the Store delegates to. *watchlist.Storage
// implements it.
type Storage interface {
	GetWatchlist(ctx context.Context) ([]watchlist.Item, error)
	AddItem(ctx context.Context, in watchlist.ItemInput) ([]watchlist.Item, error)
	RemoveItem(ctx context.Context, id watchlist.ItemID) ([]watchlist.Item, error)
}

// Publisher receives committed changes. *events.Publisher implements it.
type Publisher interface {
	Publish(subject string, ev events.Event)
}

type nopPublisher struct{}

func (nopPublisher) Publish(string, events.Event) {}

// State is an immutable snapshot handed to subscribers.
type State struct {
	Items     []watchlist.Item `json:"items"`
	IsLoading bool             `json:"is_loading"`
	Error     errpolicy.State  `json:"error"`
}

type Option func(*Store)

func WithLogger(log *zap.Logger) Option {
	return func(s *Store) {
		if log != nil {
			s.log = log
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithPublisher emits item_added/item_removed events tagged with key.
func WithPublisher(p Publisher, key string) Option {
	return func(s *Store) {
		s.pub = p
		s.key = key
	}
}

// Store must be created with New.
//
// Mutations on different IDs interleave safely. Two in-flight mutations on the
// same ID race through the storage service's read-modify-write and the last
// writer wins; there is no version check on write.
type Store struct {
	storage Storage
	policy  *errpolicy.Policy
	log     *zap.Logger
	now     func() time.Time
	pub     Publisher
	key     string

	mu          sync.RWMutex
	items       []watchlist.Item
	index       map[watchlist.ItemID]int
	loading     bool
	initialized bool

	subMu   sync.Mutex
	subs    map[int]func(State)
	nextSub int
}

func New(storage Storage, policy *errpolicy.Policy, opts ...Option) *Store {
	if policy == nil {
		policy = errpolicy.New(errpolicy.Config{})
	}
	s := &Store{
		storage: storage,
		policy:  policy,
		log:     zap.NewNop(),
		now:     time.Now,
		items:   []watchlist.Item{},
		index:   map[watchlist.ItemID]int{},
		subs:    map[int]func(State){},
	}
	for _, o := range opts {
		o(s)
	}
	if s.pub == nil {
		s.pub = nopPublisher{}
	}
	policy.SetOnChange(func(errpolicy.State) { s.notify() })
	return s
}

// Initialize performs the first load. Later calls are no-ops.
// A corrupted document loads as empty without surfacing an error; any other
// failure is reported to the error policy and returned, leaving items as they
// were.
func (s *Store) Initialize(ctx context.Context) error {
	s.mu.Lock()
	if s.initialized {
		s.mu.Unlock()
		return nil
	}
	s.initialized = true
	s.mu.Unlock()

	if err := s.load(ctx); err != nil {
		s.policy.Report(err)
		return err
	}
	return nil
}

// RetryLoadWatchlist re-runs the load step under the error policy's backoff.
func (s *Store) RetryLoadWatchlist(ctx context.Context) error {
	return s.policy.Retry(ctx, s.load)
}

func (s *Store) ClearError() { s.policy.ClearError() }

func (s *Store) load(ctx context.Context) error {
	s.setLoading(true)
	defer s.setLoading(false)

	items, err := s.storage.GetWatchlist(ctx)
	if err != nil {
		if watchlist.KindOf(err) != watchlist.KindCorruptedData {
			return err
		}
		s.log.Warn("watchlist was corrupted and has been reset", zap.Error(err))
		items = []watchlist.Item{}
	}
	s.mu.Lock()
	s.replaceLocked(items)
	s.mu.Unlock()
	s.log.Info("watchlist loaded", zap.Int("items", len(items)))
	s.notify()
	return nil
}

func (s *Store) setLoading(v bool) {
	s.mu.Lock()
	s.loading = v
	s.mu.Unlock()
	s.notify()
}

// AddToWatchlist appends in optimistically and persists it. It reports false
// when the ID is already present. On failure the items are rolled back, the
// error is reported to the policy and returned to the caller.
func (s *Store) AddToWatchlist(ctx context.Context, in watchlist.ItemInput) (bool, error) {
	m, ok := s.begin(func(items []watchlist.Item, index map[watchlist.ItemID]int) ([]watchlist.Item, bool) {
		if _, exists := index[in.ID]; exists {
			return nil, false
		}
		next := make([]watchlist.Item, len(items), len(items)+1)
		copy(next, items)
		return append(next, in.Stamp(s.now())), true
	})
	if !ok {
		return false, nil
	}

	persisted, err := s.storage.AddItem(ctx, in)
	if err != nil {
		m.rollback()
		s.log.Warn("add to watchlist failed", zap.String("id", in.ID.String()), zap.Error(err))
		s.policy.Report(err)
		return false, err
	}
	m.commit(persisted)
	s.pub.Publish(events.SubjectItemAdded, events.Event{
		EventName:  "item_added",
		Key:        s.key,
		ItemID:     in.ID.String(),
		Properties: map[string]any{"title": in.Title},
	})
	return true, nil
}

// RemoveFromWatchlist mirrors AddToWatchlist. It reports false when id is
// absent.
func (s *Store) RemoveFromWatchlist(ctx context.Context, id watchlist.ItemID) (bool, error) {
	m, ok := s.begin(func(items []watchlist.Item, index map[watchlist.ItemID]int) ([]watchlist.Item, bool) {
		if _, exists := index[id]; !exists {
			return nil, false
		}
		return watchlist.Without(items, id), true
	})
	if !ok {
		return false, nil
	}

	persisted, err := s.storage.RemoveItem(ctx, id)
	if err != nil {
		m.rollback()
		s.log.Warn("remove from watchlist failed", zap.String("id", id.String()), zap.Error(err))
		s.policy.Report(err)
		return false, err
	}
	m.commit(persisted)
	s.pub.Publish(events.SubjectItemRemoved, events.Event{
		EventName: "item_removed",
		Key:       s.key,
		ItemID:    id.String(),
	})
	return true, nil
}

// IsInWatchlist is an O(1) lookup in the id index.
func (s *Store) IsInWatchlist(id watchlist.ItemID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.index[id]
	return ok
}

// Watchlist returns a copy of the current items.
func (s *Store) Watchlist() []watchlist.Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.items)
}

func (s *Store) IsLoading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

func (s *Store) Error() errpolicy.State { return s.policy.State() }

func (s *Store) IsRetrying() bool { return s.policy.State().IsRetrying }

func (s *Store) Snapshot() State {
	s.mu.RLock()
	st := State{
		Items:     slices.Clone(s.items),
		IsLoading: s.loading,
	}
	s.mu.RUnlock()
	st.Error = s.policy.State()
	return st
}

// Subscribe registers fn for every state change and returns its cancel func.
// fn runs on the goroutine that caused the change and must not block.
func (s *Store) Subscribe(fn func(State)) func() {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()
	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Store) notify() {
	s.subMu.Lock()
	fns := make([]func(State), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()
	if len(fns) == 0 {
		return
	}
	st := s.Snapshot()
	for _, fn := range fns {
		fn(st)
	}
}

// replaceLocked swaps in items and rebuilds the index. Callers hold mu.
func (s *Store) replaceLocked(items []watchlist.Item) {
	if items == nil {
		items = []watchlist.Item{}
	}
	s.items = items
	s.index = make(map[watchlist.ItemID]int, len(items))
	for i, it := range items {
		s.index[it.ID] = i
	}
}
