// Package pager projects a bounded window of loaded pages over a list, for
// clients that render large watchlists incrementally. It holds no
// authoritative state; SetItems replaces whatever it shows.
package pager

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultPageSize      = 20
	DefaultPreloadRadius = 1
	DefaultLoadDelay     = 100 * time.Millisecond
	DefaultPreloadDelay  = 50 * time.Millisecond
)

var ErrPageOutOfRange = errors.New("pager: page out of range")

// Config zero values mean no preloading and no artificial latency; the
// Default constants are what the service runs with.
type Config struct {
	PageSize      int
	PreloadRadius int
	// LoadDelay is the artificial latency of LoadMore and LoadPage.
	LoadDelay time.Duration
	// PreloadDelay is waited before each background preload.
	PreloadDelay time.Duration
	Logger       *zap.Logger
}

// View is the projector state at one instant. Pages are zero-based.
type View[T any] struct {
	VisibleItems []T  `json:"visible_items"`
	TotalItems   int  `json:"total_items"`
	CurrentPage  int  `json:"current_page"`
	TotalPages   int  `json:"total_pages"`
	IsLoading    bool `json:"is_loading"`
	HasMore      bool `json:"has_more"`
}

// Projector must be created with New and closed with Close.
type Projector[T any] struct {
	cfg Config
	log *zap.Logger

	mu          sync.Mutex
	items       []T
	loaded      map[int]bool
	pending     map[int]bool
	currentPage int
	loadingMore bool
	inflight    int
	// idle is signalled on mu whenever the last pending preload finishes.
	idle *sync.Cond

	ctx    context.Context
	cancel context.CancelFunc
	group  errgroup.Group
}

func New[T any](cfg Config) *Projector[T] {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	cfg.PreloadRadius = max(cfg.PreloadRadius, 0)
	cfg.LoadDelay = max(cfg.LoadDelay, 0)
	cfg.PreloadDelay = max(cfg.PreloadDelay, 0)
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Projector[T]{
		cfg:     cfg,
		log:     cfg.Logger,
		loaded:  map[int]bool{0: true},
		pending: map[int]bool{},
		ctx:     ctx,
		cancel:  cancel,
	}
	p.idle = sync.NewCond(&p.mu)
	return p
}

// SetItems replaces the source list. Loaded pages past the new end are
// forgotten and the watermark is clamped; the first page is always loaded.
func (p *Projector[T]) SetItems(items []T) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.items = items
	pages := p.totalPagesLocked()
	for n := range p.loaded {
		if n >= pages && n != 0 {
			delete(p.loaded, n)
		}
	}
	p.loaded[0] = true
	if p.currentPage >= pages {
		p.currentPage = max(pages-1, 0)
	}
}

func (p *Projector[T]) View() View[T] {
	p.mu.Lock()
	defer p.mu.Unlock()

	total := len(p.items)
	pages := p.totalPagesLocked()
	v := View[T]{
		TotalItems:  total,
		CurrentPage: p.currentPage,
		TotalPages:  pages,
		IsLoading:   p.inflight > 0,
	}
	if !p.virtualLocked() {
		v.VisibleItems = append(make([]T, 0, total), p.items...)
		v.CurrentPage = 0
		return v
	}

	v.HasMore = p.currentPage < pages-1
	order := make([]int, 0, len(p.loaded))
	for n := range p.loaded {
		order = append(order, n)
	}
	sort.Ints(order)
	v.VisibleItems = make([]T, 0, len(order)*p.cfg.PageSize)
	for _, n := range order {
		lo, hi := p.boundsLocked(n)
		v.VisibleItems = append(v.VisibleItems, p.items[lo:hi]...)
	}
	return v
}

// LoadMore loads the page after the watermark. It is a no-op while another
// LoadMore runs or when every page is already reached.
func (p *Projector[T]) LoadMore(ctx context.Context) error {
	p.mu.Lock()
	if !p.virtualLocked() || p.loadingMore || p.currentPage >= p.totalPagesLocked()-1 {
		p.mu.Unlock()
		return nil
	}
	next := p.currentPage + 1
	p.loadingMore = true
	p.inflight++
	p.mu.Unlock()

	err := sleep(ctx, p.cfg.LoadDelay)

	p.mu.Lock()
	p.loadingMore = false
	p.inflight--
	if err != nil {
		p.mu.Unlock()
		return err
	}
	p.markLoadedLocked(next)
	p.mu.Unlock()
	p.log.Debug("watchlist page loaded", zap.Int("page", next))
	p.preload(next)
	return nil
}

// LoadPage loads page n and advances the watermark to max(current, n).
func (p *Projector[T]) LoadPage(ctx context.Context, n int) error {
	p.mu.Lock()
	if !p.virtualLocked() {
		p.mu.Unlock()
		if n == 0 {
			return nil
		}
		return ErrPageOutOfRange
	}
	if n < 0 || n >= p.totalPagesLocked() {
		p.mu.Unlock()
		return ErrPageOutOfRange
	}
	if p.loaded[n] {
		p.markLoadedLocked(n)
		p.mu.Unlock()
		p.preload(n)
		return nil
	}
	p.inflight++
	p.mu.Unlock()

	err := sleep(ctx, p.cfg.LoadDelay)

	p.mu.Lock()
	p.inflight--
	if err != nil {
		p.mu.Unlock()
		return err
	}
	p.markLoadedLocked(n)
	p.mu.Unlock()
	p.log.Debug("watchlist page loaded", zap.Int("page", n))
	p.preload(n)
	return nil
}

// Wait blocks until no preload is pending. It is safe to call while loads
// are still scheduling preloads; only Close waits on the group itself.
func (p *Projector[T]) Wait() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.pending) > 0 {
		p.idle.Wait()
	}
}

// Close cancels pending preloads and waits for them.
func (p *Projector[T]) Close() error {
	p.mu.Lock()
	p.cancel()
	p.mu.Unlock()
	return p.group.Wait()
}

// preload schedules background loads for pages within the radius of center.
// Preloads never move the watermark.
func (p *Projector[T]) preload(center int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ctx.Err() != nil {
		return
	}
	pages := p.totalPagesLocked()
	for n := center - p.cfg.PreloadRadius; n <= center+p.cfg.PreloadRadius; n++ {
		if n < 0 || n >= pages || p.loaded[n] || p.pending[n] {
			continue
		}
		page := n
		p.pending[page] = true
		p.group.Go(func() error {
			err := sleep(p.ctx, p.cfg.PreloadDelay)
			p.mu.Lock()
			defer p.mu.Unlock()
			delete(p.pending, page)
			if len(p.pending) == 0 {
				p.idle.Broadcast()
			}
			if err != nil {
				return nil
			}
			if page < p.totalPagesLocked() {
				p.loaded[page] = true
			}
			return nil
		})
	}
}

func (p *Projector[T]) markLoadedLocked(n int) {
	p.loaded[n] = true
	if n > p.currentPage {
		p.currentPage = n
	}
}

func (p *Projector[T]) virtualLocked() bool { return len(p.items) > p.cfg.PageSize }

func (p *Projector[T]) totalPagesLocked() int {
	return (len(p.items) + p.cfg.PageSize - 1) / p.cfg.PageSize
}

func (p *Projector[T]) boundsLocked(n int) (int, int) {
	lo := n * p.cfg.PageSize
	hi := min(lo+p.cfg.PageSize, len(p.items))
	if lo > hi {
		lo = hi
	}
	return lo, hi
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
