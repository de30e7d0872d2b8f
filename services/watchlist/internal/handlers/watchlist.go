package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/example/tv-watchlist/internal/platform/api"
	"github.com/example/tv-watchlist/internal/platform/httpserver"
	"github.com/example/tv-watchlist/services/watchlist/internal/pager"
	"github.com/example/tv-watchlist/services/watchlist/internal/store"
	"github.com/example/tv-watchlist/services/watchlist/internal/watchlist"
)

// WatchlistStore is the part of *store.Store the HTTP surface needs.
type WatchlistStore interface {
	Snapshot() store.State
	IsInWatchlist(id watchlist.ItemID) bool
	AddToWatchlist(ctx context.Context, in watchlist.ItemInput) (bool, error)
	RemoveFromWatchlist(ctx context.Context, id watchlist.ItemID) (bool, error)
	RetryLoadWatchlist(ctx context.Context) error
	ClearError()
}

// Pager is the part of *pager.Projector the HTTP surface needs.
type Pager interface {
	View() pager.View[watchlist.Item]
	LoadMore(ctx context.Context) error
	LoadPage(ctx context.Context, n int) error
}

type membershipResponse struct {
	ID          watchlist.ItemID `json:"id"`
	InWatchlist bool             `json:"in_watchlist"`
}

// GetWatchlist returns items, loading flag and error state.
func GetWatchlist(s WatchlistStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		api.WriteJSON(w, http.StatusOK, s.Snapshot())
	}
}

func GetItem(s WatchlistStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rid := httpserver.RequestIDFromContext(r.Context())
		id, ok := pathID(r)
		if !ok {
			api.BadRequest(w, "MISSING_ID", "id is required", rid, nil)
			return
		}
		api.WriteJSON(w, http.StatusOK, membershipResponse{ID: id, InWatchlist: s.IsInWatchlist(id)})
	}
}

// AddItem answers 201 when the item was inserted and 200 when it was
// already present.
func AddItem(s WatchlistStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rid := httpserver.RequestIDFromContext(r.Context())
		var in watchlist.ItemInput
		if !decodeJSON(w, r, rid, &in) {
			return
		}
		if err := in.Stamp(time.Now()).Validate(); err != nil {
			writeError(w, err, rid)
			return
		}
		added, err := s.AddToWatchlist(r.Context(), in)
		if err != nil {
			writeError(w, err, rid)
			return
		}
		status := http.StatusOK
		if added {
			status = http.StatusCreated
		}
		api.WriteJSON(w, status, s.Snapshot())
	}
}

// RemoveItem answers 204 whether or not the id was present.
func RemoveItem(s WatchlistStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rid := httpserver.RequestIDFromContext(r.Context())
		id, ok := pathID(r)
		if !ok {
			api.BadRequest(w, "MISSING_ID", "id is required", rid, nil)
			return
		}
		if _, err := s.RemoveFromWatchlist(r.Context(), id); err != nil {
			writeError(w, err, rid)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func RetryLoad(s WatchlistStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rid := httpserver.RequestIDFromContext(r.Context())
		if err := s.RetryLoadWatchlist(r.Context()); err != nil {
			writeError(w, err, rid)
			return
		}
		api.WriteJSON(w, http.StatusOK, s.Snapshot())
	}
}

func ClearError(s WatchlistStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.ClearError()
		w.WriteHeader(http.StatusNoContent)
	}
}

func GetView(p Pager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		api.WriteJSON(w, http.StatusOK, p.View())
	}
}

func LoadMore(p Pager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rid := httpserver.RequestIDFromContext(r.Context())
		if err := p.LoadMore(r.Context()); err != nil {
			api.Unavailable(w, "LOAD_ABORTED", err.Error(), rid, nil)
			return
		}
		api.WriteJSON(w, http.StatusOK, p.View())
	}
}

func LoadPage(p Pager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rid := httpserver.RequestIDFromContext(r.Context())
		n, err := strconv.Atoi(chi.URLParam(r, "page"))
		if err != nil {
			api.BadRequest(w, "INVALID_PAGE", "page must be an integer", rid, nil)
			return
		}
		if err := p.LoadPage(r.Context(), n); err != nil {
			if errors.Is(err, pager.ErrPageOutOfRange) {
				api.NotFound(w, "PAGE_OUT_OF_RANGE", "page out of range", rid)
				return
			}
			api.Unavailable(w, "LOAD_ABORTED", err.Error(), rid, nil)
			return
		}
		api.WriteJSON(w, http.StatusOK, p.View())
	}
}

// Routes mounts the watchlist API under /v1/watchlist.
func Routes(r chi.Router, s WatchlistStore, p Pager) {
	r.Route("/v1/watchlist", func(r chi.Router) {
		r.Get("/", GetWatchlist(s))
		r.Post("/", AddItem(s))
		r.Post("/retry", RetryLoad(s))
		r.Delete("/error", ClearError(s))
		r.Get("/view", GetView(p))
		r.Post("/view/more", LoadMore(p))
		r.Post("/view/pages/{page}", LoadPage(p))
		r.Get("/{id}", GetItem(s))
		r.Delete("/{id}", RemoveItem(s))
	})
}
