package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/example/tv-watchlist/internal/platform/api"
	"github.com/example/tv-watchlist/services/watchlist/internal/errpolicy"
	"github.com/example/tv-watchlist/services/watchlist/internal/watchlist"
)

const maxRequestBodyBytes = 1 << 20 // 1 MiB

// decodeJSON reads up to maxRequestBodyBytes from r.Body and decodes JSON into dst.
// On failure it writes a 400 response and returns false.
func decodeJSON[T any](w http.ResponseWriter, r *http.Request, rid string, dst *T) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)).Decode(dst); err != nil {
		api.BadRequest(w, "INVALID_JSON", "Invalid JSON", rid, nil)
		return false
	}
	return true
}

// pathID reads the {id} URL param. Decimal ids are numeric unless
// ?id_type=string asks for the string form.
func pathID(r *http.Request) (watchlist.ItemID, bool) {
	raw := strings.TrimSpace(chi.URLParam(r, "id"))
	if raw == "" {
		return watchlist.ItemID{}, false
	}
	if r.URL.Query().Get("id_type") == "string" {
		return watchlist.StringID(raw), true
	}
	return watchlist.ParseID(raw), true
}

// writeError maps watchlist, policy and storage errors onto the API envelope.
func writeError(w http.ResponseWriter, err error, rid string) {
	var ve *watchlist.ValidationError
	switch {
	case errors.As(err, &ve):
		api.BadRequest(w, "INVALID_ITEM", errpolicy.InvalidItemMessage, rid,
			map[string]any{"field": ve.Field, "rule": ve.Rule})
		return
	case errors.Is(err, errpolicy.ErrRetryInProgress):
		api.Conflict(w, "RETRY_IN_PROGRESS", "A retry is already running", rid, nil)
		return
	case errors.Is(err, errpolicy.ErrCleared):
		api.Conflict(w, "RETRY_CANCELLED", "The retry was cancelled", rid, nil)
		return
	case errors.Is(err, errpolicy.ErrMaxRetries):
		api.Unavailable(w, "MAX_RETRIES", errpolicy.MaxRetriesMessage, rid, nil)
		return
	}

	kind := watchlist.KindOf(err)
	msg := errpolicy.Classify(err)
	switch kind {
	case watchlist.KindStorageFull:
		api.InsufficientStorage(w, string(kind), msg, rid)
	case watchlist.KindNetwork:
		api.Unavailable(w, string(kind), msg, rid, nil)
	default:
		api.WriteError(w, http.StatusInternalServerError, string(kind), msg, rid, nil)
	}
}
