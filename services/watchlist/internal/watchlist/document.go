package watchlist

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// CurrentVersion is the schema version written by SaveWatchlist.
const CurrentVersion = 1

var (
	// ErrUnparseable means the stored value is not JSON at all.
	ErrUnparseable = errors.New("watchlist: document is not valid JSON")
	// ErrMalformed means the value is JSON but not a watchlist document.
	ErrMalformed = errors.New("watchlist: document has an unexpected shape")
)

// Document is the persisted envelope.
type Document struct {
	Version int    `json:"version"`
	Items   []Item `json:"items"`
}

// MigrationReport describes what Decode had to do to produce a current document.
type MigrationReport struct {
	// SourceVersion is the stored version, 0 for legacy documents.
	SourceVersion int
	Legacy        bool
	// Future is set when the stored version is newer than CurrentVersion.
	Future  bool
	Total   int
	Dropped int
}

// Decode parses a stored value, migrates legacy shapes and drops items that
// fail validation or repeat an earlier ID. It has no side effects.
func Decode(raw []byte) (Document, MigrationReport, error) {
	var rep MigrationReport
	if !json.Valid(raw) {
		return Document{}, rep, ErrUnparseable
	}

	itemsRaw, version, err := envelope(bytes.TrimSpace(raw), &rep)
	if err != nil {
		return Document{}, rep, err
	}

	var rawItems []json.RawMessage
	if err := json.Unmarshal(itemsRaw, &rawItems); err != nil {
		return Document{}, rep, fmt.Errorf("%w: items is not a sequence", ErrMalformed)
	}

	rep.Total = len(rawItems)
	items := make([]Item, 0, len(rawItems))
	seen := make(map[ItemID]struct{}, len(rawItems))
	for _, r := range rawItems {
		var it Item
		if err := json.Unmarshal(r, &it); err != nil {
			rep.Dropped++
			continue
		}
		if err := it.Validate(); err != nil {
			rep.Dropped++
			continue
		}
		if _, dup := seen[it.ID]; dup {
			rep.Dropped++
			continue
		}
		seen[it.ID] = struct{}{}
		items = append(items, it)
	}
	return Document{Version: version, Items: items}, rep, nil
}

// envelope locates the items array and resolves the document version.
func envelope(raw []byte, rep *MigrationReport) (json.RawMessage, int, error) {
	if len(raw) == 0 {
		return nil, 0, fmt.Errorf("%w: empty document", ErrMalformed)
	}
	switch raw[0] {
	case '[':
		// Pre-versioning builds stored the bare item array.
		rep.Legacy = true
		return raw, CurrentVersion, nil
	case '{':
	default:
		return nil, 0, fmt.Errorf("%w: top level is not an object", ErrMalformed)
	}

	var env struct {
		Version json.RawMessage `json:"version"`
		Items   json.RawMessage `json:"items"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(env.Items) == 0 || env.Items[0] != '[' {
		return nil, 0, fmt.Errorf("%w: items is not a sequence", ErrMalformed)
	}

	if len(env.Version) == 0 || bytes.Equal(env.Version, []byte("null")) {
		rep.Legacy = true
		return env.Items, CurrentVersion, nil
	}
	var v int
	if err := json.Unmarshal(env.Version, &v); err != nil {
		return nil, 0, fmt.Errorf("%w: version is not an integer", ErrMalformed)
	}
	rep.SourceVersion = v
	switch {
	case v > CurrentVersion:
		rep.Future = true
		return env.Items, v, nil
	case v < CurrentVersion:
		rep.Legacy = true
	}
	return env.Items, CurrentVersion, nil
}

// Encode renders items as a current-version document.
func Encode(items []Item) ([]byte, error) {
	if items == nil {
		items = []Item{}
	}
	return json.Marshal(Document{Version: CurrentVersion, Items: items})
}
