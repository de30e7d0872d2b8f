// Package watchlist owns the persisted watchlist document: its schema,
// validation, migration and the read-full/mutate/write-full CRUD on top of a
// kv.Store.
package watchlist

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Item is a saved reference to a piece of content.
type Item struct {
	ID          ItemID   `json:"id" validate:"required"`
	Title       string   `json:"title" validate:"required"`
	Description string   `json:"description" validate:"required"`
	HeaderImage string   `json:"headerImage" validate:"required"`
	Movie       string   `json:"movie" validate:"required"`
	Duration    *float64 `json:"duration,omitempty" validate:"omitempty,gte=0"`
	// AddedAt is epoch milliseconds, stamped by the storage layer on insert.
	AddedAt int64 `json:"addedAt,omitempty"`
}

// ItemInput is what callers supply when adding; AddedAt is never caller-provided.
type ItemInput struct {
	ID          ItemID   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	HeaderImage string   `json:"headerImage"`
	Movie       string   `json:"movie"`
	Duration    *float64 `json:"duration,omitempty"`
}

// Stamp turns the input into an item added at t.
func (in ItemInput) Stamp(t time.Time) Item {
	return Item{
		ID:          in.ID,
		Title:       in.Title,
		Description: in.Description,
		HeaderImage: in.HeaderImage,
		Movie:       in.Movie,
		Duration:    in.Duration,
		AddedAt:     t.UnixMilli(),
	}
}

// UnmarshalJSON accepts addedAt as any JSON number; fractional milliseconds
// are truncated.
func (it *Item) UnmarshalJSON(b []byte) error {
	type plain Item
	aux := struct {
		*plain
		AddedAt json.RawMessage `json:"addedAt"`
	}{plain: (*plain)(it)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	ms, err := parseMillis(aux.AddedAt)
	if err != nil {
		return err
	}
	it.AddedAt = ms
	return nil
}

func parseMillis(raw json.RawMessage) (int64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, fmt.Errorf("watchlist: addedAt must be a number, got %s", raw)
	}
	if f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, fmt.Errorf("watchlist: addedAt out of range: %s", raw)
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}
	return int64(f), nil
}

// IndexOf returns the position of id in items, or -1.
func IndexOf(items []Item, id ItemID) int {
	for i := range items {
		if items[i].ID == id {
			return i
		}
	}
	return -1
}

// Without returns a copy of items minus any entry with id.
func Without(items []Item, id ItemID) []Item {
	out := make([]Item, 0, len(items))
	for _, it := range items {
		if it.ID != id {
			out = append(out, it)
		}
	}
	return out
}
