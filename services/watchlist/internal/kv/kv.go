// Package kv provides the key-value adapters the watchlist document is persisted through.
//
// Every adapter stores opaque string values under string keys and tags driver
// failures with ErrUnavailable (transient, worth retrying) or ErrQuotaExceeded
// (storage exhausted) so callers can classify errors without matching on
// driver-specific messages.
package kv

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrUnavailable marks transient connectivity failures.
	ErrUnavailable = errors.New("kv: backend unavailable")
	// ErrQuotaExceeded marks writes rejected because the backend is out of space.
	ErrQuotaExceeded = errors.New("kv: storage quota exceeded")
)

// Store is an async get/set/delete interface over string keys.
type Store interface {
	// Get returns the value stored under key. ok is false when the key is absent.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	// Set atomically replaces the value stored under key.
	Set(ctx context.Context, key, value string) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	Close() error
}

// tag wraps err with a kind sentinel while keeping the driver error in the chain.
func tag(kind error, op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, kind, err)
}
