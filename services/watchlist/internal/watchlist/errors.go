package watchlist

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/example/tv-watchlist/services/watchlist/internal/kv"
)

// Kind is the closed storage failure taxonomy.
type Kind string

const (
	KindCorruptedData Kind = "CORRUPTED_DATA"
	KindStorageFull   Kind = "STORAGE_FULL"
	KindNetwork       Kind = "NETWORK_ERROR"
	KindUnknown       Kind = "UNKNOWN_ERROR"
)

// StorageError is returned by every Storage operation that reached the backend.
type StorageError struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("watchlist %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// KindOf classifies any error. StorageError kinds win; kv sentinels come next;
// message heuristics are the fallback for errors from layers that do not tag.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var se *StorageError
	if errors.As(err, &se) {
		return se.Kind
	}
	if errors.Is(err, ErrUnparseable) || errors.Is(err, ErrMalformed) {
		return KindCorruptedData
	}
	if errors.Is(err, ErrInvalidItem) {
		return KindUnknown
	}
	if IsQuota(err) {
		return KindStorageFull
	}
	if IsNetwork(err) {
		return KindNetwork
	}
	return KindUnknown
}

// IsNetwork reports transient connectivity failures.
func IsNetwork(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, kv.ErrUnavailable) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, kv.ErrQuotaExceeded) {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "network") || strings.Contains(msg, "timeout") || strings.Contains(msg, "connection")
}

// IsQuota reports storage-capacity failures.
func IsQuota(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, kv.ErrQuotaExceeded) {
		return true
	}
	if errors.Is(err, kv.ErrUnavailable) {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "quota") || strings.Contains(msg, "storage full")
}

func readError(op string, err error) error {
	if IsNetwork(err) {
		return &StorageError{Kind: KindNetwork, Op: op, Err: err}
	}
	return &StorageError{Kind: KindUnknown, Op: op, Err: err}
}

func writeError(op string, err error) error {
	switch {
	case IsQuota(err):
		return &StorageError{Kind: KindStorageFull, Op: op, Err: err}
	case IsNetwork(err):
		return &StorageError{Kind: KindNetwork, Op: op, Err: err}
	}
	return &StorageError{Kind: KindUnknown, Op: op, Err: err}
}
