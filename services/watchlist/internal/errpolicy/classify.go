package errpolicy

import (
	"errors"

	"github.com/example/tv-watchlist/services/watchlist/internal/watchlist"
)

// User-facing messages.
const (
	CorruptedDataMessage = "Your watchlist data was damaged and has been reset."
	StorageFullMessage   = "Your device is out of storage. Free up some space and try again."
	NetworkMessage       = "Unable to reach your watchlist. Check your connection and try again."
	UnknownMessage       = "Something went wrong with your watchlist. Please try again."
	InvalidItemMessage   = "This title could not be saved to your watchlist."
	MaxRetriesMessage    = "Maximum retry attempts reached. Please try again later."
)

// Classify maps any error to the message shown to the user. It is pure.
// Errors that did not come from the storage layer still go through the same
// message heuristics, so a bare "Network request failed" reads like a
// NETWORK_ERROR.
func Classify(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrMaxRetries) {
		return MaxRetriesMessage
	}
	if errors.Is(err, watchlist.ErrInvalidItem) {
		return InvalidItemMessage
	}
	switch watchlist.KindOf(err) {
	case watchlist.KindCorruptedData:
		return CorruptedDataMessage
	case watchlist.KindStorageFull:
		return StorageFullMessage
	case watchlist.KindNetwork:
		return NetworkMessage
	}
	return UnknownMessage
}
