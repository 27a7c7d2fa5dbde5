package es

import "errors"

var (
	// ErrConflict means another writer committed the same aggregate version
	// first. Reload and retry the whole read-modify-write cycle.
	ErrConflict = errors.New("version conflict")
	// ErrNotFound is returned by loads when no history exists for the id.
	ErrNotFound = errors.New("aggregate not found")
	// ErrUnknownEventType is returned when a tag has no registry entry.
	ErrUnknownEventType = errors.New("unknown event type")
	// ErrDecode wraps payloads that could not be decoded into their type.
	ErrDecode = errors.New("decode event payload")
	// ErrCorruptHistory reports a stored history that cannot be replayed.
	ErrCorruptHistory = errors.New("corrupt event history")
)

// IsRetryable reports whether err can be resolved by reloading and retrying.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict)
}
