package engine

import "errors"

// Sentinel errors shared by the storage layers. The public facade wraps
// them into typed errors; errors.Is works through the whole stack.
var (
	// ErrClosed is returned by any operation on a closed store.
	ErrClosed = errors.New("store is closed")

	// ErrNotFound is the normal miss outcome of lookups and traversal
	// dead ends, not an exceptional condition.
	ErrNotFound = errors.New("not found")

	// ErrCorrupt marks decode failures, distinguished from ErrNotFound.
	ErrCorrupt = errors.New("corrupt data")

	// ErrConflict is returned when a batch is already in flight.
	ErrConflict = errors.New("conflicting operation in progress")

	// ErrInvalidArgument is returned for unusable caller input.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrReadOnly is returned for writes on a read-only store.
	ErrReadOnly = errors.New("store is read-only")

	// ErrIncompatibleFormat is returned when on-disk structures carry
	// an unsupported format version.
	ErrIncompatibleFormat = errors.New("incompatible format version")
)
