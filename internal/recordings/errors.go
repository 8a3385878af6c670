package recordings

import "errors"

// Sentinel errors returned by the lifecycle service. Handlers map these to
// HTTP statuses; component errors (assembler, blob store) are wrapped before
// they cross this boundary.
var (
	// ErrConflict means an active, non-stale recording already holds the room's slot.
	ErrConflict = errors.New("an active recording already exists for this room")
	// ErrNotFound means the recording id is unknown.
	ErrNotFound = errors.New("recording not found")
	// ErrForbidden means the caller is neither owner nor participant as required.
	ErrForbidden = errors.New("not authorized for this recording")
	// ErrInvalidState means the requested transition is not allowed from the current status.
	ErrInvalidState = errors.New("recording is not in a valid state for this operation")
	// ErrStorage wraps durable blob store failures. Upload failures leave the
	// scratch file intact, so the operation is retryable.
	ErrStorage = errors.New("durable storage operation failed")
)
