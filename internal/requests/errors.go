package requests

import "errors"

var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateActive indicates an active request already exists for the item.
	ErrDuplicateActive = errors.New("an active request already exists for this item")
	// ErrInvalidTransition indicates a status change that the state machine forbids.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrConflict indicates the row was not in the expected state for a guarded update.
	ErrConflict = errors.New("row not in expected state")
)
