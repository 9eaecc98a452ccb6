package coordinator

import "errors"

// Domain-specific errors for coordinator operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrUnknownGroup is returned when a command names a group id that
	// is not in the current inventory.
	ErrUnknownGroup = errors.New("coordinator: unknown group")

	// ErrNoTargets is returned when a command's group resolves to no
	// publishable target ids.
	ErrNoTargets = errors.New("coordinator: group has no targets")

	// ErrStopped is returned when an operation is attempted after Stop.
	ErrStopped = errors.New("coordinator: stopped")

	// ErrNoPayloads is returned when a command carries no DP writes.
	ErrNoPayloads = errors.New("coordinator: no DP payloads")
)
