package snapshot

import "errors"

// Domain-specific errors for inventory fetches.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrLoginFailed is returned when authentication is rejected or the
	// login response carries no token.
	ErrLoginFailed = errors.New("snapshot: login failed")

	// ErrFetchFailed is returned when the inventory request fails.
	ErrFetchFailed = errors.New("snapshot: inventory fetch failed")

	// ErrNotAuthenticated is returned when a fetch is attempted without
	// a session token.
	ErrNotAuthenticated = errors.New("snapshot: not authenticated")
)
