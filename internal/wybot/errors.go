package wybot

import "errors"

// Package-level errors for command building and validation.
//
// Usage:
//
//	dp, err := ModeCommand("Turbo")
//	if errors.Is(err, ErrUnknownMode) {
//	    // caller mistake, reject the request
//	}
var (
	// ErrUnknownMode indicates a cleaning mode label with no wire code.
	ErrUnknownMode = errors.New("unknown cleaning mode")

	// ErrUnknownAction indicates a symbolic command action that cannot
	// be mapped to a DP write.
	ErrUnknownAction = errors.New("unknown command action")

	// ErrInvalidDuration indicates a clean-time duration outside the
	// encodable range.
	ErrInvalidDuration = errors.New("invalid clean-time duration")

	// ErrNotEncodable indicates an enum value with no wire code in the
	// selected table.
	ErrNotEncodable = errors.New("value has no wire encoding")
)
