package chat

import "errors"

var (
	// ErrUnauthorized means the bearer credential is missing, expired or rejected.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNotFound means the record vanished server-side.
	ErrNotFound = errors.New("chat not found")
	// ErrUnavailable covers network and server failures.
	ErrUnavailable = errors.New("service unavailable")
	// ErrInvalid rejects malformed input before any network call.
	ErrInvalid = errors.New("invalid input")

	ErrBusy     = errors.New("a reply is already pending")
	ErrComplete = errors.New("conversation is complete")
	// ErrStale is returned when the conversation was replaced while the call was in flight.
	ErrStale = errors.New("conversation was replaced")
)
