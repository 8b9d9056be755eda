package pairing

import "errors"

var (
	// ErrValidation is returned when the Tailscale API rejects the credentials
	// or cannot be reached with them.
	ErrValidation = errors.New("pairing: credentials could not be validated")

	// ErrInvalidRequest is returned when a pairing request is incomplete.
	ErrInvalidRequest = errors.New("pairing: invalid request")
)
