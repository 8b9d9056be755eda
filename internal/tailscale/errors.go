package tailscale

import (
	"errors"
	"fmt"
	"net/http"
)

// Error taxonomy for Tailscale API calls.
// Use errors.Is() to classify a failure:
//
//	if errors.Is(err, tailscale.ErrAuth) {
//	    // credentials revoked or expired
//	}
var (
	// ErrAuth is returned for HTTP 401 and 403 responses.
	ErrAuth = errors.New("tailscale: authentication failed")

	// ErrNotFound is returned for HTTP 404 responses.
	ErrNotFound = errors.New("tailscale: not found")

	// ErrServer is returned for HTTP 5xx responses.
	ErrServer = errors.New("tailscale: server error")

	// ErrTransport is returned when the request never produced a response:
	// connection refused, DNS failure, TLS failure or timeout.
	ErrTransport = errors.New("tailscale: transport error")

	// ErrDecode is returned when a 2xx response body is not valid JSON.
	ErrDecode = errors.New("tailscale: malformed response")

	// ErrUnexpectedStatus is returned for any other non-2xx status.
	ErrUnexpectedStatus = errors.New("tailscale: unexpected status")

	// ErrInvalidArgument is returned when a required argument is empty.
	ErrInvalidArgument = errors.New("tailscale: invalid argument")
)

// maxErrorBodyLen caps how much of an error response body is kept.
const maxErrorBodyLen = 512

// APIError describes a non-2xx response from the Tailscale API.
// It unwraps to one of the taxonomy sentinels.
type APIError struct {
	Op         string
	StatusCode int
	Body       string
	kind       error
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%v: %s: status %d", e.kind, e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%v: %s: status %d: %s", e.kind, e.Op, e.StatusCode, e.Body)
}

// Unwrap returns the taxonomy sentinel.
func (e *APIError) Unwrap() error {
	return e.kind
}

// classifyStatus maps an HTTP status code to a taxonomy sentinel.
func classifyStatus(code int) error {
	switch {
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return ErrAuth
	case code == http.StatusNotFound:
		return ErrNotFound
	case code >= http.StatusInternalServerError:
		return ErrServer
	default:
		return ErrUnexpectedStatus
	}
}

// newAPIError builds an APIError, truncating the body.
func newAPIError(op string, code int, body []byte) *APIError {
	text := string(body)
	if len(text) > maxErrorBodyLen {
		text = text[:maxErrorBodyLen] + "..."
	}
	return &APIError{
		Op:         op,
		StatusCode: code,
		Body:       text,
		kind:       classifyStatus(code),
	}
}
