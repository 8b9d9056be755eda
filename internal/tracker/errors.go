package tracker

import "errors"

// Domain errors for the tracker package.
var (
	// ErrPollInProgress is returned when a cycle is requested while another
	// cycle for the same entity is still running.
	ErrPollInProgress = errors.New("tracker: poll already in progress")

	// ErrStopped is returned when a stopped poller is asked to poll.
	ErrStopped = errors.New("tracker: poller stopped")

	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("tracker: poller already started")

	// ErrInvalidOptions is returned when NewPoller is missing a collaborator.
	ErrInvalidOptions = errors.New("tracker: invalid options")
)

// UnavailableReason is shown to users when an entity is degraded after
// sustained fetch failures.
const UnavailableReason = "Unable to reach the Tailscale API"
