package supervisor

import "errors"

var (
	// ErrNotManaged is returned when no poller runs for the entity.
	ErrNotManaged = errors.New("supervisor: entity not managed")

	// ErrAlreadyManaged is returned when Add is called for a running entity.
	ErrAlreadyManaged = errors.New("supervisor: entity already managed")

	// ErrInvalidConfig is returned by New when a required dependency is missing.
	ErrInvalidConfig = errors.New("supervisor: invalid config")
)
