package entity

import (
	"fmt"
	"regexp"
	"time"

	"github.com/nerrad567/tailnet-monitor/internal/tailscale"
	"github.com/nerrad567/tailnet-monitor/internal/tracker"
)

const maxNameLength = 100

var idPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// Entity is a tracked tailnet or single device together with the
// credentials its poller uses.
type Entity struct {
	ID        string       `json:"id"`
	Kind      tracker.Kind `json:"kind"`
	Name      string       `json:"name"`
	TailnetID string       `json:"tailnet_id"`
	NodeID    string       `json:"node_id,omitempty"`
	APIKey    string       `json:"-"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// Credentials returns the Tailscale credentials stored with the entity.
func (e *Entity) Credentials() tailscale.Credentials {
	return tailscale.Credentials{TailnetID: e.TailnetID, APIKey: e.APIKey}
}

// Validate checks the entity's fields.
func (e *Entity) Validate() error {
	if !idPattern.MatchString(e.ID) {
		return fmt.Errorf("%w: id %q must be lower-case alphanumeric, '-' or '_'", ErrInvalidEntity, e.ID)
	}
	if !e.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidEntity, e.Kind)
	}
	if e.Name == "" || len(e.Name) > maxNameLength {
		return fmt.Errorf("%w: name must be 1-%d characters", ErrInvalidEntity, maxNameLength)
	}
	if !e.Credentials().Valid() {
		return fmt.Errorf("%w: tailnet_id and api key are required", ErrInvalidEntity)
	}
	if e.Kind == tracker.KindDevice && e.NodeID == "" {
		return fmt.Errorf("%w: device entity requires node_id", ErrInvalidEntity)
	}
	return nil
}

// Copy returns a copy of the entity.
func (e *Entity) Copy() *Entity {
	c := *e
	return &c
}
