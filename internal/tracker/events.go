package tracker

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventKind names a transition detected by a poll cycle.
type EventKind string

// Event kinds.
const (
	// EventDeviceJoined fires when a node ID is seen for the first time
	// after the initial poll.
	EventDeviceJoined EventKind = "device_joined"

	// EventDeviceReconnected fires when a device comes back after being
	// offline for at least the reconnect threshold.
	EventDeviceReconnected EventKind = "device_reconnected"

	// Single-device entities.
	EventDeviceConnected    EventKind = "device_connected"
	EventDeviceDisconnected EventKind = "device_disconnected"
	EventOnlineChanged      EventKind = "online_changed"
)

// Extra payload keys.
const (
	ExtraOfflineMinutes = "offline_minutes"
	ExtraOnline         = "online"
)

// Event is a single detected transition.
type Event struct {
	ID         string         `json:"id"`
	Kind       EventKind      `json:"kind"`
	EntityID   string         `json:"entity_id"`
	DeviceName string         `json:"device_name"`
	User       string         `json:"user"`
	NodeID     string         `json:"node_id"`
	Extra      map[string]any `json:"extra,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Payload returns the flat token map handed to notification consumers:
// device_name, user and node_id plus any event-specific extras.
func (e Event) Payload() map[string]any {
	p := make(map[string]any, 3+len(e.Extra))
	for k, v := range e.Extra {
		p[k] = v
	}
	p["device_name"] = e.DeviceName
	p["user"] = e.User
	p["node_id"] = e.NodeID
	return p
}

// Sink receives transition events.
//
// Implementations must be safe for concurrent use: every Poller calls the
// same Sink from its own goroutine. A returned error is logged by the
// poller and never aborts the cycle.
type Sink interface {
	Notify(ctx context.Context, event Event) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, event Event) error

// Notify calls f(ctx, event).
func (f SinkFunc) Notify(ctx context.Context, event Event) error {
	return f(ctx, event)
}

func newEvent(kind EventKind, entityID string, dev DeviceState, now time.Time, extra map[string]any) Event {
	return Event{
		ID:         uuid.NewString(),
		Kind:       kind,
		EntityID:   entityID,
		DeviceName: dev.Name,
		User:       dev.User,
		NodeID:     dev.NodeID,
		Extra:      extra,
		Timestamp:  now.UTC(),
	}
}
