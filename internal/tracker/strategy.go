package tracker

import (
	"context"
	"time"

	"github.com/nerrad567/tailnet-monitor/internal/tailscale"
)

// Kind is the granularity of a tracked entity.
type Kind string

// Entity kinds.
const (
	KindTailnet Kind = "tailnet"
	KindDevice  Kind = "device"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindTailnet || k == KindDevice
}

// Poller defaults.
const (
	DefaultInterval             = 60 * time.Second
	DefaultMaxConsecutiveErrors = 3
	DefaultReconnectThreshold   = 15 * time.Minute
)

// PollSettings are the tunables of a poller and its strategy.
// They can be changed at runtime with Poller.OnConfigChanged.
type PollSettings struct {
	// Interval between timer-driven cycles. Default: 60s.
	Interval time.Duration

	// MaxConsecutiveErrors is the failure count that marks the entity
	// unavailable. Default: 3.
	MaxConsecutiveErrors int

	// OnlineThreshold is the lastSeen age below which a device is online.
	// Default: 5m.
	OnlineThreshold time.Duration

	// ReconnectThreshold is the minimum offline time that makes a return
	// online a "reconnected" event. Default: 15m.
	ReconnectThreshold time.Duration

	// EvictAfterMissedPolls drops known devices that were absent from this
	// many consecutive successful polls. Zero keeps them forever.
	EvictAfterMissedPolls int
}

// DefaultPollSettings returns the documented defaults.
func DefaultPollSettings() PollSettings {
	return PollSettings{}.withDefaults()
}

func (s PollSettings) withDefaults() PollSettings {
	if s.Interval <= 0 {
		s.Interval = DefaultInterval
	}
	if s.MaxConsecutiveErrors <= 0 {
		s.MaxConsecutiveErrors = DefaultMaxConsecutiveErrors
	}
	if s.OnlineThreshold <= 0 {
		s.OnlineThreshold = DefaultOnlineThreshold
	}
	if s.ReconnectThreshold <= 0 {
		s.ReconnectThreshold = DefaultReconnectThreshold
	}
	if s.EvictAfterMissedPolls < 0 {
		s.EvictAfterMissedPolls = 0
	}
	return s
}

// Cycle describes the poll cycle a strategy is asked to run.
type Cycle struct {
	EntityID string
	Now      time.Time

	// First is true until a cycle for this entity has succeeded.
	First bool
}

// Strategy selects what a poller fetches and how it diffs the result.
//
// Poll must leave the strategy's state untouched when the fetch fails.
// The poller never runs two Polls of the same strategy concurrently, but
// Devices may be called at any time.
type Strategy interface {
	Kind() Kind
	Poll(ctx context.Context, cycle Cycle) ([]Event, error)
	Reconfigure(settings PollSettings)
	Devices() []DeviceState
}

// DeviceLister is the part of the Tailscale client used by InventoryStrategy.
type DeviceLister interface {
	ListDevices(ctx context.Context) ([]tailscale.DeviceRecord, error)
}

// DeviceGetter is the part of the Tailscale client used by SingleDeviceStrategy.
type DeviceGetter interface {
	GetDevice(ctx context.Context, nodeID string) (*tailscale.DeviceRecord, error)
}

// DeviceState is a read-only view of a device as last seen by a strategy.
type DeviceState struct {
	NodeID       string     `json:"node_id"`
	Name         string     `json:"name"`
	User         string     `json:"user"`
	Online       bool       `json:"online"`
	LastSeen     *time.Time `json:"last_seen,omitempty"`
	OfflineSince *time.Time `json:"offline_since,omitempty"`
	Addresses    []string   `json:"addresses,omitempty"`
	MissedPolls  int        `json:"missed_polls,omitempty"`
}
