package tracker

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/tailnet-monitor/internal/tailscale"
)

// Capabilities written by SingleDeviceStrategy.
const (
	CapabilityOnOff        = "onoff"
	CapabilityAlarmGeneric = "alarm_generic"
)

// CapabilityStore receives capability values for an entity.
type CapabilityStore interface {
	SetCapabilityValue(entityID, capability string, value any)
}

// SingleDeviceConfig configures a SingleDeviceStrategy.
type SingleDeviceConfig struct {
	Getter DeviceGetter
	NodeID string

	// Capabilities is optional.
	Capabilities CapabilityStore

	Settings PollSettings
}

// SingleDeviceStrategy tracks one device by node ID.
//
// Online comes from the API's explicit online flag when it is present,
// otherwise from lastSeen. The first successful poll sets the baseline;
// every later change emits online_changed followed by device_connected or
// device_disconnected.
type SingleDeviceStrategy struct {
	getter DeviceGetter
	nodeID string
	caps   CapabilityStore

	mu              sync.Mutex
	onlineThreshold time.Duration
	hasBaseline     bool
	device          DeviceState
}

// NewSingleDeviceStrategy creates a strategy for cfg.NodeID.
func NewSingleDeviceStrategy(cfg SingleDeviceConfig) *SingleDeviceStrategy {
	s := &SingleDeviceStrategy{
		getter: cfg.Getter,
		nodeID: cfg.NodeID,
		caps:   cfg.Capabilities,
	}
	s.Reconfigure(cfg.Settings)
	return s
}

// Kind returns KindDevice.
func (s *SingleDeviceStrategy) Kind() Kind {
	return KindDevice
}

// Reconfigure updates the online threshold.
func (s *SingleDeviceStrategy) Reconfigure(settings PollSettings) {
	settings = settings.withDefaults()

	s.mu.Lock()
	s.onlineThreshold = settings.OnlineThreshold
	s.mu.Unlock()
}

// Poll fetches the device and compares its online state to the last poll.
func (s *SingleDeviceStrategy) Poll(ctx context.Context, cycle Cycle) ([]Event, error) {
	d, err := s.getter.GetDevice(ctx, s.nodeID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	online := deviceOnline(d, cycle.Now, s.onlineThreshold)
	prev := s.device.Online
	hadBaseline := s.hasBaseline

	s.hasBaseline = true
	s.device = DeviceState{
		NodeID:    s.nodeID,
		Name:      d.DisplayName(),
		User:      d.User,
		Online:    online,
		LastSeen:  parseLastSeenPtr(d.LastSeen),
		Addresses: append([]string(nil), d.Addresses...),
	}
	state := s.device
	s.mu.Unlock()

	if s.caps != nil {
		s.caps.SetCapabilityValue(cycle.EntityID, CapabilityOnOff, online)
		s.caps.SetCapabilityValue(cycle.EntityID, CapabilityAlarmGeneric, !online)
	}

	if !hadBaseline || prev == online {
		return nil, nil
	}

	follow := EventDeviceDisconnected
	if online {
		follow = EventDeviceConnected
	}
	return []Event{
		newEvent(EventOnlineChanged, cycle.EntityID, state, cycle.Now, map[string]any{ExtraOnline: online}),
		newEvent(follow, cycle.EntityID, state, cycle.Now, nil),
	}, nil
}

// Devices returns the tracked device, or nothing before the first poll.
func (s *SingleDeviceStrategy) Devices() []DeviceState {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.hasBaseline {
		return []DeviceState{}
	}
	ds := s.device
	ds.Addresses = append([]string(nil), s.device.Addresses...)
	if s.device.LastSeen != nil {
		t := *s.device.LastSeen
		ds.LastSeen = &t
	}
	return []DeviceState{ds}
}

func deviceOnline(d *tailscale.DeviceRecord, now time.Time, threshold time.Duration) bool {
	if online, ok := d.ReportedOnline(); ok {
		return online
	}
	return IsOnline(d.LastSeen, now, threshold)
}
