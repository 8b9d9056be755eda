package tracker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nerrad567/tailnet-monitor/internal/tailscale"
)

var errFetch = errors.New("fetch failed")

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: baseTime}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeLister returns whatever devices/err currently hold.
type fakeLister struct {
	mu      sync.Mutex
	devices []tailscale.DeviceRecord
	err     error
	calls   int
}

func (f *fakeLister) ListDevices(context.Context) ([]tailscale.DeviceRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([]tailscale.DeviceRecord, len(f.devices))
	copy(out, f.devices)
	return out, nil
}

func (f *fakeLister) set(devices ...tailscale.DeviceRecord) {
	f.mu.Lock()
	f.devices = devices
	f.err = nil
	f.mu.Unlock()
}

func (f *fakeLister) fail(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeLister) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeGetter serves a single device.
type fakeGetter struct {
	mu     sync.Mutex
	device tailscale.DeviceRecord
	err    error
}

func (f *fakeGetter) GetDevice(_ context.Context, nodeID string) (*tailscale.DeviceRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	d := f.device
	d.NodeID = nodeID
	return &d, nil
}

func (f *fakeGetter) set(d tailscale.DeviceRecord) {
	f.mu.Lock()
	f.device = d
	f.err = nil
	f.mu.Unlock()
}

// recordingSink records events and fails for events about failNodes.
type recordingSink struct {
	mu        sync.Mutex
	events    []Event
	failNodes map[string]bool
	calls     int
}

func (s *recordingSink) Notify(_ context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failNodes[ev.NodeID] {
		return errors.New("sink down")
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) take() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.events
	s.events = nil
	return out
}

// fakeAvailability records availability calls.
type fakeAvailability struct {
	mu         sync.Mutex
	available  map[string]bool
	reasons    map[string]string
	setAvail   int
	setUnavail int
	capability map[string]any
}

func newFakeAvailability() *fakeAvailability {
	return &fakeAvailability{
		available:  make(map[string]bool),
		reasons:    make(map[string]string),
		capability: make(map[string]any),
	}
}

func (f *fakeAvailability) SetAvailable(entityID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setAvail++
	f.available[entityID] = true
	delete(f.reasons, entityID)
}

func (f *fakeAvailability) SetUnavailable(entityID, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setUnavail++
	f.available[entityID] = false
	f.reasons[entityID] = reason
}

func (f *fakeAvailability) SetCapabilityValue(entityID, capability string, value any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.capability[entityID+"/"+capability] = value
}

// isAvailable treats entities never marked as available.
func (f *fakeAvailability) isAvailable(entityID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.available[entityID]
	return !ok || v
}

func (f *fakeAvailability) capValue(entityID, capability string) any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.capability[entityID+"/"+capability]
}

// device builds a record last seen `ago` before now.
func device(nodeID, host string, now time.Time, ago time.Duration) tailscale.DeviceRecord {
	return tailscale.DeviceRecord{
		NodeID:   nodeID,
		Hostname: host,
		User:     host + "@example.com",
		LastSeen: now.Add(-ago).Format(time.RFC3339),
	}
}

func kinds(events []Event) []EventKind {
	out := make([]EventKind, len(events))
	for i, ev := range events {
		out[i] = ev.Kind
	}
	return out
}
