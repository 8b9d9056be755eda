package tracker

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"
)

// knownDevice is what the inventory strategy remembers about a node.
type knownDevice struct {
	Name      string
	User      string
	WasOnline bool
	LastSeen  *time.Time
	Addresses []string

	// MissedPolls counts consecutive successful polls that did not
	// include this node.
	MissedPolls int
}

// InventoryConfig configures an InventoryStrategy.
type InventoryConfig struct {
	Lister   DeviceLister
	Settings PollSettings
}

// InventoryStrategy tracks every device of a tailnet.
//
// It emits device_joined for node IDs it has not seen before (except on
// the first successful poll) and device_reconnected when a device returns
// after being offline for at least the reconnect threshold.
//
// Invariant: a node ID is either unknown, known and online, or known and
// offline; offlineSince holds a key only in the last case, and only once
// the node has been seen going from online to offline.
type InventoryStrategy struct {
	lister DeviceLister

	mu                 sync.Mutex
	onlineThreshold    time.Duration
	reconnectThreshold time.Duration
	evictAfter         int
	known              map[string]*knownDevice
	offlineSince       map[string]time.Time
}

// NewInventoryStrategy creates an empty inventory strategy.
func NewInventoryStrategy(cfg InventoryConfig) *InventoryStrategy {
	s := &InventoryStrategy{
		lister:       cfg.Lister,
		known:        make(map[string]*knownDevice),
		offlineSince: make(map[string]time.Time),
	}
	s.Reconfigure(cfg.Settings)
	return s
}

// Kind returns KindTailnet.
func (s *InventoryStrategy) Kind() Kind {
	return KindTailnet
}

// Reconfigure updates the thresholds used by subsequent polls.
func (s *InventoryStrategy) Reconfigure(settings PollSettings) {
	settings = settings.withDefaults()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.onlineThreshold = settings.OnlineThreshold
	s.reconnectThreshold = settings.ReconnectThreshold
	s.evictAfter = settings.EvictAfterMissedPolls
}

// Poll lists the tailnet's devices and diffs them against the known table.
func (s *InventoryStrategy) Poll(ctx context.Context, cycle Cycle) ([]Event, error) {
	devices, err := s.lister.ListDevices(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var events []Event
	seen := make(map[string]struct{}, len(devices))

	for _, d := range devices {
		nodeID := d.Key()
		if nodeID == "" {
			continue
		}
		seen[nodeID] = struct{}{}

		online := IsOnline(d.LastSeen, cycle.Now, s.onlineThreshold)
		state := DeviceState{NodeID: nodeID, Name: d.DisplayName(), User: d.User}

		entry, ok := s.known[nodeID]
		if !ok {
			entry = &knownDevice{}
			s.known[nodeID] = entry
			if !cycle.First {
				events = append(events, newEvent(EventDeviceJoined, cycle.EntityID, state, cycle.Now, nil))
			}
		} else {
			switch {
			case !entry.WasOnline && online:
				if since, wasOffline := s.offlineSince[nodeID]; wasOffline {
					offline := cycle.Now.Sub(since)
					if offline >= s.reconnectThreshold {
						events = append(events, newEvent(EventDeviceReconnected, cycle.EntityID, state, cycle.Now, map[string]any{
							ExtraOfflineMinutes: int(math.Round(offline.Minutes())),
						}))
					}
				}
				delete(s.offlineSince, nodeID)
			case entry.WasOnline && !online:
				s.offlineSince[nodeID] = cycle.Now
			}
		}

		entry.Name = state.Name
		entry.User = d.User
		entry.WasOnline = online
		entry.LastSeen = parseLastSeenPtr(d.LastSeen)
		entry.Addresses = append([]string(nil), d.Addresses...)
		entry.MissedPolls = 0
	}

	for nodeID, entry := range s.known {
		if _, ok := seen[nodeID]; ok {
			continue
		}
		entry.MissedPolls++
		if s.evictAfter > 0 && entry.MissedPolls >= s.evictAfter {
			delete(s.known, nodeID)
			delete(s.offlineSince, nodeID)
		}
	}

	return events, nil
}

// Devices returns a copy of the known table, sorted by node ID.
func (s *InventoryStrategy) Devices() []DeviceState {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]DeviceState, 0, len(s.known))
	for nodeID, entry := range s.known {
		ds := DeviceState{
			NodeID:      nodeID,
			Name:        entry.Name,
			User:        entry.User,
			Online:      entry.WasOnline,
			Addresses:   append([]string(nil), entry.Addresses...),
			MissedPolls: entry.MissedPolls,
		}
		if entry.LastSeen != nil {
			t := *entry.LastSeen
			ds.LastSeen = &t
		}
		if since, ok := s.offlineSince[nodeID]; ok {
			ds.OfflineSince = &since
		}
		out = append(out, ds)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out
}
