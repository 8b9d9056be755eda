package entity

import (
	"reflect"
	"sync"
	"time"

	"github.com/nerrad567/tailnet-monitor/internal/infrastructure/mqtt"
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// StatePublisher mirrors entity state to a retained MQTT topic.
// *mqtt.Client satisfies it.
type StatePublisher interface {
	PublishJSON(topic string, v any, retained bool) error
	PublishRetained(topic string, payload []byte) error
}

// State is the runtime state of an entity: whether its poller can reach
// the Tailscale API and the capability values it last wrote.
type State struct {
	EntityID     string         `json:"entity_id"`
	Available    bool           `json:"available"`
	Reason       string         `json:"reason,omitempty"`
	Capabilities map[string]any `json:"capabilities"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

func (s *State) copy() State {
	c := *s
	c.Capabilities = make(map[string]any, len(s.Capabilities))
	for k, v := range s.Capabilities {
		c.Capabilities[k] = v
	}
	return c
}

// Registry holds the availability and capability values of every entity.
// It implements tracker.Availability and tracker.CapabilityStore.
//
// Entities start available with no capabilities. All public methods are
// thread-safe; publishing happens outside the lock.
type Registry struct {
	mu     sync.RWMutex
	states map[string]*State
	pub    StatePublisher
	logger Logger
	now    func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		states: make(map[string]*State),
		logger: noopLogger{},
		now:    time.Now,
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// SetPublisher enables retained state publication.
func (r *Registry) SetPublisher(pub StatePublisher) {
	r.pub = pub
}

// SetAvailable marks the entity available and clears the reason.
func (r *Registry) SetAvailable(entityID string) {
	changed := r.update(entityID, func(s *State) bool {
		if s.Available {
			return false
		}
		s.Available = true
		s.Reason = ""
		return true
	})
	if changed {
		r.logger.Info("entity available", "entity_id", entityID)
	}
}

// SetUnavailable marks the entity unavailable with a user-facing reason.
func (r *Registry) SetUnavailable(entityID, reason string) {
	changed := r.update(entityID, func(s *State) bool {
		if !s.Available && s.Reason == reason {
			return false
		}
		s.Available = false
		s.Reason = reason
		return true
	})
	if changed {
		r.logger.Warn("entity unavailable", "entity_id", entityID, "reason", reason)
	}
}

// Availability reports whether the entity is available and, if not, why.
// Unknown entities are available.
func (r *Registry) Availability(entityID string) (available bool, reason string) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.states[entityID]
	if !ok {
		return true, ""
	}
	return s.Available, s.Reason
}

// SetCapabilityValue stores a capability value. Only an actual change is
// published.
func (r *Registry) SetCapabilityValue(entityID, capability string, value any) {
	r.update(entityID, func(s *State) bool {
		old, ok := s.Capabilities[capability]
		if ok && reflect.DeepEqual(old, value) {
			return false
		}
		s.Capabilities[capability] = value
		return true
	})
}

// CapabilityValue returns the last value written for capability.
func (r *Registry) CapabilityValue(entityID, capability string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.states[entityID]
	if !ok {
		return nil, false
	}
	v, ok := s.Capabilities[capability]
	return v, ok
}

// Capabilities returns a copy of every capability value of the entity.
func (r *Registry) Capabilities(entityID string) map[string]any {
	return r.State(entityID).Capabilities
}

// State returns a copy of the entity's state.
func (r *Registry) State(entityID string) State {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.states[entityID]
	if !ok {
		return State{EntityID: entityID, Available: true, Capabilities: map[string]any{}}
	}
	return s.copy()
}

// Forget drops the entity's state and clears its retained MQTT message.
func (r *Registry) Forget(entityID string) {
	r.mu.Lock()
	delete(r.states, entityID)
	r.mu.Unlock()

	if r.pub == nil {
		return
	}
	if err := r.pub.PublishRetained(mqtt.Topics{}.EntityState(entityID), nil); err != nil {
		r.logger.Debug("clearing retained entity state failed", "entity_id", entityID, "error", err)
	}
}

// update applies fn to the entity's state under the lock and publishes the
// result when fn reports a change.
func (r *Registry) update(entityID string, fn func(s *State) bool) bool {
	r.mu.Lock()
	s, ok := r.states[entityID]
	if !ok {
		s = &State{EntityID: entityID, Available: true, Capabilities: make(map[string]any)}
		r.states[entityID] = s
	}
	changed := fn(s)
	if changed {
		s.UpdatedAt = r.now().UTC()
	}
	snapshot := s.copy()
	r.mu.Unlock()

	if changed {
		r.publish(snapshot)
	}
	return changed
}

func (r *Registry) publish(s State) {
	if r.pub == nil {
		return
	}
	if err := r.pub.PublishJSON(mqtt.Topics{}.EntityState(s.EntityID), s, true); err != nil {
		r.logger.Debug("publishing entity state failed", "entity_id", s.EntityID, "error", err)
	}
}
