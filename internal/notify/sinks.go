package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/tailnet-monitor/internal/infrastructure/influxdb"
	"github.com/nerrad567/tailnet-monitor/internal/infrastructure/mqtt"
	"github.com/nerrad567/tailnet-monitor/internal/tracker"
)

// ErrNoTarget is returned by a sink whose backing client is nil.
var ErrNoTarget = errors.New("notify: sink has no target")

// HubChannelPrefix prefixes the WebSocket channel of every event kind.
const HubChannelPrefix = "tailnet."

// JSONPublisher is the part of the MQTT client used by MQTTSink.
type JSONPublisher interface {
	PublishJSON(topic string, v any, retained bool) error
}

// EventWriter is the part of the InfluxDB client used by InfluxSink.
type EventWriter interface {
	WriteEvent(rec influxdb.EventRecord)
}

// Broadcaster is the part of the WebSocket hub used by HubSink.
type Broadcaster interface {
	Broadcast(channel string, payload any)
}

// eventMessage is the wire form shared by the MQTT and WebSocket sinks.
type eventMessage struct {
	tracker.Event
	Tokens map[string]any `json:"tokens"`
}

func newEventMessage(ev tracker.Event) eventMessage {
	return eventMessage{Event: ev, Tokens: ev.Payload()}
}

// MQTTSink publishes each event to tailnetmon/event/{entity}/{kind}.
// Events are not retained.
type MQTTSink struct {
	pub JSONPublisher
}

// NewMQTTSink creates a sink publishing through pub.
func NewMQTTSink(pub JSONPublisher) *MQTTSink {
	return &MQTTSink{pub: pub}
}

// Notify publishes the event.
func (s *MQTTSink) Notify(_ context.Context, ev tracker.Event) error {
	if s.pub == nil {
		return ErrNoTarget
	}
	topic := mqtt.Topics{}.EntityEvent(ev.EntityID, string(ev.Kind))
	if err := s.pub.PublishJSON(topic, newEventMessage(ev), false); err != nil {
		return fmt.Errorf("publishing %s to %s: %w", ev.Kind, topic, err)
	}
	return nil
}

// InfluxSink appends each event to the tailnet_events measurement.
type InfluxSink struct {
	w EventWriter
}

// NewInfluxSink creates a sink writing through w.
func NewInfluxSink(w EventWriter) *InfluxSink {
	return &InfluxSink{w: w}
}

// Notify queues the event point. Write failures surface asynchronously
// through the InfluxDB client's error callback.
func (s *InfluxSink) Notify(_ context.Context, ev tracker.Event) error {
	if s.w == nil {
		return ErrNoTarget
	}
	s.w.WriteEvent(EventRecord(ev))
	return nil
}

// EventRecord converts a tracker event to its InfluxDB record.
func EventRecord(ev tracker.Event) influxdb.EventRecord {
	return influxdb.EventRecord{
		EntityID:   ev.EntityID,
		Kind:       string(ev.Kind),
		NodeID:     ev.NodeID,
		DeviceName: ev.DeviceName,
		User:       ev.User,
		Extra:      ev.Extra,
		Timestamp:  ev.Timestamp,
	}
}

// HubSink broadcasts each event to WebSocket clients subscribed to
// tailnet.{kind}.
type HubSink struct {
	hub Broadcaster
}

// NewHubSink creates a sink broadcasting through hub.
func NewHubSink(hub Broadcaster) *HubSink {
	return &HubSink{hub: hub}
}

// Notify broadcasts the event.
func (s *HubSink) Notify(_ context.Context, ev tracker.Event) error {
	if s.hub == nil {
		return ErrNoTarget
	}
	s.hub.Broadcast(HubChannelPrefix+string(ev.Kind), newEventMessage(ev))
	return nil
}
