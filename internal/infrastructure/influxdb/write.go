package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// MeasurementEvents holds one point per transition event.
const MeasurementEvents = "tailnet_events"

// EventRecord is a transition event as stored in InfluxDB.
type EventRecord struct {
	EntityID   string
	Kind       string
	NodeID     string
	DeviceName string
	User       string

	// Extra holds event-specific values (offline_minutes, online).
	// Only numbers, booleans and strings are written.
	Extra map[string]any

	Timestamp time.Time
}

// WriteEvent queues an event point. It does not block; batch failures
// go to the callback given to Connect. Events after Close are dropped.
//
// Tags: entity_id, kind, node_id. Fields: device_name, user, plus extras.
func (c *Client) WriteEvent(rec EventRecord) {
	if c.writeAPI == nil || c.closed.Load() {
		return
	}
	c.writeAPI.WritePoint(eventPoint(rec))
	c.written.Add(1)
}

// eventPoint builds the point for rec.
func eventPoint(rec EventRecord) *write.Point {
	tags := map[string]string{
		"entity_id": rec.EntityID,
		"kind":      rec.Kind,
	}
	if rec.NodeID != "" {
		tags["node_id"] = rec.NodeID
	}

	fields := map[string]interface{}{
		"device_name": rec.DeviceName,
		"user":        rec.User,
	}
	for k, v := range rec.Extra {
		switch v.(type) {
		case int, int32, int64, float32, float64, bool, string:
			fields[k] = v
		}
	}

	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return write.NewPoint(MeasurementEvents, tags, fields, ts)
}
