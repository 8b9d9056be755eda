// Package influxdb provides InfluxDB connectivity for the Tailnet Monitor.
//
// It wraps the official influxdb-client-go v2 library and is used as an
// append-only log of transition events (device joined, reconnected,
// connected, disconnected). It is not queried back by the service.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB, func(err error) {
//	    log.Error("InfluxDB write error", "error", err)
//	})
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // event log switched off
//	}
//	defer client.Close()
//
//	client.WriteEvent(influxdb.EventRecord{
//	    EntityID: "home",
//	    Kind:     "device_reconnected",
//	    NodeID:   "n1",
//	    Extra:    map[string]any{"offline_minutes": 16},
//	})
//
// # Error Handling
//
// Writes are batched and non-blocking; batch errors are delivered to the
// callback passed to Connect and counted in Stats. Connection and health
// check errors are returned directly.
package influxdb
