// Package notify delivers tracker events to the outside world.
//
// Each sink implements tracker.Sink. A Poller holds exactly one Sink, so
// the process wires them together with Multi:
//
//	sink := notify.Multi{
//	    notify.NewLogSink(logger),
//	    notify.NewMQTTSink(mqttClient),
//	    notify.NewInfluxSink(influxClient),
//	    notify.NewHubSink(hub),
//	}
//
// Sinks depend on small interfaces rather than the concrete MQTT, InfluxDB
// and WebSocket types so they can be exercised without live services.
package notify
