// Package mqtt provides MQTT client connectivity for the Tailnet Monitor.
//
// MQTT is the outward event bus: pollers publish transition events, the
// entity registry mirrors availability and capabilities to retained state
// topics, and other systems trigger an immediate poll by publishing to a
// refresh command topic. See Topics for the hierarchy.
//
// # Security Considerations
//
//   - Use TLS outside a trusted network (cfg.Broker.TLS=true)
//   - Payloads never contain Tailscale API keys
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, log)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topic := mqtt.Topics{}.EntityEvent("home", "device_joined")
//	err = client.PublishJSON(topic, event, false)
package mqtt
