// Package mqtt provides MQTT client connectivity for Gatehouse.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// Gatehouse publishes session lifecycle events (created, expired,
// evicted, invalidated, revoked) so neighbouring services that care
// about presence, live chat in particular, can react when a session
// ends without polling. Gatehouse never subscribes; this package is
// publish-only.
//
// # Security Considerations
//
//   - TLS is required for production deployments (events.broker.tls: true)
//   - Credentials are validated against broker ACL
//   - Event payloads carry token prefixes only, never whole tokens
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.Events)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	topic := mqtt.Topics{}.SessionEvent("expired")
//	client.Publish(topic, payload, byte(cfg.Events.QoS), false)
package mqtt
