package mqtt

import "fmt"

// Topic prefixes for Gatehouse messages.
//
// Scheme: gatehouse/{category}/{detail}
const (
	// TopicPrefix is the base for all Gatehouse topics.
	TopicPrefix = "gatehouse"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "gatehouse/system"

	// TopicPrefixSessions is the base for session lifecycle topics.
	TopicPrefixSessions = "gatehouse/sessions"
)

// Topics provides builders for Gatehouse MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	topic := topics.SessionEvent("expired")
//	// Returns: "gatehouse/sessions/expired"
type Topics struct{}

// SystemStatus returns the topic for Gatehouse online/offline status.
// Retained, so new subscribers immediately learn the current state.
//
// Example: gatehouse/system/status
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}

// SessionEvent returns the topic for a session lifecycle event type
// (created, expired, evicted, invalidated, revoked).
//
// Example: gatehouse/sessions/evicted
func (Topics) SessionEvent(eventType string) string {
	return fmt.Sprintf("%s/%s", TopicPrefixSessions, eventType)
}

// AllSessionEvents returns the wildcard subscription for every session
// lifecycle event, for consumers such as presence trackers.
//
// Example: gatehouse/sessions/+
func (Topics) AllSessionEvents() string {
	return TopicPrefixSessions + "/+"
}
