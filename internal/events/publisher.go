// Package events publishes session lifecycle events to the message bus.
//
// Each transition the session store reports (created, expired, evicted,
// invalidated, revoked) becomes one MQTT message, so services that
// track presence can react when a session ends without polling
// Gatehouse. Publishing is best-effort: a broker outage never affects
// the authentication outcome that produced the event.
package events

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/yourmine/gatehouse/internal/infrastructure/mqtt"
	"github.com/yourmine/gatehouse/internal/session"
)

// tokenPrefixLen is how much of a session token the payload carries.
// Enough to correlate with audit entries, never enough to replay.
const tokenPrefixLen = 8

// publishClient is the slice of the MQTT client the publisher needs.
type publishClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// payload is the wire form of a session event.
type payload struct {
	Event       string `json:"event"`
	TokenPrefix string `json:"token_prefix"`
	PrincipalID string `json:"principal_id"`
	At          string `json:"at"`
}

// Publisher forwards session store events to the broker.
type Publisher struct {
	client publishClient
	qos    byte
	logger *slog.Logger
}

// NewPublisher creates a session event publisher.
func NewPublisher(client publishClient, qos byte, logger *slog.Logger) *Publisher {
	return &Publisher{
		client: client,
		qos:    qos,
		logger: logger,
	}
}

// HandleSessionEvent publishes one session lifecycle event. Intended
// to be registered via session.Store.OnEvent. Failures are logged and
// swallowed.
func (p *Publisher) HandleSessionEvent(e session.Event) {
	body, err := json.Marshal(buildPayload(e))
	if err != nil {
		p.logger.Error("marshalling session event", "event", e.Type, "error", err)
		return
	}

	topic := mqtt.Topics{}.SessionEvent(e.Type)
	if err := p.client.Publish(topic, body, p.qos, false); err != nil {
		p.logger.Warn("publishing session event",
			"event", e.Type,
			"topic", topic,
			"error", err,
		)
	}
}

// buildPayload converts a store event into its wire form.
func buildPayload(e session.Event) payload {
	prefix := e.Token
	if len(prefix) > tokenPrefixLen {
		prefix = prefix[:tokenPrefixLen]
	}
	return payload{
		Event:       e.Type,
		TokenPrefix: prefix,
		PrincipalID: e.PrincipalID,
		At:          e.At.UTC().Format(time.RFC3339),
	}
}
