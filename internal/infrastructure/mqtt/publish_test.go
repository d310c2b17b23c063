package mqtt

import (
	"errors"
	"testing"
)

// A zero-value client is never connected, so input validation can be
// exercised without a broker.
func TestPublish_Validation(t *testing.T) {
	c := &Client{}

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		wantErr error
	}{
		{"empty topic", "", []byte("x"), 1, ErrInvalidTopic},
		{"invalid qos", "gatehouse/sessions/created", []byte("x"), 3, ErrInvalidQoS},
		{"oversized payload", "gatehouse/sessions/created", make([]byte, maxPayloadSize+1), 1, ErrPublishFailed},
		{"disconnected", "gatehouse/sessions/created", []byte("x"), 1, ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Publish(tt.topic, tt.payload, tt.qos, false)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Publish() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
