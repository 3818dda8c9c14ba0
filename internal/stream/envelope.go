package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidEnvelope means a delivery body is not a usable Envelope.
var ErrInvalidEnvelope = errors.New("invalid envelope")

// Envelope is the JSON message shape carried on every stream.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	SentAt  time.Time       `json:"sent_at"`
}

// Decode parses body into an Envelope. The type field is required.
func Decode(body []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %w", ErrInvalidEnvelope, err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrInvalidEnvelope)
	}
	return env, nil
}

// Encode marshals an envelope with the given payload.
func Encode(msgType string, payload any, sentAt time.Time) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return json.Marshal(Envelope{Type: msgType, Payload: raw, SentAt: sentAt})
}
