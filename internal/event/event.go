// Package event defines the telemetry event model and its durable encoding.
package event

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Event is one discrete telemetry record. Payloads arrive already sanitized;
// the pipeline never inspects or rewrites them. Attempt is maintained by the
// pipeline's retry bookkeeping, all other fields are immutable after New.
type Event struct {
	ID          uuid.UUID       `json:"id"`
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	CreatedAtMs int64           `json:"createdAt"`
	Attempt     int             `json:"attempt"`
}

// New creates an event with a fresh UUID.
func New(eventType string, payload []byte, nowMs int64) Event {
	return Event{
		ID:          uuid.New(),
		Type:        eventType,
		Payload:     json.RawMessage(payload),
		CreatedAtMs: nowMs,
	}
}

// header is the durable metadata stored alongside the payload. Attempt is
// deliberately absent: it lives in the queue's retry records so that
// rewriting it does not rewrite the payload.
type header struct {
	ID          uuid.UUID `json:"id"`
	Type        string    `json:"type"`
	CreatedAtMs int64     `json:"createdAt"`
}

// Encode renders the event as a framed durable record.
func Encode(ev Event) ([]byte, error) {
	h, err := json.Marshal(header{ID: ev.ID, Type: ev.Type, CreatedAtMs: ev.CreatedAtMs})
	if err != nil {
		return nil, err
	}
	return Frame(h, ev.Payload), nil
}

// Decode parses a framed durable record back into an event.
// Returns false when the frame or header is unreadable.
func Decode(b []byte) (Event, bool) {
	h, payload, ok := Unframe(b)
	if !ok {
		return Event{}, false
	}
	var hdr header
	if err := json.Unmarshal(h, &hdr); err != nil {
		return Event{}, false
	}
	return Event{ID: hdr.ID, Type: hdr.Type, Payload: payload, CreatedAtMs: hdr.CreatedAtMs}, true
}
