// Package handlers holds the event handlers that project booking events into
// external systems, and the subscription table that binds them to event kinds.
package handlers

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/domain/events"
)

// Envelope is the wire shape handlers publish for an event.
type Envelope struct {
	EventID     uuid.UUID       `json:"event_id"`
	AggregateID uuid.UUID       `json:"aggregate_id"`
	Kind        string          `json:"kind"`
	OccurredAt  time.Time       `json:"occurred_at"`
	Payload     json.RawMessage `json:"payload"`
}

func NewEnvelope(evt events.Event) (Envelope, error) {
	payload, err := events.Encode(evt)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		EventID:     evt.EventID(),
		AggregateID: evt.AggregateID(),
		Kind:        evt.Kind(),
		OccurredAt:  evt.OccurredAt().UTC(),
		Payload:     payload,
	}, nil
}

func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}
