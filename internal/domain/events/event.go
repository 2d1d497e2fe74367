package events

import (
	"time"

	"github.com/google/uuid"
)

// Event is an immutable record of something that happened to one aggregate.
type Event interface {
	EventID() uuid.UUID
	AggregateID() uuid.UUID
	OccurredAt() time.Time
	Kind() string
}

// Meta carries the identity fields every event shares. Concrete events embed it
// and add their own payload fields plus a Kind method.
type Meta struct {
	ID        uuid.UUID `json:"event_id"`
	Aggregate uuid.UUID `json:"aggregate_id"`
	At        time.Time `json:"occurred_at"`
}

// NewMeta stamps a fresh event identity for aggregateID.
func NewMeta(aggregateID uuid.UUID) Meta {
	return Meta{ID: uuid.New(), Aggregate: aggregateID, At: time.Now().UTC()}
}

func (m Meta) EventID() uuid.UUID     { return m.ID }
func (m Meta) AggregateID() uuid.UUID { return m.Aggregate }
func (m Meta) OccurredAt() time.Time  { return m.At }
