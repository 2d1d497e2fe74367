// Package outbox persists events whose delivery failed so they can be redelivered
// out of band.
package outbox

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/domain/events"
)

// MaxRetries bounds redelivery. A message that reaches it stays in the table for
// an operator.
const MaxRetries = 5

const maxErrorLen = 2000

type Status string

const (
	StatusPending   Status = "pending"
	StatusProcessed Status = "processed"
	StatusExhausted Status = "exhausted"
)

// Message is one undelivered event.
type Message struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`

	AggregateID uuid.UUID      `gorm:"type:uuid;not null;index" json:"aggregate_id"`
	EventKind   string         `gorm:"column:event_kind;not null;index" json:"event_kind"`
	Payload     datatypes.JSON `gorm:"column:payload;not null" json:"payload"`

	CreatedAt   time.Time  `gorm:"not null;index" json:"created_at"`
	ProcessedAt *time.Time `gorm:"index" json:"processed_at,omitempty"`
	RetryCount  int        `gorm:"column:retry_count;not null" json:"retry_count"`
	LastError   string     `gorm:"column:last_error;type:text" json:"last_error"`
}

func (Message) TableName() string { return "event_outbox" }

// NewMessage captures evt for redelivery. cause is the dispatch failure that
// forced the message to be written.
func NewMessage(evt events.Event, cause error) (*Message, error) {
	payload, err := events.Encode(evt)
	if err != nil {
		return nil, err
	}
	m := &Message{
		ID:          uuid.New(),
		AggregateID: evt.AggregateID(),
		EventKind:   evt.Kind(),
		Payload:     datatypes.JSON(payload),
		CreatedAt:   time.Now().UTC(),
	}
	if cause != nil {
		m.LastError = truncateError(cause.Error())
	}
	return m, nil
}

func (m *Message) Status() Status {
	switch {
	case m.ProcessedAt != nil:
		return StatusProcessed
	case m.RetryCount >= MaxRetries:
		return StatusExhausted
	default:
		return StatusPending
	}
}

func (m *Message) MarkProcessed(at time.Time) {
	at = at.UTC()
	m.ProcessedAt = &at
}

// MarkFailed records one failed redelivery and reports whether the message is
// now exhausted.
func (m *Message) MarkFailed(err error) bool {
	if m.RetryCount < MaxRetries {
		m.RetryCount++
	}
	if err != nil {
		m.LastError = truncateError(err.Error())
	}
	return m.RetryCount >= MaxRetries
}

func truncateError(msg string) string {
	msg = strings.TrimSpace(msg)
	if len(msg) > maxErrorLen {
		return msg[:maxErrorLen]
	}
	return msg
}
