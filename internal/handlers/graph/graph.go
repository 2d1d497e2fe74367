// Package graph projects agencies, customers and appointments into neo4j.
package graph

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/domain/booking"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/domain/events"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/platform/logger"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/platform/neo4jdb"
)

const Name = "graph_projection"

// Constraints keeps node ids unique so MERGE stays idempotent under redelivery.
var Constraints = []string{
	`CREATE CONSTRAINT agency_id_unique IF NOT EXISTS FOR (a:Agency) REQUIRE a.id IS UNIQUE`,
	`CREATE CONSTRAINT appointment_id_unique IF NOT EXISTS FOR (p:Appointment) REQUIRE p.id IS UNIQUE`,
	`CREATE CONSTRAINT customer_email_unique IF NOT EXISTS FOR (c:Customer) REQUIRE c.email IS UNIQUE`,
}

// Writer is the part of *neo4jdb.Client the projection uses.
type Writer interface {
	ExecuteWrite(ctx context.Context, stmts []neo4jdb.Statement) error
}

type Projection struct {
	w   Writer
	log *logger.Logger
}

func New(w Writer, baseLog *logger.Logger) *Projection {
	if baseLog == nil {
		baseLog = logger.NewNop()
	}
	return &Projection{w: w, log: baseLog.With("handler", Name)}
}

func (p *Projection) Name() string { return Name }

func (p *Projection) Handle(ctx context.Context, evt events.Event) error {
	stmts := Statements(evt)
	if len(stmts) == 0 {
		return nil
	}
	if err := p.w.ExecuteWrite(ctx, stmts); err != nil {
		return fmt.Errorf("graph projection %s: %w", evt.Kind(), err)
	}
	p.log.Debug("graph projected", "kind", evt.Kind(), "event_id", evt.EventID())
	return nil
}

// Statements maps an event onto MERGE/SET cypher. Unknown events produce none.
func Statements(evt events.Event) []neo4jdb.Statement {
	at := evt.OccurredAt().UTC().Format(time.RFC3339Nano)
	switch e := evt.(type) {
	case *booking.AgencyRegistered:
		return []neo4jdb.Statement{{
			Cypher: `
MERGE (a:Agency {id: $id})
SET a.name = $name, a.email = $email, a.daily_capacity = $capacity, a.updated_at = $at`,
			Params: map[string]any{
				"id":       e.AggregateID().String(),
				"name":     e.Name,
				"email":    strings.ToLower(e.Email),
				"capacity": int64(e.DailyCapacity),
				"at":       at,
			},
		}}
	case *booking.AgencyRenamed:
		return []neo4jdb.Statement{{
			Cypher: `
MERGE (a:Agency {id: $id})
SET a.name = $name, a.updated_at = $at`,
			Params: map[string]any{"id": e.AggregateID().String(), "name": e.To, "at": at},
		}}
	case *booking.HolidayDeclared:
		return []neo4jdb.Statement{{
			Cypher: `
MERGE (a:Agency {id: $id})
MERGE (h:Holiday {agency_id: $id, date: $date})
SET h.label = $label
MERGE (a)-[:CLOSED_ON]->(h)`,
			Params: map[string]any{"id": e.AggregateID().String(), "date": e.Date, "label": e.Label},
		}}
	case *booking.AppointmentBooked:
		return []neo4jdb.Statement{{
			Cypher: `
MERGE (a:Agency {id: $agency_id})
MERGE (c:Customer {email: $email})
MERGE (p:Appointment {id: $id})
SET p.slot_start = $slot, p.status = $status, p.updated_at = $at
MERGE (c)-[:BOOKED]->(p)
MERGE (p)-[:AT]->(a)`,
			Params: map[string]any{
				"agency_id": e.AgencyID.String(),
				"email":     strings.ToLower(e.CustomerEmail),
				"id":        e.AggregateID().String(),
				"slot":      e.SlotStart.UTC().Format(time.RFC3339),
				"status":    string(booking.AppointmentStatusBooked),
				"at":        at,
			},
		}}
	case *booking.AppointmentCancelled:
		return []neo4jdb.Statement{{
			Cypher: `
MERGE (p:Appointment {id: $id})
SET p.status = $status, p.cancel_reason = $reason, p.updated_at = $at`,
			Params: map[string]any{
				"id":     e.AggregateID().String(),
				"status": string(booking.AppointmentStatusCancelled),
				"reason": e.Reason,
				"at":     at,
			},
		}}
	default:
		return nil
	}
}
