// Package eventstore persists append-only per-aggregate event streams.
package eventstore

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/domain/events"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/platform/dbctx"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/platform/logger"
)

// Record is one entry of an aggregate stream. Records are never updated or deleted.
// A redelivered event is appended again under a new Seq with the same EventID.
type Record struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`

	AggregateID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_event_store_stream_seq,priority:1" json:"aggregate_id"`
	Seq         int64     `gorm:"column:seq;not null;uniqueIndex:idx_event_store_stream_seq,priority:2" json:"seq"`

	EventID uuid.UUID      `gorm:"type:uuid;not null;index" json:"event_id"`
	Kind    string         `gorm:"column:kind;not null;index" json:"kind"`
	Payload datatypes.JSON `gorm:"column:payload;not null" json:"payload"`

	OccurredAt time.Time `gorm:"not null" json:"occurred_at"`
	RecordedAt time.Time `gorm:"not null;index" json:"recorded_at"`
}

func (Record) TableName() string { return "event_store" }

type Store interface {
	// AppendToStream appends evts to aggregateID's stream in emission order.
	AppendToStream(dbc dbctx.Context, aggregateID uuid.UUID, evts []events.Event) ([]*Record, error)
	// LoadStream returns aggregateID's stream ordered by Seq.
	LoadStream(dbc dbctx.Context, aggregateID uuid.UUID) ([]*Record, error)
}

type gormStore struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewStore(db *gorm.DB, baseLog *logger.Logger) Store {
	if baseLog == nil {
		baseLog = logger.NewNop()
	}
	return &gormStore{db: db, log: baseLog.With("repo", "EventStore")}
}

func (s *gormStore) AppendToStream(dbc dbctx.Context, aggregateID uuid.UUID, evts []events.Event) ([]*Record, error) {
	if aggregateID == uuid.Nil {
		return nil, fmt.Errorf("append to stream: missing aggregate id")
	}
	if len(evts) == 0 {
		return []*Record{}, nil
	}
	now := time.Now().UTC()
	rows := make([]*Record, 0, len(evts))
	for _, evt := range evts {
		if evt == nil {
			return nil, fmt.Errorf("append to stream %s: nil event", aggregateID)
		}
		if evt.AggregateID() != aggregateID {
			return nil, fmt.Errorf("append to stream %s: event %s belongs to %s", aggregateID, evt.EventID(), evt.AggregateID())
		}
		payload, err := events.Encode(evt)
		if err != nil {
			return nil, err
		}
		rows = append(rows, &Record{
			ID:          uuid.New(),
			AggregateID: aggregateID,
			EventID:     evt.EventID(),
			Kind:        evt.Kind(),
			Payload:     datatypes.JSON(payload),
			OccurredAt:  evt.OccurredAt().UTC(),
			RecordedAt:  now,
		})
	}

	write := func(tx *gorm.DB) error {
		if err := lockStream(tx, aggregateID); err != nil {
			return err
		}
		var maxSeq int64
		if err := tx.Model(&Record{}).
			Select("COALESCE(MAX(seq), 0)").
			Where("aggregate_id = ?", aggregateID).
			Scan(&maxSeq).Error; err != nil {
			return err
		}
		for i, row := range rows {
			row.Seq = maxSeq + int64(i) + 1
		}
		return tx.Create(&rows).Error
	}

	var err error
	if dbc.Tx != nil {
		err = write(dbc.DB(nil))
	} else {
		err = dbc.DB(s.db).Transaction(write)
	}
	if err != nil {
		s.log.Error("event append failed", "aggregate_id", aggregateID, "events", len(rows), "error", err)
		return nil, fmt.Errorf("append to stream %s: %w", aggregateID, err)
	}
	return rows, nil
}

// lockStream serializes appends to one stream until the transaction ends, so a
// redelivery and a live commit cannot both read the same MAX(seq). sqlite already
// serializes writers.
func lockStream(tx *gorm.DB, aggregateID uuid.UUID) error {
	if tx.Dialector.Name() != "postgres" {
		return nil
	}
	return tx.Exec("SELECT pg_advisory_xact_lock(hashtextextended(?, 0))", aggregateID.String()).Error
}

func (s *gormStore) LoadStream(dbc dbctx.Context, aggregateID uuid.UUID) ([]*Record, error) {
	var out []*Record
	if aggregateID == uuid.Nil {
		return out, nil
	}
	if err := dbc.DB(s.db).
		Where("aggregate_id = ?", aggregateID).
		Order("seq ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
