package db

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/data/eventstore"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/data/outbox"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/domain/booking"
)

// Models lists every table the service owns.
func Models() []interface{} {
	return []interface{}{
		// Aggregates
		&booking.Agency{},
		&booking.Appointment{},

		// Event plumbing
		&eventstore.Record{},
		&outbox.Message{},
	}
}

func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(Models()...)
}

// EnsureOutboxIndexes adds the partial index the processor polls on. Only postgres
// supports it.
func EnsureOutboxIndexes(db *gorm.DB) error {
	if db.Dialector.Name() != DriverPostgres {
		return nil
	}
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_event_outbox_pending
		ON event_outbox (created_at)
		WHERE processed_at IS NULL;
	`).Error; err != nil {
		return fmt.Errorf("create idx_event_outbox_pending: %w", err)
	}
	return nil
}

func (s *Service) AutoMigrateAll() error {
	s.log.Info("Auto migrating tables...")
	if err := AutoMigrateAll(s.db); err != nil {
		s.log.Error("Auto migration failed", "error", err)
		return err
	}
	if err := EnsureOutboxIndexes(s.db); err != nil {
		s.log.Error("Outbox index migration failed", "error", err)
		return err
	}
	return nil
}
