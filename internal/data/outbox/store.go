package outbox

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/platform/dbctx"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/platform/logger"
)

type Store interface {
	Create(dbc dbctx.Context, msg *Message) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*Message, error)

	// ListPending returns unprocessed messages under the retry bound, oldest first.
	ListPending(dbc dbctx.Context, limit int) ([]*Message, error)
	// ListExhausted returns unprocessed messages that reached the retry bound.
	ListExhausted(dbc dbctx.Context, limit int) ([]*Message, error)

	// SaveBatch persists the processing state of msgs in one transaction.
	SaveBatch(dbc dbctx.Context, msgs []*Message) error
	// Requeue resets an exhausted message so the processor picks it up again.
	Requeue(dbc dbctx.Context, id uuid.UUID) (bool, error)
}

type gormStore struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewStore(db *gorm.DB, baseLog *logger.Logger) Store {
	if baseLog == nil {
		baseLog = logger.NewNop()
	}
	return &gormStore{db: db, log: baseLog.With("repo", "OutboxStore")}
}

func (s *gormStore) Create(dbc dbctx.Context, msg *Message) error {
	if msg == nil {
		return fmt.Errorf("outbox create: nil message")
	}
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	return dbc.DB(s.db).Create(msg).Error
}

func (s *gormStore) GetByID(dbc dbctx.Context, id uuid.UUID) (*Message, error) {
	var m Message
	if err := dbc.DB(s.db).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *gormStore) ListPending(dbc dbctx.Context, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = 10
	}
	var out []*Message
	if err := dbc.DB(s.db).
		Where("processed_at IS NULL AND retry_count < ?", MaxRetries).
		Order("created_at ASC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (s *gormStore) ListExhausted(dbc dbctx.Context, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []*Message
	if err := dbc.DB(s.db).
		Where("processed_at IS NULL AND retry_count >= ?", MaxRetries).
		Order("created_at ASC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (s *gormStore) SaveBatch(dbc dbctx.Context, msgs []*Message) error {
	if len(msgs) == 0 {
		return nil
	}
	write := func(tx *gorm.DB) error {
		for _, m := range msgs {
			if m == nil {
				continue
			}
			if err := tx.Model(&Message{}).
				Where("id = ?", m.ID).
				Updates(map[string]interface{}{
					"processed_at": m.ProcessedAt,
					"retry_count":  m.RetryCount,
					"last_error":   m.LastError,
				}).Error; err != nil {
				return fmt.Errorf("save outbox message %s: %w", m.ID, err)
			}
		}
		return nil
	}
	if dbc.Tx != nil {
		return write(dbc.DB(nil))
	}
	return dbc.DB(s.db).Transaction(write)
}

func (s *gormStore) Requeue(dbc dbctx.Context, id uuid.UUID) (bool, error) {
	if id == uuid.Nil {
		return false, nil
	}
	res := dbc.DB(s.db).
		Model(&Message{}).
		Where("id = ? AND processed_at IS NULL AND retry_count >= ?", id, MaxRetries).
		Updates(map[string]interface{}{
			"retry_count": 0,
			"last_error":  "",
		})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected > 0 {
		s.log.Info("outbox message requeued", "outbox_id", id)
	}
	return res.RowsAffected > 0, nil
}
