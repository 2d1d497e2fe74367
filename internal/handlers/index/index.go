// Package index keeps a redis read model of agencies and appointments and appends
// every event to a feed stream for downstream consumers.
package index

import (
	"context"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/domain/booking"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/domain/events"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/handlers"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/platform/logger"
)

const Name = "search_index"

type Config struct {
	// Prefix namespaces every key the handler writes.
	Prefix string
	// FeedMaxLen trims the feed stream; 0 keeps everything.
	FeedMaxLen int64
	// SeenTTL is how long delivered event ids are remembered for deduplication.
	SeenTTL time.Duration
}

func (c Config) normalize() Config {
	c.Prefix = strings.TrimSuffix(strings.TrimSpace(c.Prefix), ":")
	if c.Prefix == "" {
		c.Prefix = "booking"
	}
	if c.FeedMaxLen < 0 {
		c.FeedMaxLen = 0
	}
	if c.SeenTTL <= 0 {
		c.SeenTTL = 24 * time.Hour
	}
	return c
}

type Handler struct {
	rdb goredis.UniversalClient
	cfg Config
	log *logger.Logger
}

func New(rdb goredis.UniversalClient, baseLog *logger.Logger, cfg Config) *Handler {
	if baseLog == nil {
		baseLog = logger.NewNop()
	}
	return &Handler{rdb: rdb, cfg: cfg.normalize(), log: baseLog.With("handler", Name)}
}

func (h *Handler) Name() string { return Name }

func (h *Handler) FeedKey() string { return h.cfg.Prefix + ":feed" }

func (h *Handler) DocKey(aggregateID string) string {
	return h.cfg.Prefix + ":index:" + aggregateID
}

func (h *Handler) seenKey(eventID string) string {
	return h.cfg.Prefix + ":seen:" + eventID
}

// Handle is idempotent on the event id: a redelivered event that already reached
// redis is skipped.
func (h *Handler) Handle(ctx context.Context, evt events.Event) error {
	env, err := handlers.NewEnvelope(evt)
	if err != nil {
		return err
	}
	eventID := env.EventID.String()
	seen, err := h.rdb.Exists(ctx, h.seenKey(eventID)).Result()
	if err != nil {
		return fmt.Errorf("index dedupe lookup: %w", err)
	}
	if seen > 0 {
		h.log.Debug("event already indexed", "event_id", eventID, "kind", env.Kind)
		return nil
	}

	fields := docFields(evt)
	fields["last_event_id"] = eventID
	fields["last_kind"] = env.Kind
	fields["updated_at"] = env.OccurredAt.Format(time.RFC3339Nano)

	_, err = h.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: h.FeedKey(),
			MaxLen: h.cfg.FeedMaxLen,
			Values: map[string]any{
				"event_id":     eventID,
				"aggregate_id": env.AggregateID.String(),
				"kind":         env.Kind,
				"payload":      string(env.Payload),
			},
		})
		pipe.HSet(ctx, h.DocKey(env.AggregateID.String()), fields)
		pipe.Set(ctx, h.seenKey(eventID), "1", h.cfg.SeenTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("index write: %w", err)
	}
	return nil
}

// docFields projects the event onto the aggregate's index document.
func docFields(evt events.Event) map[string]any {
	switch e := evt.(type) {
	case *booking.AgencyRegistered:
		return map[string]any{
			"type":           "agency",
			"name":           e.Name,
			"email":          e.Email,
			"daily_capacity": e.DailyCapacity,
		}
	case *booking.AgencyRenamed:
		return map[string]any{"type": "agency", "name": e.To}
	case *booking.HolidayDeclared:
		return map[string]any{"type": "agency", "last_holiday": e.Date}
	case *booking.AppointmentBooked:
		return map[string]any{
			"type":           "appointment",
			"agency_id":      e.AgencyID.String(),
			"customer_email": e.CustomerEmail,
			"slot_start":     e.SlotStart.UTC().Format(time.RFC3339),
			"status":         booking.AppointmentStatusBooked,
		}
	case *booking.AppointmentCancelled:
		return map[string]any{
			"type":   "appointment",
			"status": booking.AppointmentStatusCancelled,
		}
	default:
		return map[string]any{}
	}
}
