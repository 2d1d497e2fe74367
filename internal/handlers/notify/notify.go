// Package notify emails customers when their appointments change.
package notify

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/clients/sendgrid"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/domain/booking"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/domain/events"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/platform/logger"
)

const Name = "customer_notifier"

// Mailer delivers one message.
type Mailer interface {
	Send(ctx context.Context, req sendgrid.SendEmailRequest) (*sendgrid.SendEmailResult, error)
}

// LogMailer writes messages to the log. Used when no mail provider is configured.
type LogMailer struct {
	Log *logger.Logger
}

func (m LogMailer) Send(_ context.Context, req sendgrid.SendEmailRequest) (*sendgrid.SendEmailResult, error) {
	to := ""
	if len(req.To) > 0 {
		to = req.To[0].Email
	}
	if m.Log != nil {
		m.Log.Info("email (log only)", "email", to, "subject", req.Subject)
	}
	return &sendgrid.SendEmailResult{}, nil
}

type Notifier struct {
	mailer Mailer
	// sent remembers delivered event ids; nil disables deduplication.
	sent    goredis.UniversalClient
	sentTTL time.Duration
	log     *logger.Logger
}

type Option func(*Notifier)

// WithDedupe records sent event ids in redis so redeliveries do not email twice.
func WithDedupe(rdb goredis.UniversalClient, ttl time.Duration) Option {
	return func(n *Notifier) {
		n.sent = rdb
		if ttl > 0 {
			n.sentTTL = ttl
		}
	}
}

func New(mailer Mailer, baseLog *logger.Logger, opts ...Option) *Notifier {
	if baseLog == nil {
		baseLog = logger.NewNop()
	}
	n := &Notifier{
		mailer:  mailer,
		sentTTL: 7 * 24 * time.Hour,
		log:     baseLog.With("handler", Name),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

func (n *Notifier) Name() string { return Name }

func (n *Notifier) Handle(ctx context.Context, evt events.Event) error {
	req, ok := message(evt)
	if !ok {
		return nil
	}
	key := "notify:sent:" + evt.EventID().String()
	if n.sent != nil {
		seen, err := n.sent.Exists(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("notify dedupe lookup: %w", err)
		}
		if seen > 0 {
			return nil
		}
	}

	if _, err := n.mailer.Send(ctx, req); err != nil {
		return fmt.Errorf("notify %s: %w", evt.Kind(), err)
	}
	if n.sent != nil {
		// The email is out; a failed mark only risks a duplicate on redelivery.
		if err := n.sent.Set(ctx, key, "1", n.sentTTL).Err(); err != nil {
			n.log.Warn("notify dedupe mark failed", "event_id", evt.EventID().String(), "error", err)
		}
	}
	return nil
}

func message(evt events.Event) (sendgrid.SendEmailRequest, bool) {
	args := map[string]string{"event_id": evt.EventID().String()}
	switch e := evt.(type) {
	case *booking.AppointmentBooked:
		return sendgrid.SendEmailRequest{
			To:         []sendgrid.EmailAddress{{Email: e.CustomerEmail}},
			Subject:    "Your appointment is booked",
			Text:       fmt.Sprintf("Your appointment on %s is confirmed.", e.SlotStart.UTC().Format(time.RFC1123)),
			Categories: []string{booking.KindAppointmentBooked},
			CustomArgs: args,
		}, true
	case *booking.AppointmentCancelled:
		text := "Your appointment was cancelled."
		if e.Reason != "" {
			text += " Reason: " + e.Reason
		}
		return sendgrid.SendEmailRequest{
			To:         []sendgrid.EmailAddress{{Email: e.CustomerEmail}},
			Subject:    "Your appointment was cancelled",
			Text:       text,
			Categories: []string{booking.KindAppointmentCancelled},
			CustomArgs: args,
		}, true
	default:
		return sendgrid.SendEmailRequest{}, false
	}
}
