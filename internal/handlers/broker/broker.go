// Package broker publishes booking events to kafka.
package broker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/domain/events"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/handlers"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/platform/logger"
)

const Name = "broker_publisher"

// Writer is the part of *kafka.Writer the publisher uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Config struct {
	Brokers     []string
	TopicPrefix string
	// WriteTimeout bounds one publish; the dispatcher retries on top of it.
	WriteTimeout time.Duration
}

// NewWriter builds a hash-balanced writer so one aggregate's events stay on one
// partition in order.
func NewWriter(cfg Config) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchSize:    1,
		WriteTimeout: cfg.WriteTimeout,
	}
}

type Publisher struct {
	w      Writer
	prefix string
	log    *logger.Logger
}

func New(w Writer, baseLog *logger.Logger, cfg Config) *Publisher {
	if baseLog == nil {
		baseLog = logger.NewNop()
	}
	prefix := strings.Trim(strings.TrimSpace(cfg.TopicPrefix), ".")
	if prefix == "" {
		prefix = "booking"
	}
	return &Publisher{w: w, prefix: prefix, log: baseLog.With("handler", Name)}
}

func (p *Publisher) Name() string { return Name }

// Topic routes by the kind's leading segment: "appointment.booked" goes to
// "<prefix>.appointment".
func (p *Publisher) Topic(kind string) string {
	family := kind
	if i := strings.IndexByte(kind, '.'); i > 0 {
		family = kind[:i]
	}
	return p.prefix + "." + family
}

// Handle publishes one message keyed by aggregate id. Consumers dedupe on the
// event_id header.
func (p *Publisher) Handle(ctx context.Context, evt events.Event) error {
	env, err := handlers.NewEnvelope(evt)
	if err != nil {
		return err
	}
	value, err := env.Marshal()
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Topic: p.Topic(env.Kind),
		Key:   []byte(env.AggregateID.String()),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(env.EventID.String())},
			{Key: "event_kind", Value: []byte(env.Kind)},
		},
		Time: env.OccurredAt,
	}
	msg.Headers = injectTraceHeaders(ctx, msg.Headers)
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s: %w", env.Kind, err)
	}
	p.log.Debug("event published", "topic", msg.Topic, "event_id", env.EventID.String())
	return nil
}

func (p *Publisher) Close() error {
	if p == nil || p.w == nil {
		return nil
	}
	return p.w.Close()
}

func injectTraceHeaders(ctx context.Context, headers []kafka.Header) []kafka.Header {
	carrier := &headerCarrier{headers: headers}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	return carrier.headers
}

type headerCarrier struct {
	headers []kafka.Header
}

func (c *headerCarrier) Get(key string) string {
	for _, h := range c.headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c *headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c.headers))
	for _, h := range c.headers {
		keys = append(keys, h.Key)
	}
	return keys
}

func (c *headerCarrier) Set(key, value string) {
	for i := range c.headers {
		if c.headers[i].Key == key {
			c.headers[i].Value = []byte(value)
			return
		}
	}
	c.headers = append(c.headers, kafka.Header{Key: key, Value: []byte(value)})
}

var _ propagation.TextMapCarrier = (*headerCarrier)(nil)
