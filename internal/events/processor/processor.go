// Package processor redelivers outbox messages in the background.
package processor

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/data/outbox"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/domain/events"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/platform/dbctx"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/platform/logger"
)

type Store interface {
	ListPending(dbc dbctx.Context, limit int) ([]*outbox.Message, error)
	SaveBatch(dbc dbctx.Context, msgs []*outbox.Message) error
}

type Redeliverer interface {
	Redeliver(ctx context.Context, evt events.Event) error
}

// Decoder turns a stored kind tag and payload back into an event.
type Decoder interface {
	Decode(kind string, payload []byte) (events.Event, error)
}

// Observer receives the outcome of every batch.
type Observer interface {
	ObserveOutboxBatch(fetched, processed, failed, exhausted int, err error)
}

type Config struct {
	PollInterval time.Duration
	BatchSize    int
	Observer     Observer
}

func DefaultConfig() Config {
	return Config{PollInterval: 2 * time.Second, BatchSize: 10}
}

func (c Config) normalize() Config {
	def := DefaultConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = def.BatchSize
	}
	return c
}

type Result struct {
	Fetched   int
	Processed int
	Failed    int
	Exhausted int
}

type Processor struct {
	store      Store
	dispatcher Redeliverer
	decoder    Decoder
	log        *logger.Logger
	cfg        Config
	tracer     trace.Tracer
	now        func() time.Time
}

func New(store Store, dispatcher Redeliverer, decoder Decoder, baseLog *logger.Logger, cfg Config) *Processor {
	if baseLog == nil {
		baseLog = logger.NewNop()
	}
	return &Processor{
		store:      store,
		dispatcher: dispatcher,
		decoder:    decoder,
		log:        baseLog.With("component", "OutboxProcessor"),
		cfg:        cfg.normalize(),
		tracer:     otel.Tracer("booking/events/processor"),
		now:        time.Now,
	}
}

// Run polls until ctx is cancelled. It sleeps a full interval after every batch,
// empty or not.
func (p *Processor) Run(ctx context.Context) error {
	p.log.Info("Starting outbox processor", "poll_interval", p.cfg.PollInterval.String(), "batch_size", p.cfg.BatchSize)
	for {
		if ctx.Err() != nil {
			p.log.Info("Outbox processor stopped")
			return nil
		}
		res, err := p.ProcessOnce(ctx)
		if p.cfg.Observer != nil {
			p.cfg.Observer.ObserveOutboxBatch(res.Fetched, res.Processed, res.Failed, res.Exhausted, err)
		}
		if err != nil {
			p.log.Warn("outbox batch failed", "error", err)
		} else if res.Fetched > 0 {
			p.log.Debug("outbox batch done",
				"fetched", res.Fetched,
				"processed", res.Processed,
				"failed", res.Failed,
				"exhausted", res.Exhausted,
			)
		}

		timer := time.NewTimer(p.cfg.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			p.log.Info("Outbox processor stopped")
			return nil
		case <-timer.C:
		}
	}
}

// ProcessOnce redelivers one batch of pending messages and saves their new state
// in one transaction.
func (p *Processor) ProcessOnce(ctx context.Context) (Result, error) {
	var res Result
	ctx, span := p.tracer.Start(ctx, "outbox.process_batch")
	defer span.End()

	msgs, err := p.store.ListPending(dbctx.Context{Ctx: ctx}, p.cfg.BatchSize)
	if err != nil {
		span.RecordError(err)
		return res, err
	}
	res.Fetched = len(msgs)
	if len(msgs) == 0 {
		return res, nil
	}

	touched := make([]*outbox.Message, 0, len(msgs))
	for _, msg := range msgs {
		if ctx.Err() != nil {
			break
		}
		p.processMessage(ctx, msg, &res)
		touched = append(touched, msg)
	}
	span.SetAttributes(
		attribute.Int("outbox.fetched", res.Fetched),
		attribute.Int("outbox.processed", res.Processed),
		attribute.Int("outbox.failed", res.Failed),
	)

	// Outcomes already happened; persist them even when shutdown has begun.
	if err := p.store.SaveBatch(dbctx.Context{Ctx: context.WithoutCancel(ctx)}, touched); err != nil {
		span.RecordError(err)
		p.log.Error("outbox batch save failed", "messages", len(touched), "error", err)
		return res, err
	}
	return res, nil
}

func (p *Processor) processMessage(ctx context.Context, msg *outbox.Message, res *Result) {
	err := p.redeliver(ctx, msg)
	if err == nil {
		msg.MarkProcessed(p.now())
		res.Processed++
		return
	}
	res.Failed++
	exhausted := msg.MarkFailed(err)
	if exhausted {
		res.Exhausted++
		p.log.Error("outbox message exhausted",
			"outbox_id", msg.ID,
			"aggregate_id", msg.AggregateID,
			"kind", msg.EventKind,
			"retry_count", msg.RetryCount,
			"error", err,
		)
		return
	}
	p.log.Warn("outbox redelivery failed",
		"outbox_id", msg.ID,
		"kind", msg.EventKind,
		"retry_count", msg.RetryCount,
		"error", err,
	)
}

func (p *Processor) redeliver(ctx context.Context, msg *outbox.Message) error {
	evt, err := p.decoder.Decode(msg.EventKind, msg.Payload)
	if err != nil {
		return err
	}
	return p.dispatcher.Redeliver(ctx, evt)
}
