// Package dispatch records domain events and fans them out to registered handlers
// with bounded inline retry, falling back to the outbox on permanent failure.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/data/eventstore"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/data/outbox"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/domain/events"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/platform/dbctx"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/platform/logger"
)

type Config struct {
	// Attempts per handler, first call included.
	Attempts int
	// BaseDelay is the wait after the first failure; it doubles per attempt.
	BaseDelay time.Duration
}

const (
	MaxAttempts = 10
	// MaxBackoff caps the wait between two handler attempts.
	MaxBackoff = 30 * time.Second
)

func DefaultConfig() Config {
	return Config{Attempts: 3, BaseDelay: 100 * time.Millisecond}
}

func (c Config) normalize() Config {
	if c.Attempts < 1 {
		c.Attempts = 1
	}
	if c.Attempts > MaxAttempts {
		c.Attempts = MaxAttempts
	}
	if c.BaseDelay < 0 {
		c.BaseDelay = 0
	}
	return c
}

// maxInterval is BaseDelay * 2^(Attempts-1), capped at MaxBackoff.
func (c Config) maxInterval() time.Duration {
	d := c.BaseDelay
	for i := 1; i < c.Attempts; i++ {
		if d > MaxBackoff/2 {
			return MaxBackoff
		}
		d *= 2
	}
	if d > MaxBackoff {
		return MaxBackoff
	}
	return d
}

// OutboxWriter is the slice of the outbox store the dispatcher needs.
type OutboxWriter interface {
	Create(dbc dbctx.Context, msg *outbox.Message) error
}

// Observer is told about every handler that still fails after inline retry.
type Observer interface {
	HandlerFailed(handler, kind string)
}

type noopObserver struct{}

func (noopObserver) HandlerFailed(string, string) {}

type Deps struct {
	Store    eventstore.Store
	Outbox   OutboxWriter
	Registry *Registry
	Log      *logger.Logger
	Config   Config
	Tracer   trace.Tracer
	Observer Observer
}

type binding struct {
	name   string
	invoke func(ctx context.Context, evt events.Event) error
}

type resolved struct {
	gen      uint64
	bindings []binding
}

type Dispatcher struct {
	store    eventstore.Store
	outbox   OutboxWriter
	registry *Registry
	log      *logger.Logger
	cfg      Config
	tracer   trace.Tracer
	observer Observer

	cache       sync.Map // kind -> *resolved
	group       singleflight.Group
	resolutions atomic.Int64
}

func New(deps Deps) *Dispatcher {
	if deps.Log == nil {
		deps.Log = logger.NewNop()
	}
	if deps.Registry == nil {
		deps.Registry = NewRegistry()
	}
	if deps.Tracer == nil {
		deps.Tracer = otel.Tracer("booking/events/dispatch")
	}
	if deps.Observer == nil {
		deps.Observer = noopObserver{}
	}
	return &Dispatcher{
		store:    deps.Store,
		outbox:   deps.Outbox,
		registry: deps.Registry,
		log:      deps.Log.With("component", "EventDispatcher"),
		cfg:      deps.Config.normalize(),
		tracer:   deps.Tracer,
		observer: deps.Observer,
	}
}

// Dispatch records evt and delivers it to every handler for its kind.
func (d *Dispatcher) Dispatch(ctx context.Context, evt events.Event) error {
	if evt == nil {
		return nil
	}
	if err := d.Record(dbctx.Context{Ctx: ctx}, evt.AggregateID(), []events.Event{evt}); err != nil {
		return err
	}
	return d.Deliver(ctx, evt)
}

// Record appends evts to aggregateID's stream. Inside a commit dbc carries the
// caller's transaction.
func (d *Dispatcher) Record(dbc dbctx.Context, aggregateID uuid.UUID, evts []events.Event) error {
	if len(evts) == 0 {
		return nil
	}
	if d.store == nil {
		return fmt.Errorf("dispatch: no event store configured")
	}
	_, err := d.store.AppendToStream(dbc, aggregateID, evts)
	return err
}

// Deliver runs every handler for evt. Permanent failures produce one outbox row
// and a *Error.
func (d *Dispatcher) Deliver(ctx context.Context, evt events.Event) error {
	dispatchErr := d.deliver(ctx, evt, "deliver")
	if dispatchErr == nil {
		return nil
	}

	msg, err := outbox.NewMessage(evt, dispatchErr)
	if err == nil {
		if d.outbox == nil {
			err = fmt.Errorf("no outbox configured")
		} else {
			// The outbox row must survive a caller that gave up.
			err = d.outbox.Create(dbctx.Context{Ctx: context.WithoutCancel(ctx)}, msg)
		}
	}
	if err != nil {
		dispatchErr.OutboxErr = err
		d.log.Ctx(ctx).Error("outbox write failed, event will not be redelivered",
			"event_id", evt.EventID(),
			"aggregate_id", evt.AggregateID(),
			"kind", evt.Kind(),
			"error", err,
		)
		return dispatchErr
	}
	dispatchErr.OutboxID = msg.ID
	d.log.Ctx(ctx).Warn("event parked in outbox",
		"event_id", evt.EventID(),
		"kind", evt.Kind(),
		"outbox_id", msg.ID,
		"failed_handlers", dispatchErr.FailedHandlers(),
	)
	return dispatchErr
}

// Redeliver records evt again and re-runs every handler for its kind without
// writing a new outbox row. The caller owns the existing row.
func (d *Dispatcher) Redeliver(ctx context.Context, evt events.Event) error {
	if evt == nil {
		return nil
	}
	if err := d.Record(dbctx.Context{Ctx: ctx}, evt.AggregateID(), []events.Event{evt}); err != nil {
		return err
	}
	if dispatchErr := d.deliver(ctx, evt, "redeliver"); dispatchErr != nil {
		return dispatchErr
	}
	return nil
}

func (d *Dispatcher) deliver(ctx context.Context, evt events.Event, mode string) *Error {
	ctx, span := d.tracer.Start(ctx, "events.dispatch",
		trace.WithAttributes(
			attribute.String("event.kind", evt.Kind()),
			attribute.String("event.id", evt.EventID().String()),
			attribute.String("aggregate.id", evt.AggregateID().String()),
			attribute.String("dispatch.mode", mode),
		),
	)
	defer span.End()

	bindings := d.resolve(evt.Kind())
	span.SetAttributes(attribute.Int("dispatch.handlers", len(bindings)))

	var failures []HandlerFailure
	for _, b := range bindings {
		attempts, err := d.invoke(ctx, b, evt)
		if err == nil {
			continue
		}
		d.log.Ctx(ctx).Error("event handler failed",
			"handler", b.name,
			"kind", evt.Kind(),
			"event_id", evt.EventID(),
			"attempts", attempts,
			"error", err,
		)
		span.RecordError(err, trace.WithAttributes(attribute.String("handler", b.name)))
		d.observer.HandlerFailed(b.name, evt.Kind())
		failures = append(failures, HandlerFailure{Handler: b.name, Attempts: attempts, Err: err})
	}
	if len(failures) == 0 {
		return nil
	}
	span.SetStatus(codes.Error, fmt.Sprintf("%d handler(s) failed", len(failures)))
	return &Error{
		EventID:     evt.EventID(),
		AggregateID: evt.AggregateID(),
		Kind:        evt.Kind(),
		Failures:    failures,
	}
}

func (d *Dispatcher) invoke(ctx context.Context, b binding, evt events.Event) (int, error) {
	policy := &backoff.ExponentialBackOff{
		InitialInterval:     d.cfg.BaseDelay,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         d.cfg.maxInterval(),
	}
	attempts := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		return struct{}{}, safeCall(ctx, b, evt)
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(d.cfg.Attempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, wait time.Duration) {
			d.log.Debug("event handler retry",
				"handler", b.name,
				"event_id", evt.EventID(),
				"attempt", attempts,
				"wait_ms", wait.Milliseconds(),
				"error", err,
			)
		}),
	)
	return attempts, err
}

func safeCall(ctx context.Context, b binding, evt events.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler %s panicked: %v", b.name, r)
		}
	}()
	return b.invoke(ctx, evt)
}

func (d *Dispatcher) resolve(kind string) []binding {
	gen := d.registry.Generation()
	if v, ok := d.cache.Load(kind); ok {
		if r := v.(*resolved); r.gen == gen {
			return r.bindings
		}
	}
	v, _, _ := d.group.Do(kind, func() (any, error) {
		if v, ok := d.cache.Load(kind); ok {
			if r := v.(*resolved); r.gen == gen {
				return r, nil
			}
		}
		handlers := d.registry.Handlers(kind)
		r := &resolved{gen: gen, bindings: make([]binding, 0, len(handlers))}
		for _, h := range handlers {
			r.bindings = append(r.bindings, binding{name: h.Name(), invoke: h.Handle})
		}
		d.resolutions.Add(1)
		d.cache.Store(kind, r)
		return r, nil
	})
	return v.(*resolved).bindings
}

// Resolutions counts handler-set computations, not cache hits.
func (d *Dispatcher) Resolutions() int64 { return d.resolutions.Load() }

// AsError returns the *Error in err's chain, if any.
func AsError(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}
