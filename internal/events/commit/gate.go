package commit

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/data/aggregates"
	domainagg "github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/domain/aggregates"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/domain/events"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/platform/dbctx"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/platform/logger"
)

const DefaultMaxRounds = 8

// Dispatcher is what the gate needs from the event dispatcher.
type Dispatcher interface {
	Record(dbc dbctx.Context, aggregateID uuid.UUID, evts []events.Event) error
	Deliver(ctx context.Context, evt events.Event) error
}

type Gate struct {
	runner     aggregates.TxRunner
	dispatcher Dispatcher
	log        *logger.Logger
	maxRounds  int
}

type GateOption func(*Gate)

// WithMaxRounds bounds how many follow-up rounds nested commits may trigger.
func WithMaxRounds(n int) GateOption {
	return func(g *Gate) {
		if n > 0 {
			g.maxRounds = n
		}
	}
}

func NewGate(runner aggregates.TxRunner, dispatcher Dispatcher, baseLog *logger.Logger, opts ...GateOption) *Gate {
	if baseLog == nil {
		baseLog = logger.NewNop()
	}
	g := &Gate{
		runner:     runner,
		dispatcher: dispatcher,
		log:        baseLog.With("component", "CommitGate"),
		maxRounds:  DefaultMaxRounds,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

type commitOptions struct {
	skipDispatch bool
}

type Option func(*commitOptions)

// SkipDispatch marks an infrastructure write: it runs in its own transaction and
// no events are extracted.
func SkipDispatch() Option {
	return func(o *commitOptions) { o.skipDispatch = true }
}

// Commit runs write in one transaction together with the event store append for
// every event the scope's aggregates raised, then delivers those events.
//
// A nested Commit on a scope that is already committing returns 0 rows; its write
// runs in a follow-up round of the outermost call. Delivery failures do not undo
// the write: the returned error then joins the *dispatch.Error values while rows
// reports what was written. A follow-up round that fails is reported as a
// *RoundError since the rounds before it stay committed.
func (g *Gate) Commit(ctx context.Context, scope *Scope, write Write, opts ...Option) (int64, error) {
	const op = "events.commit"
	var o commitOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.skipDispatch {
		return g.runPlain(ctx, write)
	}

	if scope == nil {
		scope = ScopeFrom(ctx)
	}
	if scope == nil {
		scope = NewScope()
	}
	if !scope.enter(write) {
		g.log.Debug("nested commit queued", "depth", scope.Depth())
		return 0, nil
	}
	defer scope.leave()
	ctx = WithScope(ctx, scope)

	var (
		total       int64
		deliveryErr []error
	)
	writes := []Write{write}
	for round := 0; len(writes) > 0 || round == 0; round++ {
		if round >= g.maxRounds {
			g.log.Error("nested commit rounds exhausted", "rounds", round, "dropped_writes", len(writes))
			err := domainagg.NewError(domainagg.CodeInternal, op,
				fmt.Sprintf("nested commits still pending after %d rounds", round), nil)
			return total, joinFirst(&RoundError{Rows: total, Round: round, Err: err}, deliveryErr)
		}

		rows, pulled, err := g.physical(ctx, scope, writes)
		if err != nil {
			restore(pulled)
			if round > 0 {
				g.log.Ctx(ctx).Error("nested commit round failed after commit",
					"round", round, "dropped_writes", len(writes), "error", err)
				err = &RoundError{Rows: total, Round: round, Err: err}
			}
			return total, joinFirst(err, deliveryErr)
		}
		total += rows

		for _, b := range pulled {
			for _, evt := range b.evts {
				if err := g.dispatcher.Deliver(ctx, evt); err != nil {
					deliveryErr = append(deliveryErr, err)
				}
			}
		}
		writes = scope.takeQueued()
	}
	return total, errors.Join(deliveryErr...)
}

// physical runs writes and records every pending event in one transaction. The
// pulled events are returned even on failure so the caller can restore them.
func (g *Gate) physical(ctx context.Context, scope *Scope, writes []Write) (int64, []batch, error) {
	var (
		rows   int64
		pulled []batch
	)
	err := g.runner.InTx(ctx, func(dbc dbctx.Context) error {
		rows = 0
		for _, w := range writes {
			if w == nil {
				continue
			}
			n, err := w(dbc)
			if err != nil {
				return err
			}
			rows += n
		}
		pulled = scope.pull()
		for _, b := range pulled {
			for _, stream := range byAggregate(b.evts) {
				if err := g.dispatcher.Record(dbc, stream[0].AggregateID(), stream); err != nil {
					return aggregates.MapError("events.commit.record", err)
				}
			}
		}
		return nil
	})
	if err != nil {
		return 0, pulled, err
	}
	return rows, pulled, nil
}

func (g *Gate) runPlain(ctx context.Context, write Write) (int64, error) {
	if write == nil {
		return 0, nil
	}
	var rows int64
	err := g.runner.InTx(ctx, func(dbc dbctx.Context) error {
		n, err := write(dbc)
		rows = n
		return err
	})
	if err != nil {
		return 0, err
	}
	return rows, nil
}

// PlainRunner adapts g to aggregates.TxRunner for infrastructure writes. Every
// transaction it opens goes through Commit with SkipDispatch.
func (g *Gate) PlainRunner() aggregates.TxRunner {
	return plainRunner{g: g}
}

type plainRunner struct {
	g *Gate
}

func (r plainRunner) InTx(ctx context.Context, fn func(dbc dbctx.Context) error) error {
	if fn == nil {
		return nil
	}
	_, err := r.g.Commit(ctx, nil, func(dbc dbctx.Context) (int64, error) {
		return 0, fn(dbc)
	}, SkipDispatch())
	return err
}

// byAggregate splits evts into runs that share an aggregate, keeping order.
func byAggregate(evts []events.Event) [][]events.Event {
	var out [][]events.Event
	for _, evt := range evts {
		n := len(out)
		if n > 0 && out[n-1][0].AggregateID() == evt.AggregateID() {
			out[n-1] = append(out[n-1], evt)
			continue
		}
		out = append(out, []events.Event{evt})
	}
	return out
}

func joinFirst(err error, rest []error) error {
	if len(rest) == 0 {
		return err
	}
	return errors.Join(append([]error{err}, rest...)...)
}
