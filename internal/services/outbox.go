package services

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/data/aggregates"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/data/eventstore"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/data/outbox"
	domainagg "github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/domain/aggregates"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/platform/dbctx"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/platform/logger"
)

// OperatorService exposes the outbox and the event store to operators.
type OperatorService interface {
	ListExhausted(ctx context.Context, limit int) ([]*outbox.Message, error)
	// Requeue resets an exhausted message so the processor retries it.
	Requeue(ctx context.Context, id uuid.UUID) (*outbox.Message, error)
	History(ctx context.Context, aggregateID uuid.UUID) ([]*eventstore.Record, error)
}

type operatorService struct {
	outbox outbox.Store
	store  eventstore.Store
	deps   aggregates.BaseDeps
	log    *logger.Logger
}

func NewOperatorService(deps aggregates.BaseDeps, outboxStore outbox.Store, store eventstore.Store) OperatorService {
	deps = deps.WithDefaults()
	return &operatorService{
		outbox: outboxStore,
		store:  store,
		deps:   deps,
		log:    deps.Log.With("service", "OperatorService"),
	}
}

func (s *operatorService) ListExhausted(ctx context.Context, limit int) ([]*outbox.Message, error) {
	return s.outbox.ListExhausted(dbctx.Context{Ctx: ctx}, limit)
}

func (s *operatorService) Requeue(ctx context.Context, id uuid.UUID) (*outbox.Message, error) {
	const op = "Operator.RequeueOutbox"
	var msg *outbox.Message
	err := aggregates.ExecuteWrite(ctx, s.deps, op, func(dbc dbctx.Context) error {
		ok, err := s.outbox.Requeue(dbc, id)
		if err != nil {
			return err
		}
		msg, err = s.outbox.GetByID(dbc, id)
		if err != nil {
			return err
		}
		if !ok {
			return domainagg.NewError(domainagg.CodePreconditionFailed, op,
				"outbox message is "+string(msg.Status())+", only exhausted messages can be requeued", nil)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Ctx(ctx).Info("outbox message requeued", "outbox_id", id, "kind", msg.EventKind)
	return msg, nil
}

func (s *operatorService) History(ctx context.Context, aggregateID uuid.UUID) ([]*eventstore.Record, error) {
	return s.store.LoadStream(dbctx.Context{Ctx: ctx}, aggregateID)
}

// committed reports whether err was raised after the write became durable:
// handler failures or a failed follow-up commit round.
func committed(err error) bool {
	var c interface{ Committed() bool }
	return errors.As(err, &c) && c.Committed()
}
