package app

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/data/aggregates"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/data/eventstore"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/data/outbox"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/domain/booking"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/domain/events"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/events/commit"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/events/dispatch"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/events/processor"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/handlers"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/handlers/broker"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/handlers/graph"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/handlers/index"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/handlers/notify"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/observability"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/platform/logger"
)

// Pipeline is the event plumbing shared by every write path.
type Pipeline struct {
	Kinds      *events.Kinds
	Store      eventstore.Store
	Outbox     outbox.Store
	Registry   *dispatch.Registry
	Dispatcher *dispatch.Dispatcher
	Gate       *commit.Gate
	Processor  *processor.Processor
}

func wirePipeline(db *gorm.DB, log *logger.Logger, cfg Config, metrics *observability.Metrics) Pipeline {
	log.Info("Wiring event pipeline...")
	kinds := events.NewKinds()
	booking.RegisterKinds(kinds)

	store := eventstore.NewStore(db, log)
	ob := outbox.NewStore(db, log)
	reg := dispatch.NewRegistry()

	deps := dispatch.Deps{
		Store:    store,
		Outbox:   ob,
		Registry: reg,
		Log:      log,
		Config: dispatch.Config{
			Attempts:  cfg.DispatchAttempts,
			BaseDelay: cfg.DispatchBaseDelay,
		},
	}
	pcfg := processor.Config{
		PollInterval: cfg.OutboxPollInterval,
		BatchSize:    cfg.OutboxBatchSize,
	}
	if metrics != nil {
		deps.Observer = metrics
		pcfg.Observer = metrics
	}
	dispatcher := dispatch.New(deps)

	return Pipeline{
		Kinds:      kinds,
		Store:      store,
		Outbox:     ob,
		Registry:   reg,
		Dispatcher: dispatcher,
		Gate:       commit.NewGate(aggregates.NewGormTxRunner(db), dispatcher, log),
		Processor:  processor.New(ob, dispatcher, kinds, log, pcfg),
	}
}

// wireEventHandlers builds every handler whose client is configured and binds
// them through the subscription table.
func wireEventHandlers(log *logger.Logger, cfg Config, clients Clients, p Pipeline) error {
	log.Info("Wiring event handlers...")
	var available []dispatch.Handler

	if clients.Redis != nil {
		available = append(available, index.New(clients.Redis, log, index.Config{Prefix: cfg.IndexPrefix}))
	}
	if clients.Kafka != nil {
		available = append(available, broker.New(clients.Kafka, log, broker.Config{TopicPrefix: cfg.KafkaTopicPrefix}))
	}
	if clients.Neo4j != nil {
		available = append(available, graph.New(clients.Neo4j, log))
	}

	var mailer notify.Mailer = notify.LogMailer{Log: log}
	if clients.SendGrid != nil {
		mailer = clients.SendGrid
	}
	var opts []notify.Option
	if clients.Redis != nil {
		opts = append(opts, notify.WithDedupe(clients.Redis, cfg.NotifyDedupeTTL))
	}
	available = append(available, notify.New(mailer, log, opts...))

	subs, err := handlers.LoadSubscriptions()
	if err != nil {
		return fmt.Errorf("load subscriptions: %w", err)
	}
	if err := handlers.Bind(p.Registry, subs, available, p.Kinds.Known(), log); err != nil {
		return fmt.Errorf("bind subscriptions: %w", err)
	}
	return nil
}
