package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/data/aggregates"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/data/db"
	repos "github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/data/repos/booking"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/events/commit"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/http"
	httpH "github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/http/handlers"
	httpMW "github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/http/middleware"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/observability"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/platform/logger"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/services"
)

type Services struct {
	Booking  services.BookingService
	Operator services.OperatorService
}

type App struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Cfg      Config
	Clients  Clients
	Pipeline Pipeline
	Services Services
	Metrics  *observability.Metrics
	Server   *http.Server

	database     *db.Service
	otelShutdown func(context.Context) error
	cancel       context.CancelFunc
	background   *errgroup.Group
}

func New() (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	log.Info("Loading environment variables...")
	cfg := LoadConfig(log)
	if err := cfg.Validate(); err != nil {
		log.Sync()
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	otelShutdown := observability.InitTracing(context.Background(), log,
		observability.TracingFromEnv(cfg.ServiceName, cfg.Environment, cfg.Version))
	metrics := observability.Init(log)

	database, err := db.Open(db.Config{
		Driver:       cfg.DBDriver,
		DSN:          cfg.DBDSN,
		MaxOpenConns: cfg.DBMaxOpenConns,
		MaxIdleConns: cfg.DBMaxIdleConns,
	}, log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init database: %w", err)
	}
	if err := database.AutoMigrateAll(); err != nil {
		_ = database.Close()
		log.Sync()
		return nil, fmt.Errorf("database automigrate: %w", err)
	}
	theDB := database.DB()

	clients, err := wireClients(log, cfg)
	if err != nil {
		_ = database.Close()
		log.Sync()
		return nil, err
	}

	pipeline := wirePipeline(theDB, log, cfg, metrics)
	if err := wireEventHandlers(log, cfg, clients, pipeline); err != nil {
		clients.Close()
		_ = database.Close()
		log.Sync()
		return nil, err
	}

	serviceset := wireServices(theDB, log, cfg, pipeline, metrics)
	server := wireServer(log, cfg, theDB, serviceset, metrics)

	return &App{
		Log:          log,
		DB:           theDB,
		Cfg:          cfg,
		Clients:      clients,
		Pipeline:     pipeline,
		Services:     serviceset,
		Metrics:      metrics,
		Server:       server,
		database:     database,
		otelShutdown: otelShutdown,
	}, nil
}

func wireServices(theDB *gorm.DB, log *logger.Logger, cfg Config, p Pipeline, metrics *observability.Metrics) Services {
	log.Info("Wiring services...")
	retry := aggregates.DefaultRetryConfig()
	retry.ConflictAttempts = cfg.ConflictAttempts
	var hooks aggregates.Hooks = aggregates.NewLogHooks(log)
	if metrics != nil {
		hooks = metrics
	}
	retry.Hooks = hooks
	deps := aggregates.BaseDeps{DB: theDB, Log: log, Hooks: hooks}
	return Services{
		Booking: services.NewBookingService(
			log,
			repos.NewAgencyRepo(theDB, log),
			repos.NewAppointmentRepo(theDB, log),
			p.Gate,
			retry,
		),
		Operator: services.NewOperatorService(operatorDeps(deps, p.Gate), p.Outbox, p.Store),
	}
}

// operatorDeps routes operator writes through the gate without event delivery.
func operatorDeps(deps aggregates.BaseDeps, gate *commit.Gate) aggregates.BaseDeps {
	deps.Runner = gate.PlainRunner()
	return deps
}

func wireServer(log *logger.Logger, cfg Config, theDB *gorm.DB, svcs Services, metrics *observability.Metrics) *http.Server {
	log.Info("Wiring http server...")
	ping := func(ctx context.Context) error {
		sqlDB, err := theDB.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	}
	return http.NewServer(":"+cfg.Port, http.RouterConfig{
		ServiceName:     cfg.ServiceName,
		CORSOrigins:     cfg.CORSOrigins,
		Log:             log,
		Metrics:         metrics,
		HealthHandler:   httpH.NewHealthHandler(ping),
		BookingHandler:  httpH.NewBookingHandler(svcs.Booking),
		OperatorHandler: httpH.NewOperatorHandler(svcs.Operator),
		AdminAuth:       httpMW.NewAdminAuth(log, cfg.AdminJWTSecret, cfg.AdminJWTIssuer),
	})
}

// Start launches the outbox processor and the metrics collectors.
func (a *App) Start() {
	if a == nil || a.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.Pipeline.Processor.Run(gctx) })
	a.background = g

	a.Metrics.StartPostgresCollector(ctx, a.Log, a.DB)
	if a.Clients.Redis != nil {
		a.Metrics.StartRedisCollector(ctx, a.Log, a.Clients.Redis)
	}
}

func (a *App) Run() error {
	if a == nil || a.Server == nil {
		return fmt.Errorf("app not initialized")
	}
	a.Log.Info("Server listening", "port", a.Cfg.Port)
	return a.Server.Run()
}

// Close stops the HTTP server first, then the processor, then releases clients.
func (a *App) Close() {
	if a == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if a.Server != nil {
		if err := a.Server.Shutdown(ctx); err != nil {
			a.Log.Warn("http shutdown failed", "error", err)
		}
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if a.background != nil {
		if err := a.background.Wait(); err != nil {
			a.Log.Warn("background loop stopped with error", "error", err)
		}
		a.background = nil
	}
	a.Clients.Close()
	if a.database != nil {
		_ = a.database.Close()
	}
	if a.otelShutdown != nil {
		_ = a.otelShutdown(ctx)
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
