package app

import (
	"errors"
	"strings"
	"time"

	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/events/dispatch"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/platform/envutil"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/platform/logger"
)

const (
	minPollInterval = time.Second
	maxPollInterval = 5 * time.Second
)

type Config struct {
	ServiceName string
	Environment string
	Version     string
	Port        string

	DBDriver       string
	DBDSN          string
	DBMaxOpenConns int
	DBMaxIdleConns int

	DispatchAttempts  int
	DispatchBaseDelay time.Duration

	ConflictAttempts int

	OutboxPollInterval time.Duration
	OutboxBatchSize    int

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	IndexPrefix   string

	KafkaBrokers     []string
	KafkaTopicPrefix string

	Neo4jURI      string
	Neo4jUser     string
	Neo4jPassword string
	Neo4jDatabase string

	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string
	NotifyDedupeTTL   time.Duration

	AdminJWTSecret string
	AdminJWTIssuer string
	CORSOrigins    []string
}

func LoadConfig(log *logger.Logger) Config {
	cfg := Config{
		ServiceName: envutil.String("SERVICE_NAME", "agency-booking"),
		Environment: envutil.String("APP_ENV", "development"),
		Version:     envutil.String("APP_VERSION", "dev"),
		Port:        envutil.String("PORT", "8080"),

		DBDriver:       envutil.String("DB_DRIVER", "postgres"),
		DBDSN:          envutil.String("DATABASE_URL", ""),
		DBMaxOpenConns: envutil.Int("DB_MAX_OPEN_CONNS", 20),
		DBMaxIdleConns: envutil.Int("DB_MAX_IDLE_CONNS", 10),

		DispatchAttempts:  envutil.Int("DISPATCH_ATTEMPTS", 3),
		DispatchBaseDelay: envutil.Duration("DISPATCH_BASE_DELAY", 100*time.Millisecond),

		ConflictAttempts: envutil.Int("AGGREGATE_CONFLICT_ATTEMPTS", 5),

		OutboxPollInterval: envutil.Duration("OUTBOX_POLL_INTERVAL", 2*time.Second),
		OutboxBatchSize:    envutil.Int("OUTBOX_BATCH_SIZE", 10),

		RedisAddr:     envutil.String("REDIS_ADDR", ""),
		RedisPassword: envutil.String("REDIS_PASSWORD", ""),
		RedisDB:       envutil.Int("REDIS_DB", 0),
		IndexPrefix:   envutil.String("INDEX_PREFIX", "booking"),

		KafkaBrokers:     envutil.List("KAFKA_BROKERS"),
		KafkaTopicPrefix: envutil.String("KAFKA_TOPIC_PREFIX", "booking"),

		Neo4jURI:      envutil.String("NEO4J_URI", ""),
		Neo4jUser:     envutil.String("NEO4J_USER", "neo4j"),
		Neo4jPassword: envutil.String("NEO4J_PASSWORD", ""),
		Neo4jDatabase: envutil.String("NEO4J_DATABASE", ""),

		SendGridAPIKey:    envutil.String("SENDGRID_API_KEY", ""),
		SendGridFromEmail: envutil.String("SENDGRID_FROM_EMAIL", "no-reply@example.com"),
		SendGridFromName:  envutil.String("SENDGRID_FROM_NAME", "Agency Booking"),
		NotifyDedupeTTL:   envutil.Duration("NOTIFY_DEDUPE_TTL", 7*24*time.Hour),

		AdminJWTSecret: envutil.String("ADMIN_JWT_SECRET", ""),
		AdminJWTIssuer: envutil.String("ADMIN_JWT_ISSUER", ""),
		CORSOrigins:    envutil.List("CORS_ORIGINS"),
	}

	if cfg.OutboxPollInterval < minPollInterval || cfg.OutboxPollInterval > maxPollInterval {
		clamped := clampDuration(cfg.OutboxPollInterval, minPollInterval, maxPollInterval)
		log.Warn("OUTBOX_POLL_INTERVAL out of range, clamping",
			"configured", cfg.OutboxPollInterval.String(),
			"using", clamped.String(),
		)
		cfg.OutboxPollInterval = clamped
	}
	if cfg.OutboxBatchSize < 1 {
		cfg.OutboxBatchSize = 10
	}
	if cfg.DispatchAttempts < 1 || cfg.DispatchAttempts > dispatch.MaxAttempts {
		clamped := min(max(cfg.DispatchAttempts, 1), dispatch.MaxAttempts)
		log.Warn("DISPATCH_ATTEMPTS out of range, clamping",
			"configured", cfg.DispatchAttempts,
			"using", clamped,
		)
		cfg.DispatchAttempts = clamped
	}
	if cfg.AdminJWTSecret == "" {
		log.Warn("ADMIN_JWT_SECRET not set; operator routes are unauthenticated")
	}
	return cfg
}

var ErrMissingAdminSecret = errors.New("ADMIN_JWT_SECRET is required in production")

func (c Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

// Validate rejects settings the service must not start with.
func (c Config) Validate() error {
	if c.IsProduction() && c.AdminJWTSecret == "" {
		return ErrMissingAdminSecret
	}
	return nil
}

func clampDuration(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}
