package app

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/clients/redis"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/clients/sendgrid"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/handlers/broker"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/handlers/graph"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/platform/logger"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/platform/neo4jdb"
)

// Clients holds the optional external collaborators. A nil field means the
// matching environment was not configured.
type Clients struct {
	Redis    *goredis.Client
	Kafka    broker.Writer
	SendGrid sendgrid.Client
	Neo4j    *neo4jdb.Client
}

func wireClients(log *logger.Logger, cfg Config) (Clients, error) {
	log.Info("Wiring clients...")
	var out Clients

	// Redis
	if cfg.RedisAddr != "" {
		rdb, err := redis.NewClient(log, redis.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return Clients{}, fmt.Errorf("init redis client: %w", err)
		}
		out.Redis = rdb
	} else {
		log.Warn("REDIS_ADDR not set; search index disabled")
	}

	// Kafka
	if len(cfg.KafkaBrokers) > 0 {
		out.Kafka = broker.NewWriter(broker.Config{
			Brokers:     cfg.KafkaBrokers,
			TopicPrefix: cfg.KafkaTopicPrefix,
		})
	} else {
		log.Warn("KAFKA_BROKERS not set; broker publisher disabled")
	}

	// Neo4j
	if cfg.Neo4jURI != "" {
		nc, err := neo4jdb.New(log, neo4jdb.Config{
			URI:      cfg.Neo4jURI,
			User:     cfg.Neo4jUser,
			Password: cfg.Neo4jPassword,
			Database: cfg.Neo4jDatabase,
		})
		if err != nil {
			out.Close()
			return Clients{}, fmt.Errorf("init neo4j client: %w", err)
		}
		if err := nc.EnsureConstraints(context.Background(), graph.Constraints); err != nil {
			_ = nc.Close(context.Background())
			out.Close()
			return Clients{}, err
		}
		out.Neo4j = nc
	}

	// SendGrid
	if cfg.SendGridAPIKey != "" {
		sg, err := sendgrid.New(log, sendgrid.Config{
			APIKey:           cfg.SendGridAPIKey,
			DefaultFromEmail: cfg.SendGridFromEmail,
			DefaultFromName:  cfg.SendGridFromName,
		})
		if err != nil {
			out.Close()
			return Clients{}, fmt.Errorf("init sendgrid client: %w", err)
		}
		out.SendGrid = sg
	}
	return out, nil
}

func (c *Clients) Close() {
	if c == nil {
		return
	}
	if c.Kafka != nil {
		_ = c.Kafka.Close()
	}
	if c.Redis != nil {
		_ = c.Redis.Close()
	}
	if c.Neo4j != nil {
		_ = c.Neo4j.Close(context.Background())
	}
}
