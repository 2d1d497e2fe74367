package app

import (
	"errors"
	"testing"
	"time"

	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/platform/logger"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg := LoadConfig(logger.NewNop())
	if cfg.OutboxPollInterval != 2*time.Second {
		t.Fatalf("poll interval: want=2s got=%s", cfg.OutboxPollInterval)
	}
	if cfg.OutboxBatchSize != 10 {
		t.Fatalf("batch size: want=10 got=%d", cfg.OutboxBatchSize)
	}
	if cfg.DispatchAttempts != 3 {
		t.Fatalf("dispatch attempts: want=3 got=%d", cfg.DispatchAttempts)
	}
}

func TestLoadConfigClampsPollInterval(t *testing.T) {
	cases := []struct {
		raw  string
		want time.Duration
	}{
		{"100ms", time.Second},
		{"30s", 5 * time.Second},
		{"3", 3 * time.Second},
	}
	for _, tc := range cases {
		t.Setenv("OUTBOX_POLL_INTERVAL", tc.raw)
		cfg := LoadConfig(logger.NewNop())
		if cfg.OutboxPollInterval != tc.want {
			t.Fatalf("poll %q: want=%s got=%s", tc.raw, tc.want, cfg.OutboxPollInterval)
		}
	}
}

func TestLoadConfigLists(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("OUTBOX_BATCH_SIZE", "0")
	cfg := LoadConfig(logger.NewNop())
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Fatalf("brokers: got=%v", cfg.KafkaBrokers)
	}
	if cfg.OutboxBatchSize != 10 {
		t.Fatalf("batch size fallback: want=10 got=%d", cfg.OutboxBatchSize)
	}
}

func TestLoadConfigClampsDispatchAttempts(t *testing.T) {
	cases := []struct {
		raw  string
		want int
	}{
		{"0", 1},
		{"64", 10},
		{"5", 5},
	}
	for _, tc := range cases {
		t.Setenv("DISPATCH_ATTEMPTS", tc.raw)
		cfg := LoadConfig(logger.NewNop())
		if cfg.DispatchAttempts != tc.want {
			t.Fatalf("attempts %q: want=%d got=%d", tc.raw, tc.want, cfg.DispatchAttempts)
		}
	}
}

func TestValidateRequiresAdminSecretInProduction(t *testing.T) {
	cases := []struct {
		env, secret string
		want        error
	}{
		{"production", "", ErrMissingAdminSecret},
		{"Prod", "", ErrMissingAdminSecret},
		{"production", "s3cret", nil},
		{"development", "", nil},
	}
	for _, tc := range cases {
		t.Setenv("APP_ENV", tc.env)
		t.Setenv("ADMIN_JWT_SECRET", tc.secret)
		err := LoadConfig(logger.NewNop()).Validate()
		if !errors.Is(err, tc.want) {
			t.Fatalf("env=%s secret=%q: want=%v got=%v", tc.env, tc.secret, tc.want, err)
		}
	}
}
