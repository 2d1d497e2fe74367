package observability

import (
	"context"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/platform/logger"
)

// Metrics is a Prometheus text exposition of the request path and the event
// pipeline. A nil *Metrics is valid and records nothing.
type Metrics struct {
	apiRequests *CounterVec
	apiLatency  *HistogramVec
	apiInflight *Gauge

	aggregateOps       *HistogramVec
	aggregateConflicts *CounterVec
	aggregateRetries   *CounterVec

	handlerFailures *CounterVec
	outboxBatches   *CounterVec
	outboxMessages  *CounterVec

	pgStats   *GaugeVec
	redisUp   *Gauge
	redisPing *Gauge
}

func Enabled() bool {
	v := strings.TrimSpace(os.Getenv("METRICS_ENABLED"))
	if v == "" {
		return false
	}
	return strings.EqualFold(v, "true") || v == "1" || strings.EqualFold(v, "yes")
}

func scrapeInterval() time.Duration {
	v := strings.TrimSpace(os.Getenv("METRICS_SCRAPE_INTERVAL_SECONDS"))
	if v == "" {
		return 10 * time.Second
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 10 * time.Second
	}
	return time.Duration(n) * time.Second
}

// Init returns nil unless METRICS_ENABLED is set.
func Init(log *logger.Logger) *Metrics {
	if !Enabled() {
		return nil
	}
	m := New()
	if log != nil {
		log.Info("metrics enabled", "scrape_interval", scrapeInterval().String())
	}
	return m
}

func New() *Metrics {
	return &Metrics{
		apiRequests: NewCounterVec("booking_api_requests_total", "Total API requests by method/route/status.", []string{"method", "route", "status"}),
		apiLatency:  NewHistogramVec("booking_api_request_duration_seconds", "API latency by method/route.", []string{"method", "route"}, nil),
		apiInflight: NewGauge("booking_api_inflight_requests", "API requests in flight."),

		aggregateOps:       NewHistogramVec("booking_aggregate_operation_duration_seconds", "Aggregate write latency by operation/status.", []string{"operation", "status"}, nil),
		aggregateConflicts: NewCounterVec("booking_aggregate_conflicts_total", "Optimistic concurrency conflicts by operation.", []string{"operation"}),
		aggregateRetries:   NewCounterVec("booking_aggregate_retries_total", "Aggregate write retries by operation.", []string{"operation"}),

		handlerFailures: NewCounterVec("booking_event_handler_failures_total", "Event handler failures after inline retry.", []string{"handler", "kind"}),
		outboxBatches:   NewCounterVec("booking_outbox_batches_total", "Outbox processor batches by outcome.", []string{"outcome"}),
		outboxMessages:  NewCounterVec("booking_outbox_messages_total", "Outbox messages handled by outcome.", []string{"outcome"}),

		pgStats:   NewGaugeVec("booking_db_pool", "Database pool statistics.", []string{"stat"}),
		redisUp:   NewGauge("booking_redis_up", "Redis reachability (1 up, 0 down)."),
		redisPing: NewGauge("booking_redis_ping_seconds", "Redis ping latency."),
	}
}

func (m *Metrics) APIInflightInc() {
	if m == nil {
		return
	}
	m.apiInflight.Add(1)
}

func (m *Metrics) APIInflightDec() {
	if m == nil {
		return
	}
	m.apiInflight.Add(-1)
}

func (m *Metrics) ObserveAPI(method, route, status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.apiRequests.Inc(method, route, status)
	m.apiLatency.Observe(dur.Seconds(), method, route)
}

func (m *Metrics) ObserveOperation(name, status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.aggregateOps.Observe(dur.Seconds(), name, status)
}

func (m *Metrics) IncConflict(name string) {
	if m == nil {
		return
	}
	m.aggregateConflicts.Inc(name)
}

func (m *Metrics) IncRetry(name string) {
	if m == nil {
		return
	}
	m.aggregateRetries.Inc(name)
}

func (m *Metrics) HandlerFailed(handler, kind string) {
	if m == nil {
		return
	}
	m.handlerFailures.Inc(handler, kind)
}

func (m *Metrics) ObserveOutboxBatch(fetched, processed, failed, exhausted int, err error) {
	if m == nil {
		return
	}
	switch {
	case err != nil:
		m.outboxBatches.Inc("error")
	case fetched == 0:
		m.outboxBatches.Inc("empty")
	default:
		m.outboxBatches.Inc("ok")
	}
	m.outboxMessages.Add(float64(processed), "processed")
	m.outboxMessages.Add(float64(failed), "failed")
	m.outboxMessages.Add(float64(exhausted), "exhausted")
}

func (m *Metrics) WriteHTTP(w http.ResponseWriter, r *http.Request) {
	if m == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_ = m.WritePrometheus(w)
}

func (m *Metrics) WritePrometheus(w io.Writer) error {
	if m == nil {
		return nil
	}
	writers := []interface{ WritePrometheus(io.Writer) error }{
		m.apiRequests, m.apiLatency, m.apiInflight,
		m.aggregateOps, m.aggregateConflicts, m.aggregateRetries,
		m.handlerFailures, m.outboxBatches, m.outboxMessages,
		m.pgStats, m.redisUp, m.redisPing,
	}
	for _, c := range writers {
		if err := c.WritePrometheus(w); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) StartPostgresCollector(ctx context.Context, log *logger.Logger, db *gorm.DB) {
	if m == nil || db == nil {
		return
	}
	interval := scrapeInterval()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sqlDB, err := db.DB()
				if err != nil {
					if log != nil {
						log.Warn("metrics: db stats unavailable", "error", err)
					}
					continue
				}
				stats := sqlDB.Stats()
				m.pgStats.Set(float64(stats.OpenConnections), "open_connections")
				m.pgStats.Set(float64(stats.InUse), "in_use")
				m.pgStats.Set(float64(stats.Idle), "idle")
				m.pgStats.Set(float64(stats.WaitCount), "wait_count")
				m.pgStats.Set(stats.WaitDuration.Seconds(), "wait_duration_seconds")
				m.pgStats.Set(float64(stats.MaxOpenConnections), "max_open_connections")
			}
		}
	}()
}

// StartRedisCollector pings rdb on every scrape interval. The client is owned by
// the caller.
func (m *Metrics) StartRedisCollector(ctx context.Context, log *logger.Logger, rdb goredis.UniversalClient) {
	if m == nil || rdb == nil {
		return
	}
	interval := scrapeInterval()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.pingRedis(ctx, log, rdb)
			}
		}
	}()
}

func (m *Metrics) pingRedis(ctx context.Context, log *logger.Logger, rdb goredis.UniversalClient) {
	start := time.Now()
	if err := rdb.Ping(ctx).Err(); err != nil {
		m.redisUp.Set(0)
		if log != nil {
			log.Warn("metrics: redis ping failed", "error", err)
		}
		return
	}
	m.redisUp.Set(1)
	m.redisPing.Set(time.Since(start).Seconds())
}
