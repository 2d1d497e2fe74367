package aggregates

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	domainagg "github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/domain/aggregates"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/platform/dbctx"
)

// RetryConfig configures RetryTx/Retry. Conflicts and aborted transactions are
// different failure classes and keep separate budgets and backoff shapes.
type RetryConfig struct {
	Op        string
	Isolation sql.IsolationLevel

	// Version conflicts: exponential backoff with jitter.
	ConflictAttempts  int
	ConflictBaseDelay time.Duration
	ConflictMaxDelay  time.Duration

	// Serialization failures, deadlocks, lock timeouts: linear backoff.
	AbortAttempts int
	AbortStep     time.Duration

	Hooks Hooks
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Op:                "aggregate.retry",
		Isolation:         sql.LevelDefault,
		ConflictAttempts:  5,
		ConflictBaseDelay: 20 * time.Millisecond,
		ConflictMaxDelay:  time.Second,
		AbortAttempts:     3,
		AbortStep:         50 * time.Millisecond,
	}
}

func (c RetryConfig) normalize() RetryConfig {
	def := DefaultRetryConfig()
	if strings.TrimSpace(c.Op) == "" {
		c.Op = def.Op
	}
	if c.ConflictAttempts < 1 {
		c.ConflictAttempts = 1
	}
	if c.AbortAttempts < 1 {
		c.AbortAttempts = 1
	}
	if c.ConflictBaseDelay < 0 {
		c.ConflictBaseDelay = 0
	}
	if c.ConflictMaxDelay < c.ConflictBaseDelay {
		c.ConflictMaxDelay = c.ConflictBaseDelay
	}
	if c.AbortStep < 0 {
		c.AbortStep = 0
	}
	if c.Hooks == nil {
		c.Hooks = noopHooks{}
	}
	return c
}

// committedFailure is implemented by errors reported after the write already
// committed (e.g. handler failures). Re-running the body would duplicate the write.
type committedFailure interface {
	Committed() bool
}

// RetryTx runs fn in a transaction at cfg.Isolation and re-runs the whole
// transaction after conflicts or aborts. fn must be safe to execute again.
func RetryTx(ctx context.Context, runner TxRunner, cfg RetryConfig, fn func(dbc dbctx.Context) error) error {
	if runner == nil {
		return domainagg.NewError(domainagg.CodeInternal, cfg.Op, "retry requires a transaction runner", nil)
	}
	return Retry(ctx, cfg, func(ctx context.Context) error {
		return runner.InTx(ctx, fn)
	})
}

// Retry re-runs an operation that opens its own transactions (through a TxRunner
// reading ctx) with the isolation level and retry policies of cfg.
func Retry(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	cfg = cfg.normalize()
	if fn == nil {
		return nil
	}
	ctx = WithTxOptions(ctx, &sql.TxOptions{Isolation: cfg.Isolation})

	conflictPolicy := &backoff.ExponentialBackOff{
		InitialInterval:     cfg.ConflictBaseDelay,
		RandomizationFactor: 0.5,
		Multiplier:          2,
		MaxInterval:         cfg.ConflictMaxDelay,
	}
	conflictPolicy.Reset()
	abortPolicy := &linearBackOff{step: cfg.AbortStep}

	conflicts, aborts := 0, 0
	for {
		if err := ctx.Err(); err != nil {
			return MapError(cfg.Op, err)
		}
		raw := fn(ctx)
		if raw == nil {
			return nil
		}
		var committed committedFailure
		if errors.As(raw, &committed) && committed.Committed() {
			return raw
		}
		err := MapError(cfg.Op, raw)
		if ctx.Err() != nil {
			return err
		}

		var wait time.Duration
		switch {
		case domainagg.IsCode(err, domainagg.CodeConflict):
			conflicts++
			if conflicts >= cfg.ConflictAttempts {
				return err
			}
			wait = conflictPolicy.NextBackOff()
		case domainagg.IsCode(err, domainagg.CodeRetryable):
			aborts++
			if aborts >= cfg.AbortAttempts {
				return err
			}
			wait = abortPolicy.NextBackOff()
		default:
			return err
		}
		if wait == backoff.Stop {
			return err
		}
		cfg.Hooks.IncRetry(cfg.Op)
		if !sleepCtx(ctx, wait) {
			return err
		}
	}
}

// linearBackOff waits step, 2*step, 3*step, ...
type linearBackOff struct {
	step time.Duration
	n    int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.n++
	return time.Duration(b.n) * b.step
}

func (b *linearBackOff) Reset() { b.n = 0 }

var _ backoff.BackOff = (*linearBackOff)(nil)

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
