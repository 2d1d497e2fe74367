package aggregates_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/data/aggregates"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/data/aggregates/testutil"
	domainagg "github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/domain/aggregates"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/platform/dbctx"
)

func fastRetryConfig(hooks aggregates.Hooks) aggregates.RetryConfig {
	cfg := aggregates.DefaultRetryConfig()
	cfg.Op = "booking.test"
	cfg.ConflictBaseDelay = time.Millisecond
	cfg.ConflictMaxDelay = 2 * time.Millisecond
	cfg.AbortStep = time.Millisecond
	cfg.Hooks = hooks
	return cfg
}

func TestRetryStopsAfterConflictBudget(t *testing.T) {
	hooks := &testutil.HooksRecorder{}
	cfg := fastRetryConfig(hooks)
	cfg.ConflictAttempts = 4

	calls := 0
	err := aggregates.Retry(context.Background(), cfg, func(context.Context) error {
		calls++
		return aggregates.ConflictError("stale version")
	})
	if !domainagg.IsCode(err, domainagg.CodeConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if calls != 4 {
		t.Fatalf("calls: want=4 got=%d", calls)
	}
	if hooks.RetryCount() != 3 {
		t.Fatalf("retries: want=3 got=%d", hooks.RetryCount())
	}
}

func TestRetryStopsAfterAbortBudget(t *testing.T) {
	cfg := fastRetryConfig(nil)
	cfg.AbortAttempts = 2

	calls := 0
	err := aggregates.Retry(context.Background(), cfg, func(context.Context) error {
		calls++
		return aggregates.RetryableError("could not serialize access")
	})
	if !domainagg.IsCode(err, domainagg.CodeRetryable) {
		t.Fatalf("expected retryable, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("calls: want=2 got=%d", calls)
	}
}

func TestRetryBudgetsAreIndependent(t *testing.T) {
	cfg := fastRetryConfig(nil)
	cfg.ConflictAttempts = 3
	cfg.AbortAttempts = 3

	script := []error{
		aggregates.RetryableError("deadlock detected"),
		aggregates.ConflictError("stale"),
		aggregates.RetryableError("deadlock detected"),
		aggregates.ConflictError("stale"),
		nil,
	}
	calls := 0
	err := aggregates.Retry(context.Background(), cfg, func(context.Context) error {
		e := script[calls]
		calls++
		return e
	})
	if err != nil {
		t.Fatalf("expected success after mixed failures, got %v", err)
	}
	if calls != len(script) {
		t.Fatalf("calls: want=%d got=%d", len(script), calls)
	}
}

func TestRetryDoesNotRetryValidation(t *testing.T) {
	calls := 0
	err := aggregates.Retry(context.Background(), fastRetryConfig(nil), func(context.Context) error {
		calls++
		return domainagg.NewError(domainagg.CodeValidation, "op", "bad", nil)
	})
	if !domainagg.IsCode(err, domainagg.CodeValidation) || calls != 1 {
		t.Fatalf("validation: want one call got calls=%d err=%v", calls, err)
	}
}

type committedErr struct{ msg string }

func (e *committedErr) Error() string   { return e.msg }
func (e *committedErr) Committed() bool { return true }

func TestRetryReturnsCommittedFailureUntouched(t *testing.T) {
	in := &committedErr{msg: "handler timeout after commit"}
	calls := 0
	err := aggregates.Retry(context.Background(), fastRetryConfig(nil), func(context.Context) error {
		calls++
		return in
	})
	if calls != 1 {
		t.Fatalf("calls: want=1 got=%d", calls)
	}
	if !errors.Is(err, in) {
		t.Fatalf("expected committed failure passthrough, got %v", err)
	}
}

func TestRetryTxThreadsIsolation(t *testing.T) {
	runner := &testutil.InjectedTxRunner{}
	cfg := fastRetryConfig(nil)
	cfg.Isolation = sql.LevelSerializable

	calls := 0
	err := aggregates.RetryTx(context.Background(), runner, cfg, func(dbctx.Context) error {
		calls++
		if calls == 1 {
			return aggregates.ConflictError("stale")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RetryTx: %v", err)
	}
	if len(runner.Isolations) != 2 {
		t.Fatalf("transactions: want=2 got=%d", len(runner.Isolations))
	}
	for i, iso := range runner.Isolations {
		if iso != sql.LevelSerializable {
			t.Fatalf("isolation[%d]: want=%v got=%v", i, sql.LevelSerializable, iso)
		}
	}
	_, commits, rollbacks := runner.Counters()
	if commits != 1 || rollbacks != 1 {
		t.Fatalf("counters: want commit=1 rollback=1 got commit=%d rollback=%d", commits, rollbacks)
	}
}

func TestRetryHonorsCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := aggregates.Retry(ctx, fastRetryConfig(nil), func(context.Context) error {
		calls++
		return nil
	})
	if calls != 0 {
		t.Fatalf("calls: want=0 got=%d", calls)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled in chain, got %v", err)
	}
}
