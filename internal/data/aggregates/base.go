package aggregates

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"

	domainagg "github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/domain/aggregates"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/platform/dbctx"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/platform/logger"
)

const statusOK = "success"

// BaseDeps is what a single versioned write needs. Zero fields are derived
// from DB by WithDefaults.
type BaseDeps struct {
	DB       *gorm.DB
	Log      *logger.Logger
	Runner   TxRunner
	Hooks    Hooks
	CASGuard CASGuard
}

func (d BaseDeps) WithDefaults() BaseDeps {
	if d.Log == nil {
		d.Log = logger.NewNop()
	}
	if d.Hooks == nil {
		d.Hooks = noopHooks{}
	}
	if d.Runner == nil {
		d.Runner = NewGormTxRunner(d.DB)
	}
	if d.CASGuard.db == nil {
		d.CASGuard = NewCASGuard(d.DB)
	}
	return d
}

// ExecuteWrite runs fn once inside a transaction. The returned error always
// carries an aggregate code; the hooks see the op, its outcome and its latency.
func ExecuteWrite(ctx context.Context, deps BaseDeps, op string, fn func(dbc dbctx.Context) error) error {
	deps = deps.WithDefaults()
	if op = strings.TrimSpace(op); op == "" {
		op = "aggregate.write"
	}

	start := time.Now()
	err := MapError(op, deps.Runner.InTx(ctx, fn))
	status := outcome(err)
	if status == string(domainagg.CodeConflict) {
		deps.Hooks.IncConflict(op)
	}
	deps.Hooks.ObserveOperation(op, status, time.Since(start))
	return err
}

// outcome is the metric label for a write result.
func outcome(err error) string {
	if err == nil {
		return statusOK
	}
	if code := domainagg.CodeOf(MapError("aggregate.outcome", err)); code != "" {
		return string(code)
	}
	return "failure"
}
