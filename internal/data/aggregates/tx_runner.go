package aggregates

import (
	"context"
	"database/sql"

	domainagg "github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/domain/aggregates"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/platform/dbctx"
	"gorm.io/gorm"
)

// TxRunner provides a shared transaction boundary primitive for aggregate writes.
type TxRunner interface {
	InTx(ctx context.Context, fn func(dbc dbctx.Context) error) error
}

type txOptionsKey struct{}

// WithTxOptions scopes transaction options (isolation level, read-only) to every
// transaction a TxRunner opens under ctx.
func WithTxOptions(ctx context.Context, opts *sql.TxOptions) context.Context {
	return context.WithValue(ctx, txOptionsKey{}, opts)
}

// TxOptionsFrom returns the options scoped by WithTxOptions, or nil.
func TxOptionsFrom(ctx context.Context) *sql.TxOptions {
	if ctx == nil {
		return nil
	}
	opts, _ := ctx.Value(txOptionsKey{}).(*sql.TxOptions)
	return opts
}

type gormTxRunner struct {
	db *gorm.DB
}

// NewGormTxRunner returns a transaction runner backed by GORM transactions.
func NewGormTxRunner(db *gorm.DB) TxRunner {
	return &gormTxRunner{db: db}
}

func (r *gormTxRunner) InTx(ctx context.Context, fn func(dbc dbctx.Context) error) error {
	if fn == nil {
		return nil
	}
	if r == nil || r.db == nil {
		return domainagg.NewError(domainagg.CodeInternal, "aggregate.tx", "transaction runner has nil db", nil)
	}
	body := func(tx *gorm.DB) error {
		return fn(dbctx.Context{Ctx: ctx, Tx: tx})
	}
	if opts := TxOptionsFrom(ctx); opts != nil && (opts.Isolation != sql.LevelDefault || opts.ReadOnly) {
		return r.db.WithContext(ctx).Transaction(body, opts)
	}
	return r.db.WithContext(ctx).Transaction(body)
}
