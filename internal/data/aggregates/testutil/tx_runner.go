package testutil

import (
	"context"
	"database/sql"
	"sync"

	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/data/aggregates"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/platform/dbctx"
)

// InjectedTxRunner is a test helper for aggregate integration tests.
// It supports rollback/failure injection. With Delegate set the body runs inside
// the delegate's real transaction, otherwise no database is touched.
type InjectedTxRunner struct {
	mu sync.Mutex

	Delegate aggregates.TxRunner

	FailBegin      error
	FailBeforeBody error
	// FailCommit fails the transaction after the body succeeded.
	FailCommit error
	// FailCommitTimes limits FailCommit to the first n transactions. Zero means always.
	FailCommitTimes int

	BeginCalls    int
	CommitCalls   int
	RollbackCalls int

	Isolations []sql.IsolationLevel
}

var _ aggregates.TxRunner = (*InjectedTxRunner)(nil)

func (r *InjectedTxRunner) InTx(ctx context.Context, fn func(dbc dbctx.Context) error) error {
	r.mu.Lock()
	r.BeginCalls++
	call := r.BeginCalls
	failBegin := r.FailBegin
	failBeforeBody := r.FailBeforeBody
	failCommit := r.FailCommit
	if r.FailCommitTimes > 0 && call > r.FailCommitTimes {
		failCommit = nil
	}
	iso := sql.LevelDefault
	if opts := aggregates.TxOptionsFrom(ctx); opts != nil {
		iso = opts.Isolation
	}
	r.Isolations = append(r.Isolations, iso)
	delegate := r.Delegate
	r.mu.Unlock()

	if failBegin != nil {
		return failBegin
	}
	if failBeforeBody != nil {
		r.rollback()
		return failBeforeBody
	}

	body := func(dbc dbctx.Context) error {
		if fn != nil {
			if err := fn(dbc); err != nil {
				return err
			}
		}
		// Returning the commit failure from inside the body makes the delegate roll back.
		return failCommit
	}

	var err error
	if delegate != nil {
		err = delegate.InTx(ctx, body)
	} else {
		err = body(dbctx.Context{Ctx: ctx})
	}
	if err != nil {
		r.rollback()
		return err
	}
	r.mu.Lock()
	r.CommitCalls++
	r.mu.Unlock()
	return nil
}

func (r *InjectedTxRunner) rollback() {
	r.mu.Lock()
	r.RollbackCalls++
	r.mu.Unlock()
}

// Counters returns begin, commit and rollback counts under the lock.
func (r *InjectedTxRunner) Counters() (begin, commit, rollback int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.BeginCalls, r.CommitCalls, r.RollbackCalls
}
