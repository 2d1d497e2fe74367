package aggregates

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	domainagg "github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/domain/aggregates"
	"gorm.io/gorm"
)

// Sentinels for failures raised below the aggregate layer. MapError turns
// each into its domain code.
var (
	ErrValidation = errors.New("aggregate validation")
	ErrInvariant  = errors.New("aggregate invariant violation")
	ErrConflict   = errors.New("aggregate conflict")
	ErrRetryable  = errors.New("aggregate retryable")
)

func tagged(sentinel error, msg string) error {
	return errors.Join(sentinel, errors.New(strings.TrimSpace(msg)))
}

func ValidationError(msg string) error { return tagged(ErrValidation, msg) }
func InvariantError(msg string) error  { return tagged(ErrInvariant, msg) }
func ConflictError(msg string) error   { return tagged(ErrConflict, msg) }
func RetryableError(msg string) error  { return tagged(ErrRetryable, msg) }

// VersionConflict reports that another writer committed a newer version first.
// Latest holds the row as reloaded after the failed compare-and-set.
type VersionConflict struct {
	Table    string
	ID       uuid.UUID
	Expected int
	Actual   int
	Latest   any
}

func (e *VersionConflict) Error() string {
	return fmt.Sprintf("%s %s: stale version %d, current is %d", e.Table, e.ID, e.Expected, e.Actual)
}

func (e *VersionConflict) Is(target error) bool { return target == ErrConflict }

// ConflictAfterCASMiss classifies a compare-and-set that matched no row. A row that
// is gone is a hard not_found failure; otherwise the conflict carries the reloaded
// latest values so a stale writer can reconcile.
func ConflictAfterCASMiss(op, table string, id uuid.UUID, expected int, latest any, actual int, found bool) error {
	if !found {
		return domainagg.NewError(domainagg.CodeNotFound, op, fmt.Sprintf("%s %s was deleted concurrently", table, id), nil)
	}
	return domainagg.Wrap(domainagg.CodeConflict, op, &VersionConflict{
		Table:    table,
		ID:       id,
		Expected: expected,
		Actual:   actual,
		Latest:   latest,
	})
}

var sentinelCodes = []struct {
	err  error
	code domainagg.ErrorCode
}{
	{ErrValidation, domainagg.CodeValidation},
	{ErrInvariant, domainagg.CodeInvariantViolation},
	{ErrConflict, domainagg.CodeConflict},
	{ErrRetryable, domainagg.CodeRetryable},
	{gorm.ErrRecordNotFound, domainagg.CodeNotFound},
	{context.Canceled, domainagg.CodeRetryable},
	{context.DeadlineExceeded, domainagg.CodeRetryable},
}

// SQLSTATE classes that have a domain meaning.
var pgStateCodes = map[string]domainagg.ErrorCode{
	"23505": domainagg.CodeConflict,           // unique_violation
	"23503": domainagg.CodePreconditionFailed, // foreign_key_violation
	"40001": domainagg.CodeRetryable,          // serialization_failure
	"40P01": domainagg.CodeRetryable,          // deadlock_detected
	"55P03": domainagg.CodeRetryable,          // lock_not_available
}

// Driver text fallbacks, mostly for sqlite in tests.
var messageHints = []struct {
	needle string
	code   domainagg.ErrorCode
}{
	{"duplicate key", domainagg.CodeConflict},
	{"already exists", domainagg.CodeConflict},
	{"unique constraint failed", domainagg.CodeConflict},
	{"deadlock", domainagg.CodeRetryable},
	{"serialization", domainagg.CodeRetryable},
	{"database is locked", domainagg.CodeRetryable},
	{"timeout", domainagg.CodeRetryable},
	{"temporar", domainagg.CodeRetryable},
}

// MapError gives err an aggregate code. An *Error at the top of the chain is
// returned unchanged.
func MapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*domainagg.Error); ok {
		return err
	}
	return domainagg.Wrap(classify(err), op, err)
}

func classify(err error) domainagg.ErrorCode {
	for _, s := range sentinelCodes {
		if errors.Is(err, s.err) {
			return s.code
		}
	}
	if code := domainagg.CodeOf(err); code != "" {
		return code
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if code, ok := pgStateCodes[strings.TrimSpace(pgErr.Code)]; ok {
			return code
		}
	}
	msg := strings.ToLower(err.Error())
	for _, h := range messageHints {
		if strings.Contains(msg, h.needle) {
			return h.code
		}
	}
	return domainagg.CodeInternal
}
