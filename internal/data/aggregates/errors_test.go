package aggregates

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	domainagg "github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/domain/aggregates"
	"gorm.io/gorm"
)

func TestMapError_Validation(t *testing.T) {
	err := MapError("op", ValidationError("bad input"))
	if !domainagg.IsCode(err, domainagg.CodeValidation) {
		t.Fatalf("expected validation code, got %q (%v)", domainagg.CodeOf(err), err)
	}
}

func TestMapError_Conflict(t *testing.T) {
	err := MapError("op", ConflictError("stale"))
	if !domainagg.IsCode(err, domainagg.CodeConflict) {
		t.Fatalf("expected conflict code, got %q (%v)", domainagg.CodeOf(err), err)
	}
}

func TestMapError_NotFound(t *testing.T) {
	err := MapError("op", gorm.ErrRecordNotFound)
	if !domainagg.IsCode(err, domainagg.CodeNotFound) {
		t.Fatalf("expected not_found code, got %q (%v)", domainagg.CodeOf(err), err)
	}
}

func TestMapError_PassthroughAggregateError(t *testing.T) {
	in := domainagg.NewError(domainagg.CodeRetryable, "op", "retry", errors.New("boom"))
	out := MapError("other", in)
	if out != in {
		t.Fatalf("expected passthrough aggregate error")
	}
}

func TestMapError_WrappedAggregateErrorKeepsCode(t *testing.T) {
	inner := domainagg.NewError(domainagg.CodeInvariantViolation, "booking.cancel", "already cancelled", nil)
	err := MapError("service.cancel", fmt.Errorf("cancel: %w", inner))
	if domainagg.CodeOf(err) != domainagg.CodeInvariantViolation {
		t.Fatalf("code: want=%s got=%s", domainagg.CodeInvariantViolation, domainagg.CodeOf(err))
	}
}

func TestMapError_PostgresCodes(t *testing.T) {
	cases := []struct {
		code string
		want domainagg.ErrorCode
	}{
		{"23505", domainagg.CodeConflict},
		{"23503", domainagg.CodePreconditionFailed},
		{"40001", domainagg.CodeRetryable},
		{"40P01", domainagg.CodeRetryable},
		{"55P03", domainagg.CodeRetryable},
		{"42601", domainagg.CodeInternal},
	}
	for _, tc := range cases {
		err := MapError("op", fmt.Errorf("exec: %w", &pgconn.PgError{Code: tc.code}))
		if got := domainagg.CodeOf(err); got != tc.want {
			t.Fatalf("pg %s: want=%s got=%s", tc.code, tc.want, got)
		}
	}
}

func TestMapError_SQLiteMessages(t *testing.T) {
	if got := domainagg.CodeOf(MapError("op", errors.New("UNIQUE constraint failed: event_store.aggregate_id, event_store.seq"))); got != domainagg.CodeConflict {
		t.Fatalf("unique: want=conflict got=%s", got)
	}
	if got := domainagg.CodeOf(MapError("op", errors.New("database is locked"))); got != domainagg.CodeRetryable {
		t.Fatalf("locked: want=retryable got=%s", got)
	}
}

func TestMapError_ContextErrorsAreRetryable(t *testing.T) {
	if got := domainagg.CodeOf(MapError("op", context.Canceled)); got != domainagg.CodeRetryable {
		t.Fatalf("canceled: want=retryable got=%s", got)
	}
}

func TestConflictAfterCASMiss_RowPresent(t *testing.T) {
	id := uuid.New()
	latest := map[string]any{"name": "Fresh"}
	err := ConflictAfterCASMiss("booking.agency.save", "agency", id, 2, latest, 3, true)
	if !domainagg.IsCode(err, domainagg.CodeConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected errors.Is(ErrConflict)")
	}
	var vc *VersionConflict
	if !errors.As(err, &vc) {
		t.Fatalf("expected *VersionConflict in chain")
	}
	if vc.ID != id || vc.Expected != 2 || vc.Actual != 3 {
		t.Fatalf("conflict: want id=%s expected=2 actual=3 got=%+v", id, vc)
	}
	if got, ok := vc.Latest.(map[string]any); !ok || got["name"] != "Fresh" {
		t.Fatalf("latest: got=%v", vc.Latest)
	}
}

func TestConflictAfterCASMiss_RowDeleted(t *testing.T) {
	err := ConflictAfterCASMiss("booking.agency.save", "agency", uuid.New(), 2, nil, 0, false)
	if !domainagg.IsCode(err, domainagg.CodeNotFound) {
		t.Fatalf("expected not_found, got %v", err)
	}
	var vc *VersionConflict
	if errors.As(err, &vc) {
		t.Fatalf("deleted row must not carry a version conflict")
	}
}
