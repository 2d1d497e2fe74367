package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	domainagg "github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/domain/aggregates"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/events/commit"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/events/dispatch"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, ErrorEnvelope{
		Error: APIError{
			Message: msg,
			Code:    code,
		},
	})
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

func RespondCreated(c *gin.Context, payload any) {
	c.JSON(http.StatusCreated, payload)
}

// HandlerFailures is attached to a successful write whose event handlers failed
// or whose nested follow-up writes did not apply.
type HandlerFailures struct {
	Handlers     []string `json:"handlers"`
	OutboxIDs    []string `json:"outbox_ids"`
	NestedWrites []string `json:"nested_writes,omitempty"`
}

// Committed describes a write that succeeded even though err carries failures
// raised after the commit; ok is false when err is anything else.
func Committed(err error) (*HandlerFailures, bool) {
	var c interface{ Committed() bool }
	if !errors.As(err, &c) || !c.Committed() {
		return nil, false
	}
	out := &HandlerFailures{Handlers: []string{}, OutboxIDs: []string{}}
	collectFailures(err, out)
	return out, true
}

func collectFailures(err error, out *HandlerFailures) {
	switch e := err.(type) {
	case nil:
	case *dispatch.Error:
		out.Handlers = append(out.Handlers, e.FailedHandlers()...)
		out.OutboxIDs = append(out.OutboxIDs, e.OutboxID.String())
	case *commit.RoundError:
		out.NestedWrites = append(out.NestedWrites, e.Err.Error())
	case interface{ Unwrap() []error }:
		for _, inner := range e.Unwrap() {
			collectFailures(inner, out)
		}
	case interface{ Unwrap() error }:
		collectFailures(e.Unwrap(), out)
	}
}

// RespondDomainError maps aggregate error codes onto HTTP statuses. Transient
// failures also carry Retry-After.
func RespondDomainError(c *gin.Context, err error) {
	code := domainagg.CodeOf(err)
	if code.Transient() {
		c.Header("Retry-After", "1")
	}
	RespondError(c, StatusFor(code), string(code), err)
}

func StatusFor(code domainagg.ErrorCode) int {
	switch code {
	case domainagg.CodeValidation:
		return http.StatusBadRequest
	case domainagg.CodeNotFound:
		return http.StatusNotFound
	case domainagg.CodeConflict:
		return http.StatusConflict
	case domainagg.CodeInvariantViolation:
		return http.StatusUnprocessableEntity
	case domainagg.CodePreconditionFailed:
		return http.StatusPreconditionFailed
	case domainagg.CodeRetryable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
