package dispatch

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// HandlerFailure is one handler that still failed after its inline retries.
type HandlerFailure struct {
	Handler  string
	Attempts int
	Err      error
}

func (f HandlerFailure) Error() string {
	return fmt.Sprintf("handler %s failed after %d attempts: %v", f.Handler, f.Attempts, f.Err)
}

func (f HandlerFailure) Unwrap() error { return f.Err }

// Error reports every permanent handler failure for one event. The event itself
// was recorded; OutboxID names the row written for redelivery.
type Error struct {
	EventID     uuid.UUID
	AggregateID uuid.UUID
	Kind        string
	Failures    []HandlerFailure

	OutboxID uuid.UUID
	// OutboxErr is set when the outbox row itself could not be written.
	OutboxErr error
}

func (e *Error) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, f.Error())
	}
	msg := fmt.Sprintf("dispatch %s %s: %d handler(s) failed: %s",
		e.Kind, e.EventID, len(e.Failures), strings.Join(parts, "; "))
	if e.OutboxErr != nil {
		msg += fmt.Sprintf("; outbox write failed: %v", e.OutboxErr)
	}
	return msg
}

func (e *Error) Unwrap() []error {
	out := make([]error, 0, len(e.Failures)+1)
	for _, f := range e.Failures {
		out = append(out, f)
	}
	if e.OutboxErr != nil {
		out = append(out, e.OutboxErr)
	}
	return out
}

// Committed reports that the write which raised the event is already durable.
func (e *Error) Committed() bool { return true }

// FailedHandlers lists the names of the failed handlers.
func (e *Error) FailedHandlers() []string {
	out := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		out = append(out, f.Handler)
	}
	return out
}
