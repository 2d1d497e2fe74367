// Package ctxutil carries per-request identity through context.Context so logs
// written deep in the event pipeline can be tied back to the HTTP call.
package ctxutil

import "context"

type requestMetaKey struct{}

type RequestMeta struct {
	TraceID   string
	RequestID string
	// Operator is the authenticated admin subject, empty for public routes.
	Operator string
}

func WithRequestMeta(ctx context.Context, m *RequestMeta) context.Context {
	return context.WithValue(ctx, requestMetaKey{}, m)
}

// RequestMetaFrom returns nil when ctx carries no request identity.
func RequestMetaFrom(ctx context.Context) *RequestMeta {
	if ctx == nil {
		return nil
	}
	if m, ok := ctx.Value(requestMetaKey{}).(*RequestMeta); ok {
		return m
	}
	return nil
}

// WithOperator returns a context whose meta also names the operator. The parent
// meta is copied, never mutated.
func WithOperator(ctx context.Context, subject string) context.Context {
	next := RequestMeta{}
	if m := RequestMetaFrom(ctx); m != nil {
		next = *m
	}
	next.Operator = subject
	return WithRequestMeta(ctx, &next)
}

// Fields renders the meta as logger key/value pairs, skipping empty values.
func (m *RequestMeta) Fields() []interface{} {
	if m == nil {
		return nil
	}
	var out []interface{}
	if m.TraceID != "" {
		out = append(out, "trace_id", m.TraceID)
	}
	if m.RequestID != "" {
		out = append(out, "request_id", m.RequestID)
	}
	if m.Operator != "" {
		out = append(out, "operator", m.Operator)
	}
	return out
}
