package dispatch

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/domain/events"
)

// Handler reacts to one event.
//
// Delivery is at-least-once and redelivery is per event, not per handler: a
// handler may see an event again after it already succeeded because a sibling
// failed. Handlers must be idempotent on EventID.
type Handler interface {
	Name() string
	Handle(ctx context.Context, evt events.Event) error
}

type funcHandler struct {
	name string
	fn   func(ctx context.Context, evt events.Event) error
}

func (h funcHandler) Name() string { return h.name }

func (h funcHandler) Handle(ctx context.Context, evt events.Event) error { return h.fn(ctx, evt) }

// HandlerFunc adapts fn into a named Handler.
func HandlerFunc(name string, fn func(ctx context.Context, evt events.Event) error) Handler {
	return funcHandler{name: name, fn: fn}
}

// Registry maps event kinds to handlers. Handlers registered for every kind run
// after the kind-specific ones.
type Registry struct {
	mu     sync.RWMutex
	byKind map[string][]Handler
	all    []Handler
	gen    uint64
}

func NewRegistry() *Registry {
	return &Registry{byKind: make(map[string][]Handler)}
}

func (r *Registry) Register(kind string, h Handler) error {
	kind = strings.TrimSpace(kind)
	if kind == "" {
		return fmt.Errorf("event kind is empty")
	}
	if err := validHandler(h); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.byKind[kind] {
		if existing.Name() == h.Name() {
			return fmt.Errorf("handler %s already registered for kind=%s", h.Name(), kind)
		}
	}
	for _, existing := range r.all {
		if existing.Name() == h.Name() {
			return fmt.Errorf("handler %s already registered for all kinds; kind=%s would run it twice", h.Name(), kind)
		}
	}
	r.byKind[kind] = append(r.byKind[kind], h)
	r.gen++
	return nil
}

// RegisterAll subscribes h to every kind. A handler already registered for a
// specific kind is rejected.
func (r *Registry) RegisterAll(h Handler) error {
	if err := validHandler(h); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.all {
		if existing.Name() == h.Name() {
			return fmt.Errorf("handler %s already registered for all kinds", h.Name())
		}
	}
	for kind, hs := range r.byKind {
		for _, existing := range hs {
			if existing.Name() == h.Name() {
				return fmt.Errorf("handler %s already registered for kind=%s; all kinds would run it twice", h.Name(), kind)
			}
		}
	}
	r.all = append(r.all, h)
	r.gen++
	return nil
}

// Handlers returns the ordered handler set for kind.
func (r *Registry) Handlers(kind string) []Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specific := r.byKind[kind]
	out := make([]Handler, 0, len(specific)+len(r.all))
	out = append(out, specific...)
	out = append(out, r.all...)
	return out
}

// Generation changes on every registration.
func (r *Registry) Generation() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.gen
}

func validHandler(h Handler) error {
	if h == nil {
		return fmt.Errorf("nil handler")
	}
	if strings.TrimSpace(h.Name()) == "" {
		return fmt.Errorf("handler Name() is empty")
	}
	return nil
}
