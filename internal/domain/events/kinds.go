package events

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Factory returns a zero value pointer of a concrete event type.
type Factory func() Event

// Kinds maps stored kind tags back to concrete event types. It is filled once at
// process start and replaces any runtime type lookup.
type Kinds struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewKinds() *Kinds {
	return &Kinds{factories: make(map[string]Factory)}
}

func (k *Kinds) Register(kind string, f Factory) error {
	kind = strings.TrimSpace(kind)
	if kind == "" {
		return fmt.Errorf("event kind is empty")
	}
	if f == nil {
		return fmt.Errorf("nil factory for event kind=%s", kind)
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, exists := k.factories[kind]; exists {
		return fmt.Errorf("event kind already registered: %s", kind)
	}
	k.factories[kind] = f
	return nil
}

// MustRegister panics on duplicate or empty kinds; meant for init-time tables.
func (k *Kinds) MustRegister(kind string, f Factory) {
	if err := k.Register(kind, f); err != nil {
		panic(err)
	}
}

func (k *Kinds) Known() []string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make([]string, 0, len(k.factories))
	for kind := range k.factories {
		out = append(out, kind)
	}
	sort.Strings(out)
	return out
}

// UnknownKindError is returned when a stored tag has no registered type.
type UnknownKindError struct {
	Kind string
}

func (e *UnknownKindError) Error() string { return "unknown event kind: " + e.Kind }

// Decode rebuilds the concrete event stored under kind.
func (k *Kinds) Decode(kind string, payload []byte) (Event, error) {
	k.mu.RLock()
	f, ok := k.factories[kind]
	k.mu.RUnlock()
	if !ok {
		return nil, &UnknownKindError{Kind: kind}
	}
	evt := f()
	if evt == nil {
		return nil, &UnknownKindError{Kind: kind}
	}
	if err := json.Unmarshal(payload, evt); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", kind, err)
	}
	if evt.Kind() != kind {
		return nil, fmt.Errorf("factory for %s produced kind %s", kind, evt.Kind())
	}
	return evt, nil
}

// Encode serializes evt for the event store and the outbox.
func Encode(evt Event) ([]byte, error) {
	if evt == nil {
		return nil, fmt.Errorf("nil event")
	}
	b, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", evt.Kind(), err)
	}
	return b, nil
}
