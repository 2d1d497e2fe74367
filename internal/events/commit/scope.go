// Package commit runs aggregate writes and delivers the events they raised once
// the write is durable.
package commit

import (
	"context"
	"sync"

	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/domain/events"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/platform/dbctx"
)

// Write performs the physical changes of one commit and reports rows written.
type Write func(dbc dbctx.Context) (int64, error)

// Scope is one logical unit of work: the aggregates whose events it owns, how
// deeply commits are nested inside it, and writes deferred by nested commits.
type Scope struct {
	mu      sync.Mutex
	depth   int
	tracked []events.Source
	queued  []Write
}

func NewScope(sources ...events.Source) *Scope {
	s := &Scope{}
	s.Track(sources...)
	return s
}

// Track adds sources whose pending events the scope's commits extract.
func (s *Scope) Track(sources ...events.Source) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, src := range sources {
		if src == nil || s.tracks(src) {
			continue
		}
		s.tracked = append(s.tracked, src)
	}
}

func (s *Scope) tracks(src events.Source) bool {
	for _, t := range s.tracked {
		if t == src {
			return true
		}
	}
	return false
}

// Depth is the number of commits currently running in the scope.
func (s *Scope) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.depth
}

// enter reports whether the caller is the outermost commit. Nested callers have
// their write queued instead.
func (s *Scope) enter(w Write) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.depth > 0 {
		if w != nil {
			s.queued = append(s.queued, w)
		}
		return false
	}
	s.depth++
	return true
}

func (s *Scope) leave() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.depth--
	s.queued = nil
}

func (s *Scope) takeQueued() []Write {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.queued
	s.queued = nil
	return out
}

type batch struct {
	src  events.Source
	evts []events.Event
}

// pull swaps out every tracked buffer, in tracking order.
func (s *Scope) pull() []batch {
	s.mu.Lock()
	tracked := append([]events.Source(nil), s.tracked...)
	s.mu.Unlock()

	var out []batch
	for _, src := range tracked {
		if evts := src.PullEvents(); len(evts) > 0 {
			out = append(out, batch{src: src, evts: evts})
		}
	}
	return out
}

func restore(batches []batch) {
	for _, b := range batches {
		b.src.RestoreEvents(b.evts)
	}
}

type scopeKey struct{}

// WithScope makes s visible to code running under ctx, such as event handlers.
func WithScope(ctx context.Context, s *Scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, s)
}

// ScopeFrom returns the scope carried by ctx, or nil.
func ScopeFrom(ctx context.Context) *Scope {
	if ctx == nil {
		return nil
	}
	s, _ := ctx.Value(scopeKey{}).(*Scope)
	return s
}
