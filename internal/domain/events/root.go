package events

import (
	"sync"

	"github.com/google/uuid"
)

// Source is anything that buffers events until commit.
type Source interface {
	PullEvents() []Event
	RestoreEvents(evts []Event)
}

// Root is the embeddable aggregate base: identity, row version and the pending
// event buffer. The buffer is owned by the aggregate and swapped out on commit.
type Root struct {
	ID      uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Version int       `gorm:"column:version;not null" json:"version"`

	mu      sync.Mutex
	pending []Event
}

// Raise appends evt to the pending buffer.
func (r *Root) Raise(evt Event) {
	if evt == nil {
		return
	}
	r.mu.Lock()
	r.pending = append(r.pending, evt)
	r.mu.Unlock()
}

// PullEvents swaps the buffer for an empty one and returns what was pending.
// Events raised afterwards land in the fresh buffer.
func (r *Root) PullEvents() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.pending
	r.pending = nil
	return out
}

// RestoreEvents puts evts back in front of anything raised since they were pulled.
func (r *Root) RestoreEvents(evts []Event) {
	if len(evts) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	merged := make([]Event, 0, len(evts)+len(r.pending))
	merged = append(merged, evts...)
	merged = append(merged, r.pending...)
	r.pending = merged
}

// PendingEvents returns a copy of the buffer without clearing it.
func (r *Root) PendingEvents() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.pending))
	copy(out, r.pending)
	return out
}

var _ Source = (*Root)(nil)
