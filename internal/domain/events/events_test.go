package events

import (
	"errors"
	"testing"

	"github.com/google/uuid"
)

type noteAdded struct {
	Meta
	Text string `json:"text"`
}

func (*noteAdded) Kind() string { return "note.added" }

func TestRootPullSwapsAndClears(t *testing.T) {
	var r Root
	r.ID = uuid.New()
	r.Raise(&noteAdded{Meta: NewMeta(r.ID), Text: "a"})
	r.Raise(&noteAdded{Meta: NewMeta(r.ID), Text: "b"})

	pulled := r.PullEvents()
	if len(pulled) != 2 {
		t.Fatalf("pulled: want=2 got=%d", len(pulled))
	}
	if got := r.PullEvents(); len(got) != 0 {
		t.Fatalf("second pull: want=0 got=%d", len(got))
	}

	r.Raise(&noteAdded{Meta: NewMeta(r.ID), Text: "c"})
	if got := pulled[0].(*noteAdded).Text; got != "a" {
		t.Fatalf("pulled events must be isolated from later raises, got first=%s", got)
	}
	if len(pulled) != 2 {
		t.Fatalf("pulled slice grew: %d", len(pulled))
	}
}

func TestRootRestoreKeepsEmissionOrder(t *testing.T) {
	var r Root
	r.ID = uuid.New()
	r.Raise(&noteAdded{Meta: NewMeta(r.ID), Text: "a"})
	pulled := r.PullEvents()
	r.Raise(&noteAdded{Meta: NewMeta(r.ID), Text: "b"})
	r.RestoreEvents(pulled)

	pending := r.PendingEvents()
	if len(pending) != 2 {
		t.Fatalf("pending: want=2 got=%d", len(pending))
	}
	if pending[0].(*noteAdded).Text != "a" || pending[1].(*noteAdded).Text != "b" {
		t.Fatalf("order: got=%s,%s", pending[0].(*noteAdded).Text, pending[1].(*noteAdded).Text)
	}
}

func TestKindsRoundTripKeepsIdentity(t *testing.T) {
	k := NewKinds()
	k.MustRegister("note.added", func() Event { return &noteAdded{} })

	agg := uuid.New()
	in := &noteAdded{Meta: NewMeta(agg), Text: "hello"}
	payload, err := Encode(in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	out, err := k.Decode("note.added", payload)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out.EventID() != in.EventID() || out.AggregateID() != agg {
		t.Fatalf("identity lost: in=%s/%s out=%s/%s", in.EventID(), agg, out.EventID(), out.AggregateID())
	}
	if out.(*noteAdded).Text != "hello" {
		t.Fatalf("payload lost: %+v", out)
	}
}

func TestKindsDecodeUnknown(t *testing.T) {
	k := NewKinds()
	_, err := k.Decode("missing.kind", []byte(`{}`))
	var unknown *UnknownKindError
	if !errors.As(err, &unknown) || unknown.Kind != "missing.kind" {
		t.Fatalf("expected UnknownKindError, got=%v", err)
	}
}

func TestKindsRejectsDuplicates(t *testing.T) {
	k := NewKinds()
	if err := k.Register("note.added", func() Event { return &noteAdded{} }); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := k.Register("note.added", func() Event { return &noteAdded{} }); err == nil {
		t.Fatalf("expected duplicate error")
	}
	if got := k.Known(); len(got) != 1 || got[0] != "note.added" {
		t.Fatalf("Known: got=%v", got)
	}
}
