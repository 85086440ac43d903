package messaging

import (
	"errors"
	"strings"
	"testing"
	"time"
)

type fakePublisher struct {
	subjects []string
	events   []Event
	err      error
}

func (f *fakePublisher) PublishEvent(subject string, ev Event) error {
	f.subjects = append(f.subjects, subject)
	f.events = append(f.events, ev)
	return f.err
}

func TestFingerprint(t *testing.T) {
	fp := Fingerprint("abc")
	if len(fp) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(fp))
	}
	if fp == Fingerprint("abd") {
		t.Error("different ids should have different fingerprints")
	}
	if strings.Contains(fp, "abc") {
		t.Error("fingerprint must not contain the raw id")
	}
}

func TestEventObserver_Created(t *testing.T) {
	pub := &fakePublisher{}
	o := NewEventObserver(pub)
	o.now = func() time.Time { return time.Unix(1700000000, 0) }

	o.SessionCreated("sid-1", 128)

	if len(pub.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(pub.events))
	}
	ev := pub.events[0]
	if pub.subjects[0] != SubjectSessionCreated {
		t.Errorf("subject = %q, want %q", pub.subjects[0], SubjectSessionCreated)
	}
	if ev.Event != "created" || ev.Bytes != 128 || ev.Ts != 1700000000 {
		t.Errorf("unexpected event: %+v", ev)
	}
	if ev.Session != Fingerprint("sid-1") {
		t.Errorf("event carries %q, want fingerprint", ev.Session)
	}
}

func TestEventObserver_OnlyConsumingFetches(t *testing.T) {
	pub := &fakePublisher{}
	o := NewEventObserver(pub)

	o.SessionFetched("sid-1", false)
	o.SessionFetched("sid-1", true)
	o.BackendError("get")

	if len(pub.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(pub.events))
	}
	if pub.subjects[0] != SubjectSessionConsumed || pub.events[0].Event != "consumed" {
		t.Errorf("unexpected event %q on %q", pub.events[0].Event, pub.subjects[0])
	}
}

func TestEventObserver_PublishErrorIsSwallowed(t *testing.T) {
	pub := &fakePublisher{err: errors.New("nats: connection closed")}
	o := NewEventObserver(pub)

	// Must not panic or block.
	o.SessionCreated("sid-1", 1)
}
