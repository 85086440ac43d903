package messaging

import (
	"log"
	"time"
)

// Publisher is the subset of NATSClient used by EventObserver.
type Publisher interface {
	PublishEvent(subject string, ev Event) error
}

// EventObserver publishes session lifecycle notifications. It satisfies
// session.Observer.
type EventObserver struct {
	pub Publisher
	now func() time.Time
}

// NewEventObserver creates an observer publishing through pub.
func NewEventObserver(pub Publisher) *EventObserver {
	return &EventObserver{pub: pub, now: time.Now}
}

// SessionCreated publishes a created event.
func (o *EventObserver) SessionCreated(id string, size int) {
	o.publish(SubjectSessionCreated, Event{
		Session: Fingerprint(id),
		Event:   "created",
		Ts:      o.now().Unix(),
		Bytes:   size,
	})
}

// SessionFetched publishes only reads that consumed the session.
func (o *EventObserver) SessionFetched(id string, consumed bool) {
	if !consumed {
		return
	}
	o.publish(SubjectSessionConsumed, Event{
		Session: Fingerprint(id),
		Event:   "consumed",
		Ts:      o.now().Unix(),
	})
}

// BackendError is ignored; backend failures are reported through metrics.
func (o *EventObserver) BackendError(string) {}

func (o *EventObserver) publish(subject string, ev Event) {
	if err := o.pub.PublishEvent(subject, ev); err != nil {
		log.Printf("[nats] publish %s failed: %v", subject, err)
	}
}
