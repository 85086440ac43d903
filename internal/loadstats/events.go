package loadstats

import (
	"fmt"
	"io"
	"sync"
)

// EventTally counts session lifecycle events received over NATS so they can
// be compared with what the load generator itself observed. Events from
// other clients of the same service are counted too.
type EventTally struct {
	mu             sync.Mutex
	created        int
	consumed       int
	other          int
	expectConsumed bool
}

// NewEventTally creates an empty tally. expectConsumed is true when the
// service runs in single-use mode and every handoff should emit a consumed
// event.
func NewEventTally(expectConsumed bool) *EventTally {
	return &EventTally{expectConsumed: expectConsumed}
}

// Add counts one event by its kind.
func (t *EventTally) Add(kind string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch kind {
	case "created":
		t.created++
	case "consumed":
		t.consumed++
	default:
		t.other++
	}
}

// Counts returns the number of created and consumed events seen.
func (t *EventTally) Counts() (created, consumed int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.created, t.consumed
}

// Report compares the tally with the client-side creates and handoffs.
func (t *EventTally) Report(w io.Writer, creates, handoffs int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	fmt.Fprintln(w, "\n--- Lifecycle Events (NATS) ---")
	fmt.Fprintf(w, "  %-10s %10s %10s\n", "Event", "Received", "Expected")
	fmt.Fprintf(w, "  %-10s %10d %10d\n", "created", t.created, creates)
	if t.expectConsumed {
		fmt.Fprintf(w, "  %-10s %10d %10d\n", "consumed", t.consumed, handoffs)
	} else {
		fmt.Fprintf(w, "  %-10s %10d %10s\n", "consumed", t.consumed, "-")
	}
	if t.other > 0 {
		fmt.Fprintf(w, "  unknown:   %d\n", t.other)
	}
	if t.created < creates || (t.expectConsumed && t.consumed < handoffs) {
		fmt.Fprintln(w, "  WARNING: fewer events than handoffs")
	}
}
