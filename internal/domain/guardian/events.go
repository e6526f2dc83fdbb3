package guardian

import (
	"sync"
	"time"
)

// EventKind categorizes entries in the operator event log.
type EventKind string

const (
	// EventTransition records a mode change.
	EventTransition EventKind = "transition"
	// EventAudit records audit activity worth surfacing (detections,
	// skipped captures).
	EventAudit EventKind = "audit"
	// EventWorkflow records alert workflow step outcomes.
	EventWorkflow EventKind = "workflow"
	// EventError records a failure of any step or collaborator.
	EventError EventKind = "error"
)

// Event is one operator-visible log entry.
type Event struct {
	// At is when the event was recorded.
	At time.Time `json:"at"`
	// Kind categorizes the event.
	Kind EventKind `json:"kind"`
	// Message is the human-readable description.
	Message string `json:"message"`
}

// DefaultEventLogCapacity bounds the in-memory event ring.
const DefaultEventLogCapacity = 256

// EventLog is a bounded in-memory ring of events. Appends evict the oldest
// entry once the capacity is reached. Safe for concurrent use.
type EventLog struct {
	// mu protects entries and subscribers.
	mu sync.Mutex
	// entries holds the retained events, oldest first.
	entries []Event
	// capacity is the maximum number of retained events.
	capacity int
	// subscribers are notified synchronously on every append.
	subscribers []func(Event)
}

// NewEventLog creates a ring retaining up to capacity events. Non-positive
// capacities fall back to DefaultEventLogCapacity.
func NewEventLog(capacity int) *EventLog {
	if capacity <= 0 {
		capacity = DefaultEventLogCapacity
	}

	return &EventLog{
		capacity: capacity,
	}
}

// Append records an event and notifies subscribers.
func (l *EventLog) Append(kind EventKind, message string) {
	event := Event{
		At:      time.Now(),
		Kind:    kind,
		Message: message,
	}

	l.mu.Lock()

	l.entries = append(l.entries, event)
	if len(l.entries) > l.capacity {
		l.entries = l.entries[len(l.entries)-l.capacity:]
	}

	subscribers := make([]func(Event), len(l.subscribers))
	copy(subscribers, l.subscribers)

	l.mu.Unlock()

	// Notify outside the lock so a slow subscriber cannot stall appends
	// from the orchestrator.
	for _, notify := range subscribers {
		notify(event)
	}
}

// Recent returns up to limit of the newest events, newest first. A
// non-positive limit returns everything retained.
func (l *EventLog) Recent(limit int) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	count := len(l.entries)
	if limit > 0 && limit < count {
		count = limit
	}

	result := make([]Event, 0, count)
	for i := len(l.entries) - 1; i >= len(l.entries)-count; i-- {
		result = append(result, l.entries[i])
	}

	return result
}

// OnAppend registers a subscriber invoked for every future append.
func (l *EventLog) OnAppend(notify func(Event)) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.subscribers = append(l.subscribers, notify)
}
