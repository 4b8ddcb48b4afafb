package job

import "sync"

// EventType identifies a progress notification.
type EventType string

const (
	// EventProgress is published when a job's counters change.
	EventProgress EventType = "progress"
	// EventTerminal is published once when a job reaches a terminal state.
	EventTerminal EventType = "terminal"
)

// Event is a push notification for live-monitoring collaborators.
type Event struct {
	Type     EventType       `json:"type"`
	JobID    string          `json:"job_id"`
	Status   Status          `json:"status"`
	Counters CounterSnapshot `json:"counters"`
}

// Bus fans events out to subscribers. Publishing never blocks: a subscriber
// that falls behind misses intermediate progress events, which is acceptable
// because every event carries the full counter snapshot.
type Bus struct {
	mu   sync.Mutex
	subs []chan Event
}

// NewBus creates an event bus.
func NewBus() *Bus { return &Bus{} }

// Subscribe registers a listener. The returned channel is buffered.
func (b *Bus) Subscribe() <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, 64)
	b.subs = append(b.subs, ch)
	return ch
}

// Publish delivers the event to all subscribers without blocking.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
