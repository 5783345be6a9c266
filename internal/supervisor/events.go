package supervisor

import (
	"encoding/json"
	"sync"
	"time"

	"bankruptcy-console/internal/storage"
)

// EventType is the kind of activity event.
type EventType string

const (
	EventCallStart    EventType = "call_start"
	EventCallDone     EventType = "call_done"
	EventCallRejected EventType = "call_rejected"
)

// Event is one entry of the live activity feed.
type Event struct {
	Type          EventType      `json:"type"`
	CallID        string         `json:"call_id"`
	Op            string         `json:"op"`
	Timestamp     time.Time      `json:"timestamp"`
	Status        storage.Status `json:"status,omitempty"`
	Reason        storage.Reason `json:"reason,omitempty"`
	HTTPStatus    int            `json:"http_status,omitempty"`
	DurationMs    int64          `json:"duration_ms"`
	RecordCount   int            `json:"record_count,omitempty"`
	HighRiskCount int            `json:"high_risk_count,omitempty"`
	Error         string         `json:"error,omitempty"`
}

// EventBus fans events out to SSE subscribers. Publishing never blocks;
// slow subscribers miss events.
type EventBus struct {
	events      chan Event
	subscribers map[chan Event]struct{}
	mu          sync.RWMutex
	shutdown    chan struct{}
	once        sync.Once
}

// NewEventBus creates a bus with the given publish buffer.
func NewEventBus(bufferSize int) *EventBus {
	eb := &EventBus{
		events:      make(chan Event, bufferSize),
		subscribers: make(map[chan Event]struct{}),
		shutdown:    make(chan struct{}),
	}
	go eb.forward()
	return eb
}

func (eb *EventBus) forward() {
	for {
		select {
		case event := <-eb.events:
			eb.mu.RLock()
			for ch := range eb.subscribers {
				select {
				case ch <- event:
				default:
				}
			}
			eb.mu.RUnlock()
		case <-eb.shutdown:
			return
		}
	}
}

// Publish queues an event, dropping it if the buffer is full.
func (eb *EventBus) Publish(event Event) {
	if eb == nil {
		return
	}
	select {
	case <-eb.shutdown:
	case eb.events <- event:
	default:
	}
}

// Subscribe registers a new subscriber.
func (eb *EventBus) Subscribe() chan Event {
	ch := make(chan Event, 16)
	eb.mu.Lock()
	eb.subscribers[ch] = struct{}{}
	eb.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes a subscriber channel.
func (eb *EventBus) Unsubscribe(ch chan Event) {
	eb.mu.Lock()
	if _, ok := eb.subscribers[ch]; ok {
		delete(eb.subscribers, ch)
		close(ch)
	}
	eb.mu.Unlock()
}

// Shutdown stops forwarding and closes every subscriber channel.
func (eb *EventBus) Shutdown() {
	eb.once.Do(func() {
		close(eb.shutdown)

		eb.mu.Lock()
		for ch := range eb.subscribers {
			close(ch)
		}
		eb.subscribers = make(map[chan Event]struct{})
		eb.mu.Unlock()
	})
}

// Done is closed once Shutdown has been called.
func (eb *EventBus) Done() <-chan struct{} {
	return eb.shutdown
}

// FormatSSEEvent renders an event as a Server-Sent Events frame.
func FormatSSEEvent(event Event) (string, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return "", err
	}
	return "event: " + string(event.Type) + "\ndata: " + string(data) + "\n\n", nil
}
