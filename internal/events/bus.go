package events

import (
	"sync"
	"time"
)

type Type string

const (
	TypeTick          Type = "tick"
	TypeRecord        Type = "record"
	TypePartSent      Type = "part_sent"
	TypePartFailed    Type = "part_failed"
	TypeCursorSaved   Type = "cursor_saved"
	TypePersistFailed Type = "persist_failed"
)

// Event is one pipeline occurrence streamed to ops subscribers.
type Event struct {
	Type       Type      `json:"type"`
	At         time.Time `json:"at"`
	TickID     string    `json:"tick_id,omitempty"`
	DispatchID string    `json:"dispatch_id,omitempty"`
	RecordID   int64     `json:"record_id,omitempty"`
	Cursor     int64     `json:"cursor,omitempty"`
	Part       int       `json:"part,omitempty"`
	Total      int       `json:"total,omitempty"`
	Outcome    string    `json:"outcome,omitempty"`
	Detail     string    `json:"detail,omitempty"`
}

// Bus fans events out to subscribers. Publish never blocks: a subscriber
// whose buffer is full misses the event.
type Bus struct {
	mu          sync.Mutex
	subscribers map[int]chan Event
	nextSubID   int
	buffer      int
}

func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 256
	}
	return &Bus{
		subscribers: make(map[int]chan Event),
		buffer:      buffer,
	}
}

// Subscribe returns the event channel and a cancel func that closes it.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, b.buffer)
	b.mu.Lock()
	b.nextSubID++
	id := b.nextSubID
	b.subscribers[id] = ch
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(c)
		}
	}
}

func (b *Bus) Publish(evt Event) {
	if b == nil {
		return
	}
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- evt:
		default:
		}
	}
}

func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}
