package obsws

import (
	"encoding/json"
	"sync"
)

// Event is one server-pushed notification. Data is left raw; the caller
// owns the mapping from Type to a concrete payload shape.
type Event struct {
	// Type is the protocol event name, for example "CurrentProgramSceneChanged".
	Type string
	// Intent is the subscription category bit the event was delivered under.
	Intent EventSubscription
	// Data is the raw eventData object, possibly nil for data-less events.
	Data json.RawMessage
}

// EventStream is one independent subscription to the client's event feed.
//
// Receive from C. The channel is closed when the connection terminates or
// when Close is called. Each stream has a bounded buffer; if the consumer
// falls behind, the oldest buffered events are dropped so that a slow
// subscriber never stalls the connection's read loop. Events published
// before the stream was created are not replayed.
type EventStream struct {
	C <-chan Event

	b  *broadcaster
	ch chan Event
}

// Close removes the subscription. The stream's channel is closed; pending
// buffered events are discarded. Safe to call more than once.
func (s *EventStream) Close() {
	s.b.unsubscribe(s)
}

// broadcaster fans events out from the read loop to any number of streams.
// Single producer, so publish needs no ordering help beyond the subscriber
// list mutex.
type broadcaster struct {
	mu       sync.Mutex
	capacity int
	streams  map[*EventStream]struct{}
	closed   bool
}

func newBroadcaster(capacity int) *broadcaster {
	return &broadcaster{
		capacity: capacity,
		streams:  make(map[*EventStream]struct{}),
	}
}

// subscribe creates a new stream. Returns nil after close.
func (b *broadcaster) subscribe() *EventStream {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	ch := make(chan Event, b.capacity)
	s := &EventStream{C: ch, b: b, ch: ch}
	b.streams[s] = struct{}{}
	return s
}

func (b *broadcaster) unsubscribe(s *EventStream) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.streams[s]; !ok {
		return
	}
	delete(b.streams, s)
	close(s.ch)
}

// publish delivers ev to every stream without ever blocking. A full stream
// loses its oldest buffered event to make room.
func (b *broadcaster) publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.streams {
		select {
		case s.ch <- ev:
		default:
			select {
			case <-s.ch:
			default:
			}
			select {
			case s.ch <- ev:
			default:
			}
		}
	}
}

// close ends every stream and rejects future subscriptions. Called once,
// on connection termination.
func (b *broadcaster) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for s := range b.streams {
		delete(b.streams, s)
		close(s.ch)
	}
}
