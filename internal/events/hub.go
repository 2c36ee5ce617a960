// Package events fans out change notifications to subscribers grouped in
// rooms: one room per open draft plus the Global room.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Global is the room for events every subscriber sees, such as table refreshes.
var Global = uuid.Nil

// Event is a message fanned out to subscribers
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Publisher is the sending half of the hub. Satisfied by *Hub.
type Publisher interface {
	Publish(room uuid.UUID, eventType string, payload any) error
}

// roomEvent routes an event to one draft's room, or to everyone for Global
type roomEvent struct {
	Room  uuid.UUID
	Event Event
}

// Subscriber receives the events of one room plus every Global event
type Subscriber struct {
	hub  *Hub
	room uuid.UUID
	send chan Event
}

// Events is closed when the subscriber is dropped or the hub stops.
func (s *Subscriber) Events() <-chan Event { return s.send }

func (s *Subscriber) Room() uuid.UUID { return s.room }

// Close unregisters the subscriber. Safe to call more than once.
func (s *Subscriber) Close() {
	select {
	case s.hub.unregister <- s:
	case <-s.hub.done:
	}
}

// Hub maintains the set of subscribers and broadcasts events to them
type Hub struct {
	// Subscribers by room; Global holds the table watchers and page-level clients
	rooms map[uuid.UUID]map[*Subscriber]bool

	register   chan *Subscriber
	unregister chan *Subscriber

	// Outbound events to broadcast
	broadcast chan *roomEvent

	// Closed when Run returns
	done chan struct{}

	// Mutex for thread-safe room access
	mu sync.RWMutex
}

// NewHub creates a new Hub instance
func NewHub() *Hub {
	return &Hub{
		rooms:      make(map[uuid.UUID]map[*Subscriber]bool),
		register:   make(chan *Subscriber),
		unregister: make(chan *Subscriber),
		broadcast:  make(chan *roomEvent, 256),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's main loop and returns when ctx is done, closing every
// subscriber. Call it as a goroutine: go hub.Run(ctx)
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for room, subs := range h.rooms {
				for s := range subs {
					close(s.send)
				}
				delete(h.rooms, room)
			}
			h.mu.Unlock()
			return

		case s := <-h.register:
			h.mu.Lock()
			if h.rooms[s.room] == nil {
				h.rooms[s.room] = make(map[*Subscriber]bool)
			}
			h.rooms[s.room][s] = true
			h.mu.Unlock()

		case s := <-h.unregister:
			h.mu.Lock()
			h.dropLocked(s)
			h.mu.Unlock()

		case ev := <-h.broadcast:
			h.mu.Lock()
			for room, subs := range h.rooms {
				if ev.Room != Global && ev.Room != room {
					continue
				}
				for s := range subs {
					select {
					case s.send <- ev.Event:
					default:
						// Subscriber's buffer is full, close and unregister
						h.dropLocked(s)
					}
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) dropLocked(s *Subscriber) {
	subs, ok := h.rooms[s.room]
	if !ok || !subs[s] {
		return
	}
	delete(subs, s)
	close(s.send)
	// Clean up empty rooms
	if len(subs) == 0 {
		delete(h.rooms, s.room)
	}
}

// Subscribe registers a subscriber for room with the given buffer size. If
// the hub has stopped the returned subscriber's channel is already closed.
func (h *Hub) Subscribe(room uuid.UUID, buffer int) *Subscriber {
	s := &Subscriber{hub: h, room: room, send: make(chan Event, buffer)}
	select {
	case h.register <- s:
	case <-h.done:
		close(s.send)
	}
	return s
}

// Publish marshals payload and queues the event. Global reaches every
// subscriber; any other room reaches only that room.
func (h *Hub) Publish(room uuid.UUID, eventType string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("publish %s: %w", eventType, err)
	}
	select {
	case h.broadcast <- &roomEvent{Room: room, Event: Event{Type: eventType, Payload: raw}}:
	case <-h.done:
	}
	return nil
}

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} { return h.done }

// Subscribers counts registered subscribers across all rooms.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, subs := range h.rooms {
		n += len(subs)
	}
	return n
}
