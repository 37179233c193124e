package ws

import (
	"context"
	"encoding/json"
	"sync"
)

// Event represents a WebSocket message to be broadcast
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// NewEvent marshals payload into an Event of the given type.
func NewEvent(typ string, payload any) (Event, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: typ, Payload: b}, nil
}

// roomEvent is an internal struct for routing events to one room, or to a
// single client when client is set.
type roomEvent struct {
	room   string
	client *Client
	event  Event
}

// Hub maintains the set of active clients and broadcasts messages to them
type Hub struct {
	// Registered clients by room name
	rooms map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *roomEvent

	// closed when Run returns
	done chan struct{}

	mu sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		rooms:      make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *roomEvent, 256),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's main loop and returns when ctx is cancelled, closing
// every connection.
// This should be called as a goroutine: go hub.Run(ctx)
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for room, clients := range h.rooms {
				for client := range clients {
					close(client.send)
				}
				delete(h.rooms, room)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.rooms[client.room] == nil {
				h.rooms[client.room] = make(map[*Client]bool)
			}
			h.rooms[client.room][client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			h.removeLocked(client)
			h.mu.Unlock()

		case ev := <-h.broadcast:
			message, err := encode(ev.event)
			if err != nil {
				continue
			}

			h.mu.Lock()
			if ev.client != nil {
				if h.rooms[ev.client.room][ev.client] {
					h.sendLocked(ev.client, message)
				}
			} else {
				for client := range h.rooms[ev.room] {
					h.sendLocked(client, message)
				}
			}
			h.mu.Unlock()
		}
	}
}

// sendLocked drops a client whose send buffer is full.
func (h *Hub) sendLocked(client *Client, message []byte) {
	select {
	case client.send <- message:
	default:
		h.removeLocked(client)
	}
}

func (h *Hub) removeLocked(client *Client) {
	clients, ok := h.rooms[client.room]
	if !ok || !clients[client] {
		return
	}
	delete(clients, client)
	close(client.send)
	if len(clients) == 0 {
		delete(h.rooms, client.room)
	}
}

// BroadcastToRoom sends an event to every client in room.
func (h *Hub) BroadcastToRoom(room string, event Event) {
	select {
	case h.broadcast <- &roomEvent{room: room, event: event}:
	case <-h.done:
	}
}

// SendToClient sends an event to one registered client only.
func (h *Hub) SendToClient(client *Client, event Event) {
	select {
	case h.broadcast <- &roomEvent{client: client, event: event}:
	case <-h.done:
	}
}

// RoomSize returns the number of clients connected to room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

func (h *Hub) addClient(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) removeClient(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func encode(ev Event) ([]byte, error) {
	return json.Marshal(ev)
}
