package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/MayoPickle/tofu-chillsync/internal/config"
	"github.com/MayoPickle/tofu-chillsync/pkg/log"
)

var ErrHubStopped = errors.New("hub stopped")

// Hub tracks live WebSocket clients and the rooms they are in. Every write to
// a client's Send channel happens on the Run goroutine, so messages reach
// each client in the order they were handed to the hub.
type Hub struct {
	clients    map[string]*Client            // clientID -> client
	rooms      map[string]map[string]*Client // roomID -> clientID -> client
	unregister chan *Client
	outbound   chan *Envelope
	done       chan struct{}
	mu         sync.RWMutex
	config     config.WebSocketConfig
}

// Envelope is one queued delivery: to a whole room, or to a single client
// when Target is set.
type Envelope struct {
	RoomID  string
	Target  string
	Message []byte
	Exclude string // Client ID to exclude
}

func NewHub(cfg config.WebSocketConfig) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		rooms:      make(map[string]map[string]*Client),
		unregister: make(chan *Client),
		outbound:   make(chan *Envelope, 1024),
		done:       make(chan struct{}),
		config:     cfg,
	}
}

// Run serves unregister and delivery until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	l := log.L()

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for id, client := range h.clients {
				delete(h.clients, id)
				close(client.Send)
			}
			h.rooms = make(map[string]map[string]*Client)
			h.mu.Unlock()
			return

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.ID]; ok {
				for roomID, members := range h.rooms {
					delete(members, client.ID)
					if len(members) == 0 {
						delete(h.rooms, roomID)
					}
				}
				delete(h.clients, client.ID)
				close(client.Send)
			}
			h.mu.Unlock()
			l.Debug().Str(log.FieldConnectionID, client.ID).Msg("client unregistered")

		case env := <-h.outbound:
			h.deliver(env)
		}
	}
}

func (h *Hub) deliver(env *Envelope) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if env.Target != "" {
		if client, ok := h.clients[env.Target]; ok {
			h.push(client, env.Message)
		}
		return
	}

	for clientID, client := range h.rooms[env.RoomID] {
		if clientID == env.Exclude {
			continue
		}
		h.push(client, env.Message)
	}
}

func (h *Hub) push(client *Client, msg []byte) {
	select {
	case client.Send <- msg:
	default:
		l := log.L()
		l.Warn().Str(log.FieldConnectionID, client.ID).Msg("send buffer full, dropping client")
		go h.Unregister(client)
	}
}

// Register adds client synchronously so it can join rooms right away.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	h.clients[client.ID] = client
	h.mu.Unlock()
	l := log.L()
	l.Debug().Str(log.FieldConnectionID, client.ID).Msg("client registered")
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) JoinRoom(client *Client, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	if _, ok := h.rooms[roomID]; !ok {
		h.rooms[roomID] = make(map[string]*Client)
	}
	h.rooms[roomID][client.ID] = client
	l := log.L()
	l.Debug().Str(log.FieldConnectionID, client.ID).Str(log.FieldRoomID, roomID).Msg("client joined room")
}

func (h *Hub) LeaveRoom(client *Client, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if members, ok := h.rooms[roomID]; ok {
		delete(members, client.ID)
		if len(members) == 0 {
			delete(h.rooms, roomID)
		}
	}
	l := log.L()
	l.Debug().Str(log.FieldConnectionID, client.ID).Str(log.FieldRoomID, roomID).Msg("client left room")
}

// BroadcastToRoom queues message for every client in roomID except exclude.
func (h *Hub) BroadcastToRoom(roomID string, message interface{}, exclude string) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	return h.enqueue(&Envelope{RoomID: roomID, Message: data, Exclude: exclude})
}

// SendToConnection queues message for a single client.
func (h *Hub) SendToConnection(connectionID string, message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	return h.enqueue(&Envelope{Target: connectionID, Message: data})
}

func (h *Hub) enqueue(env *Envelope) error {
	select {
	case h.outbound <- env:
		return nil
	case <-h.done:
		return ErrHubStopped
	}
}

func (h *Hub) GetRoomClientCount(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
