package ws

import (
	"sync"

	"github.com/sirupsen/logrus"
)

type Hub struct {
	clients            map[*UserClient]struct{}
	rooms              map[string]map[*UserClient]struct{}
	Unregister         chan *UserClient
	done               chan struct{}
	shutdown           sync.Once
	mu                 sync.RWMutex
	log                *logrus.Logger
	OnClientUnregister func(client *UserClient) error
}

func NewHub(log *logrus.Logger) *Hub {
	return &Hub{
		clients:    make(map[*UserClient]struct{}),
		rooms:      make(map[string]map[*UserClient]struct{}),
		Unregister: make(chan *UserClient),
		done:       make(chan struct{}),
		log:        log,
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.Unregister:
			if !h.remove(client) {
				continue
			}

			h.log.WithFields(logrus.Fields{
				"conn_id": client.Id,
				"user_id": client.UserId,
				"total":   h.GetClientCount(),
			}).Info("Client disconnected")

			if h.OnClientUnregister != nil {
				if err := h.OnClientUnregister(client); err != nil {
					h.log.WithError(err).WithField("conn_id", client.Id).Warn("OnClientUnregister failed")
				}
			}

		case <-h.done:
			return
		}
	}
}

// Shutdown stops Run and closes every connection's outbound queue, which
// makes its writer send a close frame.
func (h *Hub) Shutdown() {
	h.shutdown.Do(func() {
		close(h.done)

		h.mu.Lock()
		defer h.mu.Unlock()
		for client := range h.clients {
			close(client.send)
		}
		h.clients = make(map[*UserClient]struct{})
		h.rooms = make(map[string]map[*UserClient]struct{})
	})
}

// RegisterClient adds the client and joins it to its user room before
// returning, so events emitted right after registration reach it.
func (h *Hub) RegisterClient(client *UserClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.join(client, UserRoom(client.UserId))
	total := len(h.clients)
	h.mu.Unlock()

	h.log.WithFields(logrus.Fields{
		"conn_id":   client.Id,
		"user_id":   client.UserId,
		"user_type": client.UserType,
		"total":     total,
	}).Info("Client connected")
}

func (h *Hub) UnregisterClient(client *UserClient) {
	select {
	case h.Unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) Join(client *UserClient, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; !ok {
		return
	}
	h.join(client, room)
}

func (h *Hub) Leave(client *UserClient, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leave(client, room)
}

// EmitToRoom queues message on every connection in room and returns how
// many accepted it. A connection whose queue is full is dropped.
func (h *Hub) EmitToRoom(room string, message []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for client := range h.rooms[room] {
		if h.enqueue(client, message) {
			delivered++
		}
	}
	return delivered
}

// SendToClient queues message on a single connection.
func (h *Hub) SendToClient(client *UserClient, message []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if _, ok := h.clients[client]; !ok {
		return false
	}
	return h.enqueue(client, message)
}

func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) SetOnClientUnregister(callback func(client *UserClient) error) {
	h.OnClientUnregister = callback
}

// enqueue must be called with h.mu held.
func (h *Hub) enqueue(client *UserClient, message []byte) bool {
	select {
	case client.send <- message:
		return true
	default:
		h.log.WithFields(logrus.Fields{
			"conn_id": client.Id,
			"user_id": client.UserId,
		}).Warn("Send queue full, dropping client")
		go h.UnregisterClient(client)
		return false
	}
}

func (h *Hub) remove(client *UserClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; !ok {
		return false
	}
	for room := range client.rooms {
		h.leave(client, room)
	}
	delete(h.clients, client)
	close(client.send)
	return true
}

func (h *Hub) join(client *UserClient, room string) {
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*UserClient]struct{})
		h.rooms[room] = members
	}
	members[client] = struct{}{}
	client.rooms[room] = struct{}{}
}

func (h *Hub) leave(client *UserClient, room string) {
	delete(client.rooms, room)
	members, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(members, client)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}
