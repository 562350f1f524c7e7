package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/step-groups/internal/domain"
)

// Message types
const (
	MessageTypeGroupEvent   = "group_event"
	MessageTypeSubscribe    = "subscribe"
	MessageTypeUnsubscribe  = "unsubscribe"
	MessageTypeSubscribed   = "subscribed"
	MessageTypeUnsubscribed = "unsubscribed"
	MessageTypePing         = "ping"
	MessageTypePong         = "pong"
	MessageTypeError        = "error"
)

// ErrBroadcastFull is returned when the hub cannot accept another event.
var ErrBroadcastFull = errors.New("websocket: broadcast queue full")

// Message represents a WebSocket message
type Message struct {
	Type      string    `json:"type"`
	GroupID   string    `json:"group_id,omitempty"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// GroupReader decides whether a user may watch a group. It fails for
// private groups the user does not belong to.
type GroupReader interface {
	GetGroup(ctx context.Context, actorID, groupID string) (*domain.Group, error)
}

// Hub maintains the set of active clients and pushes group events to the
// clients subscribed to each group
type Hub struct {
	// Subscribed clients by group ID
	clients map[string]map[*Client]bool

	// All connected clients
	allClients map[*Client]bool

	register    chan *Client
	unregister  chan *Client
	broadcast   chan *Message
	subscribe   chan *subscriptionRequest
	unsubscribe chan *subscriptionRequest

	groups GroupReader
	mu     sync.RWMutex
	logger *slog.Logger

	// Context for shutdown
	ctx    context.Context
	cancel context.CancelFunc
}

type subscriptionRequest struct {
	client  *Client
	groupID string
}

// NewHub creates a new Hub
func NewHub(groups GroupReader, logger *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:     make(map[string]map[*Client]bool),
		allClients:  make(map[*Client]bool),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan *Message, 256),
		subscribe:   make(chan *subscriptionRequest, 64),
		unsubscribe: make(chan *subscriptionRequest, 64),
		groups:      groups,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	h.logger.Info("WebSocket hub started")
	for {
		select {
		case <-h.ctx.Done():
			h.logger.Info("WebSocket hub stopping")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.allClients[client] = true
			h.mu.Unlock()
			h.logger.Debug("client registered", "client_id", client.id, "user_id", client.userID)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.allClients[client]; ok {
				delete(h.allClients, client)
				for groupID, clients := range h.clients {
					if _, ok := clients[client]; ok {
						delete(clients, client)
						if len(clients) == 0 {
							delete(h.clients, groupID)
						}
					}
				}
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Debug("client unregistered", "client_id", client.id)

		case req := <-h.subscribe:
			h.mu.Lock()
			if _, ok := h.allClients[req.client]; ok {
				if _, ok := h.clients[req.groupID]; !ok {
					h.clients[req.groupID] = make(map[*Client]bool)
				}
				h.clients[req.groupID][req.client] = true
			}
			h.mu.Unlock()
			h.logger.Debug("client subscribed", "client_id", req.client.id, "group_id", req.groupID)

		case req := <-h.unsubscribe:
			h.mu.Lock()
			if clients, ok := h.clients[req.groupID]; ok {
				delete(clients, req.client)
				if len(clients) == 0 {
					delete(h.clients, req.groupID)
				}
			}
			h.mu.Unlock()
			h.logger.Debug("client unsubscribed", "client_id", req.client.id, "group_id", req.groupID)

		case message := <-h.broadcast:
			h.broadcastMessage(message)
		}
	}
}

// Stop stops the hub
func (h *Hub) Stop() {
	h.cancel()
}

// broadcastMessage sends a message to the group's subscribers. A group
// deletion ends every subscription to that group, and a member who leaves or
// is removed stops watching it after this last event.
func (h *Hub) broadcastMessage(message *Message) {
	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("failed to marshal message", "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients[message.GroupID] {
		select {
		case client.send <- data:
		default:
			h.logger.Warn("client buffer full, skipping", "client_id", client.id)
		}
	}

	evt, ok := message.Data.(domain.GroupEvent)
	if !ok {
		return
	}
	switch evt.Type {
	case domain.EventGroupDeleted:
		delete(h.clients, message.GroupID)
	case domain.EventMemberLeft, domain.EventMemberRemoved:
		h.dropUserLocked(message.GroupID, evt.UserID)
	}
}

// dropUserLocked ends every subscription userID holds on groupID. h.mu must
// be held.
func (h *Hub) dropUserLocked(groupID, userID string) {
	clients, ok := h.clients[groupID]
	if !ok || userID == "" {
		return
	}
	for client := range clients {
		if client.userID == userID {
			delete(clients, client)
			h.logger.Debug("subscription ended by membership change", "client_id", client.id, "group_id", groupID)
		}
	}
	if len(clients) == 0 {
		delete(h.clients, groupID)
	}
}

// HandleGroupEvent queues a group event for the group's subscribers
func (h *Hub) HandleGroupEvent(ctx context.Context, event domain.GroupEvent) error {
	message := &Message{
		Type:      MessageTypeGroupEvent,
		GroupID:   event.GroupID,
		Data:      event,
		Timestamp: event.Timestamp,
	}

	select {
	case h.broadcast <- message:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		h.logger.Warn("broadcast channel full, dropping message", "group_id", event.GroupID)
		return ErrBroadcastFull
	}
}

// Publish delivers an event to local subscribers only. It serves as the
// event publisher when Kafka is disabled.
func (h *Hub) Publish(ctx context.Context, event domain.GroupEvent) error {
	return h.HandleGroupEvent(ctx, event)
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Subscribe adds a client to a group subscription after checking that the
// client's user may see the group
func (h *Hub) Subscribe(ctx context.Context, client *Client, groupID string) error {
	if _, err := h.groups.GetGroup(ctx, client.userID, groupID); err != nil {
		return err
	}
	h.subscribe <- &subscriptionRequest{
		client:  client,
		groupID: groupID,
	}
	return nil
}

// Unsubscribe removes a client from a group subscription
func (h *Hub) Unsubscribe(client *Client, groupID string) {
	h.unsubscribe <- &subscriptionRequest{
		client:  client,
		groupID: groupID,
	}
}

// GetSubscriberCount returns the number of subscribers for a group
func (h *Hub) GetSubscriberCount(groupID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[groupID])
}

// GetTotalConnections returns the total number of connected clients
func (h *Hub) GetTotalConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.allClients)
}
