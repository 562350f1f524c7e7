package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = pongWait * 9 / 10
	maxMessageSize   = 4096
	sendBufferSize   = 256
	subscribeTimeout = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Identity comes from the gateway, which also enforces origins
	CheckOrigin: func(*http.Request) bool { return true },
}

// Client is one user's connection. It may watch several groups at once.
type Client struct {
	id     string
	userID string
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	logger *slog.Logger
}

// ClientMessage is a command sent by the browser
type ClientMessage struct {
	Type    string `json:"type"`
	GroupID string `json:"group_id,omitempty"`
}

// NewClient creates a client for userID on an upgraded connection
func NewClient(hub *Hub, conn *websocket.Conn, userID string, logger *slog.Logger) *Client {
	id := uuid.NewString()
	return &Client{
		id:     id,
		userID: userID,
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		logger: logger.With("client_id", id, "user_id", userID),
	}
}

// ServeWs upgrades the request and attaches a client for userID
func ServeWs(hub *Hub, userID string, logger *slog.Logger, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", "user_id", userID, "error", err)
		return
	}

	c := NewClient(hub, conn, userID, logger)
	hub.Register(c)

	go c.writeLoop()
	go c.readLoop()
}

// readLoop decodes commands until the connection fails, then unregisters
func (c *Client) readLoop() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg ClientMessage
		err := c.conn.ReadJSON(&msg)
		if err == nil {
			c.dispatch(msg)
			continue
		}

		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
			c.reply(Message{Type: MessageTypeError, Data: errorData("invalid message format")})
			continue
		}
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
			c.logger.Debug("websocket closed", "error", err)
		}
		return
	}
}

func (c *Client) dispatch(msg ClientMessage) {
	switch msg.Type {
	case MessageTypeSubscribe:
		if msg.GroupID == "" {
			c.reply(Message{Type: MessageTypeError, Data: errorData("group_id required for subscribe")})
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), subscribeTimeout)
		defer cancel()
		if err := c.hub.Subscribe(ctx, c, msg.GroupID); err != nil {
			c.logger.Debug("subscription refused", "group_id", msg.GroupID, "error", err)
			c.reply(Message{Type: MessageTypeError, GroupID: msg.GroupID, Data: errorData("cannot subscribe to this group")})
			return
		}
		c.reply(Message{Type: MessageTypeSubscribed, GroupID: msg.GroupID})

	case MessageTypeUnsubscribe:
		if msg.GroupID == "" {
			return
		}
		c.hub.Unsubscribe(c, msg.GroupID)
		c.reply(Message{Type: MessageTypeUnsubscribed, GroupID: msg.GroupID})

	case MessageTypePing:
		c.reply(Message{Type: MessageTypePong})

	default:
		c.logger.Debug("unknown message type", "type", msg.Type)
	}
}

// reply queues a direct answer, dropping it when the client is not draining
// its buffer
func (c *Client) reply(msg Message) {
	msg.Timestamp = time.Now().UTC()
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
		c.logger.Warn("client buffer full, reply dropped", "type", msg.Type)
	}
}

func errorData(text string) map[string]string {
	return map[string]string{"error": text}
}

// writeLoop owns all writes to the connection, including keepalive pings
func (c *Client) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		var (
			kind    = websocket.TextMessage
			payload []byte
		)
		select {
		case data, ok := <-c.send:
			if !ok {
				kind = websocket.CloseMessage
			}
			payload = data
		case <-ticker.C:
			kind = websocket.PingMessage
		}

		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(kind, payload); err != nil || kind == websocket.CloseMessage {
			return
		}
	}
}
