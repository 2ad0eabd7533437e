package chatws

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	websocket "github.com/gofiber/contrib/websocket"

	"github.com/RathijitAich/HomeChatBack/internal/models"
	"github.com/RathijitAich/HomeChatBack/internal/services"
)

type Hub struct {
	clients    map[string]map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	push       chan *envelope

	// OnEmpty is invoked when a session's last client disconnects, so the
	// owning service can tear the session down. Set before Run starts.
	OnEmpty func(sessionID string)
}

type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	sessionID string

	mu     sync.Mutex
	closed bool
	send   chan []byte
}

type chatSender interface {
	SelectConversation(ctx context.Context, session *services.ChatSession, partnerEmail string) ([]models.Message, error)
	SendMessage(ctx context.Context, session *services.ChatSession, receiverEmail, content string) (*models.Message, bool, error)
}

// Event is one frame pushed to the SPA: a reconciled message for the open
// conversation, a refreshed sidebar, a history response to a select frame,
// or an error.
type Event struct {
	Type          string                       `json:"type"`
	Message       *models.Message              `json:"message,omitempty"`
	Messages      []models.Message             `json:"messages,omitempty"`
	Conversations []models.ConversationSummary `json:"conversations,omitempty"`
	Partner       string                       `json:"partner,omitempty"`
	Queued        bool                         `json:"queued,omitempty"`
	Error         string                       `json:"error,omitempty"`
}

type envelope struct {
	sessionID string
	event     *Event
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		push:       make(chan *envelope, 64),
	}
}

func NewClient(hub *Hub, conn *websocket.Conn, sessionID string) *Client {
	return &Client{
		hub:       hub,
		conn:      conn,
		sessionID: sessionID,
		send:      make(chan []byte, 32),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			set, ok := h.clients[client.sessionID]
			if !ok {
				set = make(map[*Client]struct{})
				h.clients[client.sessionID] = set
			}
			set[client] = struct{}{}
		case client := <-h.unregister:
			set, ok := h.clients[client.sessionID]
			if !ok {
				continue
			}
			if _, exists := set[client]; exists {
				delete(set, client)
				client.closeSend()
			}
			if len(set) == 0 {
				delete(h.clients, client.sessionID)
				if h.OnEmpty != nil {
					h.OnEmpty(client.sessionID)
				}
			}
		case env := <-h.push:
			h.deliver(env)
		}
	}
}

func (h *Hub) Register(client *Client) {
	h.register <- client
}

func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// PushMessage delivers a reconciled message to every client of the session
// whose open conversation it belongs to.
func (h *Hub) PushMessage(sessionID string, message models.Message) {
	h.push <- &envelope{
		sessionID: sessionID,
		event:     &Event{Type: "message", Message: &message},
	}
}

// PushConversations delivers a refreshed sidebar to every client of the
// session.
func (h *Hub) PushConversations(sessionID string, summaries []models.ConversationSummary) {
	h.push <- &envelope{
		sessionID: sessionID,
		event:     &Event{Type: "conversations", Conversations: summaries},
	}
}

func (h *Hub) deliver(env *envelope) {
	encoded, err := json.Marshal(env.event)
	if err != nil {
		log.Printf("chat hub encode event: %v", err)
		return
	}

	set, ok := h.clients[env.sessionID]
	if !ok {
		return
	}
	for client := range set {
		if !client.trySend(encoded) {
			delete(set, client)
			client.closeSend()
		}
	}
	if len(set) == 0 {
		delete(h.clients, env.sessionID)
		if h.OnEmpty != nil {
			h.OnEmpty(env.sessionID)
		}
	}
}

// ReadPump consumes frames from the SPA. "select" opens a conversation and
// answers with its history; "message" sends through the service, which picks
// the stream or fallback path.
func (c *Client) ReadPump(service chatSender, session *services.ChatSession) {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var incoming struct {
			Type          string `json:"type"`
			Partner       string `json:"partner"`
			ReceiverEmail string `json:"receiverEmail"`
			Content       string `json:"messageContent"`
		}
		if err := json.Unmarshal(payload, &incoming); err != nil {
			c.writeError("invalid frame payload")
			continue
		}

		switch incoming.Type {
		case "select":
			messages, err := service.SelectConversation(context.Background(), session, incoming.Partner)
			if err != nil {
				c.writeError("failed to open conversation")
				continue
			}
			c.writeEvent(&Event{Type: "history", Partner: incoming.Partner, Messages: messages})
		case "message":
			created, queued, err := service.SendMessage(
				context.Background(),
				session,
				incoming.ReceiverEmail,
				incoming.Content,
			)
			if err != nil {
				c.writeError("failed to send message")
				continue
			}
			// Ack only. The rendered copy of a queued send arrives via the
			// broker rebroadcast, never from this frame.
			if !queued && created != nil {
				c.writeEvent(&Event{Type: "sent", Message: created})
			} else {
				c.writeEvent(&Event{Type: "sent", Queued: true})
			}
		default:
			c.writeError("unsupported frame type")
		}
	}
}

func (c *Client) WritePump() {
	defer func() {
		_ = c.conn.Close()
	}()

	for payload := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
}

// trySend enqueues a payload unless the client has overflowed or been
// closed. The send channel is closed exactly once, under the same lock, so a
// writer can never hit a closed channel.
func (c *Client) trySend(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *Client) writeEvent(event *Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	if !c.trySend(payload) {
		c.hub.Unregister(c)
	}
}

func (c *Client) writeError(message string) {
	c.writeEvent(&Event{Type: "error", Error: message})
}
