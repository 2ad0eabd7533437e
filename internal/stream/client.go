package stream

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/RathijitAich/HomeChatBack/internal/config"
	"github.com/RathijitAich/HomeChatBack/internal/models"
)

// State tracks the event stream connection lifecycle:
// DISCONNECTED -> CONNECTING -> CONNECTED -> (DISCONNECTED on drop).
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Handler receives each validated message broadcast by the broker.
type Handler func(models.Message)

// Client is the publish/subscribe leg of the chat transport. The broker
// persists published messages and rebroadcasts them on the broadcast subject,
// including back to the sender; that rebroadcast is the sender's delivery
// confirmation, so Publish never echoes locally.
type Client struct {
	url              string
	broadcastSubject string
	sendSubject      string
	reconnectWait    time.Duration

	handler Handler

	mu    sync.RWMutex
	state State
	nc    *nats.Conn
}

func NewClient(cfg *config.Config, handler Handler) *Client {
	return &Client{
		url:              cfg.NatsURL,
		broadcastSubject: cfg.BroadcastSubject,
		sendSubject:      cfg.SendSubject,
		reconnectWait:    cfg.ReconnectWait,
		handler:          handler,
		state:            StateDisconnected,
	}
}

// Connect establishes the broker connection and subscribes to the broadcast
// subject. Reconnection after a drop is automatic with a fixed delay; the
// subscription survives reconnects.
func (c *Client) Connect() error {
	c.setState(StateConnecting)

	nc, err := nats.Connect(
		c.url,
		nats.ReconnectWait(c.reconnectWait),
		nats.MaxReconnects(-1),
		nats.RetryOnFailedConnect(true),
		nats.ConnectHandler(func(_ *nats.Conn) {
			c.setState(StateConnected)
			log.Printf("Connected to event stream at %s", c.url)
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			c.setState(StateDisconnected)
			if err != nil {
				log.Printf("Event stream disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			c.setState(StateConnected)
			log.Println("Event stream reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			c.setState(StateDisconnected)
		}),
	)
	if err != nil {
		c.setState(StateDisconnected)
		return fmt.Errorf("failed to connect to event stream: %w", err)
	}

	c.mu.Lock()
	c.nc = nc
	c.mu.Unlock()

	if _, err := nc.Subscribe(c.broadcastSubject, c.onBroadcast); err != nil {
		nc.Close()
		c.setState(StateDisconnected)
		return fmt.Errorf("failed to subscribe to '%s': %w", c.broadcastSubject, err)
	}

	if nc.IsConnected() {
		c.setState(StateConnected)
	}
	return nil
}

func (c *Client) onBroadcast(natsMsg *nats.Msg) {
	var message models.Message
	if err := json.Unmarshal(natsMsg.Data, &message); err != nil {
		log.Printf("Error unmarshaling message from subject '%s': %v", natsMsg.Subject, err)
		return
	}
	if err := message.Validate(); err != nil {
		return
	}
	if c.handler != nil {
		c.handler(message)
	}
}

// Publish sends a new message to the broker's send subject. It is the primary
// send path and is only usable while the connection is established.
func (c *Client) Publish(submission models.MessageSubmission) error {
	c.mu.RLock()
	nc := c.nc
	state := c.state
	c.mu.RUnlock()

	if nc == nil || state != StateConnected {
		return fmt.Errorf("event stream not connected")
	}

	data, err := json.Marshal(submission)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	if err := nc.Publish(c.sendSubject, data); err != nil {
		return fmt.Errorf("failed to publish to '%s': %w", c.sendSubject, err)
	}
	return nil
}

// Connected reports whether the primary send path is currently usable.
func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state == StateConnected
}

// Status returns the connection state name for the SPA's send-path indicator.
func (c *Client) Status() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.String()
}

func (c *Client) setState(state State) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
}

func (c *Client) Close() {
	c.mu.Lock()
	nc := c.nc
	c.nc = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	if nc != nil {
		nc.Close()
	}
}
