package client

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/lox/deathroll/internal/server" // Reuse message types
)

// Client is a WebSocket client for the deathroll server.
type Client struct {
	serverURL string
	conn      *websocket.Conn
	send      chan *server.Message
	receive   chan *server.Message
	logger    *log.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	mu        sync.RWMutex
	connected bool
	closeOnce sync.Once
}

// NewClient creates a new WebSocket client.
func NewClient(serverURL string, logger *log.Logger) *Client {
	ctx, cancel := context.WithCancel(context.Background())

	return &Client{
		serverURL: serverURL,
		send:      make(chan *server.Message, 256),
		receive:   make(chan *server.Message, 256),
		logger:    logger.WithPrefix("client"),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Connect establishes a WebSocket connection to the server.
func (c *Client) Connect() error {
	c.logger.Info("Connecting to server", "url", c.serverURL)

	u, err := url.Parse(c.serverURL)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}

	// Convert http/https to ws/wss
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/ws"

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	go c.readPump()
	go c.writePump()

	c.logger.Info("Connected to server")
	return nil
}

// Disconnect closes the WebSocket connection.
func (c *Client) Disconnect() error {
	c.closeOnce.Do(func() {
		c.cancel()

		c.mu.Lock()
		defer c.mu.Unlock()

		if c.conn != nil {
			_ = c.conn.Close()
			c.connected = false
		}

		close(c.send)
		close(c.receive)

		c.logger.Info("Disconnected from server")
	})
	return nil
}

// IsConnected returns whether the client is connected.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Receive returns the channel of messages arriving from the server.
func (c *Client) Receive() <-chan *server.Message {
	return c.receive
}

// SendMessage queues a message for the server.
func (c *Client) SendMessage(msg *server.Message) error {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Debug("Attempted to send on closed client", "error", r)
		}
	}()

	select {
	case c.send <- msg:
		return nil
	case <-c.ctx.Done():
		return c.ctx.Err()
	default:
		return fmt.Errorf("send buffer full")
	}
}

func (c *Client) sendTyped(messageType server.MessageType, data interface{}) error {
	msg, err := server.NewMessage(messageType, data)
	if err != nil {
		return fmt.Errorf("encode %s: %w", messageType, err)
	}
	return c.SendMessage(msg)
}

// Auth authenticates as the given user.
func (c *Client) Auth(userID string) error {
	return c.sendTyped(server.MessageTypeAuth, server.AuthData{UserID: userID})
}

// Join joins a channel.
func (c *Client) Join(channelID string) error {
	return c.sendTyped(server.MessageTypeJoin, server.JoinData{ChannelID: channelID})
}

// Challenge starts a duel against an opponent in the joined channel.
func (c *Client) Challenge(opponentID string, start, wager int64) error {
	return c.sendTyped(server.MessageTypeChallenge, server.ChallengeData{
		OpponentID: opponentID,
		Start:      start,
		Wager:      wager,
	})
}

// Roll takes the current turn.
func (c *Client) Roll() error {
	return c.sendTyped(server.MessageTypeRoll, struct{}{})
}

// Balance requests the user's account.
func (c *Client) Balance() error {
	return c.sendTyped(server.MessageTypeBalance, struct{}{})
}

// Earn requests a work payout.
func (c *Client) Earn() error {
	return c.sendTyped(server.MessageTypeEarn, struct{}{})
}

// Pay transfers gold to another user.
func (c *Client) Pay(toID string, amount int64) error {
	return c.sendTyped(server.MessageTypePay, server.PayData{ToID: toID, Amount: amount})
}

// readPump reads messages from the server.
func (c *Client) readPump() {
	defer func() { _ = c.Disconnect() }()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		var msg server.Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket read error", "error", err)
			}
			return
		}

		select {
		case c.receive <- &msg:
		case <-c.ctx.Done():
			return
		}
	}
}

// writePump writes queued messages to the server.
func (c *Client) writePump() {
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(msg); err != nil {
				c.logger.Error("WebSocket write error", "error", err)
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}
