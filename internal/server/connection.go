package server

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/lox/deathroll/internal/auth"
	"github.com/lox/deathroll/internal/game"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 4096
)

var ErrConnectionClosed = websocket.ErrCloseSent

// Connection represents a WebSocket connection to one chat client. Each
// connection authenticates as a single user and joins a single channel.
type Connection struct {
	conn      *websocket.Conn
	send      chan *Message
	userID    string
	channelID string
	logger    *log.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	mu        sync.RWMutex
	closeOnce sync.Once
	engine    *game.Engine
	validator auth.Validator
}

// NewConnection creates a new connection wrapper.
func NewConnection(conn *websocket.Conn, logger *log.Logger, engine *game.Engine, validator auth.Validator) *Connection {
	ctx, cancel := context.WithCancel(context.Background())

	return &Connection{
		conn:      conn,
		send:      make(chan *Message, 256),
		logger:    logger.WithPrefix("conn"),
		ctx:       ctx,
		cancel:    cancel,
		engine:    engine,
		validator: validator,
	}
}

// Start begins handling the connection.
func (c *Connection) Start() {
	go c.writePump()
	go c.readPump()
}

// Close closes the connection.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		close(c.send)
		err = c.conn.Close()
	})
	return err
}

// SendMessage sends a message to the client.
func (c *Connection) SendMessage(msg *Message) error {
	defer func() {
		if r := recover(); r != nil {
			// Channel was closed during shutdown.
			c.logger.Debug("Attempted to send message on closed connection", "error", r)
		}
	}()

	select {
	case c.send <- msg:
		return nil
	case <-c.ctx.Done():
		return c.ctx.Err()
	default:
		c.logger.Warn("Connection send buffer full, closing connection")
		_ = c.Close()
		return ErrConnectionClosed
	}
}

// SetUser associates this connection with a user.
func (c *Connection) SetUser(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userID = userID
}

// GetUser returns the associated user id.
func (c *Connection) GetUser() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

// SetChannel associates this connection with a channel.
func (c *Connection) SetChannel(channelID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.channelID = channelID
}

// GetChannel returns the associated channel id.
func (c *Connection) GetChannel() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channelID
}

// readPump handles incoming messages from the client.
func (c *Connection) readPump() {
	defer func() { _ = c.Close() }()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		var msg Message
		err := c.conn.ReadJSON(&msg)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket error", "error", err)
			}
			break
		}

		c.handleMessage(&msg)
	}
}

// writePump handles outgoing messages to the client.
func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteJSON(message); err != nil {
				c.logger.Error("Failed to write message", "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// handleMessage processes incoming messages from the client.
func (c *Connection) handleMessage(msg *Message) {
	c.logger.Debug("Received message", "type", msg.Type, "user", c.GetUser())

	switch msg.Type {
	case MessageTypeAuth:
		var data AuthData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			c.sendError("invalid_message", "Failed to parse auth data")
			return
		}
		c.handleAuth(data)

	case MessageTypeJoin:
		var data JoinData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			c.sendError("invalid_message", "Failed to parse join data")
			return
		}
		c.handleJoin(data)

	case MessageTypeChallenge:
		var data ChallengeData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			c.sendError("invalid_message", "Failed to parse challenge data")
			return
		}
		c.handleChallenge(data)

	case MessageTypeRoll:
		c.handleRoll()

	case MessageTypeBalance:
		c.handleBalance()

	case MessageTypeEarn:
		c.handleEarn()

	case MessageTypePay:
		var data PayData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			c.sendError("invalid_message", "Failed to parse pay data")
			return
		}
		c.handlePay(data)

	default:
		c.sendError("unknown_message_type", "Unknown message type: "+string(msg.Type))
	}
}

// requireAuth returns the authenticated user id, sending an error and
// returning false when the connection has not authenticated.
func (c *Connection) requireAuth() (string, bool) {
	userID := c.GetUser()
	if userID == "" {
		c.sendError("not_authenticated", "Must authenticate first")
		return "", false
	}
	return userID, true
}

// requireChannel returns the joined channel id, sending an error and
// returning false when no channel has been joined.
func (c *Connection) requireChannel() (string, bool) {
	channelID := c.GetChannel()
	if channelID == "" {
		c.sendError("no_channel", "Must join a channel first")
		return "", false
	}
	return channelID, true
}

func (c *Connection) handleAuth(data AuthData) {
	c.logger.Info("Auth request", "userId", data.UserID)

	userID := data.UserID

	identity, err := c.validator.Validate(c.ctx, data.Token)
	switch {
	case errors.Is(err, auth.ErrInvalidToken):
		c.sendError("invalid_auth", "Invalid token")
		return
	case errors.Is(err, auth.ErrUnavailable):
		// Fail closed: a wager ledger should not trust unverified ids.
		c.sendError("auth_unavailable", "Authentication service unavailable")
		return
	case err != nil:
		c.sendError("invalid_auth", "Authentication failed")
		return
	case identity != nil:
		// The validated identity overrides whatever the client claimed.
		userID = identity.UserID
	}

	if userID == "" {
		c.sendError("invalid_auth", "User id required")
		return
	}

	c.SetUser(userID)

	response, _ := NewMessage(MessageTypeAuthResponse, AuthResponseData{
		Success: true,
		UserID:  userID,
	})
	_ = c.SendMessage(response)
}

func (c *Connection) handleJoin(data JoinData) {
	if _, ok := c.requireAuth(); !ok {
		return
	}
	if data.ChannelID == "" {
		c.sendError("invalid_message", "Channel id required")
		return
	}

	c.SetChannel(data.ChannelID)
	c.logger.Info("Joined channel", "channelId", data.ChannelID, "user", c.GetUser())

	response, _ := NewMessage(MessageTypeChannelJoined, ChannelJoinedData{ChannelID: data.ChannelID})
	_ = c.SendMessage(response)
}

func (c *Connection) handleChallenge(data ChallengeData) {
	userID, ok := c.requireAuth()
	if !ok {
		return
	}
	channelID, ok := c.requireChannel()
	if !ok {
		return
	}

	err := c.engine.Challenge(c.ctx, channelID, userID, data.OpponentID, data.Start, data.Wager)
	if err != nil {
		c.sendEngineError(err)
		return
	}
	// No direct response: the engine broadcasts ChallengeStarted.
}

func (c *Connection) handleRoll() {
	userID, ok := c.requireAuth()
	if !ok {
		return
	}
	channelID, ok := c.requireChannel()
	if !ok {
		return
	}

	if err := c.engine.Roll(c.ctx, channelID, userID); err != nil {
		c.sendEngineError(err)
		return
	}
	// No direct response: the engine broadcasts RollResult and GameWon.
}

func (c *Connection) handleBalance() {
	userID, ok := c.requireAuth()
	if !ok {
		return
	}

	acct, err := c.engine.Balance(c.ctx, userID)
	if err != nil {
		c.sendEngineError(err)
		return
	}

	response, _ := NewMessage(MessageTypeBalanceResult, BalanceResultData{
		UserID: acct.ID,
		Gold:   acct.Gold,
		Wins:   acct.Wins,
		Losses: acct.Losses,
	})
	_ = c.SendMessage(response)
}

func (c *Connection) handleEarn() {
	userID, ok := c.requireAuth()
	if !ok {
		return
	}

	earned, balance, err := c.engine.Earn(c.ctx, userID)
	if err != nil {
		c.sendEngineError(err)
		return
	}

	response, _ := NewMessage(MessageTypeEarnResult, EarnResultData{
		UserID: userID,
		Earned: earned,
		Gold:   balance,
	})
	_ = c.SendMessage(response)
}

func (c *Connection) handlePay(data PayData) {
	userID, ok := c.requireAuth()
	if !ok {
		return
	}

	if err := c.engine.Pay(c.ctx, userID, data.ToID, data.Amount); err != nil {
		c.sendEngineError(err)
		return
	}

	response, _ := NewMessage(MessageTypePayResult, PayResultData{
		FromID: userID,
		ToID:   data.ToID,
		Amount: data.Amount,
	})
	_ = c.SendMessage(response)
}

// sendEngineError maps an engine error to a wire error code.
func (c *Connection) sendEngineError(err error) {
	c.sendError(errorCode(err), err.Error())
}

// errorCode maps engine validation errors to stable wire codes.
func errorCode(err error) string {
	switch {
	case errors.Is(err, game.ErrSelfChallenge):
		return "self_challenge"
	case errors.Is(err, game.ErrGameInProgress):
		return "game_in_progress"
	case errors.Is(err, game.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, game.ErrNotYourTurn):
		return "not_your_turn"
	case errors.Is(err, game.ErrNoActiveGame):
		return "no_active_game"
	case errors.Is(err, game.ErrInvalidAmount):
		return "invalid_amount"
	default:
		return "internal_error"
	}
}

// sendError sends an error message to the client.
func (c *Connection) sendError(code, message string) {
	errorMsg, err := NewMessage(MessageTypeError, ErrorData{
		Code:    code,
		Message: message,
	})
	if err != nil {
		c.logger.Error("Failed to create error message", "error", err)
		return
	}

	_ = c.SendMessage(errorMsg)
}
