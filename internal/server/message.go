package server

import (
	"encoding/json"
	"time"
)

// MessageType identifies the payload carried in a message envelope.
type MessageType string

// Client → server message types.
const (
	MessageTypeAuth      MessageType = "auth"
	MessageTypeJoin      MessageType = "join_channel"
	MessageTypeChallenge MessageType = "challenge"
	MessageTypeRoll      MessageType = "roll"
	MessageTypeBalance   MessageType = "balance"
	MessageTypeEarn      MessageType = "earn"
	MessageTypePay       MessageType = "pay"
)

// Server → client message types.
const (
	MessageTypeAuthResponse     MessageType = "auth_response"
	MessageTypeChannelJoined    MessageType = "channel_joined"
	MessageTypeChallengeStarted MessageType = "challenge_started"
	MessageTypeRollResult       MessageType = "roll_result"
	MessageTypeGameWon          MessageType = "game_won"
	MessageTypeBalanceResult    MessageType = "balance_result"
	MessageTypeEarnResult       MessageType = "earn_result"
	MessageTypePayResult        MessageType = "pay_result"
	MessageTypeError            MessageType = "error"
)

// Message is the base WebSocket message structure.
type Message struct {
	Type      MessageType     `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewMessage creates a message with the current timestamp.
func NewMessage(messageType MessageType, data interface{}) (*Message, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Message{
		Type:      messageType,
		Data:      dataBytes,
		Timestamp: time.Now(),
	}, nil
}

// Client → Server payloads

type AuthData struct {
	UserID string `json:"userId,omitempty"`
	Token  string `json:"token,omitempty"`
}

type JoinData struct {
	ChannelID string `json:"channelId"`
}

type ChallengeData struct {
	OpponentID string `json:"opponentId"`
	Start      int64  `json:"start"`
	Wager      int64  `json:"wager"`
}

type PayData struct {
	ToID   string `json:"toId"`
	Amount int64  `json:"amount"`
}

// Server → Client payloads

type AuthResponseData struct {
	Success bool   `json:"success"`
	UserID  string `json:"userId,omitempty"`
	Error   string `json:"error,omitempty"`
}

type ChannelJoinedData struct {
	ChannelID string `json:"channelId"`
}

type BalanceResultData struct {
	UserID string `json:"userId"`
	Gold   int64  `json:"gold"`
	Wins   int64  `json:"wins"`
	Losses int64  `json:"losses"`
}

type EarnResultData struct {
	UserID string `json:"userId"`
	Earned int64  `json:"earned"`
	Gold   int64  `json:"gold"`
}

type PayResultData struct {
	FromID string `json:"fromId"`
	ToID   string `json:"toId"`
	Amount int64  `json:"amount"`
}

type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
