package internal

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// client -> server message types
const (
	TypeHeartbeat = "heartbeat"
	TypePing      = "ping"
	TypeActive    = "active"
	TypeInactive  = "inactive"
)

// server -> client message types
const (
	TypeCount = "count"
	TypePong  = "pong"
)

// ErrInvalidMessage is returned for frames that are not a JSON object with a string type.
var ErrInvalidMessage = errors.New("invalid presence message")

// ClientMessage is the json envelope a browser tab sends over its socket.
type ClientMessage struct {
	Type      string `json:"type"`
	UserID    string `json:"userId"`
	PageURL   string `json:"pageUrl"`
	Timestamp int64  `json:"timestamp"`
}

// ServerMessage is what the tracker sends back. Count is only set on count messages.
type ServerMessage struct {
	Type      string `json:"type"`
	Count     *int   `json:"count,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// DecodeClientMessage parses a raw frame. Unknown types decode fine and are left to the caller.
func DecodeClientMessage(payload []byte) (ClientMessage, error) {
	var envelope struct {
		Type      *string         `json:"type"`
		UserID    json.RawMessage `json:"userId"`
		PageURL   json.RawMessage `json:"pageUrl"`
		Timestamp json.RawMessage `json:"timestamp"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return ClientMessage{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if envelope.Type == nil {
		return ClientMessage{}, fmt.Errorf("%w: missing type", ErrInvalidMessage)
	}
	// only the type decides what a frame means; the other fields are advisory and a bad value
	// in one of them must not drop the frame
	message := ClientMessage{
		Type:    *envelope.Type,
		UserID:  optionalString(envelope.UserID),
		PageURL: optionalString(envelope.PageURL),
	}
	if len(envelope.Timestamp) > 0 {
		var ts float64
		if err := json.Unmarshal(envelope.Timestamp, &ts); err == nil {
			message.Timestamp = int64(ts)
		}
	}
	return message, nil
}

func optionalString(raw json.RawMessage) string {
	var value string
	if len(raw) > 0 && json.Unmarshal(raw, &value) == nil {
		return value
	}
	return ""
}

// NewCountMessage builds the count payload sent on connect, on state changes and on heartbeats.
func NewCountMessage(count int, at time.Time) ServerMessage {
	return ServerMessage{Type: TypeCount, Count: &count, Timestamp: at.UnixMilli()}
}

// NewPongMessage answers a ping.
func NewPongMessage(at time.Time) ServerMessage {
	return ServerMessage{Type: TypePong, Timestamp: at.UnixMilli()}
}

func (m ServerMessage) encode() ([]byte, error) {
	return json.Marshal(m)
}

// NewClientMessage builds the envelope the watcher sends for messageType.
func NewClientMessage(messageType, userID, page string, at time.Time) ClientMessage {
	return ClientMessage{Type: messageType, UserID: userID, PageURL: page, Timestamp: at.UnixMilli()}
}

// DecodeServerMessage parses a frame received from the tracker.
func DecodeServerMessage(payload []byte) (ServerMessage, error) {
	var message ServerMessage
	if err := json.Unmarshal(payload, &message); err != nil {
		return ServerMessage{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if message.Type == "" {
		return ServerMessage{}, fmt.Errorf("%w: missing type", ErrInvalidMessage)
	}
	return message, nil
}
