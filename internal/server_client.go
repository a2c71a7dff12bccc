package internal

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMsgSize     = 8192
	sendBufferSize = 256
)

var (
	errSendBufferFull = errors.New("send buffer full")
	errClientClosed   = errors.New("client closed")
)

// Client wraps one websocket connection and a buffered send queue. It is the SessionConn the
// tracker sees; the tracker never writes to the socket directly.
type Client struct {
	id      uuid.UUID
	tracker *PresenceTracker
	conn    *websocket.Conn
	send    chan []byte
	logger  *slog.Logger

	mu       sync.Mutex
	closed   bool
	closeMsg []byte
}

func newClient(tracker *PresenceTracker, conn *websocket.Conn, logger *slog.Logger) *Client {
	id := uuid.New()
	return &Client{
		id:      id,
		tracker: tracker,
		conn:    conn,
		send:    make(chan []byte, sendBufferSize),
		logger:  logger.With("conn", id),
	}
}

// Send queues payload without blocking. A slow reader loses messages instead of stalling the page.
func (client *Client) Send(payload []byte) error {
	client.mu.Lock()
	defer client.mu.Unlock()
	if client.closed {
		return errClientClosed
	}
	select {
	case client.send <- payload:
		return nil
	default:
		return errSendBufferFull
	}
}

// Close asks writePump to send a close frame and drop the socket. Safe to call more than once.
func (client *Client) Close(code int, reason string) {
	client.mu.Lock()
	defer client.mu.Unlock()
	if client.closed {
		return
	}
	client.closed = true
	client.closeMsg = websocket.FormatCloseMessage(code, reason)
	close(client.send)
}

func (client *Client) closeMessage() []byte {
	client.mu.Lock()
	defer client.mu.Unlock()
	return client.closeMsg
}

func (client *Client) readPump() {
	var cause error
	defer func() {
		client.tracker.Leave(client, cause)
		client.Close(websocket.CloseNormalClosure, "")
		client.conn.Close()
	}()
	client.conn.SetReadLimit(maxMsgSize)
	_ = client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		messageType, payload, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				cause = err
			} else {
				client.logger.Debug("socket closed", "error", err)
			}
			return
		}
		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}
		client.tracker.HandleMessage(client, payload)
	}
}

func (client *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()
	for {
		select {
		case message, ok := <-client.send:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// the send channel is closed only by Close, which leaves the close frame behind
				_ = client.conn.WriteMessage(websocket.CloseMessage, client.closeMessage())
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				client.logger.Debug("write failed", "error", err)
				return
			}
		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
