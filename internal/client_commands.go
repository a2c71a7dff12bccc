package internal

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"
)

var errNotConnected = errors.New("websocket not connected")

type (
	healthMsg        struct{ err error }
	connectedMsg     struct {
		conn       *websocket.Conn
		generation int
	}
	connectFailedMsg struct{ err error }
	serverMsg        struct {
		message    ServerMessage
		generation int
	}
	disconnectedMsg struct {
		err        error
		generation int
	}
	heartbeatTickMsg struct{ generation int }
	reconnectMsg     struct{}
	sendFailedMsg    struct{ err error }
)

func (model *WatcherModel) scheduleReconnect() tea.Cmd {
	if model.reconnecting {
		return nil
	}
	model.reconnecting = true
	return tea.Tick(ReconnectDelay, func(time.Time) tea.Msg {
		return reconnectMsg{}
	})
}

func (model *WatcherModel) scheduleHeartbeat(generation int) tea.Cmd {
	return tea.Tick(HeartbeatInterval, func(time.Time) tea.Msg {
		return heartbeatTickMsg{generation: generation}
	})
}

// health probe before every dial so a dead server costs one cheap request
func (model *WatcherModel) healthCmd() tea.Cmd {
	api := model.api
	return func() tea.Msg {
		return healthMsg{err: checkHealth(api)}
	}
}

// websocket dial
func (model *WatcherModel) connectCmd() tea.Cmd {
	model.generation++
	generation := model.generation
	serverURL, page, userID := model.serverURL, model.page, model.userID
	return func() tea.Msg {
		watchURL, err := buildWatchURL(serverURL, page, userID)
		if err != nil {
			return connectFailedMsg{err: err}
		}
		conn, _, err := websocket.DefaultDialer.Dial(watchURL, http.Header{})
		if err != nil {
			return connectFailedMsg{err: err}
		}
		return connectedMsg{conn: conn, generation: generation}
	}
}

// readOnceCmd waits for the next frame on conn; Update re-issues it after each message.
func readOnceCmd(conn *websocket.Conn, generation int) tea.Cmd {
	return func() tea.Msg {
		for {
			_, payload, err := conn.ReadMessage()
			if err != nil {
				return disconnectedMsg{err: err, generation: generation}
			}
			message, err := DecodeServerMessage(payload)
			if err != nil {
				// not something we understand; keep reading
				continue
			}
			return serverMsg{message: message, generation: generation}
		}
	}
}

func (model *WatcherModel) sendCmd(messageType string) tea.Cmd {
	conn := model.websocketConn
	message := NewClientMessage(messageType, model.userID, model.page, model.now())
	return func() tea.Msg {
		if conn == nil {
			return sendFailedMsg{err: errNotConnected}
		}
		encoded, err := json.Marshal(message)
		if err != nil {
			return sendFailedMsg{err: err}
		}
		model.writeMutex.Lock()
		err = conn.WriteMessage(websocket.TextMessage, encoded)
		model.writeMutex.Unlock()
		if err != nil {
			return sendFailedMsg{err: err}
		}
		return nil
	}
}

func (model *WatcherModel) closeConn() {
	if model.websocketConn == nil {
		return
	}
	model.writeMutex.Lock()
	_ = model.websocketConn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "watcher quit"))
	model.writeMutex.Unlock()
	_ = model.websocketConn.Close()
	model.websocketConn = nil
}

// entry for bubbletea
func RunWatcher(serverURL, page, userID string) error {
	model, err := NewWatcherModel(serverURL, page, userID)
	if err != nil {
		return err
	}
	program := tea.NewProgram(model)
	_, err = program.Run()
	return err
}
