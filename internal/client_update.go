package internal

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

func (model *WatcherModel) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch typedMessage := message.(type) {
	case tea.KeyMsg:
		return model.handleKey(typedMessage)

	case spinner.TickMsg:
		var cmd tea.Cmd
		model.spinner, cmd = model.spinner.Update(typedMessage)
		return model, cmd

	case healthMsg:
		if typedMessage.err != nil {
			model.connectionError = typedMessage.err
			model.addNotice("Server unavailable: " + typedMessage.err.Error())
			return model, model.scheduleReconnect()
		}
		return model, model.connectCmd()

	case connectFailedMsg:
		model.connectionError = typedMessage.err
		model.addNotice("Connect failed: " + typedMessage.err.Error())
		return model, model.scheduleReconnect()

	case connectedMsg:
		if typedMessage.generation != model.generation {
			_ = typedMessage.conn.Close()
			return model, nil
		}
		model.websocketConn = typedMessage.conn
		model.isConnected = true
		model.connectionError = nil
		model.reconnecting = false
		model.addNotice("Connected")
		cmds := []tea.Cmd{readOnceCmd(typedMessage.conn, typedMessage.generation), model.scheduleHeartbeat(typedMessage.generation)}
		if model.visible {
			cmds = append(cmds, model.sendCmd(TypeHeartbeat))
		}
		return model, tea.Batch(cmds...)

	case serverMsg:
		if typedMessage.generation != model.generation || !model.isConnected {
			return model, nil
		}
		model.applyServerMessage(typedMessage.message)
		return model, readOnceCmd(model.websocketConn, typedMessage.generation)

	case disconnectedMsg:
		if typedMessage.generation != model.generation || !model.isConnected {
			return model, nil
		}
		model.isConnected = false
		model.hasCount = false
		if model.websocketConn != nil {
			_ = model.websocketConn.Close()
			model.websocketConn = nil
		}
		model.connectionError = typedMessage.err
		model.addNotice("Disconnected")
		if !model.visible {
			// reconnect once the watcher comes back
			return model, nil
		}
		return model, model.scheduleReconnect()

	case heartbeatTickMsg:
		if typedMessage.generation != model.generation || !model.isConnected {
			return model, nil
		}
		next := model.scheduleHeartbeat(typedMessage.generation)
		if !model.visible {
			return model, next
		}
		return model, tea.Batch(model.sendCmd(TypeHeartbeat), next)

	case reconnectMsg:
		model.reconnecting = false
		if model.isConnected || !model.visible {
			return model, nil
		}
		return model, model.healthCmd()

	case sendFailedMsg:
		model.addNotice("Send failed: " + typedMessage.err.Error())
		return model, nil
	}
	return model, nil
}

func (model *WatcherModel) handleKey(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key.String() {
	case "ctrl+c", "esc", "q":
		model.closeConn()
		return model, tea.Quit
	case " ":
		return model, model.toggleVisible()
	case "p":
		if !model.isConnected {
			return model, nil
		}
		model.pingSentAt = model.now()
		return model, model.sendCmd(TypePing)
	}
	return model, nil
}

// toggleVisible plays the part of the browser's visibilitychange event.
func (model *WatcherModel) toggleVisible() tea.Cmd {
	model.visible = !model.visible
	if !model.visible {
		model.addNotice("Away: heartbeats paused")
		if model.isConnected {
			return model.sendCmd(TypeInactive)
		}
		return nil
	}
	model.addNotice("Back: heartbeats resumed")
	if model.isConnected {
		return tea.Sequence(model.sendCmd(TypeActive), model.sendCmd(TypeHeartbeat))
	}
	if model.reconnecting {
		return nil
	}
	return model.healthCmd()
}

func (model *WatcherModel) applyServerMessage(message ServerMessage) {
	switch message.Type {
	case TypeCount:
		if message.Count == nil {
			return
		}
		model.count = *message.Count
		model.hasCount = true
		model.lastUpdate = model.now()
	case TypePong:
		if model.pingSentAt.IsZero() {
			return
		}
		model.lastRTT = model.now().Sub(model.pingSentAt)
		model.pingSentAt = time.Time{}
		model.addNotice(fmt.Sprintf("Pong in %s", model.lastRTT.Round(100*time.Microsecond)))
	}
}
