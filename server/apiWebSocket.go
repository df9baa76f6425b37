package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/cyclopcam/firewatch/server/monitor"
	"github.com/cyclopcam/www"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

const (
	wsPushInterval      = 250 * time.Millisecond // Status is pushed at most this often
	wsHeartbeatInterval = 2 * time.Second        // Status is pushed at least this often
	wsWriteTimeout      = 5 * time.Second
)

// SYNC-FIREWATCH-WEBSOCKET-JSON
type wsStatusJSON struct {
	Status        *monitor.Status `json:"status"`
	DetectorError string          `json:"detectorError,omitempty"` // Most recent detector error since the previous message
}

type wsCommandJSON struct {
	Command string `json:"command"` // "pause" or "resume"
	History bool   `json:"history"` // For "resume", or any time: include the confidence chart
}

// httpWebSocket streams monitor status to a dashboard.
// Messages are sent after ticks, but throttled, with a heartbeat when nothing is happening.
// The client can send {"command":"pause"} and {"command":"resume"} to stop and start the stream.
func (s *Server) httpWebSocket(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Log.Errorf("Status websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ticks := s.Monitor.AddWatcher()
	defer s.Monitor.RemoveWatcher(ticks)

	commands := make(chan wsCommandJSON, 4)
	done := make(chan struct{})
	defer close(done)
	go s.webSocketReader(conn, commands, done)

	push := time.NewTicker(wsPushInterval)
	defer push.Stop()

	history := www.QueryValue(r, "history") == "1"
	paused := false
	dirty := true
	detectorError := ""
	lastSent := time.Time{}

	for {
		select {
		case result, ok := <-ticks:
			if !ok {
				// Monitor closed
				conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(time.Second))
				return
			}
			dirty = true
			if result.Err != nil {
				detectorError = result.Err.Error()
			}
		case cmd, ok := <-commands:
			if !ok {
				return
			}
			switch cmd.Command {
			case "pause":
				paused = true
			case "resume":
				paused = false
				dirty = true
			default:
				s.Log.Infof("Unknown websocket command '%v'", cmd.Command)
			}
			history = history || cmd.History
		case <-push.C:
			if paused || !(dirty || time.Since(lastSent) >= wsHeartbeatInterval) {
				continue
			}
			msg := wsStatusJSON{
				Status:        s.Monitor.Status(history),
				DetectorError: detectorError,
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(&msg); err != nil {
				s.Log.Infof("Status websocket write failed: %v", err)
				return
			}
			dirty = false
			detectorError = ""
			lastSent = time.Now()
		}
	}
}

// Read from the websocket and post to our own channel, so that a single loop
// owns all writes to the websocket.
func (s *Server) webSocketReader(conn *websocket.Conn, commands chan wsCommandJSON, done chan struct{}) {
	defer close(commands)
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		cmd := wsCommandJSON{}
		if err := json.Unmarshal(data, &cmd); err != nil {
			s.Log.Infof("Status websocket received invalid JSON: %v", err)
			continue
		}
		select {
		case commands <- cmd:
		case <-done:
			return
		}
	}
}
