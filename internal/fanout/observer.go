package fanout

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendQueueSize  = 256
)

// Observer is one connected websocket client plus its room subscriptions.
type Observer struct {
	ID   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	// guarded by hub.mu
	rooms map[string]struct{}

	closeOnce sync.Once
}

func (o *Observer) sendEvent(event string, payload any) {
	data, err := json.Marshal(Event{Event: event, Payload: payload})
	if err != nil {
		return
	}
	select {
	case o.send <- data:
	default:
	}
}

// readPump parses inbound commands until the connection drops, then purges
// the observer everywhere.
func (o *Observer) readPump(ctx context.Context) {
	defer func() {
		o.hub.Disconnect(o.ID)
		_ = o.conn.Close()
	}()
	o.conn.SetReadLimit(maxMessageSize)
	_ = o.conn.SetReadDeadline(time.Now().Add(pongWait))
	o.conn.SetPongHandler(func(string) error {
		return o.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := o.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				if o.hub.logger != nil {
					o.hub.logger.Warn("observer read error", "observer_id", o.ID, "err", err)
				}
			}
			return
		}
		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			o.sendEvent("command-error", map[string]string{"error": "malformed command"})
			continue
		}
		o.hub.handleCommand(ctx, o, cmd)
	}
}

func (o *Observer) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = o.conn.Close()
	}()
	for {
		select {
		case data, ok := <-o.send:
			_ = o.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = o.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := o.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = o.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := o.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
