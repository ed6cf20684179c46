// Package fanout tracks connected observers and their room subscriptions,
// and pushes reading/threat/status events to them over websockets.
//
// Delivery is at-most-once and unbuffered beyond a small per-observer send
// queue: an observer that falls behind is dropped, and a reconnecting
// observer must re-request snapshots.
package fanout

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"sentinelgrid/internal/model"
)

// Event is the envelope written to observers.
type Event struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

// Command is the envelope observers send on the socket.
type Command struct {
	Type     string `json:"type"`
	Room     string `json:"room,omitempty"`
	ThreatID string `json:"threat_id,omitempty"`
	UserID   string `json:"user_id,omitempty"`
	Notes    string `json:"notes,omitempty"`
}

// Backend answers observer commands; the telemetry driver implements it.
type Backend interface {
	SensorSnapshot() []model.Reading
	ThreatSnapshot() []model.Threat
	SystemSnapshot() model.SystemStatus
	AcknowledgeThreat(ctx context.Context, threatID, userID string) (model.Threat, error)
	ResolveThreat(ctx context.Context, threatID, userID, notes string) (model.Threat, error)
}

type Hub struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu        sync.RWMutex
	observers map[string]*Observer
	rooms     map[string]map[string]*Observer
	backend   Backend

	onCount func(n int)
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		observers: make(map[string]*Observer),
		rooms:     make(map[string]map[string]*Observer),
	}
}

// SetBackend wires the command handler; done after construction because the
// driver and the hub reference each other.
func (h *Hub) SetBackend(b Backend) {
	h.mu.Lock()
	h.backend = b
	h.mu.Unlock()
}

// OnCountChange registers a hook invoked with the observer count after
// every connect and disconnect.
func (h *Hub) OnCountChange(fn func(n int)) {
	h.onCount = fn
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.observers)
}

// Join subscribes an observer to a room. Unknown observers are ignored.
func (h *Hub) Join(observerID, room string) {
	if room == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	obs, ok := h.observers[observerID]
	if !ok {
		return
	}
	obs.rooms[room] = struct{}{}
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[string]*Observer)
	}
	h.rooms[room][observerID] = obs
}

func (h *Hub) Leave(observerID, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	obs, ok := h.observers[observerID]
	if !ok {
		return
	}
	delete(obs.rooms, room)
	if set, ok := h.rooms[room]; ok {
		delete(set, observerID)
		if len(set) == 0 {
			delete(h.rooms, room)
		}
	}
}

// Publish sends an event to every connected observer.
func (h *Hub) Publish(event string, payload any) {
	data, err := json.Marshal(Event{Event: event, Payload: payload})
	if err != nil {
		if h.logger != nil {
			h.logger.Error("event marshal failed", "event", event, "err", err)
		}
		return
	}
	h.mu.RLock()
	stale := h.enqueueLocked(h.observers, data)
	h.mu.RUnlock()
	h.dropAll(stale)
}

// PublishToRoom sends an event to the room's subscribers only.
func (h *Hub) PublishToRoom(room, event string, payload any) {
	data, err := json.Marshal(Event{Event: event, Payload: payload})
	if err != nil {
		if h.logger != nil {
			h.logger.Error("event marshal failed", "event", event, "room", room, "err", err)
		}
		return
	}
	h.mu.RLock()
	stale := h.enqueueLocked(h.rooms[room], data)
	h.mu.RUnlock()
	h.dropAll(stale)
}

// enqueueLocked pushes data to each observer's send queue and reports the
// ones whose queue is full; those get dropped outside the read lock.
func (h *Hub) enqueueLocked(targets map[string]*Observer, data []byte) []string {
	var stale []string
	for id, obs := range targets {
		select {
		case obs.send <- data:
		default:
			stale = append(stale, id)
		}
	}
	return stale
}

func (h *Hub) dropAll(ids []string) {
	for _, id := range ids {
		if h.logger != nil {
			h.logger.Warn("observer not keeping up, disconnecting", "observer_id", id)
		}
		h.Disconnect(id)
	}
}

// Disconnect purges the observer from the registry and every room.
func (h *Hub) Disconnect(observerID string) {
	h.mu.Lock()
	obs, ok := h.observers[observerID]
	if ok {
		delete(h.observers, observerID)
		for room := range obs.rooms {
			if set, exists := h.rooms[room]; exists {
				delete(set, observerID)
				if len(set) == 0 {
					delete(h.rooms, room)
				}
			}
		}
		obs.closeOnce.Do(func() { close(obs.send) })
	}
	count := len(h.observers)
	h.mu.Unlock()
	if ok && h.onCount != nil {
		h.onCount(count)
	}
}

// ServeWS upgrades the request and runs the observer's pumps. On connect
// the observer immediately receives a system-status snapshot; historical
// readings and threats are only sent on explicit request.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		if h.logger != nil {
			h.logger.Warn("websocket upgrade failed", "err", err)
		}
		return
	}
	obs := &Observer{
		ID:    uuid.NewString(),
		hub:   h,
		conn:  conn,
		send:  make(chan []byte, sendQueueSize),
		rooms: make(map[string]struct{}),
	}
	h.mu.Lock()
	h.observers[obs.ID] = obs
	count := len(h.observers)
	backend := h.backend
	h.mu.Unlock()
	if h.onCount != nil {
		h.onCount(count)
	}
	if h.logger != nil {
		h.logger.Info("observer connected", "observer_id", obs.ID, "remote", conn.RemoteAddr().String())
	}

	if backend != nil {
		obs.sendEvent("system-status", backend.SystemSnapshot())
	}

	go obs.writePump()
	obs.readPump(r.Context())
}

func (h *Hub) handleCommand(ctx context.Context, obs *Observer, cmd Command) {
	h.mu.RLock()
	backend := h.backend
	h.mu.RUnlock()

	switch cmd.Type {
	case "join-room":
		h.Join(obs.ID, cmd.Room)
	case "leave-room":
		h.Leave(obs.ID, cmd.Room)
	case "request-sensor-data":
		if backend != nil {
			obs.sendEvent("sensor-data", backend.SensorSnapshot())
		}
	case "request-threat-data":
		if backend != nil {
			obs.sendEvent("threat-data", backend.ThreatSnapshot())
		}
	case "acknowledge-threat":
		if backend == nil {
			return
		}
		t, err := backend.AcknowledgeThreat(ctx, cmd.ThreatID, cmd.UserID)
		if err != nil {
			obs.sendEvent("command-error", map[string]string{"type": cmd.Type, "error": err.Error()})
			return
		}
		h.Publish("threat-update", t)
	case "resolve-threat":
		if backend == nil {
			return
		}
		t, err := backend.ResolveThreat(ctx, cmd.ThreatID, cmd.UserID, cmd.Notes)
		if err != nil {
			obs.sendEvent("command-error", map[string]string{"type": cmd.Type, "error": err.Error()})
			return
		}
		h.Publish("threat-update", t)
	default:
		if h.logger != nil {
			h.logger.Debug("unknown observer command", "type", cmd.Type, "observer_id", obs.ID)
		}
	}
}
