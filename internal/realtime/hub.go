// Package realtime fans struggle state changes out to instructor dashboards
// over course-scoped WebSocket groups.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/maziyardowlat/tlef-biocbot-sub004/internal/domain"
)

const publishWriteTimeout = 5 * time.Second

// Conn is the subset of *websocket.Conn the hub needs. Tests substitute
// in-memory fakes.
type Conn interface {
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// Hub manages course-scoped subscriber groups. Delivery is best-effort and
// at-most-once per connection: there is no retry and no durable queue, so a
// dashboard that is offline when an event fires simply misses it.
type Hub struct {
	mu     sync.RWMutex
	groups map[string]map[string]Conn // courseID -> connectionID -> conn
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		groups: make(map[string]map[string]Conn),
	}
}

// Subscribe adds a connection to a course group. Subscribing twice with the
// same connection ID is a no-op.
func (h *Hub) Subscribe(courseID, connID string, conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.groups[courseID]; !exists {
		h.groups[courseID] = make(map[string]Conn)
	}
	if _, exists := h.groups[courseID][connID]; exists {
		return
	}
	h.groups[courseID][connID] = conn
	slog.Info("dashboard subscribed", "course_id", courseID, "connection_id", connID)
}

// Unsubscribe removes a connection from a course group. Leaving a group the
// connection never joined is a no-op.
func (h *Hub) Unsubscribe(courseID, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns, ok := h.groups[courseID]
	if !ok {
		return
	}
	if _, exists := conns[connID]; !exists {
		return
	}
	delete(conns, connID)
	if len(conns) == 0 {
		delete(h.groups, courseID)
	}
	slog.Info("dashboard unsubscribed", "course_id", courseID, "connection_id", connID)
}

// wsEvent is the wire frame sent to dashboard listeners.
type wsEvent struct {
	Type string `json:"type"`
	domain.StateChangeEvent
}

// Publish delivers the event to every connection subscribed to the course's
// group and to no others. Connections whose write fails are dropped from the
// group; the event is not redelivered.
func (h *Hub) Publish(courseID string, event domain.StateChangeEvent) {
	data, err := json.Marshal(wsEvent{Type: "struggle:stateChange", StateChangeEvent: event})
	if err != nil {
		slog.Error("failed to marshal state change event", "error", err, "course_id", courseID)
		return
	}

	h.mu.RLock()
	targets := make(map[string]Conn, len(h.groups[courseID]))
	for connID, conn := range h.groups[courseID] {
		targets[connID] = conn
	}
	h.mu.RUnlock()

	if len(targets) == 0 {
		return
	}

	for connID, conn := range targets {
		ctx, cancel := context.WithTimeout(context.Background(), publishWriteTimeout)
		err := conn.Write(ctx, websocket.MessageText, data)
		cancel()
		if err != nil {
			slog.Warn("dashboard write failed, dropping connection",
				"error", err,
				"course_id", courseID,
				"connection_id", connID)
			h.Unsubscribe(courseID, connID)
			_ = conn.Close(websocket.StatusNormalClosure, "write failed")
		}
	}

	slog.Debug("state change published",
		"course_id", courseID,
		"topic", event.Topic,
		"state", event.State,
		"subscribers", len(targets))
}

// SubscriberCount returns how many connections are in a course group.
func (h *Hub) SubscriberCount(courseID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[courseID])
}

// CloseAll closes every subscribed connection, for server shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for courseID, conns := range h.groups {
		for connID, conn := range conns {
			_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
			slog.Debug("dashboard connection closed", "course_id", courseID, "connection_id", connID)
		}
	}
	h.groups = make(map[string]map[string]Conn)
}
