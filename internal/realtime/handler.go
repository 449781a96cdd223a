package realtime

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// Handler upgrades instructor dashboard connections and registers them with
// the hub for their course group.
type Handler struct {
	hub           *Hub
	allowedOrigin string
	isDev         bool
}

// NewHandler creates a dashboard WebSocket handler.
func NewHandler(hub *Hub, allowedOrigin string, isDev bool) *Handler {
	return &Handler{
		hub:           hub,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// ServeHTTP implements http.Handler for the WebSocket upgrade at
// GET /ws/dashboard?course_id=<course>.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	courseID := r.URL.Query().Get("course_id")
	if courseID == "" {
		http.Error(w, "course_id is required", http.StatusBadRequest)
		return
	}

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("failed to accept dashboard WebSocket", "error", err, "course_id", courseID)
		return
	}

	connID := uuid.NewString()
	slog.Info("dashboard connection opened", "course_id", courseID, "connection_id", connID, "ip", r.RemoteAddr)

	h.hub.Subscribe(courseID, connID, ws)
	defer h.hub.Unsubscribe(courseID, connID)
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "connection ended"); closeErr != nil {
			slog.Debug("failed to close dashboard websocket", "error", closeErr, "connection_id", connID)
		}
	}()

	// Dashboards only listen. Drain client frames until the connection
	// drops so disconnects are detected promptly.
	h.readLoop(r.Context(), ws, courseID, connID)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("dashboard WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, courseID, connID string) {
	for {
		if _, _, err := ws.Read(ctx); err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("dashboard WebSocket closed by client", "connection_id", connID)
			} else {
				slog.Debug("dashboard WebSocket read ended", "error", err, "connection_id", connID)
			}
			slog.Info("dashboard connection closed", "course_id", courseID, "connection_id", connID)
			return
		}
	}
}
