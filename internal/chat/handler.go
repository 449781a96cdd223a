// Package chat implements the per-turn orchestration of the tutoring flow:
// schedule the background struggle analysis, evaluate the intervention
// policy, call the tutor completion, and return the reply. The reply never
// depends on the background branch finishing.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/maziyardowlat/tlef-biocbot-sub004/internal/api"
	"github.com/maziyardowlat/tlef-biocbot-sub004/internal/domain"
	"github.com/maziyardowlat/tlef-biocbot-sub004/internal/identity"
	"github.com/maziyardowlat/tlef-biocbot-sub004/internal/store"
	"github.com/maziyardowlat/tlef-biocbot-sub004/internal/tracker"
	"github.com/maziyardowlat/tlef-biocbot-sub004/internal/tutor"
)

// defaultMaxRequestBodySize is the default maximum allowed request body size (1MB).
const defaultMaxRequestBodySize = 1 << 20

// Tutor produces the student-facing reply for one turn.
type Tutor interface {
	Reply(ctx context.Context, req tutor.TurnRequest) (string, error)
}

// Policy decides whether the turn's prompt gets an intervention directive.
type Policy interface {
	BuildDirective(ctx context.Context, userID, topic string) (string, bool)
}

// Scheduler dispatches the background analysis for a message.
type Scheduler interface {
	Schedule(job tracker.Job)
}

// TurnRequest is the chat request boundary body.
type TurnRequest struct {
	CourseID  string               `json:"courseId"`
	SessionID string               `json:"sessionId"`
	Message   string               `json:"message"`
	History   []domain.ChatMessage `json:"history"`
}

// TurnResponse is returned to the chat UI.
type TurnResponse struct {
	Reply            string `json:"reply"`
	UsedIntervention bool   `json:"usedIntervention"`
}

// Handler handles tutoring chat turns and the instructor struggle routes.
type Handler struct {
	repo          store.Repository
	policy        Policy
	tutor         Tutor
	tracker       Scheduler
	rateLimiter   *RateLimiter
	maxBodySize   int64
	historyWindow int
}

// NewHandler creates a chat handler.
func NewHandler(repo store.Repository, policy Policy, tut Tutor, track Scheduler, rateLimit int, rateWindow time.Duration, maxBodySize int64, historyWindow int) *Handler {
	if maxBodySize <= 0 {
		maxBodySize = defaultMaxRequestBodySize
	}
	if historyWindow <= 0 {
		historyWindow = 12
	}
	return &Handler{
		repo:          repo,
		policy:        policy,
		tutor:         tut,
		tracker:       track,
		rateLimiter:   NewRateLimiter(rateLimit, rateWindow),
		maxBodySize:   maxBodySize,
		historyWindow: historyWindow,
	}
}

// Close stops the handler's rate limiter eviction goroutine.
func (h *Handler) Close() {
	h.rateLimiter.Close()
}

// RegisterRoutes registers the chat and instructor routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/chat", h.HandleChat)
		r.Get("/students/{userID}/struggles", h.HandleGetStruggles)
		r.Post("/students/{userID}/topics/{topic}/reset", h.HandleResetTopic)
	})
}

// HandleChat handles POST /api/chat requests.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	displayName := identity.DisplayNameFromContext(r.Context())
	if userID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if !h.rateLimiter.Allow(userID) {
		api.Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	var req TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			api.Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Message == "" {
		api.Error(w, http.StatusBadRequest, "message is required")
		return
	}
	if req.CourseID == "" {
		api.Error(w, http.StatusBadRequest, "courseId is required")
		return
	}

	history := req.History
	if len(history) > h.historyWindow {
		history = history[len(history)-h.historyWindow:]
	}

	slog.Info("chat turn received",
		"user_id", userID,
		"course_id", req.CourseID,
		"session_id", req.SessionID,
		"message_length", len(req.Message))

	// Side branch: analysis for this message runs concurrently with the
	// tutor completion below. It may finish before, during, or after the
	// reply goes out; its counters are read by the policy on later turns.
	h.tracker.Schedule(tracker.Job{
		UserID:      userID,
		CourseID:    req.CourseID,
		DisplayName: displayName,
		Message:     req.Message,
		History:     history,
	})

	directive, used := h.policy.BuildDirective(r.Context(), userID, "")

	reply, err := h.tutor.Reply(r.Context(), tutor.TurnRequest{
		StudentName: displayName,
		Message:     req.Message,
		History:     history,
		Directive:   directive,
	})
	if err != nil {
		slog.Error("tutor completion failed", "error", err, "user_id", userID, "course_id", req.CourseID)
		api.Error(w, http.StatusBadGateway, "tutor unavailable")
		return
	}

	api.JSON(w, http.StatusOK, TurnResponse{
		Reply:            reply,
		UsedIntervention: used,
	})
}

// HandleGetStruggles handles GET /api/students/{userID}/struggles. Instructor
// dashboards use it to re-sync after reconnecting.
func (h *Handler) HandleGetStruggles(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		api.Error(w, http.StatusBadRequest, "userID is required")
		return
	}

	record, err := h.repo.GetRecord(r.Context(), userID)
	if err != nil {
		slog.Error("failed to read struggle record", "error", err, "user_id", userID)
		api.Error(w, http.StatusServiceUnavailable, "struggle store unavailable")
		return
	}

	api.JSON(w, http.StatusOK, record)
}

// HandleResetTopic handles POST /api/students/{userID}/topics/{topic}/reset.
// This is the only path that ever decrements a counter.
func (h *Handler) HandleResetTopic(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	topic, err := url.PathUnescape(chi.URLParam(r, "topic"))
	if err != nil || userID == "" || topic == "" {
		api.Error(w, http.StatusBadRequest, "userID and topic are required")
		return
	}

	if err := h.repo.ResetTopic(r.Context(), userID, topic); err != nil {
		slog.Error("failed to reset struggle topic", "error", err, "user_id", userID, "topic", topic)
		api.Error(w, http.StatusServiceUnavailable, "struggle store unavailable")
		return
	}

	slog.Info("struggle topic reset", "user_id", userID, "topic", domain.NormalizeTopic(topic))
	api.JSON(w, http.StatusOK, map[string]string{"status": "reset"})
}
