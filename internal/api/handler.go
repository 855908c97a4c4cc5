// Package api provides HTTP handlers for the PitchLab chat API.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/pitchlab/pitchlab/internal/identity"
	"github.com/pitchlab/pitchlab/internal/practice"
)

// maxRequestBodySize caps chat request bodies. A trainee message is a few
// sentences; anything near this limit is not a real message.
const maxRequestBodySize = 64 * 1024

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// ChatHandler handles the practice session chat endpoints.
type ChatHandler struct {
	mgr         *practice.Manager
	rateLimiter *RateLimiter
}

// NewChatHandler creates a new chat handler. The rate limiter may be nil
// when throttling is disabled.
func NewChatHandler(mgr *practice.Manager, rateLimiter *RateLimiter) *ChatHandler {
	return &ChatHandler{mgr: mgr, rateLimiter: rateLimiter}
}

// RegisterRoutes registers the chat routes. Paths keep their trailing
// slash; clients call them exactly as written here.
func (h *ChatHandler) RegisterRoutes(r chi.Router) {
	r.Route("/chat", func(r chi.Router) {
		r.Post("/start-session/", h.StartSession)
		r.Post("/post-message/", h.PostMessage)
		r.Post("/get-coach-advice/", h.CoachAdvice)
		r.Post("/coach-opened/", h.CoachOpened)
		r.Post("/end-session/", h.EndSession)
	})
}

// PostMessageRequest is the body of POST /chat/post-message/.
type PostMessageRequest struct {
	Query string `json:"query"`
}

// StartSession creates the trainee's one practice session and returns its
// duration in seconds. A trainee who already consumed their session gets
// 403 no matter whether that session is still running or long finished.
func (h *ChatHandler) StartSession(w http.ResponseWriter, r *http.Request) {
	traineeID := identity.TraineeIDFromContext(r.Context())
	if traineeID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	session, err := h.mgr.StartSession(r.Context(), traineeID)
	switch {
	case errors.Is(err, practice.ErrAlreadyUsed):
		Error(w, http.StatusForbidden, "Session already completed")
		return
	case errors.Is(err, practice.ErrStartInProgress):
		Error(w, http.StatusConflict, "session start already in progress")
		return
	case err != nil:
		slog.Error("Failed to start session", "error", err, "trainee_id", traineeID)
		Error(w, http.StatusInternalServerError, "failed to start session")
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"duration": session.DurationSeconds,
	})
}

// PostMessage records a trainee message and returns the simulated
// customer's answer.
func (h *ChatHandler) PostMessage(w http.ResponseWriter, r *http.Request) {
	traineeID := identity.TraineeIDFromContext(r.Context())
	if traineeID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if h.rateLimiter != nil && !h.rateLimiter.Allow(traineeID) {
		Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req PostMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		Error(w, http.StatusBadRequest, "query is required")
		return
	}

	answer, err := h.mgr.PostMessage(r.Context(), traineeID, req.Query)
	switch {
	case errors.Is(err, practice.ErrNoActiveSession):
		Error(w, http.StatusForbidden, "Session already completed")
		return
	case err != nil:
		slog.Error("Failed to handle message", "error", err, "trainee_id", traineeID)
		Error(w, http.StatusInternalServerError, "failed to handle message")
		return
	}

	JSON(w, http.StatusOK, map[string]string{
		"answer": answer,
	})
}

// CoachAdvice returns coaching advice for the latest exchange. An empty
// advice string is a valid response and means the coach has nothing to say.
func (h *ChatHandler) CoachAdvice(w http.ResponseWriter, r *http.Request) {
	traineeID := identity.TraineeIDFromContext(r.Context())
	if traineeID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	advice, err := h.mgr.CoachAdvice(r.Context(), traineeID)
	switch {
	case errors.Is(err, practice.ErrNoActiveSession):
		Error(w, http.StatusForbidden, "Session already completed")
		return
	case err != nil:
		slog.Error("Failed to fetch coach advice", "error", err, "trainee_id", traineeID)
		Error(w, http.StatusInternalServerError, "failed to fetch coach advice")
		return
	}

	JSON(w, http.StatusOK, map[string]string{
		"advice": advice,
	})
}

// CoachOpened records that the trainee opened the latest advice.
func (h *ChatHandler) CoachOpened(w http.ResponseWriter, r *http.Request) {
	traineeID := identity.TraineeIDFromContext(r.Context())
	if traineeID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	err := h.mgr.MarkAdviceOpened(r.Context(), traineeID)
	switch {
	case errors.Is(err, practice.ErrNoActiveSession):
		Error(w, http.StatusForbidden, "Session already completed")
		return
	case err != nil:
		slog.Error("Failed to mark advice opened", "error", err, "trainee_id", traineeID)
		Error(w, http.StatusInternalServerError, "failed to mark advice opened")
		return
	}

	JSON(w, http.StatusOK, map[string]string{})
}

// EndSession finishes the trainee's session. Ending a session that already
// finished succeeds, so a late notification from a client that lost the
// race against the clock stays harmless.
func (h *ChatHandler) EndSession(w http.ResponseWriter, r *http.Request) {
	traineeID := identity.TraineeIDFromContext(r.Context())
	if traineeID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	err := h.mgr.EndSession(r.Context(), traineeID)
	switch {
	case errors.Is(err, practice.ErrNoActiveSession):
		Error(w, http.StatusForbidden, "Session already completed")
		return
	case err != nil:
		slog.Error("Failed to end session", "error", err, "trainee_id", traineeID)
		Error(w, http.StatusInternalServerError, "failed to end session")
		return
	}

	JSON(w, http.StatusOK, map[string]string{})
}
