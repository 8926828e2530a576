// Package api exposes conversation logs and session controls over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"ensemble/internal/app"
	"ensemble/internal/cancel"
	"ensemble/internal/export"
	"ensemble/internal/group"
	"ensemble/internal/history"
	"ensemble/internal/session"
)

// Handler serves the API for one App.
type Handler struct {
	app    *app.App
	logger *slog.Logger
}

func NewHandler(a *app.App, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{app: a, logger: logger}
}

// Router builds the chi router with middleware and every route.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(h.requestLogger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))

	h.RegisterRoutes(r)
	return r
}

// RegisterRoutes registers conversation and control routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/conversations", h.ListConversations)
	r.Route("/conversations/{key}", func(r chi.Router) {
		r.Get("/", h.GetConversation)
		r.Get("/export", h.ExportConversation)
		r.Delete("/", h.ClearConversation)
	})

	r.Post("/sessions/{id}/messages", h.SendToSession)
	r.Post("/sessions/{id}/stop", h.StopSession)

	r.Post("/groups/{id}/messages", h.SendToGroup)
	r.Post("/groups/{id}/autonomous", h.SetAutonomous)

	r.Post("/stop", h.StopAll)
}

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

// MessageView is the wire form of a stored message.
type MessageView struct {
	ID        int64     `json:"id"`
	Role      string    `json:"role"`
	AgentID   string    `json:"agent_id,omitempty"`
	Content   string    `json:"content"`
	Media     string    `json:"media,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func viewOf(m history.Message) MessageView {
	return MessageView{
		ID:        m.ID,
		Role:      string(m.Role),
		AgentID:   m.AgentID,
		Content:   m.Content,
		Media:     m.Media,
		CreatedAt: m.CreatedAt,
	}
}

func viewsOf(msgs []history.Message) []MessageView {
	out := make([]MessageView, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, viewOf(m))
	}
	return out
}

type sendRequest struct {
	Text string `json:"text"`
}

func decodeSend(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid JSON body")
		return "", false
	}
	if req.Text == "" {
		Error(w, http.StatusBadRequest, "text is required")
		return "", false
	}
	return req.Text, true
}

// ListConversations returns the keys of every non-empty conversation.
func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{"conversations": h.app.Log.Keys()})
}

// GetConversation returns the full ordered log for a conversation key.
func (h *Handler) GetConversation(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	conv, err := h.app.Conversation(key)
	if err != nil {
		h.fail(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"key":          conv.Key,
		"title":        conv.Title,
		"group":        conv.Group,
		"participants": conv.Participants,
		"busy":         h.app.Busy(key),
		"messages":     viewsOf(conv.Messages),
	})
}

// ExportConversation renders a conversation as markdown.
func (h *Handler) ExportConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := h.app.Conversation(chi.URLParam(r, "key"))
	if err != nil {
		h.fail(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(export.Render(conv)))
}

// ClearConversation empties a conversation log.
func (h *Handler) ClearConversation(w http.ResponseWriter, r *http.Request) {
	h.app.Clear(chi.URLParam(r, "key"))
	w.WriteHeader(http.StatusNoContent)
}

// SendToSession sends a user message to a one-to-one window, opening it if
// needed, and waits for the reply.
func (h *Handler) SendToSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	text, ok := decodeSend(w, r)
	if !ok {
		return
	}
	if _, err := h.app.OpenSession(id); err != nil {
		h.fail(w, err)
		return
	}

	out, err := h.app.Sessions.Send(r.Context(), id, text)
	if err != nil {
		h.fail(w, err)
		return
	}

	resp := map[string]interface{}{
		"user":      viewOf(out.User),
		"cancelled": out.Cancelled(),
	}
	if out.Reply != nil {
		resp["reply"] = viewOf(*out.Reply)
		resp["fallback"] = out.Result.WasFallback()
	}
	JSON(w, http.StatusOK, resp)
}

// StopSession halts a one-to-one window.
func (h *Handler) StopSession(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Stop(chi.URLParam(r, "id")); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SendToGroup sends a user message to a group and runs a manual round.
func (h *Handler) SendToGroup(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	text, ok := decodeSend(w, r)
	if !ok {
		return
	}

	round, err := h.app.Groups.Send(r.Context(), id, text)
	if err != nil {
		h.fail(w, err)
		return
	}

	resp := map[string]interface{}{
		"replies":   viewsOf(round.Replies),
		"cancelled": round.Cancelled,
	}
	if round.User != nil {
		resp["user"] = viewOf(*round.User)
	}
	JSON(w, http.StatusOK, resp)
}

type autonomousRequest struct {
	Enabled bool `json:"enabled"`
}

// SetAutonomous starts or stops a group's autonomous discussion.
func (h *Handler) SetAutonomous(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req autonomousRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	var err error
	if req.Enabled {
		err = h.app.Groups.StartAutonomous(id)
	} else {
		err = h.app.Groups.StopAutonomous(id)
	}
	if err != nil {
		h.fail(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]bool{"autonomous": h.app.Groups.Autonomous(id)})
}

// StopAll is the emergency stop.
func (h *Handler) StopAll(w http.ResponseWriter, r *http.Request) {
	if err := h.app.StopAll(); err != nil {
		h.logger.Error("emergency stop reported failures", "error", err)
		Error(w, http.StatusInternalServerError, "some sessions failed to stop")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrUnknownConversation),
		errors.Is(err, session.ErrUnknownSession),
		errors.Is(err, group.ErrUnknownGroup):
		Error(w, http.StatusNotFound, err.Error())
	case errors.Is(err, cancel.ErrBusy):
		Error(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error("request failed", "error", err)
		Error(w, http.StatusInternalServerError, "internal error")
	}
}

// requestLogger logs each request through slog; stdout belongs to the TUI.
func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start).String(),
			"request_id", chiMiddleware.GetReqID(r.Context()),
		)
	})
}
