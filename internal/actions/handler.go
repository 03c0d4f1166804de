package actions

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/zajuna/tutor-virtual/internal/api"
	"github.com/zajuna/tutor-virtual/internal/identity"
	"github.com/zajuna/tutor-virtual/internal/store"
)

// Handler serves the action-server webhook and the session ledger.
type Handler struct {
	exec     *Executor
	sessions store.SessionRepository
}

// NewHandler creates a webhook handler. sessions may be nil, which disables
// the ledger endpoint.
func NewHandler(exec *Executor, sessions store.SessionRepository) *Handler {
	return &Handler{exec: exec, sessions: sessions}
}

// HandleWebhook handles POST /webhook.
func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := api.Decode(r, &req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.NextAction == "" {
		api.Error(w, http.StatusBadRequest, "next_action is required")
		return
	}

	if req.SenderID == "" {
		req.SenderID = req.Tracker.SenderID
	}
	senderID, ok := identity.SanitizeSenderID(req.SenderID)
	if !ok {
		api.Error(w, http.StatusBadRequest, "invalid sender_id")
		return
	}
	req.SenderID = senderID

	resp, err := h.exec.Execute(r.Context(), req)
	if errors.Is(err, ErrUnknownAction) {
		slog.Warn("unknown action requested", "action", req.NextAction, "sender_id", req.SenderID)
		api.JSON(w, http.StatusNotFound, ErrorResponse{
			Error:      "No registered action found for name '" + req.NextAction + "'.",
			ActionName: req.NextAction,
		})
		return
	}
	if err != nil {
		api.Error(w, http.StatusInternalServerError, "action failed")
		return
	}
	api.JSON(w, http.StatusOK, resp)
}

// HandleListActions handles GET /actions.
func (h *Handler) HandleListActions(w http.ResponseWriter, _ *http.Request) {
	names := h.exec.Names()
	out := make([]map[string]string, 0, len(names))
	for _, n := range names {
		out = append(out, map[string]string{"name": n})
	}
	api.JSON(w, http.StatusOK, out)
}

// HandleGetSession handles GET /api/sessions/{sender_id}.
func (h *Handler) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	if h.sessions == nil {
		api.Error(w, http.StatusNotFound, "session ledger disabled")
		return
	}
	senderID, ok := identity.SenderIDFromPath(chi.URLParam(r, "sender_id"))
	if !ok {
		api.Error(w, http.StatusBadRequest, "invalid sender_id")
		return
	}

	rec, err := h.sessions.GetSession(r.Context(), senderID)
	if errors.Is(err, store.ErrNotFound) {
		api.Error(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		slog.Error("Failed to load session", "sender_id", senderID, "error", err)
		api.Error(w, http.StatusServiceUnavailable, "session store unavailable")
		return
	}
	api.JSON(w, http.StatusOK, rec)
}

// RegisterRoutes registers the webhook and ledger routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/webhook", h.HandleWebhook)
	r.Get("/actions", h.HandleListActions)
	r.Get("/api/sessions/{sender_id}", h.HandleGetSession)
}
