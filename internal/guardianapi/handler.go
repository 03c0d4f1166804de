// Package guardianapi serves the guardian autosave store: a small JWT-gated
// HTTP service holding session snapshots and security events.
package guardianapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/zajuna/tutor-virtual/internal/api"
	"github.com/zajuna/tutor-virtual/internal/domain"
	"github.com/zajuna/tutor-virtual/internal/identity"
	"github.com/zajuna/tutor-virtual/internal/observability"
	"github.com/zajuna/tutor-virtual/internal/store"
	"golang.org/x/crypto/bcrypt"
)

const (
	defaultLatestLimit = 5
	maxLatestLimit     = 100
	pingTimeout        = 2 * time.Second
)

// Credentials is the single service account allowed to log in.
type Credentials struct {
	username string
	hash     []byte
}

// NewCredentials builds the account from a bcrypt hash, or hashes password
// when no hash is given.
func NewCredentials(username, password, passwordHash string) (*Credentials, error) {
	if username == "" {
		return nil, errors.New("username is required")
	}
	if passwordHash != "" {
		if _, err := bcrypt.Cost([]byte(passwordHash)); err != nil {
			return nil, fmt.Errorf("parse password hash: %w", err)
		}
		return &Credentials{username: username, hash: []byte(passwordHash)}, nil
	}
	if password == "" {
		return nil, errors.New("password or password hash is required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	return &Credentials{username: username, hash: hash}, nil
}

// Check reports whether username and password match the account.
func (c *Credentials) Check(username, password string) bool {
	// The hash is compared even on a username mismatch so both paths cost the same.
	passErr := bcrypt.CompareHashAndPassword(c.hash, []byte(password))
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(c.username)) == 1
	return userOK && passErr == nil
}

// Config wires the guardian handler.
type Config struct {
	Store       store.AutosaveRepository
	Tokens      *Tokens
	Credentials *Credentials
	// Limiter throttles login attempts per client IP; nil disables throttling.
	Limiter *RateLimiter
	Logger  *slog.Logger
}

// Handler serves the guardian store routes.
type Handler struct {
	store   store.AutosaveRepository
	tokens  *Tokens
	creds   *Credentials
	limiter *RateLimiter
	logger  *slog.Logger
}

// NewHandler creates a guardian handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		store:   cfg.Store,
		tokens:  cfg.Tokens,
		creds:   cfg.Credentials,
		limiter: cfg.Limiter,
		logger:  logger.With("component", "guardian"),
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken      string  `json:"access_token"`
	TokenType        string  `json:"token_type"`
	ExpiresInMinutes float64 `json:"expires_in_minutes"`
}

type ackResponse struct {
	OK         bool   `json:"ok"`
	InsertedID string `json:"inserted_id,omitempty"`
}

type deleteResponse struct {
	OK      bool  `json:"ok"`
	Deleted int64 `json:"deleted"`
}

type latestResponse struct {
	OK    bool              `json:"ok"`
	Items []domain.Autosave `json:"items"`
}

type autosaveRequest struct {
	SenderID string         `json:"sender_id"`
	Data     map[string]any `json:"data"`
}

type eventRequest struct {
	EventType string         `json:"event_type"`
	Payload   map[string]any `json:"payload"`
}

// HandlePing handles GET /ping.
func (h *Handler) HandlePing(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
	defer cancel()
	if err := h.store.Ping(ctx); err != nil {
		h.logger.Warn("guardian store ping failed", "error", err)
		h.reply(w, "/ping", http.StatusServiceUnavailable, map[string]bool{"ok": false})
		return
	}
	h.reply(w, "/ping", http.StatusOK, map[string]bool{"ok": true})
}

// HandleLogin handles POST /auth/login.
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	const route = "/auth/login"
	ip := identity.IPFromRequest(r)
	if h.limiter != nil && !h.limiter.Allow(ip) {
		h.logger.Warn("login rate limited", "ip", ip)
		h.fail(w, route, http.StatusTooManyRequests, "rate_limited")
		return
	}

	var req loginRequest
	if err := api.Decode(r, &req); err != nil {
		h.fail(w, route, http.StatusBadRequest, "invalid_json")
		return
	}
	if !h.creds.Check(req.Username, req.Password) {
		h.logger.Warn("login rejected", "ip", ip, "username", req.Username)
		h.fail(w, route, http.StatusUnauthorized, "invalid_credentials")
		return
	}

	token, err := h.tokens.Issue(req.Username)
	if err != nil {
		h.logger.Error("failed to issue token", "error", err)
		h.fail(w, route, http.StatusInternalServerError, "token_error")
		return
	}
	h.logger.Info("token issued", "subject", req.Username, "ip", ip)
	h.reply(w, route, http.StatusOK, loginResponse{
		AccessToken:      token,
		TokenType:        "bearer",
		ExpiresInMinutes: h.tokens.TTL().Minutes(),
	})
}

// RequireToken rejects requests without a valid bearer token.
func (h *Handler) RequireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := routePattern(r)
		raw, ok := bearerToken(r)
		if !ok {
			h.fail(w, route, http.StatusUnauthorized, "missing_token")
			return
		}
		subject, err := h.tokens.Verify(raw)
		switch {
		case errors.Is(err, ErrTokenExpired):
			h.fail(w, route, http.StatusUnauthorized, "token_expired")
			return
		case err != nil:
			h.logger.Debug("token rejected", "error", err)
			h.fail(w, route, http.StatusUnauthorized, "invalid_token")
			return
		}
		next.ServeHTTP(w, r.WithContext(identity.WithSubject(r.Context(), subject)))
	})
}

// HandleCreateAutosave handles POST /autosaves.
func (h *Handler) HandleCreateAutosave(w http.ResponseWriter, r *http.Request) {
	const route = "/autosaves"
	var req autosaveRequest
	if err := api.Decode(r, &req); err != nil {
		h.fail(w, route, http.StatusBadRequest, "invalid_json")
		return
	}
	senderID, ok := identity.SanitizeSenderID(req.SenderID)
	if !ok {
		h.fail(w, route, http.StatusBadRequest, "sender_id_required")
		return
	}
	if req.Data == nil {
		req.Data = map[string]any{}
	}

	id, err := h.store.InsertAutosave(r.Context(), senderID, req.Data)
	if err != nil {
		h.logger.Error("failed to insert autosave", "sender_id", senderID, "error", err)
		h.reply(w, route, http.StatusServiceUnavailable, ackResponse{OK: false})
		return
	}
	h.logger.Debug("autosave stored",
		"sender_id", senderID,
		"id", id,
		"subject", identity.SubjectFromContext(r.Context()))
	h.reply(w, route, http.StatusOK, ackResponse{OK: true, InsertedID: id})
}

// HandleLatestAutosaves handles GET /autosaves/latest.
func (h *Handler) HandleLatestAutosaves(w http.ResponseWriter, r *http.Request) {
	const route = "/autosaves/latest"
	limit := parseLimit(r.URL.Query().Get("limit"))

	var senderID string
	if raw := r.URL.Query().Get("sender_id"); raw != "" {
		id, ok := identity.SanitizeSenderID(raw)
		if !ok {
			h.fail(w, route, http.StatusBadRequest, "invalid_sender_id")
			return
		}
		senderID = id
	}

	items, err := h.store.LatestAutosaves(r.Context(), senderID, limit)
	if err != nil {
		h.logger.Error("failed to list autosaves", "sender_id", senderID, "error", err)
		h.reply(w, route, http.StatusServiceUnavailable, latestResponse{OK: false, Items: []domain.Autosave{}})
		return
	}
	h.reply(w, route, http.StatusOK, latestResponse{OK: true, Items: items})
}

// HandleDeleteAutosaves handles DELETE /autosaves/{sender_id}.
func (h *Handler) HandleDeleteAutosaves(w http.ResponseWriter, r *http.Request) {
	const route = "/autosaves/{sender_id}"
	senderID, ok := identity.SenderIDFromPath(chi.URLParam(r, "sender_id"))
	if !ok {
		h.fail(w, route, http.StatusBadRequest, "sender_id_required")
		return
	}

	deleted, err := h.store.DeleteAutosaves(r.Context(), senderID)
	if err != nil {
		h.logger.Error("failed to delete autosaves", "sender_id", senderID, "error", err)
		h.reply(w, route, http.StatusServiceUnavailable, deleteResponse{OK: false})
		return
	}
	h.logger.Info("autosaves deleted", "sender_id", senderID, "deleted", deleted)
	h.reply(w, route, http.StatusOK, deleteResponse{OK: true, Deleted: deleted})
}

// HandleLogEvent handles POST /events/log.
func (h *Handler) HandleLogEvent(w http.ResponseWriter, r *http.Request) {
	const route = "/events/log"
	var req eventRequest
	if err := api.Decode(r, &req); err != nil {
		h.fail(w, route, http.StatusBadRequest, "invalid_json")
		return
	}
	eventType := strings.TrimSpace(req.EventType)
	if eventType == "" {
		h.fail(w, route, http.StatusBadRequest, "event_type_required")
		return
	}
	if req.Payload == nil {
		req.Payload = map[string]any{}
	}

	id, err := h.store.InsertEvent(r.Context(), eventType, req.Payload)
	if err != nil {
		h.logger.Error("failed to log security event", "event_type", eventType, "error", err)
		h.reply(w, route, http.StatusServiceUnavailable, ackResponse{OK: false})
		return
	}
	h.logger.Info("security event logged",
		"event_type", eventType,
		"id", id,
		"request_id", middleware.GetReqID(r.Context()))
	h.reply(w, route, http.StatusOK, ackResponse{OK: true, InsertedID: id})
}

// RegisterRoutes registers the guardian routes on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ping", h.HandlePing)
	r.Post("/auth/login", h.HandleLogin)
	r.Group(func(r chi.Router) {
		r.Use(h.RequireToken)
		r.Post("/autosaves", h.HandleCreateAutosave)
		r.Get("/autosaves/latest", h.HandleLatestAutosaves)
		r.Delete("/autosaves/{sender_id}", h.HandleDeleteAutosaves)
		r.Post("/events/log", h.HandleLogEvent)
	})
}

func (h *Handler) reply(w http.ResponseWriter, route string, status int, v any) {
	observability.ObserveStoreRequest(route, status)
	api.JSON(w, status, v)
}

func (h *Handler) fail(w http.ResponseWriter, route string, status int, code string) {
	observability.ObserveStoreRequest(route, status)
	api.Error(w, status, code)
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// parseLimit reads the limit query value, clamped to 1..100.
func parseLimit(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return defaultLatestLimit
	}
	return max(1, min(n, maxLatestLimit))
}

// routePattern labels metrics by the matched route, never the raw path.
func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}
