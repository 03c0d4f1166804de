// Package guardian implements the HTTP client for the autosave guardian store.
package guardian

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/zajuna/tutor-virtual/internal/domain"
	"github.com/zajuna/tutor-virtual/internal/observability"
)

const (
	defaultTimeout    = 5 * time.Second
	defaultMaxRetries = 2
	defaultBackoff    = 400 * time.Millisecond
	// tokenSafetyMargin is subtracted from the advertised token lifetime.
	tokenSafetyMargin = 30 * time.Second
	defaultTokenTTL   = 24 * time.Hour
	maxResponseBody   = 4 << 20
)

var (
	// ErrLogin wraps any failure to obtain a bearer token.
	ErrLogin = errors.New("guardian login failed")
	// ErrNotAcknowledged is returned when the store answered 2xx with ok=false.
	ErrNotAcknowledged = errors.New("guardian store did not acknowledge")
)

// HTTPError is a non-2xx answer from the guardian store.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("guardian http %d: %s", e.StatusCode, e.Body)
}

// Config holds guardian client settings.
type Config struct {
	BaseURL  string
	Username string
	Password string
	Timeout  time.Duration
	// MaxRetries of zero means the default (2); negative disables retries.
	MaxRetries int
	// Backoff is multiplied by the attempt number between transport retries.
	Backoff    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
	Now        func() time.Time
	Sleep      func(ctx context.Context, d time.Duration) error
}

// Client talks to the guardian store. It owns its token cache and is safe
// for concurrent use.
type Client struct {
	baseURL    string
	username   string
	password   string
	maxRetries int
	backoff    time.Duration
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error

	tokenMu   sync.Mutex
	token     string
	expiresAt time.Time
}

// New creates a guardian client.
func New(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("guardian base URL is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("parse guardian base URL: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	switch {
	case cfg.MaxRetries == 0:
		cfg.MaxRetries = defaultMaxRetries
	case cfg.MaxRetries < 0:
		cfg.MaxRetries = 0
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = defaultBackoff
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepContext
	}

	return &Client{
		baseURL:    base,
		username:   cfg.Username,
		password:   cfg.Password,
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.Backoff,
		httpClient: cfg.HTTPClient,
		logger:     cfg.Logger.With("client", "guardian"),
		now:        cfg.Now,
		sleep:      cfg.Sleep,
	}, nil
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

// Login acquires a fresh token and caches it.
func (c *Client) Login(ctx context.Context) (string, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	return c.loginLocked(ctx)
}

func (c *Client) loginLocked(ctx context.Context) (string, error) {
	observability.ObserveGuardianLogin()

	status, raw, err := c.doOnce(ctx, http.MethodPost, "/auth/login", "", loginRequest{
		Username: c.username,
		Password: c.password,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrLogin, err)
	}
	if status < 200 || status >= 300 {
		return "", fmt.Errorf("%w: %w", ErrLogin, &HTTPError{StatusCode: status, Body: string(raw)})
	}

	var resp loginResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("%w: decode login response: %w", ErrLogin, err)
	}
	if resp.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access_token", ErrLogin)
	}

	ttl := defaultTokenTTL
	if resp.ExpiresInMinutes > 0 {
		ttl = time.Duration(resp.ExpiresInMinutes * float64(time.Minute))
	}
	c.token = resp.AccessToken
	c.expiresAt = c.now().Add(ttl - tokenSafetyMargin)
	c.logger.Debug("guardian token acquired", "expires_at", c.expiresAt)
	return c.token, nil
}

// currentToken returns the cached token, logging in when missing or expired.
func (c *Client) currentToken(ctx context.Context) (string, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	if c.token != "" && c.now().Before(c.expiresAt) {
		return c.token, nil
	}
	return c.loginLocked(ctx)
}

// InvalidateToken drops the cached token so the next call logs in again.
func (c *Client) InvalidateToken() {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	c.token = ""
	c.expiresAt = time.Time{}
}

// Request performs one logical call against the store. Login failures are
// returned immediately; a 401 forces a single re-login and retry; transport
// failures are retried up to MaxRetries times with linear backoff.
func (c *Client) Request(ctx context.Context, method, path string, auth bool, body, out any) error {
	var lastErr error
	reauthed := false
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.backoff * time.Duration(attempt)
			c.logger.Warn("guardian request retrying",
				"path", path,
				"attempt", attempt,
				"max_retries", c.maxRetries,
				"delay", delay,
				"error", lastErr,
			)
			if err := c.sleep(ctx, delay); err != nil {
				return err
			}
		}

		err := c.attempt(ctx, method, path, auth, &reauthed, body, out)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrLogin) || !isTransient(err) || ctx.Err() != nil {
			return err
		}
		lastErr = err
	}
	return lastErr
}

// attempt sends the request once, plus the forced re-login retry on the
// first 401 seen by the enclosing Request.
func (c *Client) attempt(ctx context.Context, method, path string, auth bool, reauthed *bool, body, out any) error {
	token := ""
	if auth {
		t, err := c.currentToken(ctx)
		if err != nil {
			return err
		}
		token = t
	}

	status, raw, err := c.doOnce(ctx, method, path, token, body)
	if err != nil {
		return err
	}

	if status == http.StatusUnauthorized && auth && !*reauthed {
		*reauthed = true
		c.logger.Info("guardian token rejected, re-authenticating", "path", path)
		c.tokenMu.Lock()
		token, err = c.loginLocked(ctx)
		c.tokenMu.Unlock()
		if err != nil {
			return err
		}
		status, raw, err = c.doOnce(ctx, method, path, token, body)
		if err != nil {
			return err
		}
	}

	if status < 200 || status >= 300 {
		return &HTTPError{StatusCode: status, Body: string(raw)}
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode guardian response: %w", err)
	}
	return nil
}

func (c *Client) doOnce(ctx context.Context, method, path, token string, body any) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return 0, nil, fmt.Errorf("encode guardian request: %w", err)
		}
		reader = &buf
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("build guardian request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, &transportError{err: err}
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("failed to close guardian response body", "error", closeErr)
		}
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return resp.StatusCode, nil, &transportError{err: err}
	}
	return resp.StatusCode, raw, nil
}

// transportError marks failures below HTTP: dial, TLS, timeouts, truncated bodies.
type transportError struct {
	err error
}

func (e *transportError) Error() string { return "guardian transport: " + e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

func isTransient(err error) bool {
	var te *transportError
	if errors.As(err, &te) {
		return true
	}
	var he *HTTPError
	if errors.As(err, &he) {
		switch he.StatusCode {
		case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
	}
	return false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ackResponse is the {ok, inserted_id} shape returned by write endpoints.
type ackResponse struct {
	OK         bool   `json:"ok"`
	InsertedID string `json:"inserted_id,omitempty"`
	Deleted    int    `json:"deleted,omitempty"`
}

// LatestResult is the {ok, items} shape returned by the list endpoint.
type LatestResult struct {
	OK    bool              `json:"ok"`
	Items []domain.Autosave `json:"items"`
}

// Ping reports whether the store is reachable. It never returns an error.
func (c *Client) Ping(ctx context.Context) bool {
	var resp struct {
		OK bool `json:"ok"`
	}
	if err := c.Request(ctx, http.MethodGet, "/ping", false, nil, &resp); err != nil {
		c.logger.Warn("guardian ping failed", "error", err)
		observability.ObserveGuardianRequest("/ping", "error")
		return false
	}
	observability.ObserveGuardianRequest("/ping", outcome(resp.OK))
	return resp.OK
}

// CreateAutosave appends a snapshot for senderID. The boolean is the store's
// acknowledgement; on failure it is false and err says why.
func (c *Client) CreateAutosave(ctx context.Context, senderID string, data map[string]any) (bool, error) {
	if data == nil {
		data = map[string]any{}
	}
	return c.write(ctx, http.MethodPost, "/autosaves", map[string]any{
		"sender_id": senderID,
		"data":      data,
	})
}

// LatestAutosaves lists the newest snapshots across all senders.
func (c *Client) LatestAutosaves(ctx context.Context, limit int) (LatestResult, error) {
	return c.latest(ctx, "", limit)
}

// LatestAutosavesFor lists the newest snapshots of one sender.
func (c *Client) LatestAutosavesFor(ctx context.Context, senderID string, limit int) (LatestResult, error) {
	return c.latest(ctx, senderID, limit)
}

func (c *Client) latest(ctx context.Context, senderID string, limit int) (LatestResult, error) {
	if limit <= 0 {
		limit = 5
	}
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	if senderID != "" {
		q.Set("sender_id", senderID)
	}

	var resp LatestResult
	if err := c.Request(ctx, http.MethodGet, "/autosaves/latest?"+q.Encode(), true, nil, &resp); err != nil {
		c.logger.Warn("guardian latest autosaves failed", "sender_id", senderID, "error", err)
		observability.ObserveGuardianRequest("/autosaves/latest", "error")
		return LatestResult{OK: false, Items: []domain.Autosave{}}, err
	}
	observability.ObserveGuardianRequest("/autosaves/latest", outcome(resp.OK))
	if resp.Items == nil {
		resp.Items = []domain.Autosave{}
	}
	if !resp.OK {
		return LatestResult{OK: false, Items: []domain.Autosave{}}, ErrNotAcknowledged
	}
	return resp, nil
}

// LogEvent writes a security event. Same best-effort contract as CreateAutosave.
func (c *Client) LogEvent(ctx context.Context, eventType string, payload map[string]any) (bool, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	return c.write(ctx, http.MethodPost, "/events/log", map[string]any{
		"event_type": eventType,
		"payload":    payload,
	})
}

// DeleteAutosaves removes every snapshot stored for senderID.
func (c *Client) DeleteAutosaves(ctx context.Context, senderID string) (bool, error) {
	return c.write(ctx, http.MethodDelete, "/autosaves/"+url.PathEscape(senderID), nil)
}

func (c *Client) write(ctx context.Context, method, path string, body any) (bool, error) {
	// Label metrics by route, not by sender.
	label := path
	if method == http.MethodDelete {
		label = "/autosaves/{sender_id}"
	}

	var resp ackResponse
	if err := c.Request(ctx, method, path, true, body, &resp); err != nil {
		c.logger.Warn("guardian write failed", "method", method, "path", label, "error", err)
		observability.ObserveGuardianRequest(label, "error")
		return false, err
	}
	observability.ObserveGuardianRequest(label, outcome(resp.OK))
	if !resp.OK {
		return false, ErrNotAcknowledged
	}
	return true, nil
}

func outcome(ok bool) string {
	if ok {
		return "ok"
	}
	return "not_ok"
}
