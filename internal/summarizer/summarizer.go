// Package summarizer produces short session recaps through an
// OpenAI-compatible chat completions endpoint.
package summarizer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrDisabled is returned when no LLM endpoint is configured.
	ErrDisabled = errors.New("summarizer disabled")
	// ErrEmptySummary is returned when the model answered with no text.
	ErrEmptySummary = errors.New("summarizer returned empty text")
)

// Summarizer turns a base instruction plus structured context into text.
type Summarizer interface {
	Summarize(ctx context.Context, baseText string, details map[string]any) (string, error)
}

// Disabled is the Summarizer used when no LLM is configured.
type Disabled struct{}

// Summarize always returns ErrDisabled.
func (Disabled) Summarize(context.Context, string, map[string]any) (string, error) {
	return "", ErrDisabled
}

// Config holds HTTP summarizer settings.
type Config struct {
	BaseURL    string
	APIKey     string
	Model      string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// HTTPSummarizer calls {BaseURL}/v1/chat/completions.
type HTTPSummarizer struct {
	endpoint   string
	apiKey     string
	model      string
	timeout    time.Duration
	httpClient *http.Client
	logger     *slog.Logger
}

const (
	chatCompletionsPath = "/v1/chat/completions"
	systemPrompt        = "Eres el Tutor Virtual de Zajuna. Responde en español, en máximo dos frases, sin datos personales."
	maxSummaryRunes     = 600
	maxResponseBody     = 1 << 20
)

// NewHTTP creates an HTTP summarizer.
func NewHTTP(cfg Config) (*HTTPSummarizer, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("summarizer: base URL required")
	}
	if cfg.Model == "" {
		return nil, errors.New("summarizer: model required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 8 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &HTTPSummarizer{
		endpoint:   base + chatCompletionsPath,
		apiKey:     strings.TrimSpace(cfg.APIKey),
		model:      cfg.Model,
		timeout:    cfg.Timeout,
		httpClient: cfg.HTTPClient,
		logger:     cfg.Logger.With("component", "summarizer"),
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Text string `json:"text,omitempty"`
	} `json:"choices"`
}

// Summarize sends baseText and the JSON-encoded context as the user turn.
func (h *HTTPSummarizer) Summarize(ctx context.Context, baseText string, details map[string]any) (string, error) {
	ctxJSON, err := json.Marshal(details)
	if err != nil {
		return "", fmt.Errorf("encode summary context: %w", err)
	}
	reqBody := chatCompletionRequest{
		Model: h.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: baseText + "\n\nContexto:\n" + string(ctxJSON)},
		},
		Temperature: 0.3,
		MaxTokens:   200,
	}
	raw, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("encode summary request: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, h.endpoint, bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("build summary request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.apiKey)
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("summary request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return "", fmt.Errorf("read summary response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("summary http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out chatCompletionResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decode summary response: %w", err)
	}
	var text string
	if len(out.Choices) > 0 {
		text = out.Choices[0].Message.Content
		if text == "" {
			text = out.Choices[0].Text
		}
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptySummary
	}
	if r := []rune(text); len(r) > maxSummaryRunes {
		text = strings.TrimSpace(string(r[:maxSummaryRunes])) + "…"
	}
	h.logger.Debug("summary produced", "chars", len(text))
	return text, nil
}
