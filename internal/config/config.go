// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port          string
	DBPath        string
	SessionStore  string // "sqlite" (default) or "redis"
	RedisAddr     string
	SessionTTL    time.Duration
	SurveyLogPath string
	LongSession   int // turn count at which sesion_larga latches
	CORSOrigins   []string
	Metrics       bool
	Guardian      GuardianConfig
	LLM           LLMConfig
}

// GuardianConfig covers both sides of the guardian store: the client used by
// the action server and the service itself.
type GuardianConfig struct {
	URL          string
	Port         string
	DBPath       string
	Username     string
	Password     string
	PasswordHash string
	Timeout      time.Duration
	MaxRetries   int
	JWTSecret    string
	JWTIssuer    string
	JWTAudience  string
	TokenTTL     time.Duration
	LoginLimit   int
	LoginWindow  time.Duration
}

// LLMConfig controls the session recap summarizer. An empty BaseURL disables it.
type LLMConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	threshold := getEnvInt("SESION_LARGA_UMBRAL", 8)
	if threshold <= 0 {
		threshold = 8
	}

	cfg := &Config{
		Port:          getEnv("PORT", "5055"),
		DBPath:        getEnv("DB_PATH", "./data/tutor.db"),
		SessionStore:  strings.ToLower(getEnv("SESSION_STORE", "sqlite")),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		SessionTTL:    getEnvDuration("SESSION_TTL", 24*time.Hour),
		SurveyLogPath: getEnv("SURVEY_LOG_PATH", "./data/encuestas.jsonl"),
		LongSession:   threshold,
		CORSOrigins:   splitList(getEnv("CORS_ORIGINS", "*")),
		Metrics:       getEnvBool("METRICS_ENABLED", true),
		Guardian: GuardianConfig{
			URL:          strings.TrimRight(getEnv("GUARDIAN_URL", "http://localhost:8088"), "/"),
			Port:         getEnv("GUARDIAN_PORT", "8088"),
			DBPath:       getEnv("GUARDIAN_DB_PATH", "./data/guardian.db"),
			Username:     getEnv("GUARDIAN_USERNAME", "tutor"),
			Password:     getEnv("GUARDIAN_PASSWORD", ""),
			PasswordHash: getEnv("GUARDIAN_PASSWORD_HASH", ""),
			Timeout:      getEnvDuration("GUARDIAN_TIMEOUT", 5*time.Second),
			MaxRetries:   getEnvInt("GUARDIAN_MAX_RETRIES", 2),
			JWTSecret:    getEnv("GUARDIAN_JWT_SECRET", ""),
			JWTIssuer:    getEnv("GUARDIAN_JWT_ISSUER", "zajuna-guardian"),
			JWTAudience:  getEnv("GUARDIAN_JWT_AUDIENCE", "zajuna-tutor"),
			TokenTTL:     getEnvDuration("GUARDIAN_TOKEN_TTL", 24*time.Hour),
			LoginLimit:   getEnvInt("GUARDIAN_LOGIN_LIMIT", 10),
			LoginWindow:  getEnvDuration("GUARDIAN_LOGIN_WINDOW", time.Minute),
		},
		LLM: LLMConfig{
			BaseURL: strings.TrimRight(getEnv("LLM_BASE_URL", ""), "/"),
			APIKey:  getEnv("LLM_API_KEY", ""),
			Model:   getEnv("LLM_MODEL", "gpt-4o-mini"),
			Timeout: getEnvDuration("LLM_TIMEOUT", 8*time.Second),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.SurveyLogPath == "" {
		return fmt.Errorf("SURVEY_LOG_PATH cannot be empty")
	}
	switch c.SessionStore {
	case "sqlite":
		if c.DBPath == "" {
			return fmt.Errorf("DB_PATH cannot be empty")
		}
	case "redis":
		if c.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required when SESSION_STORE=redis")
		}
	default:
		return fmt.Errorf("SESSION_STORE must be sqlite or redis, got %q", c.SessionStore)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be > 0")
	}
	if c.Guardian.URL == "" {
		return fmt.Errorf("GUARDIAN_URL cannot be empty")
	}
	if c.Guardian.MaxRetries < 0 {
		return fmt.Errorf("GUARDIAN_MAX_RETRIES must be >= 0")
	}
	if c.Guardian.Timeout <= 0 {
		return fmt.Errorf("GUARDIAN_TIMEOUT must be > 0")
	}
	return nil
}

// ValidateGuardianServer checks the settings only the guardian service needs.
func (c *Config) ValidateGuardianServer() error {
	g := c.Guardian
	if g.Port == "" {
		return fmt.Errorf("GUARDIAN_PORT cannot be empty")
	}
	if g.DBPath == "" {
		return fmt.Errorf("GUARDIAN_DB_PATH cannot be empty")
	}
	if len(g.JWTSecret) < 16 {
		return fmt.Errorf("GUARDIAN_JWT_SECRET must be at least 16 characters")
	}
	if g.Username == "" {
		return fmt.Errorf("GUARDIAN_USERNAME cannot be empty")
	}
	if g.Password == "" && g.PasswordHash == "" {
		return fmt.Errorf("one of GUARDIAN_PASSWORD or GUARDIAN_PASSWORD_HASH is required")
	}
	if g.TokenTTL <= time.Minute {
		return fmt.Errorf("GUARDIAN_TOKEN_TTL must be longer than one minute")
	}
	if g.LoginLimit <= 0 || g.LoginWindow <= 0 {
		return fmt.Errorf("GUARDIAN_LOGIN_LIMIT and GUARDIAN_LOGIN_WINDOW must be > 0")
	}
	return nil
}

// SummarizerEnabled reports whether an LLM endpoint is configured.
func (c *Config) SummarizerEnabled() bool {
	return c.LLM.BaseURL != ""
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

// getEnvDuration accepts Go durations ("90s") or bare seconds ("90").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
