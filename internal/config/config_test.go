package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("LLM_BASE_URL", "")
	t.Setenv("PORT", "5055")
	t.Setenv("SESSION_STORE", "sqlite")
	t.Setenv("SESSION_TTL", "24h")
	t.Setenv("SESION_LARGA_UMBRAL", "8")
	t.Setenv("GUARDIAN_URL", "http://localhost:8088/")
	t.Setenv("GUARDIAN_MAX_RETRIES", "2")
	t.Setenv("GUARDIAN_TIMEOUT", "5s")
	t.Setenv("CORS_ORIGINS", "*")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "5055", cfg.Port)
	assert.Equal(t, "sqlite", cfg.SessionStore)
	assert.Equal(t, 8, cfg.LongSession)
	assert.Equal(t, "http://localhost:8088", cfg.Guardian.URL)
	assert.Equal(t, 2, cfg.Guardian.MaxRetries)
	assert.Equal(t, 5*time.Second, cfg.Guardian.Timeout)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.False(t, cfg.SummarizerEnabled())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SESSION_STORE", "Redis")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("SESSION_TTL", "3600")
	t.Setenv("SESION_LARGA_UMBRAL", "12")
	t.Setenv("GUARDIAN_MAX_RETRIES", "0")
	t.Setenv("CORS_ORIGINS", "https://zajuna.sena.edu.co, https://tutor.sena.edu.co ,")
	t.Setenv("LLM_BASE_URL", "https://llm.example/")
	t.Setenv("METRICS_ENABLED", "off")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "redis", cfg.SessionStore)
	assert.Equal(t, time.Hour, cfg.SessionTTL)
	assert.Equal(t, 12, cfg.LongSession)
	assert.Equal(t, 0, cfg.Guardian.MaxRetries)
	assert.Equal(t, []string{"https://zajuna.sena.edu.co", "https://tutor.sena.edu.co"}, cfg.CORSOrigins)
	assert.Equal(t, "https://llm.example", cfg.LLM.BaseURL)
	assert.True(t, cfg.SummarizerEnabled())
	assert.False(t, cfg.Metrics)
}

func TestLoadInvalidThresholdFallsBack(t *testing.T) {
	t.Setenv("SESION_LARGA_UMBRAL", "-3")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.LongSession)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown store", map[string]string{"SESSION_STORE": "mongo"}},
		{"redis without addr", map[string]string{"SESSION_STORE": "redis", "REDIS_ADDR": ""}},
		{"negative retries", map[string]string{"GUARDIAN_MAX_RETRIES": "-1"}},
		{"empty guardian url", map[string]string{"GUARDIAN_URL": ""}},
		{"zero ttl", map[string]string{"SESSION_TTL": "0s"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("SESSION_STORE", "sqlite")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestValidateGuardianServer(t *testing.T) {
	valid := func() *Config {
		return &Config{Guardian: GuardianConfig{
			Port:        "8088",
			DBPath:      "guardian.db",
			Username:    "tutor",
			Password:    "clave",
			JWTSecret:   "0123456789abcdef",
			TokenTTL:    24 * time.Hour,
			LoginLimit:  10,
			LoginWindow: time.Minute,
		}}
	}
	require.NoError(t, valid().ValidateGuardianServer())

	tests := map[string]func(c *Config){
		"short secret":   func(c *Config) { c.Guardian.JWTSecret = "corto" },
		"no credentials": func(c *Config) { c.Guardian.Password = "" },
		"no username":    func(c *Config) { c.Guardian.Username = "" },
		"tiny ttl":       func(c *Config) { c.Guardian.TokenTTL = time.Second },
		"no limit":       func(c *Config) { c.Guardian.LoginLimit = 0 },
		"no db":          func(c *Config) { c.Guardian.DBPath = "" },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			c := valid()
			mutate(c)
			assert.Error(t, c.ValidateGuardianServer())
		})
	}

	hashOnly := valid()
	hashOnly.Guardian.Password = ""
	hashOnly.Guardian.PasswordHash = "$2a$10$abcdefghijklmnopqrstuv"
	assert.NoError(t, hashOnly.ValidateGuardianServer())
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("X_DUR", "90s")
	assert.Equal(t, 90*time.Second, getEnvDuration("X_DUR", time.Minute))
	t.Setenv("X_DUR", "45")
	assert.Equal(t, 45*time.Second, getEnvDuration("X_DUR", time.Minute))
	t.Setenv("X_DUR", "pronto")
	assert.Equal(t, time.Minute, getEnvDuration("X_DUR", time.Minute))
}

func TestGetEnvBool(t *testing.T) {
	t.Setenv("X_BOOL", "yes")
	assert.True(t, getEnvBool("X_BOOL", false))
	t.Setenv("X_BOOL", "quizás")
	assert.False(t, getEnvBool("X_BOOL", false))
}
