package cli

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zajuna/tutor-virtual/internal/guardian"
	"github.com/zajuna/tutor-virtual/internal/guardianapi"
	"github.com/zajuna/tutor-virtual/internal/store"
)

func newGuardian(t *testing.T) string {
	t.Helper()
	db, err := store.NewSQLite(filepath.Join(t.TempDir(), "guardian.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	creds, err := guardianapi.NewCredentials("tutor", "clave", "")
	require.NoError(t, err)
	r := chi.NewRouter()
	guardianapi.NewHandler(guardianapi.Config{
		Store:       db,
		Tokens:      guardianapi.NewTokens("0123456789abcdef0123456789abcdef", "iss", "aud", time.Hour),
		Credentials: creds,
	}).RegisterRoutes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv.URL
}

func executeCLI(t *testing.T, url string, args ...string) (string, string, error) {
	t.Helper()
	root := NewRootCmd()
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetArgs(append([]string{"--url", url, "--username", "tutor", "--password", "clave"}, args...))

	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func TestPing(t *testing.T) {
	url := newGuardian(t)
	stdout, _, err := executeCLI(t, url, "ping")
	require.NoError(t, err)
	assert.Contains(t, stdout, "is up")

	stdout, _, err = executeCLI(t, url, "ping", "--json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, stdout)
}

func TestPingUnreachable(t *testing.T) {
	srv := httptest.NewServer(nil)
	url := srv.URL
	srv.Close()

	_, _, err := executeCLI(t, url, "ping", "--timeout", "200ms")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unreachable")
}

func TestSaveLatestPurge(t *testing.T) {
	url := newGuardian(t)

	stdout, _, err := executeCLI(t, url, "save", "--sender", "alumno-1", "--data", `{"turnos_conversacion":3}`)
	require.NoError(t, err)
	assert.Contains(t, stdout, "autosave stored for alumno-1")

	stdout, _, err = executeCLI(t, url, "latest", "--sender", "alumno-1", "--json")
	require.NoError(t, err)
	var res guardian.LatestResult
	require.NoError(t, json.Unmarshal([]byte(stdout), &res))
	assert.True(t, res.OK)
	require.Len(t, res.Items, 1)
	assert.Equal(t, 3.0, res.Items[0].Data["turnos_conversacion"])

	stdout, _, err = executeCLI(t, url, "latest")
	require.NoError(t, err)
	assert.Contains(t, stdout, "alumno-1")
	assert.Contains(t, stdout, `{"turnos_conversacion":3}`)

	stdout, _, err = executeCLI(t, url, "purge", "--sender", "alumno-1")
	require.NoError(t, err)
	assert.Contains(t, stdout, "autosaves purged for alumno-1")

	stdout, _, err = executeCLI(t, url, "latest", "--sender", "alumno-1")
	require.NoError(t, err)
	assert.Contains(t, stdout, "no autosaves")
}

func TestLogEvent(t *testing.T) {
	url := newGuardian(t)
	stdout, _, err := executeCLI(t, url, "log-event", "--type", "reset_sesion", "--payload", `{"sender_id":"alumno-1"}`, "--json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, stdout)
}

func TestFlagValidation(t *testing.T) {
	url := newGuardian(t)

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"save without sender", []string{"save"}, `required flag(s) "sender" not set`},
		{"save bad data", []string{"save", "--sender", "a", "--data", "[1]"}, "--data must be a JSON object"},
		{"save null data", []string{"save", "--sender", "a", "--data", "null"}, "not null"},
		{"purge bad sender", []string{"purge", "--sender", "a/b"}, "invalid sender id"},
		{"log-event without type", []string{"log-event"}, `required flag(s) "type" not set`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := executeCLI(t, url, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestWrongPassword(t *testing.T) {
	url := newGuardian(t)
	root := NewRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"--url", url, "--username", "tutor", "--password", "mala", "save", "--sender", "alumno-1"})

	err := root.Execute()
	require.Error(t, err)
	assert.ErrorIs(t, err, guardian.ErrLogin)
}
