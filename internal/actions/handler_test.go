package actions

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zajuna/tutor-virtual/internal/domain"
	"github.com/zajuna/tutor-virtual/internal/turns"
)

func TestHandleWebhookRejectsBadRequests(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name     string
		body     string
		wantCode int
	}{
		{"malformed json", `{"next_action":`, http.StatusBadRequest},
		{"empty body", ``, http.StatusBadRequest},
		{"missing action", `{"sender_id":"alumno-1","tracker":{}}`, http.StatusBadRequest},
		{"missing sender", `{"next_action":"action_contar_turnos","tracker":{}}`, http.StatusBadRequest},
		{"invalid sender", `{"next_action":"action_contar_turnos","sender_id":"../etc/passwd","tracker":{}}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			f.router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(tt.body)))
			assert.Equal(t, tt.wantCode, w.Code)
		})
	}
}

func TestHandleWebhookAcceptsChannelSenderIDs(t *testing.T) {
	f := newFixture(t)
	const sender = "whatsapp:+573001234567"
	c := f.conversation(t, sender, nil)
	c.run(ActionContarTurnos)
	assert.Equal(t, 1.0, c.slots[domain.SlotTurnosConversacion])

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/sessions/"+url.PathEscape(sender), nil))
	require.Equal(t, http.StatusOK, w.Code)

	var rec domain.SessionRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.Equal(t, sender, rec.SenderID)
}

func TestHandleWebhookUnknownAction(t *testing.T) {
	f := newFixture(t)
	body := `{"next_action":"action_inexistente","sender_id":"alumno-1","tracker":{"slots":{}}}`

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body)))
	require.Equal(t, http.StatusNotFound, w.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "action_inexistente", resp.ActionName)
	assert.Contains(t, resp.Error, "action_inexistente")
}

func TestHandleWebhookSenderFromTracker(t *testing.T) {
	f := newFixture(t)
	body := `{"next_action":"action_contar_turnos","tracker":{"sender_id":"alumno-t","slots":{"turnos_conversacion":4}}}`

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, w.Code)

	rec, err := f.sessions.GetSession(context.Background(), "alumno-t")
	require.NoError(t, err)
	assert.Equal(t, 5, rec.Turns)
}

func TestHandleWebhookAlwaysEmitsArrays(t *testing.T) {
	f := newFixture(t)
	body := `{"next_action":"action_confirmar_cierre","sender_id":"alumno-1","tracker":{"slots":{}}}`

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"events":[],"responses":[]}`, w.Body.String())
}

func TestHandleListActions(t *testing.T) {
	f := newFixture(t)

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/actions", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var got []map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got, 10)
	names := make([]string, len(got))
	for i, a := range got {
		names[i] = a["name"]
	}
	assert.Contains(t, names, ActionConfirmarCierre)
	assert.Contains(t, names, ActionGuardianRestaurar)
}

func TestHandleGetSession(t *testing.T) {
	f := newFixture(t)
	c := f.conversation(t, "alumno-s", nil)
	c.run(ActionContarTurnos)

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/sessions/alumno-s", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var rec domain.SessionRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.Equal(t, "alumno-s", rec.SenderID)
	assert.Equal(t, 1, rec.Turns)
	assert.Equal(t, domain.CloseStateActive, rec.CloseState)

	w = httptest.NewRecorder()
	f.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/sessions/desconocido", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleGetSessionStoreClosed(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.sessions.Close())

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/sessions/alumno-1", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHandleGetSessionLedgerDisabled(t *testing.T) {
	exec := NewExecutor(Deps{
		Counter:  turns.NewCounter(turns.DefaultThreshold),
		Guardian: newFakeGuardian(),
	})
	r := chi.NewRouter()
	NewHandler(exec, nil).RegisterRoutes(r)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/sessions/alumno-1", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Turn counting still works without a ledger.
	body := `{"next_action":"action_contar_turnos","sender_id":"alumno-1","tracker":{"slots":{}}}`
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body)))
	assert.Equal(t, http.StatusOK, w.Code)
}
