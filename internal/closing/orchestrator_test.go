package closing

import (
	"context"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zajuna/tutor-virtual/internal/dialogue"
	"github.com/zajuna/tutor-virtual/internal/domain"
	"github.com/zajuna/tutor-virtual/internal/guardian"
)

type fakeGuardian struct {
	mu        sync.Mutex
	saveOK    bool
	saveErr   error
	autosaves []map[string]any
	events    []string
}

func (f *fakeGuardian) CreateAutosave(_ context.Context, _ string, data map[string]any) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.autosaves = append(f.autosaves, data)
	return f.saveOK, f.saveErr
}

func (f *fakeGuardian) LogEvent(_ context.Context, eventType string, _ map[string]any) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, eventType)
	return true, nil
}

type fakeSummarizer struct {
	text    string
	err     error
	calls   int
	details map[string]any
}

func (f *fakeSummarizer) Summarize(_ context.Context, _ string, details map[string]any) (string, error) {
	f.calls++
	f.details = details
	return f.text, f.err
}

func kinds(res dialogue.Result) []dialogue.MessageKind {
	out := make([]dialogue.MessageKind, len(res.Messages))
	for i, m := range res.Messages {
		out[i] = m.Kind
	}
	return out
}

func awaiting(slots map[string]any) *domain.Session {
	if slots == nil {
		slots = map[string]any{}
	}
	slots[domain.SlotConfirmacionCierre] = "pendiente"
	return domain.SessionFromSlots("alumno-1", slots)
}

func TestRequestCloseVariants(t *testing.T) {
	tests := []struct {
		name        string
		slots       map[string]any
		wantVariant PromptVariant
		wantKind    dialogue.MessageKind
	}{
		{"plain", nil, PromptPlain, dialogue.MsgConfirmClose},
		{"survey pending", map[string]any{"encuesta_incompleta": true, "nivel_satisfaccion": "buena"}, PromptSurveyPending, dialogue.MsgConfirmCloseSurveyPending},
		{"survey open", map[string]any{"encuesta_activa": true, "proceso_activo": "encuesta"}, PromptSurveyPending, dialogue.MsgConfirmCloseSurveyPending},
		{"other process", map[string]any{"proceso_activo": "certificado"}, PromptProcessActive, dialogue.MsgConfirmCloseProcessActive},
		{"survey wins over process", map[string]any{"encuesta_incompleta": true, "proceso_activo": "ticket"}, PromptSurveyPending, dialogue.MsgConfirmCloseSurveyPending},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := New(&fakeGuardian{}, nil, nil)
			s := domain.SessionFromSlots("alumno-1", tt.slots)

			res, variant := o.RequestClose(context.Background(), s)
			assert.Equal(t, tt.wantVariant, variant)
			assert.Equal(t, []dialogue.MessageKind{tt.wantKind}, kinds(res))
			assert.Empty(t, res.Events)
			require.NotNil(t, s.ConfirmacionCierre)
			assert.Equal(t, domain.ConfirmacionPendiente, *s.ConfirmacionCierre)
			assert.Equal(t, domain.CloseStateAwaitingConfirmation, s.CloseState())
		})
	}
}

func TestRequestCloseReactivatesPausedSession(t *testing.T) {
	g := &fakeGuardian{saveOK: true}
	o := New(g, nil, nil)
	s := domain.SessionFromSlots("alumno-1", map[string]any{domain.SlotSessionActiva: false})
	require.Equal(t, domain.CloseStateClosedPaused, s.CloseState())

	res, variant := o.RequestClose(context.Background(), s)
	assert.Equal(t, PromptPlain, variant)
	assert.Equal(t, []dialogue.MessageKind{dialogue.MsgConfirmClose}, kinds(res))
	assert.True(t, s.SessionActiva)
	assert.Equal(t, domain.CloseStateAwaitingConfirmation, s.CloseState())

	res = o.ConfirmClose(context.Background(), s)
	assert.Equal(t, []dialogue.MessageKind{dialogue.MsgFarewell}, kinds(res))
	assert.Equal(t, []dialogue.Event{dialogue.Pause()}, res.Events)
	assert.False(t, s.SessionActiva)
}

func TestRequestCloseProcessNameInPrompt(t *testing.T) {
	o := New(&fakeGuardian{}, nil, nil)
	s := domain.SessionFromSlots("alumno-1", map[string]any{"proceso_activo": "certificado"})
	res, _ := o.RequestClose(context.Background(), s)
	require.Len(t, res.Messages, 1)
	assert.Contains(t, res.Messages[0].Text(), "certificado")
}

func TestConfirmClosePlain(t *testing.T) {
	g := &fakeGuardian{saveOK: true}
	sum := &fakeSummarizer{text: "no debería usarse"}
	o := New(g, sum, nil)
	s := awaiting(nil)

	res := o.ConfirmClose(context.Background(), s)
	assert.Equal(t, []dialogue.MessageKind{dialogue.MsgFarewell}, kinds(res))
	assert.Equal(t, []dialogue.Event{dialogue.Pause()}, res.Events)
	assert.Nil(t, s.ConfirmacionCierre)
	assert.False(t, s.SessionActiva)
	assert.Equal(t, domain.CloseStateClosedPaused, s.CloseState())
	assert.Empty(t, g.autosaves, "no survey pending, nothing to save")
	assert.Zero(t, sum.calls, "short session gets no recap")
	assert.Equal(t, []string{domain.EventCierreSesion}, g.events)
}

func TestConfirmCloseSavesPendingSurvey(t *testing.T) {
	g := &fakeGuardian{saveOK: true}
	o := New(g, nil, nil)
	s := awaiting(map[string]any{
		"encuesta_incompleta": true,
		"nivel_satisfaccion":  "buena",
		"correo":              "alumno@sena.edu.co",
		"tema":                "fracciones",
	})

	res := o.ConfirmClose(context.Background(), s)
	assert.Equal(t, []dialogue.MessageKind{dialogue.MsgProgressSaved, dialogue.MsgFarewellSurveySaved}, kinds(res))
	require.Len(t, g.autosaves, 1)
	saved := g.autosaves[0]
	assert.Equal(t, "buena", saved[domain.SlotNivelSatisfaccion])
	assert.Equal(t, "fracciones", saved["tema"])
	assert.NotContains(t, saved, "correo")
	assert.False(t, s.SessionActiva)
}

func TestConfirmCloseSavesOpenUnansweredSurvey(t *testing.T) {
	g := &fakeGuardian{saveOK: true}
	o := New(g, nil, nil)
	s := domain.SessionFromSlots("alumno-1", map[string]any{domain.SlotEncuestaActiva: true})

	res, variant := o.RequestClose(context.Background(), s)
	require.Equal(t, PromptSurveyPending, variant)
	assert.Equal(t, []dialogue.MessageKind{dialogue.MsgConfirmCloseSurveyPending}, kinds(res))

	res = o.ConfirmClose(context.Background(), s)
	assert.Equal(t, []dialogue.MessageKind{dialogue.MsgProgressSaved, dialogue.MsgFarewellSurveySaved}, kinds(res))
	require.Len(t, g.autosaves, 1)
	assert.Equal(t, true, g.autosaves[0][domain.SlotEncuestaActiva])
}

// The store acknowledges nothing, the close still completes
// with the standard farewell.
func TestConfirmCloseAutosaveRejected(t *testing.T) {
	g := &fakeGuardian{saveOK: false, saveErr: guardian.ErrNotAcknowledged}
	o := New(g, nil, nil)
	s := awaiting(map[string]any{"encuesta_incompleta": true, "comentario": "bien"})

	res := o.ConfirmClose(context.Background(), s)
	assert.Equal(t, []dialogue.MessageKind{dialogue.MsgFarewell}, kinds(res))
	assert.Equal(t, []dialogue.Event{dialogue.Pause()}, res.Events)
	assert.False(t, s.SessionActiva)
	assert.Equal(t, domain.CloseStateClosedPaused, s.CloseState())
}

// With the guardian store unreachable the close completes without error.
func TestConfirmCloseGuardianUnreachable(t *testing.T) {
	srv := httptest.NewServer(nil)
	base := srv.URL
	srv.Close()

	client, err := guardian.New(guardian.Config{
		BaseURL:  base,
		Username: "tutor",
		Password: "secret",
		Timeout:  200 * time.Millisecond,
		Sleep:    func(context.Context, time.Duration) error { return nil },
	})
	require.NoError(t, err)

	o := New(client, nil, nil)
	s := awaiting(map[string]any{"encuesta_incompleta": true, "nivel_satisfaccion": "mala"})

	res := o.ConfirmClose(context.Background(), s)
	assert.Equal(t, []dialogue.MessageKind{dialogue.MsgFarewell}, kinds(res))
	assert.False(t, s.SessionActiva)
}

func TestConfirmCloseLongSessionRecap(t *testing.T) {
	sum := &fakeSummarizer{text: "Consultaste tu certificado."}
	o := New(&fakeGuardian{}, sum, nil)
	s := awaiting(map[string]any{
		"sesion_larga":        true,
		"turnos_conversacion": 12.0,
		"user_token":          "abc",
		"cedula":              "1020304050",
	})

	res := o.ConfirmClose(context.Background(), s)
	assert.Equal(t, []dialogue.MessageKind{dialogue.MsgSessionRecap, dialogue.MsgFarewell}, kinds(res))
	assert.Contains(t, res.Messages[0].Text(), "Consultaste tu certificado.")
	assert.Equal(t, 1, sum.calls)
	assert.NotContains(t, sum.details, "user_token")
	assert.NotContains(t, sum.details, "cedula")
	assert.Equal(t, 12.0, sum.details[domain.SlotTurnosConversacion])
}

func TestConfirmCloseRecapFailureSwallowed(t *testing.T) {
	for _, sum := range []*fakeSummarizer{{err: errors.New("llm down")}, {text: ""}} {
		o := New(&fakeGuardian{}, sum, nil)
		s := awaiting(map[string]any{"sesion_larga": true})
		res := o.ConfirmClose(context.Background(), s)
		assert.Equal(t, []dialogue.MessageKind{dialogue.MsgFarewell}, kinds(res))
		assert.False(t, s.SessionActiva)
	}
}

func TestConfirmCloseIsIdempotent(t *testing.T) {
	g := &fakeGuardian{saveOK: true}
	o := New(g, nil, nil)
	s := awaiting(map[string]any{"encuesta_incompleta": true, "nivel_satisfaccion": "buena"})

	first := o.ConfirmClose(context.Background(), s)
	require.NotEmpty(t, first.Messages)

	second := o.ConfirmClose(context.Background(), s)
	assert.Empty(t, second.Messages)
	assert.Empty(t, second.Events)
	assert.Len(t, g.autosaves, 1)
	assert.Len(t, g.events, 1)
}

func TestConfirmCloseWithoutRequestIsNoop(t *testing.T) {
	g := &fakeGuardian{saveOK: true}
	o := New(g, nil, nil)
	s := domain.SessionFromSlots("alumno-1", map[string]any{"encuesta_incompleta": true})

	res := o.ConfirmClose(context.Background(), s)
	assert.Empty(t, res.Messages)
	assert.Empty(t, res.Events)
	assert.True(t, s.SessionActiva)
	assert.Empty(t, g.autosaves)
}

func TestCancelClose(t *testing.T) {
	g := &fakeGuardian{}
	o := New(g, nil, nil)
	s := awaiting(map[string]any{"encuesta_incompleta": true})

	res := o.CancelClose(context.Background(), s)
	assert.Equal(t, []dialogue.MessageKind{dialogue.MsgCloseCancelled}, kinds(res))
	assert.Equal(t, []dialogue.Event{dialogue.Resume()}, res.Events)
	assert.Nil(t, s.ConfirmacionCierre)
	assert.True(t, s.SessionActiva)
	assert.True(t, s.EncuestaIncompleta)
	assert.Equal(t, domain.CloseStateActive, s.CloseState())
	assert.Empty(t, g.autosaves)
	assert.Empty(t, g.events)

	again := o.CancelClose(context.Background(), s)
	assert.Empty(t, again.Messages)
	assert.Empty(t, again.Events)
}
