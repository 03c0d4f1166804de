// Package actions implements the custom-action server the conversational
// engine calls after resolving an intent.
package actions

import (
	"github.com/zajuna/tutor-virtual/internal/dialogue"
)

// Action names registered with the engine.
const (
	ActionContarTurnos      = "action_contar_turnos"
	ActionIniciarEncuesta   = "action_iniciar_encuesta"
	ActionRegistrarEncuesta = "action_registrar_encuesta"
	ActionSolicitarCierre   = "action_solicitar_cierre"
	ActionConfirmarCierre   = "action_confirmar_cierre"
	ActionCancelarCierre    = "action_cancelar_cierre"
	ActionGuardianReset     = "action_guardian_reset"
	ActionGuardianAutosave  = "action_guardian_autosave"
	ActionGuardianRestaurar = "action_guardian_restaurar"
	ActionGuardianEstado    = "action_guardian_estado"
)

// Request is the body the engine posts to /webhook.
type Request struct {
	NextAction string  `json:"next_action"`
	SenderID   string  `json:"sender_id"`
	Tracker    Tracker `json:"tracker"`
	Version    string  `json:"version,omitempty"`
}

// Tracker is the part of the engine's conversation tracker actions read.
type Tracker struct {
	SenderID      string         `json:"sender_id"`
	Slots         map[string]any `json:"slots"`
	LatestMessage LatestMessage  `json:"latest_message"`
}

// LatestMessage is the user's most recent utterance.
type LatestMessage struct {
	Text   string `json:"text"`
	Intent Intent `json:"intent"`
}

// Intent is the classified intent of an utterance.
type Intent struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// Response is the webhook answer.
type Response struct {
	Events    []dialogue.Event  `json:"events"`
	Responses []ResponseMessage `json:"responses"`
}

// ResponseMessage is one rendered bot message.
type ResponseMessage struct {
	Text     string `json:"text"`
	Response string `json:"response"`
}

// ErrorResponse is returned for unknown actions.
type ErrorResponse struct {
	Error      string `json:"error"`
	ActionName string `json:"action_name"`
}

func render(res dialogue.Result) Response {
	out := Response{
		Events:    res.Events,
		Responses: make([]ResponseMessage, 0, len(res.Messages)),
	}
	if out.Events == nil {
		out.Events = []dialogue.Event{}
	}
	for _, m := range res.Messages {
		out.Responses = append(out.Responses, ResponseMessage{Text: m.Text(), Response: m.Template()})
	}
	return out
}
