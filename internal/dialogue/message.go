// Package dialogue defines what a custom action hands back to the
// conversational engine: outbound messages and tracker events.
package dialogue

import (
	"fmt"
	"strings"

	"github.com/zajuna/tutor-virtual/internal/domain"
)

// MessageKind selects an outbound message template.
type MessageKind int

const (
	MsgApology MessageKind = iota
	MsgConfirmClose
	MsgConfirmCloseSurveyPending
	MsgConfirmCloseProcessActive
	MsgProgressSaved
	MsgSessionRecap
	MsgFarewell
	MsgFarewellSurveySaved
	MsgCloseCancelled
	MsgSurveyStart
	MsgAskLevel
	MsgAskComment
	MsgInvalidLevel
	MsgEmptyComment
	MsgCommentTooLong
	MsgSurveyThanks
	MsgResetDone
	MsgAutosaveSaved
	MsgAutosaveFailed
	MsgRestored
	MsgNothingToRestore
	MsgGuardianOnline
	MsgGuardianOffline
)

var templates = map[MessageKind]string{
	MsgApology:                   "utter_error_generico",
	MsgConfirmClose:              "utter_confirmar_cierre",
	MsgConfirmCloseSurveyPending: "utter_confirmar_cierre_encuesta_pendiente",
	MsgConfirmCloseProcessActive: "utter_confirmar_cierre_proceso_activo",
	MsgProgressSaved:             "utter_progreso_guardado",
	MsgSessionRecap:              "utter_resumen_sesion",
	MsgFarewell:                  "utter_despedida",
	MsgFarewellSurveySaved:       "utter_despedida_encuesta_guardada",
	MsgCloseCancelled:            "utter_cierre_cancelado",
	MsgSurveyStart:               "utter_iniciar_encuesta",
	MsgAskLevel:                  "utter_preguntar_satisfaccion",
	MsgAskComment:                "utter_preguntar_comentario",
	MsgInvalidLevel:              "utter_nivel_invalido",
	MsgEmptyComment:              "utter_comentario_vacio",
	MsgCommentTooLong:            "utter_comentario_largo",
	MsgSurveyThanks:              "utter_gracias_encuesta",
	MsgResetDone:                 "utter_sesion_reiniciada",
	MsgAutosaveSaved:             "utter_autosave_ok",
	MsgAutosaveFailed:            "utter_autosave_fallo",
	MsgRestored:                  "utter_sesion_restaurada",
	MsgNothingToRestore:          "utter_sin_respaldo",
	MsgGuardianOnline:            "utter_guardian_activo",
	MsgGuardianOffline:           "utter_guardian_inactivo",
}

// Message is one outbound bot message. Only the fields its Kind uses are set.
type Message struct {
	Kind MessageKind

	Process string                     // MsgConfirmCloseProcessActive
	Summary string                     // MsgSessionRecap
	Levels  []domain.SatisfactionLevel // MsgInvalidLevel, MsgSurveyStart, MsgAskLevel
	Max     int                        // MsgCommentTooLong
	Turns   int                        // MsgRestored
}

// ConfirmCloseProcessActive asks to close while another process runs.
func ConfirmCloseProcessActive(process string) Message {
	return Message{Kind: MsgConfirmCloseProcessActive, Process: process}
}

// SessionRecap carries an LLM-produced recap.
func SessionRecap(summary string) Message {
	return Message{Kind: MsgSessionRecap, Summary: summary}
}

// InvalidLevel lists the accepted satisfaction levels.
func InvalidLevel() Message {
	return Message{Kind: MsgInvalidLevel, Levels: domain.SatisfactionLevels}
}

// AskLevel asks for the satisfaction level.
func AskLevel() Message {
	return Message{Kind: MsgAskLevel, Levels: domain.SatisfactionLevels}
}

// SurveyStart opens the satisfaction survey.
func SurveyStart() Message {
	return Message{Kind: MsgSurveyStart, Levels: domain.SatisfactionLevels}
}

// CommentTooLong reports the comment length limit.
func CommentTooLong() Message {
	return Message{Kind: MsgCommentTooLong, Max: domain.MaxCommentLength}
}

// Restored confirms a restore from the guardian store.
func Restored(turns int) Message {
	return Message{Kind: MsgRestored, Turns: turns}
}

// Simple builds a message whose template has no interpolation fields.
func Simple(kind MessageKind) Message {
	return Message{Kind: kind}
}

// Template returns the engine response name for the message.
func (m Message) Template() string {
	if t, ok := templates[m.Kind]; ok {
		return t
	}
	return templates[MsgApology]
}

// Text renders the message in Spanish.
func (m Message) Text() string {
	switch m.Kind {
	case MsgConfirmClose:
		return "¿Deseas terminar la conversación? Responde sí o no."
	case MsgConfirmCloseSurveyPending:
		return "Tienes una encuesta de satisfacción sin terminar. Si cierras ahora guardaré tu progreso para que puedas continuarla después. ¿Deseas terminar la conversación?"
	case MsgConfirmCloseProcessActive:
		return fmt.Sprintf("Aún tienes un proceso en curso (%s). ¿Seguro que deseas terminar la conversación?", m.Process)
	case MsgProgressSaved:
		return "Guardé el progreso de tu encuesta. Podrás retomarla en tu próxima visita."
	case MsgSessionRecap:
		return "Resumen de tu sesión: " + m.Summary
	case MsgFarewell:
		return "¡Gracias por conversar con el Tutor Virtual de Zajuna! Hasta pronto."
	case MsgFarewellSurveySaved:
		return "¡Gracias por conversar con el Tutor Virtual de Zajuna! Tu encuesta quedó guardada para cuando regreses. Hasta pronto."
	case MsgCloseCancelled:
		return "Perfecto, sigamos. ¿En qué más te puedo ayudar?"
	case MsgSurveyStart:
		return "Antes de irte, ¿cómo calificarías la atención recibida? Opciones: " + joinLevels(m.Levels) + "."
	case MsgAskLevel:
		return "¿Cómo calificarías la atención recibida? Opciones: " + joinLevels(m.Levels) + "."
	case MsgAskComment:
		return "Gracias. ¿Quieres dejarnos un comentario sobre tu experiencia?"
	case MsgInvalidLevel:
		return "No reconocí ese nivel de satisfacción. Elige una de estas opciones: " + joinLevels(m.Levels) + "."
	case MsgEmptyComment:
		return "El comentario no puede estar vacío. Escribe al menos una palabra sobre tu experiencia."
	case MsgCommentTooLong:
		return fmt.Sprintf("El comentario es demasiado largo. Escribe como máximo %d caracteres.", m.Max)
	case MsgSurveyThanks:
		return "¡Gracias por responder la encuesta! Tu opinión nos ayuda a mejorar."
	case MsgResetDone:
		return "Listo, reinicié la conversación. Empecemos de nuevo."
	case MsgAutosaveSaved:
		return "Guardé una copia de seguridad de tu sesión."
	case MsgAutosaveFailed:
		return "No pude guardar la copia de seguridad en este momento, pero puedes continuar."
	case MsgRestored:
		return fmt.Sprintf("Recuperé tu sesión anterior (%d turnos). Continuemos donde quedamos.", m.Turns)
	case MsgNothingToRestore:
		return "No encontré una sesión guardada para recuperar."
	case MsgGuardianOnline:
		return "El servicio de respaldo está disponible."
	case MsgGuardianOffline:
		return "El servicio de respaldo no está disponible en este momento."
	default:
		return "Lo siento, ocurrió un problema procesando tu solicitud. Intenta de nuevo en un momento."
	}
}

func joinLevels(levels []domain.SatisfactionLevel) string {
	parts := make([]string, len(levels))
	for i, l := range levels {
		parts[i] = string(l)
	}
	return strings.Join(parts, ", ")
}
