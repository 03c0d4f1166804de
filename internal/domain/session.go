// Package domain contains core domain types for the Zajuna virtual tutor.
package domain

import (
	"maps"
	"math"
	"strconv"
	"strings"
)

// Slot names shared with the conversational engine's domain file.
const (
	SlotEncuestaActiva     = "encuesta_activa"
	SlotEncuestaIncompleta = "encuesta_incompleta"
	SlotNivelSatisfaccion  = "nivel_satisfaccion"
	SlotComentario         = "comentario"
	SlotProcesoActivo      = "proceso_activo"
	SlotConfirmacionCierre = "confirmacion_cierre"
	SlotTurnosConversacion = "turnos_conversacion"
	SlotSesionLarga        = "sesion_larga"
	SlotSessionActiva      = "session_activa"
)

// ProcesoEncuesta is the proceso_activo value used while a survey is open.
const ProcesoEncuesta = "encuesta"

// CloseConfirmation is the value domain of confirmacion_cierre.
type CloseConfirmation string

// ConfirmacionPendiente marks a close request awaiting the user's answer.
const ConfirmacionPendiente CloseConfirmation = "pendiente"

// sensitiveSlots never leave the action server in snapshots.
var sensitiveSlots = map[string]struct{}{
	"user_token": {},
	"auth_token": {},
	"password":   {},
	"cedula":     {},
	"email":      {},
	"correo":     {},
	"nombre":     {},
}

// IsSensitiveSlot reports whether a slot is on the snapshot deny-list.
func IsSensitiveSlot(name string) bool {
	_, ok := sensitiveSlots[strings.ToLower(name)]
	return ok
}

// Session is the typed view of one conversation's slots.
type Session struct {
	SenderID           string
	EncuestaActiva     bool
	EncuestaIncompleta bool
	NivelSatisfaccion  *SatisfactionLevel
	Comentario         *string
	ProcesoActivo      *string
	ConfirmacionCierre *CloseConfirmation
	TurnosConversacion int
	SesionLarga        bool
	SessionActiva      bool

	// Extra holds slots this package does not interpret.
	Extra map[string]any

	// RawNivel keeps the user's level text when it failed to parse, so the
	// survey tracker can tell "invalid" apart from "not given".
	RawNivel string
}

// SessionFromSlots builds a Session from the engine's untyped slot map.
func SessionFromSlots(senderID string, slots map[string]any) *Session {
	s := &Session{
		SenderID:      senderID,
		SessionActiva: true,
		Extra:         make(map[string]any),
	}
	for name, value := range slots {
		switch name {
		case SlotEncuestaActiva:
			s.EncuestaActiva = asBool(value)
		case SlotEncuestaIncompleta:
			s.EncuestaIncompleta = asBool(value)
		case SlotNivelSatisfaccion:
			raw := asString(value)
			if raw == "" {
				continue
			}
			if level, ok := ParseSatisfactionLevel(raw); ok {
				s.NivelSatisfaccion = &level
			} else {
				s.RawNivel = raw
			}
		case SlotComentario:
			if c := strings.TrimSpace(asString(value)); c != "" {
				s.Comentario = &c
			} else if value != nil {
				empty := ""
				s.Comentario = &empty
			}
		case SlotProcesoActivo:
			if p := strings.TrimSpace(asString(value)); p != "" {
				s.ProcesoActivo = &p
			}
		case SlotConfirmacionCierre:
			if CloseConfirmation(asString(value)) == ConfirmacionPendiente {
				c := ConfirmacionPendiente
				s.ConfirmacionCierre = &c
			}
		case SlotTurnosConversacion:
			s.TurnosConversacion = asCount(value)
		case SlotSesionLarga:
			s.SesionLarga = asBool(value)
		case SlotSessionActiva:
			if value != nil {
				s.SessionActiva = asBool(value)
			}
		default:
			s.Extra[name] = value
		}
	}
	return s
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	c := *s
	if s.NivelSatisfaccion != nil {
		v := *s.NivelSatisfaccion
		c.NivelSatisfaccion = &v
	}
	if s.Comentario != nil {
		v := *s.Comentario
		c.Comentario = &v
	}
	if s.ProcesoActivo != nil {
		v := *s.ProcesoActivo
		c.ProcesoActivo = &v
	}
	if s.ConfirmacionCierre != nil {
		v := *s.ConfirmacionCierre
		c.ConfirmacionCierre = &v
	}
	c.Extra = maps.Clone(s.Extra)
	return &c
}

// Slots renders the typed fields back into engine slot values.
// Nil pointers become JSON null.
func (s *Session) Slots() map[string]any {
	out := map[string]any{
		SlotEncuestaActiva:     s.EncuestaActiva,
		SlotEncuestaIncompleta: s.EncuestaIncompleta,
		SlotNivelSatisfaccion:  nil,
		SlotComentario:         nil,
		SlotProcesoActivo:      nil,
		SlotConfirmacionCierre: nil,
		// The engine stores counts as float slots.
		SlotTurnosConversacion: float64(s.TurnosConversacion),
		SlotSesionLarga:        s.SesionLarga,
		SlotSessionActiva:      s.SessionActiva,
	}
	if s.NivelSatisfaccion != nil {
		out[SlotNivelSatisfaccion] = string(*s.NivelSatisfaccion)
	}
	if s.Comentario != nil {
		out[SlotComentario] = *s.Comentario
	}
	if s.ProcesoActivo != nil {
		out[SlotProcesoActivo] = *s.ProcesoActivo
	}
	if s.ConfirmacionCierre != nil {
		out[SlotConfirmacionCierre] = string(*s.ConfirmacionCierre)
	}
	return out
}

// Snapshot returns every slot, typed and extra, minus the sensitive deny-list.
func (s *Session) Snapshot() map[string]any {
	out := make(map[string]any, len(s.Extra)+9)
	for k, v := range s.Extra {
		if IsSensitiveSlot(k) {
			continue
		}
		out[k] = v
	}
	maps.Copy(out, s.Slots())
	return out
}

// SurveyState derives the survey tracker state from the slots.
func (s *Session) SurveyState() SurveyState {
	if s.EncuestaIncompleta || s.NivelSatisfaccion != nil || s.Comentario != nil {
		return SurveyPending
	}
	if s.EncuestaActiva {
		return SurveyPending
	}
	return SurveyNone
}

// CloseState derives the close orchestrator state from the slots.
func (s *Session) CloseState() CloseState {
	switch {
	case !s.SessionActiva:
		return CloseStateClosedPaused
	case s.ConfirmacionCierre != nil && *s.ConfirmacionCierre == ConfirmacionPendiente:
		return CloseStateAwaitingConfirmation
	default:
		return CloseStateActive
	}
}

// HasOtherProcess reports whether a non-survey process blocks a silent close.
func (s *Session) HasOtherProcess() bool {
	return s.ProcesoActivo != nil && *s.ProcesoActivo != ProcesoEncuesta
}

// CloseState enumerates the session-close lifecycle.
type CloseState string

const (
	CloseStateActive               CloseState = "ACTIVE"
	CloseStateAwaitingConfirmation CloseState = "AWAITING_CONFIRMATION"
	CloseStateClosedPaused         CloseState = "CLOSED_PAUSED"
)

func asBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "1", "yes", "si", "sí":
			return true
		}
	case float64:
		return t != 0
	case int:
		return t != 0
	}
	return false
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	}
	return ""
}

func asCount(v any) int {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0
		}
		f = parsed
	default:
		return 0
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0
	}
	return int(f)
}
