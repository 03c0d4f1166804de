// Package closing implements the session-close state machine:
// ACTIVE → AWAITING_CONFIRMATION → CLOSED_PAUSED, or back to ACTIVE on cancel.
package closing

import (
	"context"
	"log/slog"
	"time"

	"github.com/zajuna/tutor-virtual/internal/dialogue"
	"github.com/zajuna/tutor-virtual/internal/domain"
	"github.com/zajuna/tutor-virtual/internal/observability"
	"github.com/zajuna/tutor-virtual/internal/summarizer"
)

// Guardian is the subset of the guardian client the orchestrator uses.
// Both calls are best-effort: false or an error never blocks a close.
type Guardian interface {
	CreateAutosave(ctx context.Context, senderID string, data map[string]any) (bool, error)
	LogEvent(ctx context.Context, eventType string, payload map[string]any) (bool, error)
}

// PromptVariant identifies which confirmation prompt a close request used.
type PromptVariant string

const (
	PromptPlain         PromptVariant = "plain"
	PromptSurveyPending PromptVariant = "survey_pending"
	PromptProcessActive PromptVariant = "process_active"
)

const recapPrompt = "Resume la sesión del estudiante con el Tutor Virtual: temas consultados y estado de la encuesta."

// Orchestrator drives close requests, confirmations and cancellations.
type Orchestrator struct {
	guardian   Guardian
	summarizer summarizer.Summarizer
	logger     *slog.Logger
	now        func() time.Time
}

// New creates an orchestrator. A nil summarizer disables recaps.
func New(g Guardian, s summarizer.Summarizer, logger *slog.Logger) *Orchestrator {
	if s == nil {
		s = summarizer.Disabled{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		guardian:   g,
		summarizer: s,
		logger:     logger.With("component", "closing"),
		now:        time.Now,
	}
}

// RequestClose moves the session to AWAITING_CONFIRMATION and picks the
// prompt: pending survey first, then any other active process, else plain.
// A close intent on a paused session reactivates it so the confirmation
// can complete.
func (o *Orchestrator) RequestClose(ctx context.Context, s *domain.Session) (dialogue.Result, PromptVariant) {
	var res dialogue.Result
	variant := PromptPlain
	switch {
	case surveyPending(s):
		variant = PromptSurveyPending
		res.Say(dialogue.Simple(dialogue.MsgConfirmCloseSurveyPending))
	case s.HasOtherProcess():
		variant = PromptProcessActive
		res.Say(dialogue.ConfirmCloseProcessActive(*s.ProcesoActivo))
	default:
		res.Say(dialogue.Simple(dialogue.MsgConfirmClose))
	}

	pending := domain.ConfirmacionPendiente
	s.ConfirmacionCierre = &pending
	s.SessionActiva = true
	o.logger.Info("close requested", "sender_id", s.SenderID, "variant", variant)
	return res, variant
}

// ConfirmClose closes an AWAITING_CONFIRMATION session: saves partial survey
// progress, recaps long sessions, says goodbye and pauses the conversation.
// Outside AWAITING_CONFIRMATION it does nothing.
func (o *Orchestrator) ConfirmClose(ctx context.Context, s *domain.Session) dialogue.Result {
	var res dialogue.Result
	if s.CloseState() != domain.CloseStateAwaitingConfirmation {
		o.logger.Debug("confirm close ignored", "sender_id", s.SenderID, "state", s.CloseState())
		return res
	}

	snapshot := s.Snapshot()

	// Any pending survey is saved, answered or not.
	surveySaved := false
	if surveyPending(s) {
		ok, err := o.guardian.CreateAutosave(ctx, s.SenderID, snapshot)
		if ok {
			surveySaved = true
			res.Say(dialogue.Simple(dialogue.MsgProgressSaved))
		} else {
			o.logger.Warn("survey progress not saved, closing anyway", "sender_id", s.SenderID, "error", err)
		}
	}

	if s.SesionLarga {
		summary, err := o.summarizer.Summarize(ctx, recapPrompt, snapshot)
		if err == nil && summary != "" {
			res.Say(dialogue.SessionRecap(summary))
		} else {
			o.logger.Info("session recap skipped", "sender_id", s.SenderID, "error", err)
		}
	}

	variant := "standard"
	if surveySaved {
		variant = "survey_saved"
		res.Say(dialogue.Simple(dialogue.MsgFarewellSurveySaved))
	} else {
		res.Say(dialogue.Simple(dialogue.MsgFarewell))
	}

	s.ConfirmacionCierre = nil
	s.SessionActiva = false
	res.Emit(dialogue.Pause())

	if ok, err := o.guardian.LogEvent(ctx, domain.EventCierreSesion, map[string]any{
		"sender_id":         s.SenderID,
		"turnos":            s.TurnosConversacion,
		"sesion_larga":      s.SesionLarga,
		"encuesta_guardada": surveySaved,
		"fecha":             o.now().UTC().Format(time.RFC3339),
	}); !ok {
		o.logger.Debug("close event not logged", "sender_id", s.SenderID, "error", err)
	}

	observability.ObserveClose(variant)
	o.logger.Info("session closed", "sender_id", s.SenderID, "variant", variant, "turns", s.TurnosConversacion)
	return res
}

func surveyPending(s *domain.Session) bool {
	return s.EncuestaIncompleta || s.SurveyState() == domain.SurveyPending
}

// CancelClose returns an AWAITING_CONFIRMATION session to ACTIVE. Nothing is
// persisted. Outside AWAITING_CONFIRMATION it does nothing.
func (o *Orchestrator) CancelClose(ctx context.Context, s *domain.Session) dialogue.Result {
	var res dialogue.Result
	if s.CloseState() != domain.CloseStateAwaitingConfirmation {
		return res
	}
	s.ConfirmacionCierre = nil
	res.Emit(dialogue.Resume())
	res.Say(dialogue.Simple(dialogue.MsgCloseCancelled))
	o.logger.Info("close cancelled", "sender_id", s.SenderID)
	return res
}
