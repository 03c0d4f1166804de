// Package survey tracks the satisfaction survey over session slots and
// persists completed answers to a JSON-lines log.
package survey

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/zajuna/tutor-virtual/internal/dialogue"
	"github.com/zajuna/tutor-virtual/internal/domain"
	"github.com/zajuna/tutor-virtual/internal/observability"
)

// Problem is a validation failure on one survey field.
type Problem int

const (
	ProblemNone Problem = iota
	ProblemInvalidLevel
	ProblemEmptyComment
	ProblemCommentTooLong
)

// Validation is the per-field outcome of checking a submission.
type Validation struct {
	Level   Problem
	Comment Problem
}

// OK reports whether neither field failed. Missing fields are not failures.
func (v Validation) OK() bool {
	return v.Level == ProblemNone && v.Comment == ProblemNone
}

// Validate checks the survey fields present on s. A nil field is missing,
// not invalid.
func Validate(s *domain.Session) Validation {
	var v Validation
	if s.NivelSatisfaccion == nil && s.RawNivel != "" {
		v.Level = ProblemInvalidLevel
	}
	if s.Comentario != nil {
		c := strings.TrimSpace(*s.Comentario)
		switch {
		case c == "":
			v.Comment = ProblemEmptyComment
		case utf8.RuneCountInString(c) > domain.MaxCommentLength:
			v.Comment = ProblemCommentTooLong
		}
	}
	return v
}

// Recorder persists completed surveys.
type Recorder interface {
	Append(ctx context.Context, rec domain.SurveyRecord) error
}

// Outcome is what a submission did.
type Outcome struct {
	State    domain.SurveyState
	Record   *domain.SurveyRecord
	Messages []dialogue.Message
}

// Tracker drives NO_SURVEY → PENDING → COMPLETE.
type Tracker struct {
	log    Recorder
	now    func() time.Time
	logger *slog.Logger
}

// NewTracker creates a tracker writing completed surveys to log.
func NewTracker(log Recorder, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{log: log, now: time.Now, logger: logger.With("component", "survey")}
}

// Start opens the survey. It does nothing to a survey already pending.
func (t *Tracker) Start(s *domain.Session) []dialogue.Message {
	if s.SurveyState() == domain.SurveyPending {
		if s.NivelSatisfaccion == nil {
			return []dialogue.Message{dialogue.AskLevel()}
		}
		return []dialogue.Message{dialogue.Simple(dialogue.MsgAskComment)}
	}
	s.EncuestaActiva = true
	p := domain.ProcesoEncuesta
	s.ProcesoActivo = &p
	observability.ObserveSurvey(string(domain.SurveyPending))
	return []dialogue.Message{dialogue.SurveyStart()}
}

// Submit validates the survey slots and completes the survey when both
// fields are valid. Invalid fields are reset to nil and re-prompted; the state
// does not change. A log write failure is returned and leaves s untouched.
func (t *Tracker) Submit(ctx context.Context, s *domain.Session) (Outcome, error) {
	v := Validate(s)
	if !v.OK() {
		var msgs []dialogue.Message
		if v.Level != ProblemNone {
			s.NivelSatisfaccion = nil
			s.RawNivel = ""
			msgs = append(msgs, dialogue.InvalidLevel())
		}
		switch v.Comment {
		case ProblemEmptyComment:
			s.Comentario = nil
			msgs = append(msgs, dialogue.Simple(dialogue.MsgEmptyComment))
		case ProblemCommentTooLong:
			s.Comentario = nil
			msgs = append(msgs, dialogue.CommentTooLong())
		}
		t.logger.Info("survey validation failed",
			"sender_id", s.SenderID,
			"level_problem", v.Level,
			"comment_problem", v.Comment)
		t.markPending(s)
		return Outcome{State: domain.SurveyPending, Messages: msgs}, nil
	}

	if s.NivelSatisfaccion == nil || s.Comentario == nil {
		t.markPending(s)
		msg := dialogue.AskLevel()
		if s.NivelSatisfaccion != nil {
			msg = dialogue.Simple(dialogue.MsgAskComment)
		}
		return Outcome{State: domain.SurveyPending, Messages: []dialogue.Message{msg}}, nil
	}

	rec := domain.NewSurveyRecord(s.SenderID, *s.NivelSatisfaccion, strings.TrimSpace(*s.Comentario), t.now())
	if err := t.log.Append(ctx, rec); err != nil {
		return Outcome{}, fmt.Errorf("append survey record: %w", err)
	}

	Clear(s)
	observability.ObserveSurvey(string(domain.SurveyComplete))
	t.logger.Info("survey completed", "sender_id", s.SenderID, "satisfaccion", rec.Satisfaccion)
	return Outcome{
		State:    domain.SurveyComplete,
		Record:   &rec,
		Messages: []dialogue.Message{dialogue.Simple(dialogue.MsgSurveyThanks)},
	}, nil
}

func (t *Tracker) markPending(s *domain.Session) {
	if s.NivelSatisfaccion != nil || s.Comentario != nil {
		s.EncuestaIncompleta = true
	}
	s.EncuestaActiva = true
	if s.ProcesoActivo == nil {
		p := domain.ProcesoEncuesta
		s.ProcesoActivo = &p
	}
}

// Clear drops every survey slot and proceso_activo, returning the session
// to NO_SURVEY.
func Clear(s *domain.Session) {
	s.NivelSatisfaccion = nil
	s.RawNivel = ""
	s.Comentario = nil
	s.EncuestaIncompleta = false
	s.EncuestaActiva = false
	s.ProcesoActivo = nil
}
