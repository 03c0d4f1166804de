package actions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"time"

	"github.com/zajuna/tutor-virtual/internal/closing"
	"github.com/zajuna/tutor-virtual/internal/dialogue"
	"github.com/zajuna/tutor-virtual/internal/domain"
	"github.com/zajuna/tutor-virtual/internal/guardian"
	"github.com/zajuna/tutor-virtual/internal/observability"
	"github.com/zajuna/tutor-virtual/internal/store"
	"github.com/zajuna/tutor-virtual/internal/survey"
	"github.com/zajuna/tutor-virtual/internal/turns"
)

// ErrUnknownAction is returned for action names not in the registry.
var ErrUnknownAction = errors.New("unknown action")

// GuardianClient is the guardian client surface the actions use.
type GuardianClient interface {
	closing.Guardian
	Ping(ctx context.Context) bool
	LatestAutosavesFor(ctx context.Context, senderID string, limit int) (guardian.LatestResult, error)
	DeleteAutosaves(ctx context.Context, senderID string) (bool, error)
}

// Turn is the input of one action run.
type Turn struct {
	Session       *domain.Session
	LatestMessage LatestMessage
}

// Func runs one action against a turn, mutating turn.Session in place.
// Slot events are derived from the mutation; the returned result carries
// messages and control events only.
type Func func(ctx context.Context, turn *Turn) (dialogue.Result, error)

// Deps wires the components the actions drive.
type Deps struct {
	Counter  turns.Counter
	Survey   *survey.Tracker
	Closer   *closing.Orchestrator
	Guardian GuardianClient
	// Sessions is optional; when set every run is recorded in the ledger.
	Sessions store.SessionRepository
	Logger   *slog.Logger
}

// Executor dispatches webhook requests to registered actions.
type Executor struct {
	deps     Deps
	registry map[string]Func
	logger   *slog.Logger
	now      func() time.Time
}

// NewExecutor creates an executor with every action registered.
func NewExecutor(deps Deps) *Executor {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	e := &Executor{
		deps:   deps,
		logger: deps.Logger.With("component", "actions"),
		now:    time.Now,
	}
	e.registry = map[string]Func{
		ActionContarTurnos:      e.contarTurnos,
		ActionIniciarEncuesta:   e.iniciarEncuesta,
		ActionRegistrarEncuesta: e.registrarEncuesta,
		ActionSolicitarCierre:   e.solicitarCierre,
		ActionConfirmarCierre:   e.confirmarCierre,
		ActionCancelarCierre:    e.cancelarCierre,
		ActionGuardianReset:     e.guardianReset,
		ActionGuardianAutosave:  e.guardianAutosave,
		ActionGuardianRestaurar: e.guardianRestaurar,
		ActionGuardianEstado:    e.guardianEstado,
	}
	return e
}

// Names lists the registered action names, sorted.
func (e *Executor) Names() []string {
	names := make([]string, 0, len(e.registry))
	for name := range e.registry {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Execute runs req.NextAction. Only ErrUnknownAction is returned as an
// error; failures inside an action become the apology message.
func (e *Executor) Execute(ctx context.Context, req Request) (Response, error) {
	fn, ok := e.registry[req.NextAction]
	if !ok {
		observability.ObserveAction(req.NextAction, "unknown", 0)
		return Response{}, fmt.Errorf("%w: %s", ErrUnknownAction, req.NextAction)
	}

	senderID := req.SenderID
	if senderID == "" {
		senderID = req.Tracker.SenderID
	}

	start := e.now()
	before := domain.SessionFromSlots(senderID, req.Tracker.Slots)
	turn := &Turn{Session: before.Clone(), LatestMessage: req.Tracker.LatestMessage}

	res, err := e.run(ctx, req.NextAction, fn, turn)
	elapsed := e.now().Sub(start).Seconds()
	if err != nil {
		e.logger.Error("action failed",
			"action", req.NextAction,
			"sender_id", senderID,
			"error", err)
		observability.ObserveAction(req.NextAction, "error", elapsed)
		return render(dialogue.Result{Messages: []dialogue.Message{dialogue.Simple(dialogue.MsgApology)}}), nil
	}

	res.Events = dialogue.Merge(dialogue.SlotDiff(before, turn.Session), res.Events)

	e.record(ctx, req.NextAction, turn.Session)
	observability.ObserveAction(req.NextAction, "ok", elapsed)
	e.logger.Debug("action executed",
		"action", req.NextAction,
		"sender_id", senderID,
		"events", len(res.Events),
		"messages", len(res.Messages))
	return render(res), nil
}

func (e *Executor) run(ctx context.Context, name string, fn Func, turn *Turn) (res dialogue.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("action panicked", "action", name, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("action %s panicked: %v", name, r)
		}
	}()
	return fn(ctx, turn)
}

// record writes the ledger entry; failures are logged and ignored.
func (e *Executor) record(ctx context.Context, action string, s *domain.Session) {
	if e.deps.Sessions == nil || s.SenderID == "" {
		return
	}
	if err := e.deps.Sessions.UpsertSession(ctx, domain.RecordFor(s, action, e.now())); err != nil {
		e.logger.Warn("failed to record session", "sender_id", s.SenderID, "action", action, "error", err)
	}
}

func (e *Executor) contarTurnos(_ context.Context, turn *Turn) (dialogue.Result, error) {
	s := turn.Session
	// A user turn on a paused conversation means the engine resumed it.
	if !s.SessionActiva {
		s.SessionActiva = true
	}
	e.deps.Counter.Count(s)
	return dialogue.Result{}, nil
}

func (e *Executor) iniciarEncuesta(_ context.Context, turn *Turn) (dialogue.Result, error) {
	return dialogue.Result{Messages: e.deps.Survey.Start(turn.Session)}, nil
}

func (e *Executor) registrarEncuesta(ctx context.Context, turn *Turn) (dialogue.Result, error) {
	out, err := e.deps.Survey.Submit(ctx, turn.Session)
	if err != nil {
		return dialogue.Result{}, err
	}
	return dialogue.Result{Messages: out.Messages}, nil
}

func (e *Executor) solicitarCierre(ctx context.Context, turn *Turn) (dialogue.Result, error) {
	res, _ := e.deps.Closer.RequestClose(ctx, turn.Session)
	return res, nil
}

func (e *Executor) confirmarCierre(ctx context.Context, turn *Turn) (dialogue.Result, error) {
	return e.deps.Closer.ConfirmClose(ctx, turn.Session), nil
}

func (e *Executor) cancelarCierre(ctx context.Context, turn *Turn) (dialogue.Result, error) {
	return e.deps.Closer.CancelClose(ctx, turn.Session), nil
}

// guardianReset returns the conversation to a fresh state and deletes the
// sender's autosaves and ledger entry. Every typed slot is sent explicitly
// so the engine holds 0/false rather than null.
func (e *Executor) guardianReset(ctx context.Context, turn *Turn) (dialogue.Result, error) {
	s := turn.Session
	e.deps.Counter.Reset(s)
	survey.Clear(s)
	s.ConfirmacionCierre = nil
	s.SessionActiva = true

	if ok, err := e.deps.Guardian.DeleteAutosaves(ctx, s.SenderID); !ok {
		e.logger.Warn("autosaves not deleted on reset", "sender_id", s.SenderID, "error", err)
	}
	if e.deps.Sessions != nil {
		if err := e.deps.Sessions.DeleteSession(ctx, s.SenderID); err != nil {
			e.logger.Warn("ledger entry not deleted on reset", "sender_id", s.SenderID, "error", err)
		}
	}
	_, _ = e.deps.Guardian.LogEvent(ctx, domain.EventResetSesion, map[string]any{"sender_id": s.SenderID})

	return dialogue.Result{
		Events:   dialogue.SlotsOf(s),
		Messages: []dialogue.Message{dialogue.Simple(dialogue.MsgResetDone)},
	}, nil
}

func (e *Executor) guardianAutosave(ctx context.Context, turn *Turn) (dialogue.Result, error) {
	s := turn.Session
	ok, err := e.deps.Guardian.CreateAutosave(ctx, s.SenderID, s.Snapshot())
	if !ok {
		e.logger.Warn("manual autosave failed", "sender_id", s.SenderID, "error", err)
		_, _ = e.deps.Guardian.LogEvent(ctx, domain.EventAutosaveFalla, map[string]any{"sender_id": s.SenderID})
		return dialogue.Result{Messages: []dialogue.Message{dialogue.Simple(dialogue.MsgAutosaveFailed)}}, nil
	}
	return dialogue.Result{Messages: []dialogue.Message{dialogue.Simple(dialogue.MsgAutosaveSaved)}}, nil
}

// guardianRestaurar restores survey progress and the turn count from the
// sender's newest autosave. sesion_larga only ever latches on.
func (e *Executor) guardianRestaurar(ctx context.Context, turn *Turn) (dialogue.Result, error) {
	s := turn.Session
	latest, err := e.deps.Guardian.LatestAutosavesFor(ctx, s.SenderID, 1)
	if err != nil || !latest.OK || len(latest.Items) == 0 {
		if err != nil {
			e.logger.Warn("restore lookup failed", "sender_id", s.SenderID, "error", err)
		}
		return dialogue.Result{Messages: []dialogue.Message{dialogue.Simple(dialogue.MsgNothingToRestore)}}, nil
	}

	saved := domain.SessionFromSlots(s.SenderID, latest.Items[0].Data)
	s.EncuestaActiva = saved.EncuestaActiva
	s.EncuestaIncompleta = saved.EncuestaIncompleta
	s.NivelSatisfaccion = saved.NivelSatisfaccion
	s.Comentario = saved.Comentario
	s.ProcesoActivo = saved.ProcesoActivo
	if saved.TurnosConversacion > s.TurnosConversacion {
		s.TurnosConversacion = saved.TurnosConversacion
	}
	s.SesionLarga = s.SesionLarga || saved.SesionLarga
	s.SessionActiva = true

	e.logger.Info("session restored", "sender_id", s.SenderID, "autosave_id", latest.Items[0].ID)
	return dialogue.Result{Messages: []dialogue.Message{dialogue.Restored(s.TurnosConversacion)}}, nil
}

func (e *Executor) guardianEstado(ctx context.Context, _ *Turn) (dialogue.Result, error) {
	if e.deps.Guardian.Ping(ctx) {
		return dialogue.Result{Messages: []dialogue.Message{dialogue.Simple(dialogue.MsgGuardianOnline)}}, nil
	}
	return dialogue.Result{Messages: []dialogue.Message{dialogue.Simple(dialogue.MsgGuardianOffline)}}, nil
}
