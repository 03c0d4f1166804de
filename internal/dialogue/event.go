package dialogue

import (
	"encoding/json"
	"reflect"

	"github.com/zajuna/tutor-virtual/internal/domain"
)

// EventType names a tracker event understood by the engine.
type EventType string

const (
	EventSlot   EventType = "slot"
	EventPause  EventType = "pause"
	EventResume EventType = "resume"
)

// Event is one tracker mutation returned to the engine.
type Event struct {
	Type  EventType
	Name  string
	Value any
}

// SlotSet sets or clears (nil value) a slot.
func SlotSet(name string, value any) Event {
	return Event{Type: EventSlot, Name: name, Value: value}
}

// Pause pauses the conversation; it can be resumed later.
func Pause() Event { return Event{Type: EventPause} }

// Resume resumes normal dialogue.
func Resume() Event { return Event{Type: EventResume} }

// MarshalJSON renders the action-server wire shape. Slot events always carry
// a value, so a nil value clears the slot.
func (e Event) MarshalJSON() ([]byte, error) {
	if e.Type == EventSlot {
		return json.Marshal(struct {
			Event string `json:"event"`
			Name  string `json:"name"`
			Value any    `json:"value"`
		}{string(e.Type), e.Name, e.Value})
	}
	return json.Marshal(struct {
		Event string `json:"event"`
	}{string(e.Type)})
}

// slotOrder fixes the order of emitted slot events.
var slotOrder = []string{
	domain.SlotEncuestaActiva,
	domain.SlotEncuestaIncompleta,
	domain.SlotNivelSatisfaccion,
	domain.SlotComentario,
	domain.SlotProcesoActivo,
	domain.SlotConfirmacionCierre,
	domain.SlotTurnosConversacion,
	domain.SlotSesionLarga,
	domain.SlotSessionActiva,
}

// SlotDiff returns SlotSet events for every typed slot whose value differs
// between before and after.
func SlotDiff(before, after *domain.Session) []Event {
	old := before.Slots()
	// An unparseable level is still present in the engine; clearing it must
	// be emitted.
	if before.NivelSatisfaccion == nil && before.RawNivel != "" {
		old[domain.SlotNivelSatisfaccion] = before.RawNivel
	}
	cur := after.Slots()

	var events []Event
	for _, name := range slotOrder {
		if !reflect.DeepEqual(old[name], cur[name]) {
			events = append(events, SlotSet(name, cur[name]))
		}
	}
	return events
}

// SlotsOf returns a SlotSet event for every typed slot of s, whether or not
// it changed. Actions use it when the engine must hold explicit values.
func SlotsOf(s *domain.Session) []Event {
	cur := s.Slots()
	events := make([]Event, 0, len(slotOrder))
	for _, name := range slotOrder {
		events = append(events, SlotSet(name, cur[name]))
	}
	return events
}

// Merge appends explicit to diff, dropping diff events for slots that
// explicit sets itself.
func Merge(diff, explicit []Event) []Event {
	set := make(map[string]bool)
	for _, ev := range explicit {
		if ev.Type == EventSlot {
			set[ev.Name] = true
		}
	}
	out := make([]Event, 0, len(diff)+len(explicit))
	for _, ev := range diff {
		if ev.Type == EventSlot && set[ev.Name] {
			continue
		}
		out = append(out, ev)
	}
	return append(out, explicit...)
}

// Result is everything one action run hands back.
type Result struct {
	Events   []Event
	Messages []Message
}

// Say appends messages.
func (r *Result) Say(msgs ...Message) {
	r.Messages = append(r.Messages, msgs...)
}

// Emit appends events.
func (r *Result) Emit(events ...Event) {
	r.Events = append(r.Events, events...)
}
