// Package turns counts user turns per conversation and latches the
// long-session flag.
package turns

import "github.com/zajuna/tutor-virtual/internal/domain"

// DefaultThreshold is the turn count at which a session becomes long.
const DefaultThreshold = 8

// Counter increments turnos_conversacion and sets sesion_larga once the
// threshold is reached. It never clears sesion_larga; only Reset does.
type Counter struct {
	Threshold int
}

// NewCounter returns a counter; a non-positive threshold means DefaultThreshold.
func NewCounter(threshold int) Counter {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return Counter{Threshold: threshold}
}

// Count records one user turn.
func (c Counter) Count(s *domain.Session) {
	threshold := c.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if s.TurnosConversacion < 0 {
		s.TurnosConversacion = 0
	}
	s.TurnosConversacion++
	if s.TurnosConversacion >= threshold {
		s.SesionLarga = true
	}
}

// Reset zeroes the count and clears sesion_larga.
func (c Counter) Reset(s *domain.Session) {
	s.TurnosConversacion = 0
	s.SesionLarga = false
}
