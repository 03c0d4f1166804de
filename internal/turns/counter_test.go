package turns

import (
	"testing"

	"github.com/zajuna/tutor-virtual/internal/domain"
)

func TestCountLatchesLongSession(t *testing.T) {
	c := NewCounter(0)
	s := domain.SessionFromSlots("alumno-1", nil)

	for n := 1; n <= 20; n++ {
		c.Count(s)
		if s.TurnosConversacion != n {
			t.Fatalf("turn %d: count = %d", n, s.TurnosConversacion)
		}
		wantLong := n >= DefaultThreshold
		if s.SesionLarga != wantLong {
			t.Fatalf("turn %d: sesion_larga = %v, want %v", n, s.SesionLarga, wantLong)
		}
	}
}

func TestCountFromEngineSlots(t *testing.T) {
	tests := []struct {
		name  string
		prior any
		want  int
	}{
		{"float", 3.0, 4},
		{"string", "5", 6},
		{"missing", nil, 1},
		{"garbage", "muchos", 1},
		{"negative", -2.0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := domain.SessionFromSlots("alumno-1", map[string]any{domain.SlotTurnosConversacion: tt.prior})
			NewCounter(8).Count(s)
			if s.TurnosConversacion != tt.want {
				t.Errorf("count = %d, want %d", s.TurnosConversacion, tt.want)
			}
		})
	}
}

func TestLongSessionNeverReverts(t *testing.T) {
	c := NewCounter(3)
	s := domain.SessionFromSlots("alumno-1", map[string]any{
		domain.SlotTurnosConversacion: 1.0,
		domain.SlotSesionLarga:        true,
	})
	c.Count(s)
	if !s.SesionLarga {
		t.Fatal("sesion_larga reverted below threshold")
	}
}

func TestReset(t *testing.T) {
	c := NewCounter(2)
	s := domain.SessionFromSlots("alumno-1", nil)
	c.Count(s)
	c.Count(s)
	if !s.SesionLarga {
		t.Fatal("expected long session")
	}
	c.Reset(s)
	if s.TurnosConversacion != 0 || s.SesionLarga {
		t.Fatalf("after reset: turns=%d long=%v", s.TurnosConversacion, s.SesionLarga)
	}
	c.Count(s)
	if s.TurnosConversacion != 1 || s.SesionLarga {
		t.Fatalf("after reset+1: turns=%d long=%v", s.TurnosConversacion, s.SesionLarga)
	}
}
