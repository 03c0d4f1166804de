package domain

import "time"

// Autosave is a best-effort snapshot of session state held by the guardian store.
type Autosave struct {
	ID        string         `json:"_id"`
	SenderID  string         `json:"sender_id"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}

// SecurityEvent is an audit entry written to the guardian store.
type SecurityEvent struct {
	ID        string         `json:"_id"`
	EventType string         `json:"event_type"`
	Payload   map[string]any `json:"payload"`
	Timestamp time.Time      `json:"timestamp"`
}

// Security event types emitted by the action server.
const (
	EventCierreSesion  = "cierre_sesion"
	EventResetSesion   = "reset_sesion"
	EventAutosaveFalla = "autosave_fallido"
)
