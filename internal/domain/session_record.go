package domain

import (
	"time"
)

// SessionRecord is the persisted ledger entry for one conversation.
type SessionRecord struct {
	SenderID    string      `json:"sender_id"`
	Turns       int         `json:"turns"`
	LongSession bool        `json:"long_session"`
	CloseState  CloseState  `json:"close_state"`
	SurveyState SurveyState `json:"survey_state"`
	LastAction  string      `json:"last_action"`
	LastSeenAt  time.Time   `json:"last_seen_at"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// RecordFor summarizes a session after an action ran.
func RecordFor(s *Session, action string, now time.Time) *SessionRecord {
	return &SessionRecord{
		SenderID:    s.SenderID,
		Turns:       s.TurnosConversacion,
		LongSession: s.SesionLarga,
		CloseState:  s.CloseState(),
		SurveyState: s.SurveyState(),
		LastAction:  action,
		LastSeenAt:  now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// IdleFor returns how long the session has been idle.
func (r *SessionRecord) IdleFor(now time.Time) time.Duration {
	if r.LastSeenAt.IsZero() {
		return 0
	}
	return now.Sub(r.LastSeenAt)
}
