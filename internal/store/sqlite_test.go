package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zajuna/tutor-virtual/internal/domain"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "nested", "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteSessionRoundTrip(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	_, err := s.GetSession(ctx, "alumno-1")
	require.ErrorIs(t, err, ErrNotFound)

	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	rec := &domain.SessionRecord{
		SenderID:    "alumno-1",
		Turns:       3,
		CloseState:  domain.CloseStateActive,
		SurveyState: domain.SurveyNone,
		LastAction:  "action_contar_turnos",
		LastSeenAt:  created,
		CreatedAt:   created,
	}
	require.NoError(t, s.UpsertSession(ctx, rec))

	later := created.Add(time.Hour)
	require.NoError(t, s.UpsertSession(ctx, &domain.SessionRecord{
		SenderID:    "alumno-1",
		Turns:       9,
		LongSession: true,
		CloseState:  domain.CloseStateAwaitingConfirmation,
		SurveyState: domain.SurveyPending,
		LastAction:  "action_solicitar_cierre",
		LastSeenAt:  later,
		CreatedAt:   later,
	}))

	got, err := s.GetSession(ctx, "alumno-1")
	require.NoError(t, err)
	assert.Equal(t, 9, got.Turns)
	assert.True(t, got.LongSession)
	assert.Equal(t, domain.CloseStateAwaitingConfirmation, got.CloseState)
	assert.Equal(t, domain.SurveyPending, got.SurveyState)
	assert.Equal(t, "action_solicitar_cierre", got.LastAction)
	assert.True(t, got.CreatedAt.Equal(created), "created_at must survive upserts")
	assert.True(t, got.LastSeenAt.Equal(later))

	require.NoError(t, s.DeleteSession(ctx, "alumno-1"))
	_, err = s.GetSession(ctx, "alumno-1")
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, s.DeleteSession(ctx, "alumno-1"))
}

func TestSQLiteCleanupExpiredSessions(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	require.NoError(t, s.UpsertSession(ctx, &domain.SessionRecord{
		SenderID: "viejo", CloseState: domain.CloseStateActive, SurveyState: domain.SurveyNone,
		LastSeenAt: now.Add(-48 * time.Hour),
	}))
	require.NoError(t, s.UpsertSession(ctx, &domain.SessionRecord{
		SenderID: "reciente", CloseState: domain.CloseStateActive, SurveyState: domain.SurveyNone,
		LastSeenAt: now.Add(-time.Hour),
	}))

	deleted, err := s.CleanupExpiredSessions(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = s.GetSession(ctx, "viejo")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetSession(ctx, "reciente")
	assert.NoError(t, err)
}

func TestSQLiteAutosavesNewestFirst(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 3, 8, 0, 0, 0, time.UTC)
	tick := 0
	s.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	firstID, err := s.InsertAutosave(ctx, "alumno-1", map[string]any{"turnos_conversacion": 1.0})
	require.NoError(t, err)
	_, err = s.InsertAutosave(ctx, "alumno-2", map[string]any{"turnos_conversacion": 4.0})
	require.NoError(t, err)
	lastID, err := s.InsertAutosave(ctx, "alumno-1", map[string]any{"turnos_conversacion": 2.0})
	require.NoError(t, err)
	assert.NotEqual(t, firstID, lastID)

	all, err := s.LatestAutosaves(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, lastID, all[0].ID)
	assert.Equal(t, firstID, all[2].ID)

	mine, err := s.LatestAutosaves(ctx, "alumno-1", 1)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, lastID, mine[0].ID)
	assert.Equal(t, 2.0, mine[0].Data["turnos_conversacion"])
	assert.True(t, mine[0].Timestamp.Equal(base.Add(3*time.Second)))

	deleted, err := s.DeleteAutosaves(ctx, "alumno-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	mine, err = s.LatestAutosaves(ctx, "alumno-1", 5)
	require.NoError(t, err)
	assert.Empty(t, mine)
	assert.NotNil(t, mine)
}

func TestSQLiteInsertEvent(t *testing.T) {
	s := newTestSQLite(t)
	id, err := s.InsertEvent(context.Background(), domain.EventCierreSesion, map[string]any{"sender_id": "alumno-1"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	require.NoError(t, s.Ping(context.Background()))
}

func TestIsSQLiteConflict(t *testing.T) {
	assert.False(t, isSQLiteConflict(nil))
	assert.True(t, isSQLiteConflict(errString("SQLITE_BUSY: database busy")))
	assert.True(t, isSQLiteConflict(errString("database is locked (5)")))
	assert.False(t, isSQLiteConflict(errString("no such table")))
}

type errString string

func (e errString) Error() string { return string(e) }
