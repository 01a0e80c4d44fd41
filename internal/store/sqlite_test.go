package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/autoloop/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "autoloop.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Migrate(context.Background()))
}

func TestSessionCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	session := &models.Session{
		Objective: "implement X",
		MaxTurns:  10,
		State:     models.SessionStateClarifying,
	}
	require.NoError(t, s.CreateSession(ctx, session))
	require.NotEmpty(t, session.ID)

	got, err := s.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, "implement X", got.Objective)
	assert.Equal(t, 10, got.MaxTurns)
	assert.Equal(t, models.SessionStateClarifying, got.State)
	assert.Nil(t, got.EndedAt)

	ended := time.Now().UTC()
	session.State = models.SessionStateComplete
	session.CurrentTurn = 4
	session.Summary = "done"
	session.EndedAt = &ended
	require.NoError(t, s.UpdateSession(ctx, session))

	got, err = s.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStateComplete, got.State)
	assert.Equal(t, 4, got.CurrentTurn)
	assert.Equal(t, "done", got.Summary)
	require.NotNil(t, got.EndedAt)
}

func TestGetSession_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetSession(context.Background(), "missing")
	assert.ErrorContains(t, err, "not found")
}

func TestListSessions_NewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := &models.Session{Objective: "old", MaxTurns: 1, State: models.SessionStateComplete,
		StartedAt: time.Now().Add(-time.Hour).UTC()}
	recent := &models.Session{Objective: "recent", MaxTurns: 1, State: models.SessionStateComplete,
		StartedAt: time.Now().UTC()}
	require.NoError(t, s.CreateSession(ctx, old))
	require.NoError(t, s.CreateSession(ctx, recent))

	sessions, err := s.ListSessions(ctx, 0)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "recent", sessions[0].Objective)

	sessions, err = s.ListSessions(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, sessions, 1)
}

func TestTurnLog_AppendOrderPreserved(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	session := &models.Session{Objective: "x", MaxTurns: 3, State: models.SessionStateClarifying}
	require.NoError(t, s.CreateSession(ctx, session))

	phases := []models.TurnPhase{models.PhaseClarify, models.PhasePlan, models.PhaseExecuteEvaluate}
	for i, phase := range phases {
		require.NoError(t, s.AppendTurn(ctx, &models.TurnRecord{
			SessionID:  session.ID,
			TurnNumber: i + 1,
			Phase:      phase,
			RawOutput:  "output",
		}))
	}

	turns, err := s.ListTurns(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, turns, 3)
	for i, turn := range turns {
		assert.Equal(t, i+1, turn.TurnNumber)
		assert.Equal(t, phases[i], turn.Phase)
	}

	count, err := s.TurnCount(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestTurnRecord_CompletionFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	session := &models.Session{Objective: "x", MaxTurns: 3, State: models.SessionStateExecuting}
	require.NoError(t, s.CreateSession(ctx, session))

	require.NoError(t, s.AppendTurn(ctx, &models.TurnRecord{
		SessionID:          session.ID,
		TurnNumber:         3,
		Phase:              models.PhaseExecuteEvaluate,
		RawOutput:          "EVALUATION: COMPLETE",
		DetectedCompletion: true,
		MatchedPhrase:      "evaluation: complete",
	}))

	turns, err := s.ListTurns(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.True(t, turns[0].DetectedCompletion)
	assert.Equal(t, "evaluation: complete", turns[0].MatchedPhrase)
}

func TestFindings_SaveAndList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	findings := []models.ReflectionFinding{
		{PatternKind: models.PatternRepeatedToolUse, Identifier: "Bash", Count: 4, Suggestion: "batch calls"},
		{PatternKind: models.PatternLongSession, Count: 120, Suggestion: "split sessions"},
	}
	require.NoError(t, s.SaveFindings(ctx, "sess-1", findings))

	got, err := s.ListFindings(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, models.PatternRepeatedToolUse, got[0].PatternKind)
	assert.Equal(t, "Bash", got[0].Identifier)
	assert.Equal(t, 4, got[0].Count)
	assert.Equal(t, "sess-1", got[0].SessionID)

	other, err := s.ListFindings(ctx, "sess-2")
	require.NoError(t, err)
	assert.Empty(t, other)
}
