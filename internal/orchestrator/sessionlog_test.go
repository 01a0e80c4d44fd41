package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/autoloop/internal/agent"
)

func TestSessionLog_WritesPromptAndAppendsEvents(t *testing.T) {
	root := t.TempDir()

	sl, err := NewSessionLog(root, "sess-1", "refactor the config loader")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "sess-1"), sl.Dir())

	prompt, err := os.ReadFile(filepath.Join(sl.Dir(), "prompt.md"))
	require.NoError(t, err)
	assert.Contains(t, string(prompt), "refactor the config loader")

	sl.Append("turn %d/%d (%s)", 1, 5, "clarify")
	sl.Append("turn %d/%d (%s)", 2, 5, "plan")

	log, err := os.ReadFile(filepath.Join(sl.Dir(), "auto.log"))
	require.NoError(t, err)
	assert.Contains(t, string(log), "turn 1/5 (clarify)")
	assert.Contains(t, string(log), "turn 2/5 (plan)")
}

func TestSessionLog_NilReceiverIsSafe(t *testing.T) {
	var sl *SessionLog
	assert.NotPanics(t, func() {
		sl.Append("ignored")
	})
	assert.Empty(t, sl.Dir())
}

func TestRun_WritesSessionLog(t *testing.T) {
	root := t.TempDir()
	runner := &fakeRunner{
		turnOutput: func(req agent.TurnRequest) (string, error) {
			if req.Kind == agent.KindExecute {
				return "shipped. EVALUATION: COMPLETE", nil
			}
			return "ok", nil
		},
	}
	o := New(runner, nil, newFakeLocks(), nil, nil, nil)

	session, err := o.Run(context.Background(), "add retries", Options{
		MaxTurns: 5,
		LogDir:   root,
	})
	require.NoError(t, err)

	dir := filepath.Join(root, session.ID)
	prompt, err := os.ReadFile(filepath.Join(dir, "prompt.md"))
	require.NoError(t, err)
	assert.Contains(t, string(prompt), "add retries")

	log, err := os.ReadFile(filepath.Join(dir, "auto.log"))
	require.NoError(t, err)
	assert.Contains(t, string(log), "started")
	assert.Contains(t, string(log), "completion detected")
}
