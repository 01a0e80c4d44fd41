package locks

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireReleaseIsHeld(t *testing.T) {
	c := NewController(t.TempDir())

	held, err := c.IsHeld("continuous_work_abc")
	require.NoError(t, err)
	assert.False(t, held)

	require.NoError(t, c.Acquire("continuous_work_abc"))
	held, err = c.IsHeld("continuous_work_abc")
	require.NoError(t, err)
	assert.True(t, held)

	require.NoError(t, c.Release("continuous_work_abc"))
	held, err = c.IsHeld("continuous_work_abc")
	require.NoError(t, err)
	assert.False(t, held)
}

func TestAcquire_Idempotent(t *testing.T) {
	c := NewController(t.TempDir())
	require.NoError(t, c.Acquire("reflection"))
	require.NoError(t, c.Acquire("reflection"))

	held, err := c.IsHeld("reflection")
	require.NoError(t, err)
	assert.True(t, held)
}

func TestRelease_AbsentIsNoOp(t *testing.T) {
	c := NewController(t.TempDir())
	assert.NoError(t, c.Release("never_acquired"))
}

func TestContinuousWork_NamespacedPerSession(t *testing.T) {
	c := NewController(t.TempDir())

	require.NoError(t, c.Acquire(ContinuousWork("sess-a")))

	// A sibling session's lock is independent.
	held, err := c.IsHeld(ContinuousWork("sess-b"))
	require.NoError(t, err)
	assert.False(t, held)

	held, err = c.IsHeld(ContinuousWork("sess-a"))
	require.NoError(t, err)
	assert.True(t, held)
}

func TestPendingReflection_RoundTrip(t *testing.T) {
	c := NewController(t.TempDir())

	_, ok, err := c.TakePendingReflection()
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.MarkReflectionPending(PendingReflection{
		SessionID:      "sess-1",
		TranscriptPath: "/tmp/transcript.json",
		RequestedAt:    time.Now().UTC(),
	}))

	p, ok, err := c.TakePendingReflection()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "sess-1", p.SessionID)
	assert.Equal(t, "/tmp/transcript.json", p.TranscriptPath)

	// Consumed: a second take finds nothing.
	_, ok, err = c.TakePendingReflection()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPendingReflection_OldestFirst(t *testing.T) {
	c := NewController(t.TempDir())
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, c.MarkReflectionPending(PendingReflection{SessionID: "a-first", RequestedAt: base}))
	require.NoError(t, c.MarkReflectionPending(PendingReflection{SessionID: "b-second", RequestedAt: base.Add(time.Minute)}))

	p, ok, err := c.TakePendingReflection()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a-first", p.SessionID)
}

func TestPendingReflection_OrderedByRequestTimeNotSessionID(t *testing.T) {
	c := NewController(t.TempDir())
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	// Lexical order of session IDs contradicts request order.
	require.NoError(t, c.MarkReflectionPending(PendingReflection{SessionID: "zzz", RequestedAt: base}))
	require.NoError(t, c.MarkReflectionPending(PendingReflection{SessionID: "aaa", RequestedAt: base.Add(time.Hour)}))

	p, ok, err := c.TakePendingReflection()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "zzz", p.SessionID)

	p, ok, err = c.TakePendingReflection()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "aaa", p.SessionID)
}
