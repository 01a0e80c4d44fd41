package hook

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/autoloop/internal/locks"
)

type fakeLockState struct {
	held    map[string]bool
	heldErr error
	pending []locks.PendingReflection
	markErr error
}

func (f *fakeLockState) IsHeld(name string) (bool, error) {
	if f.heldErr != nil {
		return false, f.heldErr
	}
	return f.held[name], nil
}

func (f *fakeLockState) MarkReflectionPending(p locks.PendingReflection) error {
	if f.markErr != nil {
		return f.markErr
	}
	f.pending = append(f.pending, p)
	return nil
}

type fakeTurnCounter struct {
	n   int
	err error
}

func (f *fakeTurnCounter) TurnCount(string) (int, error) { return f.n, f.err }

func TestDecide_LockHeldBlocksRepeatably(t *testing.T) {
	ls := &fakeLockState{held: map[string]bool{locks.ContinuousWork("sess-1"): true}}
	i := New(ls, nil, ReflectionConfig{}, nil)

	for n := 0; n < 5; n++ {
		d, reflected := i.Decide(Payload{SessionID: "sess-1"})
		assert.Equal(t, "block", d.Decision)
		assert.False(t, reflected)
		assert.Equal(t, BlockReason, d.Reason)
	}
}

func TestDecide_LockAbsentApproves(t *testing.T) {
	i := New(&fakeLockState{held: map[string]bool{}}, nil, ReflectionConfig{}, nil)

	d, reflected := i.Decide(Payload{SessionID: "sess-1"})
	assert.Equal(t, "approve", d.Decision)
	assert.Empty(t, d.Reason)
	assert.False(t, reflected)
}

func TestDecide_LockCheckErrorFailsSafeToApprove(t *testing.T) {
	ls := &fakeLockState{heldErr: errors.New("permission denied")}
	i := New(ls, nil, ReflectionConfig{Enabled: true}, nil)

	d, reflected := i.Decide(Payload{SessionID: "sess-1"})
	assert.Equal(t, "approve", d.Decision)
	assert.False(t, reflected)
	assert.Empty(t, ls.pending, "no reflection request on infrastructure error")
}

func TestDecide_SessionScopedLock(t *testing.T) {
	ls := &fakeLockState{held: map[string]bool{locks.ContinuousWork("other"): true}}
	i := New(ls, nil, ReflectionConfig{}, nil)

	d, _ := i.Decide(Payload{SessionID: "sess-1"})
	assert.Equal(t, "approve", d.Decision, "sibling session's lock must not block")
}

func TestDecide_EligibleApproveMarksReflectionPending(t *testing.T) {
	ls := &fakeLockState{held: map[string]bool{}}
	i := New(ls, &fakeTurnCounter{n: 5}, ReflectionConfig{Enabled: true, MinTurns: 3}, nil)

	d, reflected := i.Decide(Payload{SessionID: "sess-1", TranscriptPath: "/tmp/t.json"})
	assert.Equal(t, "approve", d.Decision)
	assert.True(t, reflected)
	require.Len(t, ls.pending, 1)
	assert.Equal(t, "sess-1", ls.pending[0].SessionID)
	assert.Equal(t, "/tmp/t.json", ls.pending[0].TranscriptPath)
}

func TestDecide_ReflectionDisabledNeverMarks(t *testing.T) {
	ls := &fakeLockState{held: map[string]bool{}}
	i := New(ls, &fakeTurnCounter{n: 50}, ReflectionConfig{Enabled: false}, nil)

	_, reflected := i.Decide(Payload{SessionID: "sess-1"})
	assert.False(t, reflected)
	assert.Empty(t, ls.pending)
}

func TestDecide_BelowMinTurnsSkipsReflection(t *testing.T) {
	ls := &fakeLockState{held: map[string]bool{}}
	i := New(ls, &fakeTurnCounter{n: 1}, ReflectionConfig{Enabled: true, MinTurns: 3}, nil)

	d, reflected := i.Decide(Payload{SessionID: "sess-1"})
	assert.Equal(t, "approve", d.Decision)
	assert.False(t, reflected)
	assert.Empty(t, ls.pending)
}

func TestDecide_ReflectionLockHeldSkipsMarking(t *testing.T) {
	ls := &fakeLockState{held: map[string]bool{locks.ReflectionLock: true}}
	i := New(ls, &fakeTurnCounter{n: 5}, ReflectionConfig{Enabled: true, MinTurns: 3}, nil)

	d, reflected := i.Decide(Payload{SessionID: "sess-1"})
	assert.Equal(t, "approve", d.Decision)
	assert.False(t, reflected)
	assert.Empty(t, ls.pending)
}

func TestDecide_MarkFailureStillApproves(t *testing.T) {
	ls := &fakeLockState{held: map[string]bool{}, markErr: errors.New("disk full")}
	i := New(ls, &fakeTurnCounter{n: 5}, ReflectionConfig{Enabled: true, MinTurns: 3}, nil)

	d, reflected := i.Decide(Payload{SessionID: "sess-1"})
	assert.Equal(t, "approve", d.Decision)
	assert.False(t, reflected, "a failed marker write must not report a request")
}

func TestDecide_TurnCountErrorSkipsReflection(t *testing.T) {
	ls := &fakeLockState{held: map[string]bool{}}
	i := New(ls, &fakeTurnCounter{err: errors.New("db closed")}, ReflectionConfig{Enabled: true, MinTurns: 3}, nil)

	d, reflected := i.Decide(Payload{SessionID: "sess-1"})
	assert.Equal(t, "approve", d.Decision)
	assert.False(t, reflected)
	assert.Empty(t, ls.pending)
}

func TestDecide_RealControllerRoundTrip(t *testing.T) {
	c := locks.NewController(t.TempDir())
	i := New(c, &fakeTurnCounter{n: 5}, ReflectionConfig{Enabled: true, MinTurns: 3}, nil)

	require.NoError(t, c.Acquire(locks.ContinuousWork("sess-1")))
	d, reflected := i.Decide(Payload{SessionID: "sess-1"})
	assert.Equal(t, "block", d.Decision)
	assert.False(t, reflected)

	require.NoError(t, c.Release(locks.ContinuousWork("sess-1")))
	d, reflected = i.Decide(Payload{SessionID: "sess-1"})
	assert.Equal(t, "approve", d.Decision)
	assert.True(t, reflected)

	p, ok, err := c.TakePendingReflection()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "sess-1", p.SessionID)
}
