// Package metrics appends one JSON line per event to a file under the
// runtime state directory. Append-only and best-effort: a recording failure
// never propagates to the caller's control flow.
package metrics

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Event names recorded by the controller.
const (
	EventLockBlock         = "lock_block"
	EventReflectionTrigger = "reflection_trigger"
	EventWorktreeCreate    = "worktree_create"
	EventWorktreeCleanup   = "worktree_cleanup"
)

// Event is one metrics line.
type Event struct {
	Timestamp time.Time `json:"ts"`
	Name      string    `json:"event"`
	SessionID string    `json:"session_id,omitempty"`
	Outcome   string    `json:"outcome,omitempty"`
	Count     int       `json:"count,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}

// Recorder writes events to a single JSONL file. Safe for concurrent use
// within a process; cross-process appends rely on O_APPEND line atomicity.
type Recorder struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// NewRecorder returns a Recorder appending to path. An empty path yields a
// no-op recorder.
func NewRecorder(path string) *Recorder {
	return &Recorder{path: path, now: time.Now}
}

// Record appends the event. Errors are swallowed: metrics must never break
// the operation being measured.
func (r *Recorder) Record(e Event) {
	if r == nil || r.path == "" {
		return
	}
	e.Timestamp = r.now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return
	}
	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer func() { _ = f.Close() }()

	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	_, _ = f.Write(append(data, '\n'))
}

// LockBlock records a BLOCK decision returned to the host runtime.
func (r *Recorder) LockBlock(sessionID string) {
	r.Record(Event{Name: EventLockBlock, SessionID: sessionID})
}

// ReflectionTrigger records a pending-reflection request.
func (r *Recorder) ReflectionTrigger(sessionID string) {
	r.Record(Event{Name: EventReflectionTrigger, SessionID: sessionID})
}

// WorktreeCreate records a worktree creation attempt and its outcome.
func (r *Recorder) WorktreeCreate(sessionID, outcome string) {
	r.Record(Event{Name: EventWorktreeCreate, SessionID: sessionID, Outcome: outcome})
}

// WorktreeCleanup records a teardown or janitorial sweep result.
func (r *Recorder) WorktreeCleanup(sessionID, outcome string, count int) {
	r.Record(Event{Name: EventWorktreeCleanup, SessionID: sessionID, Outcome: outcome, Count: count})
}
