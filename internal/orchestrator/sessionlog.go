package orchestrator

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// SessionLog writes per-session artifacts under <root>/<sessionID>/:
// prompt.md holding the objective, and auto.log, an append-only event log.
// All writes after construction are best-effort.
type SessionLog struct {
	dir string
	mu  sync.Mutex
	now func() time.Time
}

// NewSessionLog creates the session directory and writes prompt.md.
func NewSessionLog(root, sessionID, objective string) (*SessionLog, error) {
	dir := filepath.Join(root, sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session log dir: %w", err)
	}

	prompt := fmt.Sprintf("# Objective\n\n%s\n", objective)
	if err := os.WriteFile(filepath.Join(dir, "prompt.md"), []byte(prompt), 0o644); err != nil {
		return nil, fmt.Errorf("write prompt.md: %w", err)
	}

	return &SessionLog{dir: dir, now: time.Now}, nil
}

// Dir returns the session's log directory.
func (l *SessionLog) Dir() string {
	if l == nil {
		return ""
	}
	return l.dir
}

// Append adds one timestamped line to auto.log. Safe on a nil receiver and
// swallows write errors: logging must never affect the session.
func (l *SessionLog) Append(format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(filepath.Join(l.dir, "auto.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer func() { _ = f.Close() }()

	line := fmt.Sprintf("[%s] %s\n", l.now().UTC().Format(time.RFC3339), fmt.Sprintf(format, args...))
	_, _ = f.WriteString(line)
}
