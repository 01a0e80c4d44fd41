package locks

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const pendingPrefix = "reflection_pending_"

// PendingReflection marks a session whose transcript awaits analysis. The
// marker is distinct from the reflection lock: the stop interceptor writes
// it synchronously, the analyzer consumes it later.
type PendingReflection struct {
	SessionID      string    `json:"session_id"`
	TranscriptPath string    `json:"transcript_path,omitempty"`
	RequestedAt    time.Time `json:"requested_at"`
}

// MarkReflectionPending writes a pending marker for the session. Marking an
// already-pending session overwrites the marker, which is harmless.
func (c *Controller) MarkReflectionPending(p PendingReflection) error {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("create lock dir: %w", err)
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal pending reflection: %w", err)
	}
	path := filepath.Join(c.dir, pendingPrefix+p.SessionID+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write pending reflection: %w", err)
	}
	return nil
}

// TakePendingReflection consumes the pending marker with the earliest
// requested_at, returning false when none exist. The marker is removed before
// the contents are returned so two consumers cannot process the same session.
func (c *Controller) TakePendingReflection() (*PendingReflection, bool, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read lock dir: %w", err)
	}

	type marker struct {
		path string
		p    PendingReflection
	}
	var markers []marker
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), pendingPrefix) {
			continue
		}
		path := filepath.Join(c.dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var p PendingReflection
		if err := json.Unmarshal(data, &p); err != nil {
			// A corrupt marker can never be processed; drop it.
			_ = os.Remove(path)
			continue
		}
		markers = append(markers, marker{path: path, p: p})
	}
	if len(markers) == 0 {
		return nil, false, nil
	}

	sort.Slice(markers, func(i, j int) bool {
		if !markers[i].p.RequestedAt.Equal(markers[j].p.RequestedAt) {
			return markers[i].p.RequestedAt.Before(markers[j].p.RequestedAt)
		}
		return markers[i].path < markers[j].path
	})

	for _, m := range markers {
		// Remove first: losing a marker to a crash here is acceptable,
		// double-processing is not. A removal failure means a sibling
		// consumer got there first; move on to the next marker.
		if err := os.Remove(m.path); err != nil {
			continue
		}
		p := m.p
		return &p, true, nil
	}
	return nil, false, nil
}
