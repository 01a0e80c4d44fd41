package locks

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// ReflectionLock is the global mutual-exclusion lock preventing concurrent
// reflection analyses.
const ReflectionLock = "reflection"

// ContinuousWork returns the per-session continuous-work lock name. The
// session namespacing keeps concurrent sessions from blocking each other's
// stop checks.
func ContinuousWork(sessionID string) string {
	return "continuous_work_" + sessionID
}

// Controller manages named boolean locks as filesystem markers under a
// runtime-state directory. Presence is the whole protocol: no ownership
// token, no reentrancy count. The markers stay human-inspectable because the
// external host process has no other channel to observe state.
type Controller struct {
	dir string
}

// NewController returns a Controller whose markers live under dir.
func NewController(dir string) *Controller {
	return &Controller{dir: dir}
}

// Dir returns the marker directory.
func (c *Controller) Dir() string {
	return c.dir
}

func (c *Controller) lockPath(name string) string {
	return filepath.Join(c.dir, name+".lock")
}

// Acquire creates the named marker. Acquiring an already-held lock is a
// no-op, never an error.
func (c *Controller) Acquire(name string) error {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("create lock dir: %w", err)
	}

	f, err := os.OpenFile(c.lockPath(name), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		return fmt.Errorf("acquire lock %s: %w", name, err)
	}
	defer func() { _ = f.Close() }()

	// PID and timestamp are for humans inspecting the marker, not for the
	// protocol itself.
	_, _ = fmt.Fprintf(f, "%s\n%s\n", strconv.Itoa(os.Getpid()), time.Now().UTC().Format(time.RFC3339))
	return nil
}

// Release removes the named marker. Releasing an absent lock is a no-op,
// never an error.
func (c *Controller) Release(name string) error {
	err := os.Remove(c.lockPath(name))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("release lock %s: %w", name, err)
	}
	return nil
}

// IsHeld reports whether the named marker exists. Errors other than absence
// are surfaced so callers can apply their own fail-safe policy.
func (c *Controller) IsHeld(name string) (bool, error) {
	_, err := os.Stat(c.lockPath(name))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("check lock %s: %w", name, err)
}
