package worktree

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/joescharf/autoloop/internal/git"
)

var (
	// ErrNotAGitRepository is returned when the parent path has no git metadata.
	ErrNotAGitRepository = errors.New("not a git repository")

	// ErrDirtyWorktreeTarget is returned when the derived target path already
	// exists and is non-empty.
	ErrDirtyWorktreeTarget = errors.New("worktree target path exists and is not empty")
)

const (
	// DefaultPrefix namespaces branches and directories created by auto mode.
	DefaultPrefix = "automode"

	maxHintLen = 50

	gitTimeout    = 30 * time.Second
	createRetries = 3
	retryBackoff  = 100 * time.Millisecond
)

// Worktree represents an isolated git working directory bound to a branch.
// The worktree shares the parent repository's object store, so disk cost
// scales with working-tree size, not history size.
type Worktree struct {
	Path            string
	Branch          string
	ParentRepoPath  string
	OwningSessionID string
	CreatedAt       time.Time
}

// Manager creates and destroys isolated worktrees under a single parent repo.
// Concurrent Create calls from sibling processes are safe: uniqueness comes
// from the timestamp+hint naming, not shared state.
type Manager struct {
	git      git.Client
	repoPath string
	root     string
	prefix   string

	mu     sync.Mutex
	lastTS int64
	seq    int

	now func() time.Time
}

// NewManager returns a Manager rooted at repoPath. Worktrees are created
// under <repoPath>/worktrees.
func NewManager(gc git.Client, repoPath string) *Manager {
	return NewManagerAt(gc, repoPath, filepath.Join(repoPath, "worktrees"))
}

// NewManagerAt is NewManager with an explicit worktree root directory.
func NewManagerAt(gc git.Client, repoPath, root string) *Manager {
	return &Manager{
		git:      gc,
		repoPath: repoPath,
		root:     root,
		prefix:   DefaultPrefix,
		now:      time.Now,
	}
}

// SetPrefix overrides the branch/directory name prefix.
func (m *Manager) SetPrefix(prefix string) {
	if prefix != "" {
		m.prefix = prefix
	}
}

// Root returns the directory worktrees are created under.
func (m *Manager) Root() string {
	return m.root
}

// SanitizeHint reduces a task hint to [a-z0-9_-], truncated to 50 chars.
// Spaces become dashes; anything else is dropped. Dash runs are collapsed.
func SanitizeHint(hint string) string {
	s := strings.ToLower(hint)
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		case r == ' ':
			return '-'
		default:
			return -1
		}
	}, s)

	parts := strings.FieldsFunc(s, func(r rune) bool { return r == '-' })
	s = strings.Join(parts, "-")
	if len(s) > maxHintLen {
		s = s[:maxHintLen]
		s = strings.Trim(s, "-")
	}
	return s
}

// nextName derives a unique branch/directory name for the hint. The unix
// timestamp suffix keeps names distinct across processes; the sequence
// tie-breaker keeps them distinct when the same second repeats in-process.
func (m *Manager) nextName(hint string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ts := m.now().Unix()
	if ts == m.lastTS {
		m.seq++
	} else {
		m.lastTS = ts
		m.seq = 0
	}

	name := fmt.Sprintf("%s-%s-%d", m.prefix, SanitizeHint(hint), ts)
	if m.seq > 0 {
		name = fmt.Sprintf("%s-%d", name, m.seq)
	}
	return name
}

// Create makes a new worktree and branch named {prefix}-{hint}-{timestamp}.
// The session fails fast on a non-repo parent or a dirty target path so no
// partial state is left behind.
func (m *Manager) Create(ctx context.Context, taskHint, sessionID string) (*Worktree, error) {
	if !m.git.IsRepository(ctx, m.repoPath) {
		return nil, fmt.Errorf("%w: %s", ErrNotAGitRepository, m.repoPath)
	}

	name := m.nextName(taskHint)
	path := filepath.Join(m.root, name)

	if entries, err := os.ReadDir(path); err == nil && len(entries) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrDirtyWorktreeTarget, path)
	}

	if err := os.MkdirAll(m.root, 0o755); err != nil {
		return nil, fmt.Errorf("create worktree root: %w", err)
	}

	// Transient filesystem races (index.lock contention from sibling
	// processes) get a small number of retries before surfacing.
	var lastErr error
	for attempt := 0; attempt < createRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(retryBackoff << (attempt - 1)):
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, gitTimeout)
		lastErr = m.git.WorktreeAdd(callCtx, m.repoPath, path, name)
		cancel()
		if lastErr == nil {
			return &Worktree{
				Path:            path,
				Branch:          name,
				ParentRepoPath:  m.repoPath,
				OwningSessionID: sessionID,
				CreatedAt:       m.now().UTC(),
			}, nil
		}
	}

	return nil, fmt.Errorf("create worktree %s: %w", name, lastErr)
}

// Remove deletes the worktree checkout and its branch. Without force,
// uncommitted changes surface as an error; cleanup call sites pass
// force=true, trading loss of uncommitted work for deterministic reclaim.
// Removing an already-gone worktree is a no-op.
func (m *Manager) Remove(ctx context.Context, wt *Worktree, force bool) error {
	if wt == nil {
		return nil
	}

	callCtx, cancel := context.WithTimeout(ctx, gitTimeout)
	defer cancel()

	if _, err := os.Stat(wt.Path); os.IsNotExist(err) {
		// Checkout already gone; tidy the admin files and stale branch.
		_ = m.git.WorktreePrune(callCtx, wt.ParentRepoPath)
		_ = m.git.DeleteBranch(callCtx, wt.ParentRepoPath, wt.Branch, true)
		return nil
	}

	if err := m.git.WorktreeRemove(callCtx, wt.ParentRepoPath, wt.Path, force); err != nil {
		return fmt.Errorf("remove worktree %s: %w", wt.Path, err)
	}

	if err := m.git.DeleteBranch(callCtx, wt.ParentRepoPath, wt.Branch, force); err != nil {
		if !force {
			return fmt.Errorf("delete branch %s: %w", wt.Branch, err)
		}
	}
	return nil
}

// CleanupOld removes worktrees under the root whose directories match the
// prefix and are older than maxAge. Returns the count removed. Intended for
// out-of-band janitorial sweeps, never called by the session loop.
func (m *Manager) CleanupOld(ctx context.Context, maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read worktree root: %w", err)
	}

	cutoff := m.now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), m.prefix+"-") {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		wt := &Worktree{
			Path:           filepath.Join(m.root, entry.Name()),
			Branch:         entry.Name(),
			ParentRepoPath: m.repoPath,
		}
		if err := m.Remove(ctx, wt, true); err != nil {
			continue
		}
		removed++
	}
	return removed, nil
}
