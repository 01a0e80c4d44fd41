// Package orchestrator drives an auto-mode session through clarify, plan,
// and execute/evaluate turns until completion, turn-budget exhaustion, or
// failure, then summarizes. Cleanup of the continuous-work lock and the
// session worktree runs on every exit path.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/joescharf/autoloop/internal/agent"
	"github.com/joescharf/autoloop/internal/locks"
	"github.com/joescharf/autoloop/internal/metrics"
	"github.com/joescharf/autoloop/internal/models"
	"github.com/joescharf/autoloop/internal/worktree"
)

// DefaultCompletionPhrases is the tunable disjunctive set matched
// case-insensitively against turn output. False positives are an accepted
// tradeoff; the matched phrase is recorded for audit.
var DefaultCompletionPhrases = []string{
	"objective achieved",
	"all criteria met",
	"evaluation: complete",
}

// ErrInvalidObjective is returned when the objective is empty.
var ErrInvalidObjective = errors.New("objective must not be empty")

// ErrInvalidMaxTurns is returned when the turn budget is not positive.
var ErrInvalidMaxTurns = errors.New("max turns must be positive")

const summaryUnavailable = "summary unavailable"

// WorktreeManager is the subset of worktree.Manager the orchestrator uses.
type WorktreeManager interface {
	Create(ctx context.Context, taskHint, sessionID string) (*worktree.Worktree, error)
	Remove(ctx context.Context, wt *worktree.Worktree, force bool) error
}

// LockController is the subset of locks.Controller the orchestrator uses.
type LockController interface {
	Acquire(name string) error
	Release(name string) error
}

// SessionStore persists sessions and their turn log.
type SessionStore interface {
	CreateSession(ctx context.Context, s *models.Session) error
	UpdateSession(ctx context.Context, s *models.Session) error
	AppendTurn(ctx context.Context, t *models.TurnRecord) error
}

// Logger receives progress and warning output.
type Logger interface {
	Info(format string, args ...interface{})
	Warning(format string, args ...interface{})
}

type nopLogger struct{}

func (nopLogger) Info(format string, args ...interface{})    {}
func (nopLogger) Warning(format string, args ...interface{}) {}

// Options configures one session run.
type Options struct {
	MaxTurns          int
	UseWorktree       bool
	CompletionPhrases []string

	// LogDir, when set, is the root under which a per-session directory with
	// prompt.md and auto.log is written.
	LogDir string
}

// Orchestrator owns the session lifecycle. One instance per session process;
// turns are strictly sequential.
type Orchestrator struct {
	runner    agent.Runner
	worktrees WorktreeManager
	locks     LockController
	store     SessionStore
	recorder  *metrics.Recorder
	logger    Logger
	now       func() time.Time
}

// New wires an Orchestrator. worktrees may be nil when isolation is never
// requested; store and recorder may be nil for best-effort persistence.
func New(runner agent.Runner, wm WorktreeManager, lc LockController, store SessionStore, rec *metrics.Recorder, logger Logger) *Orchestrator {
	if logger == nil {
		logger = nopLogger{}
	}
	return &Orchestrator{
		runner:    runner,
		worktrees: wm,
		locks:     lc,
		store:     store,
		recorder:  rec,
		logger:    logger,
		now:       time.Now,
	}
}

// DetectCompletion reports whether the output contains any completion phrase,
// matched by case-insensitive containment. Returns the phrase that matched.
func DetectCompletion(output string, phrases []string) (bool, string) {
	lower := strings.ToLower(output)
	for _, phrase := range phrases {
		p := strings.ToLower(strings.TrimSpace(phrase))
		if p == "" {
			continue
		}
		if strings.Contains(lower, p) {
			return true, p
		}
	}
	return false, ""
}

func phaseForTurn(turn int) models.TurnPhase {
	switch turn {
	case 1:
		return models.PhaseClarify
	case 2:
		return models.PhasePlan
	default:
		return models.PhaseExecuteEvaluate
	}
}

// Run executes one session to a terminal state. The returned session is
// always non-nil once validation passes; the error reflects setup failures
// or the FAILED terminal cause.
func (o *Orchestrator) Run(ctx context.Context, objective string, opts Options) (*models.Session, error) {
	if strings.TrimSpace(objective) == "" {
		return nil, ErrInvalidObjective
	}
	if opts.MaxTurns <= 0 {
		return nil, ErrInvalidMaxTurns
	}
	phrases := opts.CompletionPhrases
	if len(phrases) == 0 {
		phrases = DefaultCompletionPhrases
	}

	session := &models.Session{
		ID:        ulid.Make().String(),
		Objective: objective,
		MaxTurns:  opts.MaxTurns,
		State:     models.SessionStateClarifying,
		StartedAt: o.now().UTC(),
	}
	o.persistCreate(ctx, session)

	var slog *SessionLog
	if opts.LogDir != "" {
		sl, err := NewSessionLog(opts.LogDir, session.ID, objective)
		if err != nil {
			o.logger.Warning("session log: %v", err)
		} else {
			slog = sl
		}
	}
	slog.Append("session %s started: max_turns=%d", session.ID, session.MaxTurns)

	var wt *worktree.Worktree
	if opts.UseWorktree {
		if o.worktrees == nil {
			return o.fail(ctx, session, errors.New("worktree isolation requested but no manager configured"))
		}
		created, err := o.worktrees.Create(ctx, objective, session.ID)
		if err != nil {
			o.recordMetric(func(r *metrics.Recorder) { r.WorktreeCreate(session.ID, "error") })
			// No partial execution in the caller's working directory.
			return o.fail(ctx, session, fmt.Errorf("create worktree: %w", err))
		}
		wt = created
		session.WorktreePath = wt.Path
		session.Branch = wt.Branch
		o.recordMetric(func(r *metrics.Recorder) { r.WorktreeCreate(session.ID, "ok") })
		o.logger.Info("worktree %s on branch %s", wt.Path, wt.Branch)
		slog.Append("worktree created: %s (branch %s)", wt.Path, wt.Branch)
	}

	lockName := locks.ContinuousWork(session.ID)
	if err := o.locks.Acquire(lockName); err != nil {
		return o.failWithCleanup(ctx, session, wt, fmt.Errorf("acquire continuous-work lock: %w", err))
	}

	// Cleanup is unconditional: lock release and worktree teardown happen on
	// normal completion, failure, and context cancellation alike.
	defer o.cleanup(session, wt, lockName)

	var lastOutput string
	var lastErr string

	for turn := 1; turn <= session.MaxTurns; turn++ {
		if err := ctx.Err(); err != nil {
			slog.Append("session cancelled: %v", err)
			o.finish(ctx, session, models.SessionStateFailed, lastOutput)
			return session, err
		}

		phase := phaseForTurn(turn)
		session.CurrentTurn = turn
		session.State = stateForPhase(phase)
		o.persistUpdate(ctx, session)
		o.logger.Info("turn %d/%d (%s)", turn, session.MaxTurns, phase)
		slog.Append("turn %d/%d (%s)", turn, session.MaxTurns, phase)

		output, err := o.runner.ExecuteTurn(ctx, agent.TurnRequest{
			SessionID:   session.ID,
			Objective:   objective,
			Kind:        agent.KindForPhase(phase),
			TurnNumber:  turn,
			MaxTurns:    session.MaxTurns,
			Workdir:     session.WorktreePath,
			PriorOutput: lastOutput,
		})

		record := &models.TurnRecord{
			SessionID:  session.ID,
			TurnNumber: turn,
			Phase:      phase,
			RawOutput:  output,
			CreatedAt:  o.now().UTC(),
		}

		if err != nil {
			record.Error = err.Error()
			o.appendTurn(ctx, record)
			o.logger.Warning("turn %d failed: %v", turn, err)
			slog.Append("turn %d failed: %v", turn, err)

			// The same failure twice in a row means the loop is spinning.
			if lastErr != "" && lastErr == err.Error() {
				slog.Append("session failed: turn error repeated")
				o.finish(ctx, session, models.SessionStateFailed, lastOutput)
				return session, fmt.Errorf("turn error repeated: %s", lastErr)
			}
			lastErr = err.Error()
			continue
		}
		lastErr = ""
		lastOutput = output

		if phase == models.PhaseExecuteEvaluate {
			session.State = models.SessionStateEvaluating
			o.persistUpdate(ctx, session)
			done, matched := DetectCompletion(output, phrases)
			record.DetectedCompletion = done
			record.MatchedPhrase = matched
			o.appendTurn(ctx, record)
			if done {
				o.logger.Info("completion detected: %q", matched)
				slog.Append("completion detected on turn %d: %q", turn, matched)
				o.finish(ctx, session, models.SessionStateComplete, lastOutput)
				return session, nil
			}
			continue
		}
		o.appendTurn(ctx, record)
	}

	// Budget exhausted without a completion signal. Partial progress is
	// still summarized; this is not a failure.
	slog.Append("turn budget exhausted after %d turns", session.MaxTurns)
	o.finish(ctx, session, models.SessionStateMaxTurns, lastOutput)
	return session, nil
}

func stateForPhase(phase models.TurnPhase) models.SessionState {
	switch phase {
	case models.PhaseClarify:
		return models.SessionStateClarifying
	case models.PhasePlan:
		return models.SessionStatePlanning
	default:
		return models.SessionStateExecuting
	}
}

// finish runs the summarize phase exactly once and pins the terminal state.
// A summary failure annotates the session but never reverts the terminal
// state.
func (o *Orchestrator) finish(ctx context.Context, session *models.Session, terminal models.SessionState, lastOutput string) {
	session.State = models.SessionStateSummarizing
	o.persistUpdate(ctx, session)

	summary, err := o.runner.ExecuteTurn(ctx, agent.TurnRequest{
		SessionID:   session.ID,
		Objective:   session.Objective,
		Kind:        agent.KindSummarize,
		TurnNumber:  session.CurrentTurn,
		MaxTurns:    session.MaxTurns,
		Workdir:     session.WorktreePath,
		PriorOutput: lastOutput,
	})
	if err != nil {
		o.logger.Warning("summary failed: %v", err)
		summary = summaryUnavailable
	}

	session.Summary = summary
	session.State = terminal
	o.persistUpdate(ctx, session)
}

// fail marks a setup failure before any turn executed.
func (o *Orchestrator) fail(ctx context.Context, session *models.Session, err error) (*models.Session, error) {
	session.State = models.SessionStateFailed
	session.Summary = err.Error()
	ended := o.now().UTC()
	session.EndedAt = &ended
	o.persistUpdate(ctx, session)
	return session, err
}

// failWithCleanup handles setup failures after the worktree exists.
func (o *Orchestrator) failWithCleanup(ctx context.Context, session *models.Session, wt *worktree.Worktree, err error) (*models.Session, error) {
	if wt != nil {
		if rmErr := o.worktrees.Remove(context.WithoutCancel(ctx), wt, true); rmErr != nil {
			o.logger.Warning("worktree cleanup failed: %v", rmErr)
		}
	}
	return o.fail(ctx, session, err)
}

// cleanup releases the lock and tears down the worktree. It uses a fresh
// context so cancellation of the session context cannot skip teardown.
func (o *Orchestrator) cleanup(session *models.Session, wt *worktree.Worktree, lockName string) {
	if err := o.locks.Release(lockName); err != nil {
		o.logger.Warning("release continuous-work lock: %v", err)
	}

	if wt != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := o.worktrees.Remove(ctx, wt, true); err != nil {
			o.logger.Warning("worktree cleanup failed: %v", err)
			o.recordMetric(func(r *metrics.Recorder) { r.WorktreeCleanup(session.ID, "error", 0) })
		} else {
			o.recordMetric(func(r *metrics.Recorder) { r.WorktreeCleanup(session.ID, "ok", 1) })
		}
	}

	ended := o.now().UTC()
	session.EndedAt = &ended
	o.persistUpdate(context.Background(), session)
}

func (o *Orchestrator) persistCreate(ctx context.Context, s *models.Session) {
	if o.store == nil {
		return
	}
	if err := o.store.CreateSession(ctx, s); err != nil {
		o.logger.Warning("persist session: %v", err)
	}
}

func (o *Orchestrator) persistUpdate(ctx context.Context, s *models.Session) {
	if o.store == nil {
		return
	}
	if err := o.store.UpdateSession(ctx, s); err != nil {
		o.logger.Warning("persist session update: %v", err)
	}
}

func (o *Orchestrator) appendTurn(ctx context.Context, t *models.TurnRecord) {
	if o.store == nil {
		return
	}
	if err := o.store.AppendTurn(ctx, t); err != nil {
		o.logger.Warning("persist turn record: %v", err)
	}
}

func (o *Orchestrator) recordMetric(f func(*metrics.Recorder)) {
	if o.recorder != nil {
		f(o.recorder)
	}
}
