// Package hook implements the stop-interception decision invoked by the host
// runtime before it ends a turn. The decision is synchronous and must stay
// O(1) filesystem checks: the host imposes its own timeout.
package hook

import (
	"time"

	"github.com/joescharf/autoloop/internal/locks"
)

// BlockReason is the fixed instruction returned with every BLOCK decision.
// It is content-independent: the interceptor never inspects the turn itself.
const BlockReason = "Continuous work mode is active. Continue working on the " +
	"outstanding objective; do not stop until it is complete or the turn " +
	"budget is exhausted."

// Decision is the JSON payload handed back to the host runtime.
type Decision struct {
	Decision string `json:"decision"`
	Reason   string `json:"reason,omitempty"`
}

// Block returns a BLOCK decision with the fixed reason.
func Block() Decision {
	return Decision{Decision: "block", Reason: BlockReason}
}

// Approve returns an APPROVE decision.
func Approve() Decision {
	return Decision{Decision: "approve"}
}

// Payload is the hook input the host runtime writes to stdin.
type Payload struct {
	SessionID      string `json:"session_id"`
	TranscriptPath string `json:"transcript_path,omitempty"`
	StopHookActive bool   `json:"stop_hook_active,omitempty"`
}

// ReflectionConfig gates whether an approved stop may request analysis.
type ReflectionConfig struct {
	Enabled  bool
	MinTurns int
}

// LockState is the subset of the lock controller the interceptor needs.
type LockState interface {
	IsHeld(name string) (bool, error)
	MarkReflectionPending(p locks.PendingReflection) error
}

// TurnCounter reports how many turns a session has executed so far.
type TurnCounter interface {
	TurnCount(sessionID string) (int, error)
}

// Logger receives warnings from fail-safe paths.
type Logger interface {
	Warning(format string, args ...interface{})
}

type nopLogger struct{}

func (nopLogger) Warning(format string, args ...interface{}) {}

// Interceptor decides whether the host runtime may end its turn.
type Interceptor struct {
	locks  LockState
	turns  TurnCounter
	cfg    ReflectionConfig
	logger Logger
	now    func() time.Time
}

// New returns an Interceptor. turns may be nil, in which case the minimum
// turn count gate is treated as satisfied.
func New(ls LockState, turns TurnCounter, cfg ReflectionConfig, logger Logger) *Interceptor {
	if logger == nil {
		logger = nopLogger{}
	}
	return &Interceptor{
		locks:  ls,
		turns:  turns,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Decide returns BLOCK while the session's continuous-work lock is held, and
// APPROVE otherwise. Any infrastructure error resolves to APPROVE: the system
// must never wedge a host session because its own state checks failed. The
// second return reports whether an APPROVE also requested reflection.
func (i *Interceptor) Decide(p Payload) (Decision, bool) {
	held, err := i.locks.IsHeld(locks.ContinuousWork(p.SessionID))
	if err != nil {
		i.logger.Warning("stop hook: lock check failed, approving: %v", err)
		return Approve(), false
	}
	if held {
		return Block(), false
	}

	return Approve(), i.maybeRequestReflection(p)
}

// maybeRequestReflection marks the session for analysis when eligible. The
// marker is distinct from the reflection mutual-exclusion lock and is
// consumed asynchronously by the analyzer. Every failure here is absorbed:
// reflection is best-effort and never changes the decision.
func (i *Interceptor) maybeRequestReflection(p Payload) bool {
	if !i.cfg.Enabled {
		return false
	}

	if i.turns != nil && i.cfg.MinTurns > 0 {
		n, err := i.turns.TurnCount(p.SessionID)
		if err != nil {
			i.logger.Warning("stop hook: turn count failed, skipping reflection: %v", err)
			return false
		}
		if n < i.cfg.MinTurns {
			return false
		}
	}

	held, err := i.locks.IsHeld(locks.ReflectionLock)
	if err != nil {
		i.logger.Warning("stop hook: reflection lock check failed, skipping: %v", err)
		return false
	}
	if held {
		return false
	}

	if err := i.locks.MarkReflectionPending(locks.PendingReflection{
		SessionID:      p.SessionID,
		TranscriptPath: p.TranscriptPath,
		RequestedAt:    i.now().UTC(),
	}); err != nil {
		i.logger.Warning("stop hook: mark reflection pending failed: %v", err)
		return false
	}
	return true
}
