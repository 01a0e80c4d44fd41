package models

import "time"

// SessionState represents where a session is in its lifecycle.
type SessionState string

const (
	SessionStateClarifying  SessionState = "clarifying"
	SessionStatePlanning    SessionState = "planning"
	SessionStateExecuting   SessionState = "executing"
	SessionStateEvaluating  SessionState = "evaluating"
	SessionStateSummarizing SessionState = "summarizing"
	SessionStateComplete    SessionState = "complete"
	SessionStateMaxTurns    SessionState = "max_turns_reached"
	SessionStateFailed      SessionState = "failed"
)

// Terminal reports whether the state is one of the three terminal states.
func (s SessionState) Terminal() bool {
	return s == SessionStateComplete || s == SessionStateMaxTurns || s == SessionStateFailed
}

// Session represents one auto-mode run pursuing a single objective.
type Session struct {
	ID           string
	Objective    string
	MaxTurns     int
	CurrentTurn  int
	State        SessionState
	Summary      string
	WorktreePath string
	Branch       string
	StartedAt    time.Time
	EndedAt      *time.Time
}

// TurnPhase identifies which part of the loop produced a turn.
type TurnPhase string

const (
	PhaseClarify         TurnPhase = "clarify"
	PhasePlan            TurnPhase = "plan"
	PhaseExecuteEvaluate TurnPhase = "execute-evaluate"
)

// TurnRecord is one entry in a session's turn log. Records are appended in
// execution order and never mutated after append.
type TurnRecord struct {
	ID                 int64
	SessionID          string
	TurnNumber         int
	Phase              TurnPhase
	RawOutput          string
	DetectedCompletion bool
	MatchedPhrase      string
	Error              string
	CreatedAt          time.Time
}
