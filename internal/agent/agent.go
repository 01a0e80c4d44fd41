// Package agent executes single turns against the host AI runtime, either
// through the Anthropic API or by shelling out to a host CLI.
package agent

import (
	"context"

	"github.com/joescharf/autoloop/internal/models"
)

// PromptKind selects which prompt builder shapes the turn.
type PromptKind string

const (
	KindClarify   PromptKind = "clarify"
	KindPlan      PromptKind = "plan"
	KindExecute   PromptKind = "execute"
	KindSummarize PromptKind = "summarize"
)

// KindForPhase maps a turn phase to its prompt kind.
func KindForPhase(phase models.TurnPhase) PromptKind {
	switch phase {
	case models.PhaseClarify:
		return KindClarify
	case models.PhasePlan:
		return KindPlan
	default:
		return KindExecute
	}
}

// TurnRequest carries the context one turn needs.
type TurnRequest struct {
	SessionID   string
	Objective   string
	Kind        PromptKind
	TurnNumber  int
	MaxTurns    int
	Workdir     string
	PriorOutput string
}

// Runner executes one turn and returns the raw textual output.
type Runner interface {
	ExecuteTurn(ctx context.Context, req TurnRequest) (string, error)
}
