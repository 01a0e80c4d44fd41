package agent

import (
	"fmt"
	"strings"
)

const systemPrompt = `You are an autonomous coding agent working through a multi-turn session toward a single objective. Work incrementally, verify your changes, and report honestly on progress. Never invent results you did not produce.`

// buildPrompt constructs the user prompt for a turn.
func buildPrompt(req TurnRequest) string {
	var sb strings.Builder

	switch req.Kind {
	case KindClarify:
		sb.WriteString("Objective:\n")
		sb.WriteString(req.Objective)
		sb.WriteString("\n\nRestate the objective in your own words. List any ambiguities and the assumption you will proceed with for each. Do not start implementing yet.")

	case KindPlan:
		sb.WriteString("Objective:\n")
		sb.WriteString(req.Objective)
		if req.PriorOutput != "" {
			sb.WriteString("\n\nClarification from the previous turn:\n")
			sb.WriteString(req.PriorOutput)
		}
		sb.WriteString("\n\nProduce a numbered implementation plan with concrete, verifiable steps. Keep it short enough to finish within ")
		fmt.Fprintf(&sb, "%d remaining turns.", req.MaxTurns-req.TurnNumber)

	case KindSummarize:
		sb.WriteString("The session pursuing this objective has ended:\n")
		sb.WriteString(req.Objective)
		if req.PriorOutput != "" {
			sb.WriteString("\n\nFinal turn output:\n")
			sb.WriteString(req.PriorOutput)
		}
		sb.WriteString("\n\nSummarize what was accomplished, what remains, and anything the next session should know.")

	default: // KindExecute
		fmt.Fprintf(&sb, "Turn %d of %d.\n\nObjective:\n%s", req.TurnNumber, req.MaxTurns, req.Objective)
		if req.PriorOutput != "" {
			sb.WriteString("\n\nPrevious turn output:\n")
			sb.WriteString(req.PriorOutput)
		}
		sb.WriteString("\n\nContinue executing the plan. Verify each change before moving on. End your reply with exactly one of:\nEVALUATION: COMPLETE\nEVALUATION: IN PROGRESS\nEVALUATION: NEEDS ADJUSTMENT")
	}

	return sb.String()
}
