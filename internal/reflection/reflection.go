// Package reflection analyzes a completed session's transcript for patterns
// worth surfacing: repeated tool churn, recurring errors, marathon sessions.
// Analysis is best-effort and never affects session outcome.
package reflection

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/joescharf/autoloop/internal/models"
)

// ErrAnalysisInProgress is returned when another analyzer holds the
// reflection lock.
var ErrAnalysisInProgress = errors.New("reflection analysis already in progress")

const (
	repeatedToolThreshold = 3
	errorPatternThreshold = 3
	longSessionThreshold  = 100
	repeatedReadThreshold = 5
)

// frustrationKeywords is the fixed set scanned case-insensitively. One
// finding per distinct keyword, not per occurrence.
var frustrationKeywords = []string{"doesn't work", "still failing", "stuck"}

// suggestionFor holds the deterministic suggestion template per pattern kind.
// Identical transcripts always produce identical suggestions.
func suggestionFor(kind models.PatternKind, identifier string, count int) string {
	switch kind {
	case models.PatternRepeatedToolUse:
		return fmt.Sprintf("Tool %q was invoked %d times; consider batching calls or caching intermediate results.", identifier, count)
	case models.PatternErrorPattern:
		return fmt.Sprintf("The error signature %q recurred %d times; fix the underlying cause before retrying.", identifier, count)
	case models.PatternLongSession:
		return fmt.Sprintf("Session reached %d messages; break the objective into smaller sessions.", count)
	case models.PatternFrustrationIndicator:
		return fmt.Sprintf("Transcript contains %q; the approach may need rethinking rather than another retry.", identifier)
	case models.PatternRepeatedRead:
		return fmt.Sprintf("File %q was read %d times; keep its contents in working context instead of re-reading.", identifier, count)
	default:
		return ""
	}
}

// isReadTool reports whether a tool invocation counts as a file read.
func isReadTool(name string) bool {
	switch strings.ToLower(name) {
	case "read", "read_file", "view":
		return true
	}
	return false
}

// Metrics computes the transcript summary stored alongside findings.
func Metrics(messages []models.Message) models.SessionMetrics {
	m := models.SessionMetrics{MessageCount: len(messages)}
	for _, msg := range messages {
		for _, tu := range msg.ToolUses {
			m.ToolUseCount++
			if tu.IsError {
				m.ErrorCount++
			}
		}
	}
	return m
}

// Analyze runs every detection rule over the transcript in a single pass and
// returns the findings in a stable order. It is pure: no locks, no IO.
func Analyze(sessionID string, messages []models.Message) []models.ReflectionFinding {
	toolCounts := make(map[string]int)
	errorCounts := make(map[string]int)
	readCounts := make(map[string]int)
	keywordSeen := make(map[string]bool)

	for _, msg := range messages {
		lower := strings.ToLower(msg.Content)
		for _, kw := range frustrationKeywords {
			if strings.Contains(lower, kw) {
				keywordSeen[kw] = true
			}
		}
		for _, tu := range msg.ToolUses {
			toolCounts[tu.Name]++
			if tu.IsError {
				errorCounts[errorSignature(tu)]++
			}
			if isReadTool(tu.Name) && tu.Target != "" {
				readCounts[tu.Target]++
			}
		}
	}

	var findings []models.ReflectionFinding
	add := func(kind models.PatternKind, identifier string, count int) {
		findings = append(findings, models.ReflectionFinding{
			SessionID:   sessionID,
			PatternKind: kind,
			Identifier:  identifier,
			Count:       count,
			Suggestion:  suggestionFor(kind, identifier, count),
		})
	}

	for _, name := range sortedKeys(toolCounts) {
		if toolCounts[name] >= repeatedToolThreshold {
			add(models.PatternRepeatedToolUse, name, toolCounts[name])
		}
	}
	for _, sig := range sortedKeys(errorCounts) {
		if errorCounts[sig] >= errorPatternThreshold {
			add(models.PatternErrorPattern, sig, errorCounts[sig])
		}
	}
	if len(messages) >= longSessionThreshold {
		add(models.PatternLongSession, "", len(messages))
	}
	for _, kw := range frustrationKeywords {
		if keywordSeen[kw] {
			add(models.PatternFrustrationIndicator, kw, 1)
		}
	}
	for _, target := range sortedKeys(readCounts) {
		if readCounts[target] >= repeatedReadThreshold {
			add(models.PatternRepeatedRead, target, readCounts[target])
		}
	}
	return findings
}

// errorSignature identifies a recurring failure. Tool name plus target keeps
// distinct failures distinct without parsing free-form error text.
func errorSignature(tu models.ToolUse) string {
	if tu.Target == "" {
		return tu.Name
	}
	return tu.Name + ": " + tu.Target
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
