package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/autoloop/internal/models"
)

func TestBuildPrompt_PerKind(t *testing.T) {
	base := TurnRequest{
		Objective:  "implement the widget cache",
		TurnNumber: 3,
		MaxTurns:   10,
	}

	clarify := base
	clarify.Kind = KindClarify
	assert.Contains(t, buildPrompt(clarify), "Restate the objective")
	assert.Contains(t, buildPrompt(clarify), "implement the widget cache")

	plan := base
	plan.Kind = KindPlan
	plan.PriorOutput = "assumed in-memory cache"
	out := buildPrompt(plan)
	assert.Contains(t, out, "numbered implementation plan")
	assert.Contains(t, out, "assumed in-memory cache")

	execute := base
	execute.Kind = KindExecute
	out = buildPrompt(execute)
	assert.Contains(t, out, "Turn 3 of 10")
	assert.Contains(t, out, "EVALUATION: COMPLETE")

	summarize := base
	summarize.Kind = KindSummarize
	assert.Contains(t, buildPrompt(summarize), "Summarize what was accomplished")
}

func TestKindForPhase(t *testing.T) {
	assert.Equal(t, KindClarify, KindForPhase(models.PhaseClarify))
	assert.Equal(t, KindPlan, KindForPhase(models.PhasePlan))
	assert.Equal(t, KindExecute, KindForPhase(models.PhaseExecuteEvaluate))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(errors.New("API error 429: rate limit exceeded")))
	assert.True(t, IsRetryable(errors.New("Overloaded")))
	assert.True(t, IsRetryable(errors.New("dial tcp: connection refused")))
	assert.False(t, IsRetryable(errors.New("invalid API key")))
	assert.False(t, IsRetryable(nil))
}

type scriptedRunner struct {
	errs  []error
	out   string
	calls int
}

func (s *scriptedRunner) ExecuteTurn(ctx context.Context, req TurnRequest) (string, error) {
	s.calls++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return "", err
		}
	}
	return s.out, nil
}

func TestRetrier_RetriesTransientThenSucceeds(t *testing.T) {
	runner := &scriptedRunner{
		errs: []error{errors.New("503 service unavailable"), nil},
		out:  "done",
	}
	r := NewRetrier(runner)
	r.backoff = func(int) time.Duration { return 0 }

	out, err := r.ExecuteTurn(context.Background(), TurnRequest{})
	require.NoError(t, err)
	assert.Equal(t, "done", out)
	assert.Equal(t, 2, runner.calls)
}

func TestRetrier_NonRetryableSurfacesImmediately(t *testing.T) {
	runner := &scriptedRunner{errs: []error{errors.New("invalid API key")}}
	r := NewRetrier(runner)
	r.backoff = func(int) time.Duration { return 0 }

	_, err := r.ExecuteTurn(context.Background(), TurnRequest{})
	require.Error(t, err)
	assert.Equal(t, 1, runner.calls)
}

func TestRetrier_ExhaustionReturnsLastError(t *testing.T) {
	runner := &scriptedRunner{
		errs: []error{
			errors.New("timeout"),
			errors.New("timeout"),
			errors.New("timeout"),
		},
	}
	r := NewRetrier(runner)
	r.backoff = func(int) time.Duration { return 0 }

	_, err := r.ExecuteTurn(context.Background(), TurnRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")
	assert.Equal(t, 3, runner.calls)
}

func TestCLIRunner_CapturesStdout(t *testing.T) {
	r, err := NewCLIRunner("echo -n")
	require.NoError(t, err)

	out, err := r.ExecuteTurn(context.Background(), TurnRequest{
		Objective: "obj",
		Kind:      KindClarify,
	})
	require.NoError(t, err)
	assert.Contains(t, out, "obj")
}

func TestCLIRunner_EmptyCommand(t *testing.T) {
	_, err := NewCLIRunner("   ")
	assert.Error(t, err)
}
