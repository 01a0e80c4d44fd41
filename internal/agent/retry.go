package agent

import (
	"context"
	"strings"
	"time"
)

const defaultRetryAttempts = 3

// retryableSignatures marks transient host-runtime failures worth retrying.
var retryableSignatures = []string{
	"overloaded",
	"rate limit",
	"rate_limit",
	"429",
	"500",
	"503",
	"timeout",
	"connection refused",
	"connection reset",
}

// IsRetryable reports whether the error looks transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, sig := range retryableSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}

// Retrier wraps a Runner with bounded exponential backoff on transient
// errors. Non-transient errors surface immediately.
type Retrier struct {
	Runner      Runner
	MaxAttempts int

	backoff func(attempt int) time.Duration
}

// NewRetrier wraps the runner with the default attempt budget.
func NewRetrier(r Runner) *Retrier {
	return &Retrier{
		Runner:      r,
		MaxAttempts: defaultRetryAttempts,
		backoff: func(attempt int) time.Duration {
			return time.Second << attempt
		},
	}
}

// ExecuteTurn delegates to the wrapped runner, retrying transient failures.
func (r *Retrier) ExecuteTurn(ctx context.Context, req TurnRequest) (string, error) {
	var lastErr error
	for attempt := 0; attempt < r.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(r.backoff(attempt - 1)):
			}
		}

		out, err := r.Runner.ExecuteTurn(ctx, req)
		if err == nil {
			return out, nil
		}
		if !IsRetryable(err) {
			return "", err
		}
		lastErr = err
	}
	return "", lastErr
}
