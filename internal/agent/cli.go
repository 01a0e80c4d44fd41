package agent

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// CLIRunner executes turns by invoking the host runtime's CLI as a
// subprocess, passing the prompt as the final argument. The subprocess runs
// in the session's working directory so file edits land in the worktree.
type CLIRunner struct {
	command []string
}

// NewCLIRunner parses a command template like "claude -p". The prompt is
// appended as the last argument at execution time.
func NewCLIRunner(command string) (*CLIRunner, error) {
	parts := strings.Fields(command)
	if len(parts) == 0 {
		return nil, fmt.Errorf("agent command is empty")
	}
	return &CLIRunner{command: parts}, nil
}

// ExecuteTurn runs the configured command and returns its stdout.
func (r *CLIRunner) ExecuteTurn(ctx context.Context, req TurnRequest) (string, error) {
	args := append(append([]string{}, r.command[1:]...), buildPrompt(req))
	cmd := exec.CommandContext(ctx, r.command[0], args...)
	if req.Workdir != "" {
		cmd.Dir = req.Workdir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if stderr.Len() > 0 {
			return "", fmt.Errorf("agent command failed: %w: %s", err, strings.TrimSpace(stderr.String()))
		}
		return "", fmt.Errorf("agent command failed: %w", err)
	}
	return stdout.String(), nil
}
