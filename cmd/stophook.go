package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/autoloop/internal/hook"
)

var stopHookCmd = &cobra.Command{
	Use:   "stop-hook",
	Short: "Decide whether the host runtime may end its turn",
	Long: `Read a stop-hook payload from stdin and print the decision to stdout:

  {"decision":"block","reason":"..."}   while the session's continuous-work
                                        lock is held
  {"decision":"approve"}                otherwise

The exit code is always 0: any infrastructure failure resolves to approve
so the hook can never wedge a host session. Wire it as the host runtime's
stop hook:

  {"hooks": {"Stop": [{"command": "autoloop stop-hook"}]}}`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopHookRun(cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(stopHookCmd)
}

func stopHookRun(in io.Reader, out io.Writer) error {
	var payload hook.Payload
	data, err := io.ReadAll(in)
	if err == nil && len(data) > 0 {
		// An unparseable payload is an infrastructure failure: approve.
		if jsonErr := json.Unmarshal(data, &payload); jsonErr != nil {
			ui.Warning("stop hook: bad payload, approving: %v", jsonErr)
			return writeDecision(out, hook.Approve())
		}
	}

	interceptor := hook.New(getLocks(), turnCounter(), hook.ReflectionConfig{
		Enabled:  viper.GetBool("reflection.enabled") && reflectionTriggerEnabled("session_end"),
		MinTurns: viper.GetInt("reflection.min_turns"),
	}, ui)

	decision, reflected := interceptor.Decide(payload)

	rec := getRecorder()
	if decision.Decision == "block" {
		rec.LockBlock(payload.SessionID)
	} else if reflected {
		rec.ReflectionTrigger(payload.SessionID)
	}

	return writeDecision(out, decision)
}

func writeDecision(out io.Writer, d hook.Decision) error {
	data, err := json.Marshal(d)
	if err != nil {
		// Last resort: hand-rolled approve keeps the host unblocked.
		fmt.Fprintln(out, `{"decision":"approve"}`)
		return nil
	}
	fmt.Fprintln(out, string(data))
	return nil
}

// turnCounter adapts the store to the interceptor's turn-count gate. A store
// failure returns nil so the hook stays database-free on the fail-safe path.
func turnCounter() hook.TurnCounter {
	s, err := getStore()
	if err != nil {
		ui.Warning("stop hook: store unavailable, skipping turn gate: %v", err)
		return nil
	}
	return storeTurnCounter{s: s}
}

type storeTurnCounter struct {
	s interface {
		TurnCount(ctx context.Context, sessionID string) (int, error)
	}
}

func (c storeTurnCounter) TurnCount(sessionID string) (int, error) {
	return c.s.TurnCount(context.Background(), sessionID)
}
