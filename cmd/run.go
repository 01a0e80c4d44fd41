package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/autoloop/internal/agent"
	"github.com/joescharf/autoloop/internal/git"
	"github.com/joescharf/autoloop/internal/models"
	"github.com/joescharf/autoloop/internal/orchestrator"
	"github.com/joescharf/autoloop/internal/output"
	"github.com/joescharf/autoloop/internal/worktree"
)

var (
	runAuto        bool
	runMaxTurns    int
	runUseWorktree bool
	runNoWorktree  bool
	runRepoPath    string
)

var runCmd = &cobra.Command{
	Use:   "run <objective>",
	Short: "Run an auto-mode session pursuing an objective",
	Long: `Run a bounded multi-turn session: the agent clarifies the objective,
plans, then executes and evaluates until it signals completion or the
turn budget runs out. A summary is produced regardless of outcome.

By default the session runs in an isolated git worktree under
./worktrees/ so concurrent sessions never touch the same checkout.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSessionRun(cmd, strings.Join(args, " "))
	},
}

func init() {
	runCmd.Flags().BoolVar(&runAuto, "auto", true, "Run autonomously without interactive confirmation")
	runCmd.Flags().IntVar(&runMaxTurns, "max-turns", 0, "Turn budget (default from config: auto.max_turns)")
	runCmd.Flags().BoolVar(&runUseWorktree, "use-worktree", true, "Run in an isolated git worktree")
	runCmd.Flags().BoolVar(&runNoWorktree, "no-worktree", false, "Run in the current checkout instead of an isolated worktree")
	runCmd.Flags().StringVar(&runRepoPath, "repo", ".", "Repository to run against")
	rootCmd.AddCommand(runCmd)
}

// worktreeEnabled resolves the --use-worktree/--no-worktree pair; the
// explicit opt-out wins.
func worktreeEnabled() bool {
	return runUseWorktree && !runNoWorktree
}

func runSessionRun(cmd *cobra.Command, objective string) error {
	maxTurns := runMaxTurns
	if maxTurns <= 0 {
		maxTurns = viper.GetInt("auto.max_turns")
	}

	if dryRun {
		ui.DryRunMsg("Would run session: objective=%q max_turns=%d worktree=%v", objective, maxTurns, worktreeEnabled())
		return nil
	}

	if !runAuto && !confirmStart(cmd.InOrStdin(), objective) {
		ui.Info("Aborted.")
		return nil
	}

	runner, err := buildRunner()
	if err != nil {
		return err
	}

	s, err := getStore()
	if err != nil {
		return err
	}

	wm := worktree.NewManager(git.NewClient(), runRepoPath)
	if root := viper.GetString("worktree.root"); root != "" {
		wm = worktree.NewManagerAt(git.NewClient(), runRepoPath, root)
	}
	wm.SetPrefix(viper.GetString("worktree.prefix"))

	orch := orchestrator.New(runner, wm, getLocks(), s, getRecorder(), ui)

	// Interruption triggers the same cleanup path as normal completion.
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ui.Info("Starting session: %s", objective)
	session, err := orch.Run(ctx, objective, orchestrator.Options{
		MaxTurns:          maxTurns,
		UseWorktree:       worktreeEnabled(),
		CompletionPhrases: viper.GetStringSlice("auto.completion_phrases"),
		LogDir:            filepath.Join(viper.GetString("state_dir"), "sessions"),
	})
	if err != nil && session == nil {
		return err
	}

	printSessionResult(session, err)
	if session.State == models.SessionStateFailed {
		return fmt.Errorf("session %s failed", session.ID)
	}
	return nil
}

// confirmStart asks before launching a session when --auto=false. Anything
// other than an explicit yes declines.
func confirmStart(in io.Reader, objective string) bool {
	fmt.Fprintf(ui.Out, "Run session pursuing %q? [y/N] ", objective)

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}

// buildRunner selects the turn execution backend from config.
func buildRunner() (agent.Runner, error) {
	switch mode := viper.GetString("agent.mode"); mode {
	case "api":
		r := agent.NewAPIRunner(viper.GetString("anthropic.api_key"), viper.GetString("anthropic.model"))
		return agent.NewRetrier(r), nil
	case "cli":
		r, err := agent.NewCLIRunner(viper.GetString("agent.command"))
		if err != nil {
			return nil, err
		}
		return agent.NewRetrier(r), nil
	default:
		return nil, fmt.Errorf("unknown agent.mode %q (want api or cli)", mode)
	}
}

func printSessionResult(session *models.Session, err error) {
	fmt.Fprintln(ui.Out)
	switch session.State {
	case models.SessionStateComplete:
		ui.Success("Session %s complete after %d turns", session.ID, session.CurrentTurn)
	case models.SessionStateMaxTurns:
		ui.Warning("Session %s hit the turn budget (%d); partial progress summarized", session.ID, session.MaxTurns)
	default:
		ui.Error("Session %s failed: %v", session.ID, err)
	}
	if session.Branch != "" {
		ui.Info("Branch: %s", output.Cyan(session.Branch))
	}
	if session.Summary != "" {
		fmt.Fprintln(ui.Out)
		fmt.Fprintln(ui.Out, session.Summary)
	}
}
