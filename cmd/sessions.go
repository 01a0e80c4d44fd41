package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/joescharf/autoloop/internal/models"
	"github.com/joescharf/autoloop/internal/output"
)

var sessionsLimit int

var sessionsCmd = &cobra.Command{
	Use:     "sessions",
	Aliases: []string{"session"},
	Short:   "Inspect auto-mode sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return sessionsListRun()
	},
}

var sessionsListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List sessions, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return sessionsListRun()
	},
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show one session with its turn log and findings",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sessionsShowRun(args[0])
	},
}

func init() {
	sessionsListCmd.Flags().IntVar(&sessionsLimit, "limit", 20, "Maximum sessions to list")
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func sessionsListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}

	sessions, err := s.ListSessions(context.Background(), sessionsLimit)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		ui.Info("No sessions recorded.")
		return nil
	}

	table := ui.Table([]string{"ID", "State", "Turns", "Objective", "Started"})
	for _, sess := range sessions {
		_ = table.Append([]string{
			shortID(sess.ID),
			output.StateColor(string(sess.State)),
			fmt.Sprintf("%d/%d", sess.CurrentTurn, sess.MaxTurns),
			truncate(sess.Objective, 60),
			sess.StartedAt.Local().Format("2006-01-02 15:04"),
		})
	}
	_ = table.Render()
	return nil
}

func sessionsShowRun(id string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return err
	}

	ui.Info("Session %s", sess.ID)
	fmt.Fprintf(ui.Out, "  Objective: %s\n", sess.Objective)
	fmt.Fprintf(ui.Out, "  State:     %s\n", output.StateColor(string(sess.State)))
	fmt.Fprintf(ui.Out, "  Turns:     %d/%d\n", sess.CurrentTurn, sess.MaxTurns)
	if sess.Branch != "" {
		fmt.Fprintf(ui.Out, "  Branch:    %s\n", output.Cyan(sess.Branch))
		fmt.Fprintf(ui.Out, "  Worktree:  %s\n", sess.WorktreePath)
	}
	fmt.Fprintf(ui.Out, "  Started:   %s\n", sess.StartedAt.Local().Format(time.RFC1123))
	if sess.EndedAt != nil {
		fmt.Fprintf(ui.Out, "  Ended:     %s\n", sess.EndedAt.Local().Format(time.RFC1123))
	}

	turns, err := s.ListTurns(ctx, sess.ID)
	if err != nil {
		return err
	}
	if len(turns) > 0 {
		fmt.Fprintln(ui.Out)
		table := ui.Table([]string{"Turn", "Phase", "Completion", "Error"})
		for _, t := range turns {
			completion := ""
			if t.DetectedCompletion {
				completion = output.Green(t.MatchedPhrase)
			}
			errText := ""
			if t.Error != "" {
				errText = output.Red(truncate(t.Error, 50))
			}
			_ = table.Append([]string{
				fmt.Sprintf("%d", t.TurnNumber),
				string(t.Phase),
				completion,
				errText,
			})
		}
		_ = table.Render()
	}

	findings, err := s.ListFindings(ctx, sess.ID)
	if err == nil && len(findings) > 0 {
		fmt.Fprintln(ui.Out)
		ui.Info("Reflection findings:")
		printFindings(findings)
	}

	if sess.Summary != "" {
		fmt.Fprintln(ui.Out)
		ui.Info("Summary:")
		fmt.Fprintln(ui.Out, sess.Summary)
	}
	return nil
}

func printFindings(findings []*models.ReflectionFinding) {
	table := ui.Table([]string{"Pattern", "Identifier", "Count", "Suggestion"})
	for _, f := range findings {
		_ = table.Append([]string{
			output.Yellow(string(f.PatternKind)),
			f.Identifier,
			fmt.Sprintf("%d", f.Count),
			truncate(f.Suggestion, 70),
		})
	}
	_ = table.Render()
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
