package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/autoloop/internal/git"
	"github.com/joescharf/autoloop/internal/output"
	"github.com/joescharf/autoloop/internal/worktree"
)

var (
	worktreeRepoPath string
	cleanupMaxAge    int
)

var worktreeCmd = &cobra.Command{
	Use:     "worktree",
	Aliases: []string{"wt"},
	Short:   "Manage session worktrees",
	RunE: func(cmd *cobra.Command, args []string) error {
		return worktreeListRun()
	},
}

var worktreeListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List worktrees under the repository",
	RunE: func(cmd *cobra.Command, args []string) error {
		return worktreeListRun()
	},
}

var worktreeCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove session worktrees older than --max-age",
	Long: `Janitorial sweep over the worktree root: any directory matching the
session prefix and older than the age threshold is force-removed along
with its branch. Never run automatically by sessions.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return worktreeCleanupRun()
	},
}

func init() {
	worktreeCmd.PersistentFlags().StringVar(&worktreeRepoPath, "repo", ".", "Repository to operate on")
	worktreeCleanupCmd.Flags().IntVar(&cleanupMaxAge, "max-age", 24, "Age threshold in hours")
	worktreeCmd.AddCommand(worktreeListCmd)
	worktreeCmd.AddCommand(worktreeCleanupCmd)
	rootCmd.AddCommand(worktreeCmd)
}

func newWorktreeManager() *worktree.Manager {
	gc := git.NewClient()
	var wm *worktree.Manager
	if root := viper.GetString("worktree.root"); root != "" {
		wm = worktree.NewManagerAt(gc, worktreeRepoPath, root)
	} else {
		wm = worktree.NewManager(gc, worktreeRepoPath)
	}
	wm.SetPrefix(viper.GetString("worktree.prefix"))
	return wm
}

func worktreeListRun() error {
	gc := git.NewClient()
	ctx := context.Background()

	wts, err := gc.WorktreeList(ctx, worktreeRepoPath)
	if err != nil {
		return err
	}
	if len(wts) == 0 {
		ui.Info("No worktrees found.")
		return nil
	}

	table := ui.Table([]string{"Branch", "Path"})
	for _, w := range wts {
		_ = table.Append([]string{output.Cyan(w.Branch), w.Path})
	}
	_ = table.Render()
	return nil
}

func worktreeCleanupRun() error {
	wm := newWorktreeManager()
	maxAge := time.Duration(cleanupMaxAge) * time.Hour

	if dryRun {
		ui.DryRunMsg("Would remove worktrees under %s older than %s", wm.Root(), maxAge)
		return nil
	}

	removed, err := wm.CleanupOld(context.Background(), maxAge)
	if err != nil {
		return err
	}
	getRecorder().WorktreeCleanup("", "ok", removed)

	if removed == 0 {
		ui.Info("Nothing to clean up.")
		return nil
	}
	ui.Success("Removed %d worktree(s)", removed)
	return nil
}
