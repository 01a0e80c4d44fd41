package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/autoloop/internal/locks"
	"github.com/joescharf/autoloop/internal/metrics"
	"github.com/joescharf/autoloop/internal/output"
	"github.com/joescharf/autoloop/internal/store"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	dataStore store.Store

	verbose bool
	dryRun  bool

	buildVersion string
	buildCommit  string
	buildDate    string
)

var rootCmd = &cobra.Command{
	Use:   "autoloop",
	Short: "Autonomous multi-turn execution controller for AI coding sessions",
	Long: `autoloop drives an AI coding agent through bounded multi-turn sessions:
clarify, plan, execute/evaluate, summarize. Each session runs in an
isolated git worktree, holds a continuous-work lock that blocks the
agent's stop hook, and is analyzed afterwards for improvement patterns.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&dryRun, "dry-run", "n", false, "Show what would happen without making changes")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/autoloop/config.yaml)")

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "autoloop %s (%s, built %s)\n", buildVersion, buildCommit, buildDate)
	},
}

func initConfig() {
	// If --config is explicitly set, use that file
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}

		configDir := filepath.Join(home, ".config", "autoloop")
		viper.AddConfigPath(configDir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("AUTOLOOP")
	viper.AutomaticEnv()

	// Defaults via viper.SetDefault()
	home, _ := os.UserHomeDir()
	defaultConfigDir := filepath.Join(home, ".config", "autoloop")

	viper.SetDefault("state_dir", defaultConfigDir)
	viper.SetDefault("db_path", filepath.Join(defaultConfigDir, "autoloop.db"))
	viper.SetDefault("worktree.root", "")
	viper.SetDefault("worktree.prefix", "automode")
	viper.SetDefault("agent.mode", "api")
	viper.SetDefault("agent.command", "claude -p")
	viper.SetDefault("anthropic.api_key", "")
	viper.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	viper.SetDefault("auto.max_turns", 10)
	viper.SetDefault("auto.completion_phrases", []string{
		"objective achieved",
		"all criteria met",
		"evaluation: complete",
	})
	viper.SetDefault("reflection.enabled", true)
	viper.SetDefault("reflection.min_turns", 3)
	viper.SetDefault("reflection.triggers", []string{"session_end"})

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose
	ui.DryRun = dryRun

	// The store is initialized lazily so config/version commands and the
	// stop hook run without touching the database.
}

// getStore returns the shared store, initializing it on first call.
func getStore() (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}

	dbPath := viper.GetString("db_path")
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := s.Migrate(rootCmd.Context()); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	dataStore = s
	return dataStore, nil
}

// getLocks returns a lock controller rooted under the state directory.
func getLocks() *locks.Controller {
	return locks.NewController(filepath.Join(viper.GetString("state_dir"), "locks"))
}

// getRecorder returns the metrics recorder writing under the state directory.
func getRecorder() *metrics.Recorder {
	return metrics.NewRecorder(filepath.Join(viper.GetString("state_dir"), "metrics.jsonl"))
}

// reflectionArtifactDir is where per-session findings documents land.
func reflectionArtifactDir() string {
	return filepath.Join(viper.GetString("state_dir"), "reflection")
}

// reflectionTriggerEnabled reports whether the named trigger is configured.
func reflectionTriggerEnabled(name string) bool {
	for _, t := range viper.GetStringSlice("reflection.triggers") {
		if t == name {
			return true
		}
	}
	return false
}
