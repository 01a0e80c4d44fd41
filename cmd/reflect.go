package cmd

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/autoloop/internal/models"
	"github.com/joescharf/autoloop/internal/reflection"
)

var reflectTranscript string

var reflectCmd = &cobra.Command{
	Use:   "reflect [session-id]",
	Short: "Analyze a session transcript for improvement patterns",
	Long: `Run the reflection analyzer over a session transcript. Without a
session ID, consumes the oldest pending-reflection marker left by the
stop hook. Analysis is guarded by a mutual-exclusion lock and is
best-effort: failures produce empty findings, never errors that would
affect a session.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID := ""
		if len(args) > 0 {
			sessionID = args[0]
		}
		return reflectRun(sessionID)
	},
}

func init() {
	reflectCmd.Flags().StringVar(&reflectTranscript, "transcript", "", "Transcript path (JSON lines, one message per line)")
	rootCmd.AddCommand(reflectCmd)
}

func reflectRun(sessionID string) error {
	if !viper.GetBool("reflection.enabled") {
		ui.Warning("Reflection is disabled (reflection.enabled=false)")
		return nil
	}

	analyzer := reflection.NewAnalyzer(getLocks(), findingsSink(), reflectionArtifactDir(), ui)

	var findings []models.ReflectionFinding
	var err error
	if sessionID == "" {
		var ran bool
		findings, ran, err = analyzer.RunPending()
		if err == nil && !ran {
			ui.Info("No pending reflection requests.")
			return nil
		}
	} else {
		findings, err = analyzer.Run(sessionID, reflectTranscript)
	}
	if err != nil {
		if errors.Is(err, reflection.ErrAnalysisInProgress) {
			ui.Warning("Another reflection analysis is already running.")
			return nil
		}
		return err
	}

	if len(findings) == 0 {
		ui.Info("No patterns detected.")
		return nil
	}

	ui.Success("%d pattern(s) detected", len(findings))
	ptrs := make([]*models.ReflectionFinding, len(findings))
	for i := range findings {
		ptrs[i] = &findings[i]
	}
	printFindings(ptrs)
	return nil
}

// findingsSink adapts the store to the analyzer. Persistence is optional:
// with no database the artifact file still gets written.
func findingsSink() reflection.FindingsSink {
	s, err := getStore()
	if err != nil {
		ui.Warning("reflect: store unavailable, findings go to artifact only: %v", err)
		return nil
	}
	return storeFindingsSink{s: s}
}

type storeFindingsSink struct {
	s interface {
		SaveFindings(ctx context.Context, sessionID string, findings []models.ReflectionFinding) error
	}
}

func (k storeFindingsSink) SaveFindings(sessionID string, findings []models.ReflectionFinding) error {
	return k.s.SaveFindings(context.Background(), sessionID, findings)
}
