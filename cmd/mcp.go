package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/autoloop/internal/hook"
	"github.com/joescharf/autoloop/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server exposing session state to host agents",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

This lets a host agent query autoloop natively for session status,
turn history, reflection findings, and the current stop decision.
Configure in the host runtime with:

  {
    "mcpServers": {
      "autoloop": { "command": "autoloop", "args": ["mcp"] }
    }
  }

Available tools: autoloop_list_sessions, autoloop_session_status,
autoloop_reflection_findings, autoloop_stop_decision`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getStore()
		if err != nil {
			return err
		}

		interceptor := hook.New(getLocks(), turnCounter(), hook.ReflectionConfig{
			Enabled:  viper.GetBool("reflection.enabled") && reflectionTriggerEnabled("session_end"),
			MinTurns: viper.GetInt("reflection.min_turns"),
		}, ui)

		return mcp.NewServer(s, interceptor).ServeStdio(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
