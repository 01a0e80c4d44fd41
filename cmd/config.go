package cmd

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"text/template"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configForce bool

// configDirFunc returns the config directory path, replaceable in tests.
var configDirFunc = defaultConfigDir

func defaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "autoloop"), nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or manage configuration",
	Long: `Show or manage autoloop configuration.

Running bare 'autoloop config' is the same as 'autoloop config show'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config file with commented defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configInitRun()
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration with sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config file in $EDITOR",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configEditRun()
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite existing config file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
	rootCmd.AddCommand(configCmd)
}

// configTemplate is the template for generating config.yaml with comments.
const configTemplate = `# autoloop configuration
# See: autoloop config show (for effective values and sources)

# State/runtime directory: locks, metrics, reflection artifacts
# state_dir: {{ .StateDir }}

# SQLite database path
# db_path: {{ .DBPath }}

# Worktree isolation
worktree:
  # Root directory for session worktrees (default: <repo>/worktrees)
  # root: ""

  # Branch/directory name prefix
  prefix: "{{ .WorktreePrefix }}"

# Turn execution backend
agent:
  # "api" uses the Anthropic API directly; "cli" shells out to a host CLI
  mode: "{{ .AgentMode }}"

  # Command template for cli mode; the prompt is appended as the last argument
  command: "{{ .AgentCommand }}"

anthropic:
  # API key for api mode (or set ANTHROPIC_API_KEY)
  # api_key: ""

  # Model for turn execution
  model: "{{ .AnthropicModel }}"

# Session loop
auto:
  # Turn budget per session
  max_turns: {{ .MaxTurns }}

  # Phrases that signal completion, matched case-insensitively against
  # turn output. Tune to your agent's phrasing; false positives end the
  # session early.
  # completion_phrases:
  #   - "objective achieved"
  #   - "all criteria met"
  #   - "evaluation: complete"

# Post-session transcript analysis
reflection:
  enabled: {{ .ReflectionEnabled }}

  # Minimum executed turns before a session is eligible
  min_turns: {{ .ReflectionMinTurns }}
`

type configTemplateData struct {
	StateDir           string
	DBPath             string
	WorktreePrefix     string
	AgentMode          string
	AgentCommand       string
	AnthropicModel     string
	MaxTurns           int
	ReflectionEnabled  bool
	ReflectionMinTurns int
}

func configFilePath() (string, error) {
	dir, err := configDirFunc()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func configInitRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if file already exists
	if _, err := os.Stat(cfgPath); err == nil {
		if !configForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", cfgPath)
		}
		ui.Warning("Overwriting existing config file")
	}

	// Build template data from current viper values
	data := configTemplateData{
		StateDir:           viper.GetString("state_dir"),
		DBPath:             viper.GetString("db_path"),
		WorktreePrefix:     viper.GetString("worktree.prefix"),
		AgentMode:          viper.GetString("agent.mode"),
		AgentCommand:       viper.GetString("agent.command"),
		AnthropicModel:     viper.GetString("anthropic.model"),
		MaxTurns:           viper.GetInt("auto.max_turns"),
		ReflectionEnabled:  viper.GetBool("reflection.enabled"),
		ReflectionMinTurns: viper.GetInt("reflection.min_turns"),
	}

	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return fmt.Errorf("template parse error: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("template execute error: %w", err)
	}

	if dryRun {
		ui.DryRunMsg("Would create config file: %s", cfgPath)
		fmt.Fprintln(ui.Out)
		fmt.Fprint(ui.Out, buf.String())
		return nil
	}

	// Create config directory
	dir := filepath.Dir(cfgPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(cfgPath, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	ui.Success("Config file created: %s", cfgPath)
	fmt.Fprintln(ui.Out)
	fmt.Fprint(ui.Out, buf.String())
	return nil
}

// configKeyInfo describes a config key for display purposes.
type configKeyInfo struct {
	Key    string
	EnvVar string
}

var configKeys = []configKeyInfo{
	{Key: "state_dir", EnvVar: "AUTOLOOP_STATE_DIR"},
	{Key: "db_path", EnvVar: "AUTOLOOP_DB_PATH"},
	{Key: "worktree.root", EnvVar: "AUTOLOOP_WORKTREE_ROOT"},
	{Key: "worktree.prefix", EnvVar: "AUTOLOOP_WORKTREE_PREFIX"},
	{Key: "agent.mode", EnvVar: "AUTOLOOP_AGENT_MODE"},
	{Key: "agent.command", EnvVar: "AUTOLOOP_AGENT_COMMAND"},
	{Key: "anthropic.model", EnvVar: "AUTOLOOP_ANTHROPIC_MODEL"},
	{Key: "auto.max_turns", EnvVar: "AUTOLOOP_AUTO_MAX_TURNS"},
	{Key: "reflection.enabled", EnvVar: "AUTOLOOP_REFLECTION_ENABLED"},
	{Key: "reflection.min_turns", EnvVar: "AUTOLOOP_REFLECTION_MIN_TURNS"},
}

func configShowRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if config file exists
	if _, err := os.Stat(cfgPath); err == nil {
		ui.Info("Config file: %s", cfgPath)
	} else {
		ui.Info("Config file: (none)")
	}
	fmt.Fprintln(ui.Out)

	// Read config file values to determine file source
	fileValues := readConfigFileValues(cfgPath)

	for _, k := range configKeys {
		val := viper.Get(k.Key)
		source := detectSource(k.Key, k.EnvVar, fileValues)
		fmt.Fprintf(ui.Out, "  %-22s %v  %s\n", k.Key, val, source)
	}

	return nil
}

// readConfigFileValues reads the raw YAML file and returns a flat map of keys present in it.
func readConfigFileValues(path string) map[string]bool {
	result := make(map[string]bool)

	data, err := os.ReadFile(path)
	if err != nil {
		return result
	}

	var parsed map[string]any
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return result
	}

	// Flatten nested keys with dot notation
	flattenKeys("", parsed, result)
	return result
}

// flattenKeys recursively flattens a nested map to dot-notation keys.
func flattenKeys(prefix string, m map[string]any, result map[string]bool) {
	for key, val := range m {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}
		if nested, ok := val.(map[string]any); ok {
			flattenKeys(fullKey, nested, result)
		} else {
			result[fullKey] = true
		}
	}
}

// detectSource determines where a config value is coming from.
func detectSource(key, envVar string, fileValues map[string]bool) string {
	if _, ok := os.LookupEnv(envVar); ok {
		return fmt.Sprintf("(env: %s)", envVar)
	}
	if fileValues[key] {
		return "(file)"
	}
	return "(default)"
}

func configEditRun() error {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = os.Getenv("VISUAL")
	}
	if editor == "" {
		return fmt.Errorf("$EDITOR is not set — set it to your preferred editor (e.g. export EDITOR=vim)")
	}

	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s (run 'autoloop config init' first)", cfgPath)
	}

	if dryRun {
		ui.DryRunMsg("Would open %s in %s", cfgPath, editor)
		return nil
	}

	editCmd := exec.Command(editor, cfgPath)
	editCmd.Stdin = os.Stdin
	editCmd.Stdout = os.Stdout
	editCmd.Stderr = os.Stderr
	return editCmd.Run()
}
