package cmd

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
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
	return filepath.Join(home, ".config", "prcycle"), nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or manage configuration",
	Long: `Show or manage prcycle configuration.

Running bare 'prcycle config' is the same as 'prcycle config show'.`,
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
const configTemplate = `# prcycle configuration
# See: prcycle config show (for effective values and sources)

# State directory (default: ~/.config/prcycle)
# state_dir: {{ .StateDir }}

# Review cycle database (default: <state_dir>/logs/review_cycles.db)
# db_path: {{ .DBPath }}

# Review platform: github or gitlab
platform: "{{ .Platform }}"

# Repository; detected from the origin remote when empty
repo:
  owner: "{{ .RepoOwner }}"
  name: "{{ .RepoName }}"

# GitLab (platform: gitlab); token falls back to GITLAB_TOKEN
gitlab:
  url: "{{ .GitLabURL }}"
  project: "{{ .GitLabProject }}"

# Review bots
review:
  # Login whose response ends a triggered cycle
  main_reviewer: "{{ .MainReviewer }}"

# Polling schedule
poll:
  interval: "{{ .PollInterval }}"
  trigger_timeout: "{{ .TriggerTimeout }}"
  wait_timeout: "{{ .WaitTimeout }}"
  local_wait: "{{ .LocalWait }}"

# Local reviewer used by --local and --offline
reviewer:
  # command runs the Gemini CLI (or reviewer.command); anthropic calls the API
  engine: "{{ .ReviewerEngine }}"
  # Diff base for --offline
  base: "{{ .ReviewerBase }}"
  # JSONC file with gemini_cli_channel and local_model
  settings_file: "{{ .SettingsFile }}"

# Anthropic (reviewer.engine: anthropic); key falls back to ANTHROPIC_API_KEY
anthropic:
  model: "{{ .AnthropicModel }}"

# Test command run by 'prcycle verify' (default: go test ./...)
# verify:
#   test_command: ["go", "test", "./..."]
`

type configTemplateData struct {
	StateDir       string
	DBPath         string
	Platform       string
	RepoOwner      string
	RepoName       string
	GitLabURL      string
	GitLabProject  string
	MainReviewer   string
	PollInterval   string
	TriggerTimeout string
	WaitTimeout    string
	LocalWait      string
	ReviewerEngine string
	ReviewerBase   string
	SettingsFile   string
	AnthropicModel string
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
		StateDir:       viper.GetString("state_dir"),
		DBPath:         viper.GetString("db_path"),
		Platform:       viper.GetString("platform"),
		RepoOwner:      viper.GetString("repo.owner"),
		RepoName:       viper.GetString("repo.name"),
		GitLabURL:      viper.GetString("gitlab.url"),
		GitLabProject:  viper.GetString("gitlab.project"),
		MainReviewer:   viper.GetString("review.main_reviewer"),
		PollInterval:   viper.GetString("poll.interval"),
		TriggerTimeout: viper.GetString("poll.trigger_timeout"),
		WaitTimeout:    viper.GetString("poll.wait_timeout"),
		LocalWait:      viper.GetString("poll.local_wait"),
		ReviewerEngine: viper.GetString("reviewer.engine"),
		ReviewerBase:   viper.GetString("reviewer.base"),
		SettingsFile:   viper.GetString("reviewer.settings_file"),
		AnthropicModel: viper.GetString("anthropic.model"),
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

// configKeys are the keys shown by 'config show'.
var configKeys = []string{
	"state_dir",
	"db_path",
	"lock_dir",
	"platform",
	"repo.owner",
	"repo.name",
	"repo.path",
	"gitlab.url",
	"gitlab.project",
	"review.main_reviewer",
	"review.trigger_comments",
	"poll.interval",
	"poll.chunk",
	"poll.trigger_timeout",
	"poll.wait_timeout",
	"poll.local_wait",
	"retry.max_attempts",
	"retry.backoff_base",
	"retry.rate_limit_retry",
	"reviewer.engine",
	"reviewer.command",
	"reviewer.model",
	"reviewer.base",
	"reviewer.settings_file",
	"reviewer.timeout",
	"anthropic.model",
	"verify.test_command",
}

// envVarFor returns the environment variable that overrides key.
func envVarFor(key string) string {
	return envPrefix + "_" + strings.ToUpper(envKeyReplacer.Replace(key))
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
		val := viper.Get(k)
		source := detectSource(k, envVarFor(k), fileValues)
		fmt.Fprintf(ui.Out, "  %-24s %v  %s\n", k, val, source)
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
		return fmt.Errorf("$EDITOR is not set; set it to your preferred editor (e.g. export EDITOR=vim)")
	}

	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s (run 'prcycle config init' first)", cfgPath)
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
