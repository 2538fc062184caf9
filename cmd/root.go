package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/prcycle/internal/output"
	"github.com/joescharf/prcycle/internal/store"
	"github.com/joescharf/prcycle/internal/verify"
)

// Exit codes.
const (
	exitOK          = 0
	exitError       = 1
	exitTimeout     = 2
	exitInterrupted = 130
)

const envPrefix = "PRCYCLE"

// envKeyReplacer maps nested keys onto environment names, e.g.
// poll.interval becomes PRCYCLE_POLL_INTERVAL.
var envKeyReplacer = strings.NewReplacer(".", "_")

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	dataStore store.Store

	verbose  bool
	dryRun   bool
	repoFlag string
	pathFlag string

	buildVersion = "dev"
	buildCommit  = "none"
	buildDate    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "prcycle",
	Short: "PR review cycle orchestrator for coding agents",
	Long: `prcycle drives the review cycle of a pull request for an AI coding agent.

It verifies the branch is safely pushed, asks the review bots for a review,
waits for their feedback with resumable polling, and answers with one JSON
document whose next_step tells the agent what to do. The JSON result is
written to stdout; progress goes to stderr.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// exitCodeError carries a process exit code. Its result has already been
// printed when printed is set.
type exitCodeError struct {
	code    int
	err     error
	printed bool
}

func (e *exitCodeError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitCodeError) Unwrap() error { return e.err }

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	ctx, stop := signal.NotifyContext(context.Background(), shutdownSignals()...)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	stop()
	if dataStore != nil {
		_ = dataStore.Close()
	}
	os.Exit(exitCode(err))
}

// exitCode maps a command error onto the process exit code, printing
// anything not already reported.
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var ec *exitCodeError
	if errors.As(err, &ec) {
		if !ec.printed && ec.err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", ec.err)
		}
		return ec.code
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return exitError
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&dryRun, "dry-run", "n", false, "Show what would happen without making changes")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/prcycle/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&repoFlag, "repo", "", "Repository as owner/name (GitLab: project path)")
	rootCmd.PersistentFlags().StringVar(&pathFlag, "path", "", "Working tree to operate on (default: current directory)")
}

func initConfig() {
	// If --config is explicitly set, use that file
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		dir, err := configDirFunc()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(exitError)
		}
		viper.AddConfigPath(dir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(envKeyReplacer)
	viper.AutomaticEnv()

	defaultConfigDir, _ := configDirFunc()
	setDefaults(defaultConfigDir)

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

// setDefaults registers every config key with its default.
func setDefaults(stateDir string) {
	logDir := filepath.Join(stateDir, "logs")

	viper.SetDefault("state_dir", stateDir)
	viper.SetDefault("db_path", filepath.Join(logDir, "review_cycles.db"))
	viper.SetDefault("lock_dir", filepath.Join(logDir, "locks"))
	viper.SetDefault("platform", "github")
	viper.SetDefault("repo.owner", "")
	viper.SetDefault("repo.name", "")
	viper.SetDefault("repo.path", "")
	viper.SetDefault("gitlab.url", "https://gitlab.com")
	viper.SetDefault("gitlab.token", "")
	viper.SetDefault("gitlab.project", "")
	viper.SetDefault("review.main_reviewer", "gemini-code-assist[bot]")
	viper.SetDefault("review.trigger_comments", []string{
		"/gemini review", "@coderabbitai review", "@sourcery-ai review", "/review", "@ellipsis review this",
	})
	viper.SetDefault("review.ready_phrases", []string{"ready to merge", "no issues found"})
	viper.SetDefault("review.rate_limit_phrases", []string{
		"daily quota limit", "rate limit exceeded", "reached your rate limit", "quota exceeded",
	})
	viper.SetDefault("poll.interval", "60s")
	viper.SetDefault("poll.chunk", "5s")
	viper.SetDefault("poll.trigger_timeout", "10m")
	viper.SetDefault("poll.wait_timeout", "25m")
	viper.SetDefault("poll.local_wait", "120s")
	viper.SetDefault("retry.max_attempts", 3)
	viper.SetDefault("retry.backoff_base", "2s")
	viper.SetDefault("retry.rate_limit_retry", "30s")
	viper.SetDefault("reviewer.engine", "command")
	viper.SetDefault("reviewer.command", []string{})
	viper.SetDefault("reviewer.model", "")
	viper.SetDefault("reviewer.settings_file", filepath.Join(stateDir, "settings.json"))
	viper.SetDefault("reviewer.base", "origin/main")
	viper.SetDefault("reviewer.timeout", "10m")
	viper.SetDefault("anthropic.api_key", "")
	viper.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	viper.SetDefault("verify.test_command", verify.DefaultTestCommand)
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose
	ui.DryRun = dryRun

	// Initialize store lazily; config/version commands run without a db.
}

// getStore returns the shared store, initializing it on first call.
func getStore(ctx context.Context) (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}

	dbPath := viper.GetString("db_path")
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	dataStore = s
	return dataStore, nil
}
