package cmd

import (
	"context"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/prcycle/internal/git"
	"github.com/joescharf/prcycle/internal/verify"
)

var verifyTestCommand []string

var verifyCmd = &cobra.Command{
	Use:   "verify <feedback.json>",
	Short: "Run the tests and list the file-anchored feedback to confirm",
	Long: `Run the project's test command (verify.test_command, default 'go test ./...')
as the primary check of local fixes, then list every item in the saved
status or trigger_review output that points at a file and line.

A missing feedback file only skips the listing. Failing tests exit 1.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return verifyRun(cmd.Context(), args[0])
	},
}

func init() {
	verifyCmd.Flags().StringSliceVar(&verifyTestCommand, "test-command", nil, "Test command and arguments (comma separated)")
	rootCmd.AddCommand(verifyCmd)
}

func verifyRun(ctx context.Context, file string) error {
	path := workPath()
	if root, err := git.NewClient().RepoRoot(ctx, path); err == nil {
		path = root
	}
	if !filepath.IsAbs(file) {
		if abs, err := filepath.Abs(file); err == nil {
			file = abs
		}
	}

	command := verifyTestCommand
	if len(command) == 0 {
		command = viper.GetStringSlice("verify.test_command")
	}

	ui.Info("Running %v in %s", command, path)
	res, err := verify.New(path, command).Run(ctx, file)
	if err != nil {
		return fail(err)
	}
	if res.Note != "" {
		ui.Warning("%s", res.Note)
	}
	for _, c := range res.Checks {
		ui.VerboseLog("[%s:%d] %s", c.Path, c.Line, c.Excerpt)
	}
	return emit(res, res.Status, nil)
}
