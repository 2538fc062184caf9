package cmd

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/joescharf/prcycle/internal/timeutil"
)

var (
	statusSince     string
	statusValidator string
)

var statusCmd = &cobra.Command{
	Use:   "status <pr_number>",
	Short: "Show review feedback on a PR since a timestamp",
	Long: `Fetch every review, inline comment and issue comment on a PR and report the
ones created strictly after --since, with the main reviewer's state and the
next step. Without --since every item is reported.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return statusRun(cmd.Context(), args[0])
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusSince, "since", "", "ISO 8601 timestamp with Z or offset (default: beginning of time)")
	statusCmd.Flags().StringVar(&statusValidator, "validation-reviewer", "", "Main reviewer login (default from config)")
	rootCmd.AddCommand(statusCmd)
}

// parseSinceFlag parses an optional --since value; naive timestamps are rejected.
func parseSinceFlag(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := timeutil.ParseUTC(s)
	if err != nil {
		return time.Time{}, errInvalidf("--since: %v", err)
	}
	return t, nil
}

func statusRun(ctx context.Context, arg string) error {
	pr, err := parsePR(arg)
	if err != nil {
		return fail(err)
	}
	since, err := parseSinceFlag(statusSince)
	if err != nil {
		return fail(err)
	}

	e, err := newEngine(ctx, engineOptions{})
	if err != nil {
		return fail(err)
	}
	if e.Feedback == nil {
		return fail(errors.New("no review platform configured"))
	}

	rep, err := e.Feedback.Status(ctx, pr, since, statusValidator)
	if err != nil {
		return fail(err)
	}
	ui.VerboseLog("%d new item(s) on PR #%d since %s", rep.NewItemCount, pr, timeutil.Format(rep.Since))
	return emit(rep, rep.Status, nil)
}
