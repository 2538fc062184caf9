package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/joescharf/prcycle/internal/cycle"
)

var (
	waitTimeout   int
	waitInterval  int
	waitSince     string
	waitValidator string
)

var waitCmd = &cobra.Command{
	Use:   "wait <pr_number>",
	Short: "Poll a PR until new feedback arrives or the timeout elapses",
	Long: `Poll a PR every --interval seconds until any new feedback arrives, the
main reviewer reports it ready or rate limited, or --timeout minutes pass.

Without --since the active cycle's watermark is used. Exit code 2 means
the wait timed out with nothing new; the cycle stays resumable.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return waitRun(cmd.Context(), args[0])
	},
}

func init() {
	waitCmd.Flags().IntVar(&waitTimeout, "timeout", 0, "Give up after this many minutes (default from poll.wait_timeout)")
	waitCmd.Flags().IntVar(&waitInterval, "interval", 0, "Seconds between checks (default from poll.interval)")
	waitCmd.Flags().StringVar(&waitSince, "since", "", "ISO 8601 timestamp with Z or offset")
	waitCmd.Flags().StringVar(&waitValidator, "validation-reviewer", "", "Main reviewer login (default from config)")
	rootCmd.AddCommand(waitCmd)
}

func waitRun(ctx context.Context, arg string) error {
	pr, err := parsePR(arg)
	if err != nil {
		return fail(err)
	}
	since, err := parseSinceFlag(waitSince)
	if err != nil {
		return fail(err)
	}
	if waitTimeout < 0 || waitInterval < 0 {
		return fail(errInvalidf("--timeout and --interval must not be negative"))
	}

	e, err := newEngine(ctx, engineOptions{})
	if err != nil {
		return fail(err)
	}

	lr, err := e.Wait(ctx, cycle.WaitRequest{
		PRNumber:           pr,
		Since:              since,
		Timeout:            time.Duration(waitTimeout) * time.Minute,
		Interval:           time.Duration(waitInterval) * time.Second,
		ValidationReviewer: waitValidator,
	})
	if err != nil {
		return fail(err)
	}
	ui.VerboseLog("Wait on PR #%d ended after %d poll(s): %s", pr, lr.Polls, lr.Outcome)
	return emit(lr.Report, lr.Report.Status, nil)
}
