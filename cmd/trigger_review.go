package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/joescharf/prcycle/internal/cycle"
	"github.com/joescharf/prcycle/internal/models"
)

var (
	triggerWait      int
	triggerLocal     bool
	triggerOffline   bool
	triggerValidator string
)

var triggerReviewCmd = &cobra.Command{
	Use:     "trigger_review [pr_number]",
	Aliases: []string{"trigger-review", "trigger"},
	Short:   "Request reviews on a PR and wait for the main reviewer",
	Long: `Start a new review cycle for a PR.

Online (default): verify the branch is pushed, post the review trigger
comments, wait --wait seconds, then poll until the main reviewer responds,
reports the PR ready, or is rate limited.

--local runs the local reviewer on the PR diff and posts nothing.
--offline reviews the diff against the configured base without contacting
the platform at all. Both accept no PR number, in which case the branch is
reviewed against the configured base and no cycle is recorded.

The JSON result's next_step tells the agent what to do next.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		arg := ""
		if len(args) == 1 {
			arg = args[0]
		}
		return triggerReviewRun(cmd.Context(), arg)
	},
}

func init() {
	triggerReviewCmd.Flags().IntVar(&triggerWait, "wait", cycle.DefaultWaitSeconds, "Seconds to wait before the first check (0 skips waiting)")
	triggerReviewCmd.Flags().BoolVar(&triggerLocal, "local", false, "Review with the local reviewer instead of the bots")
	triggerReviewCmd.Flags().BoolVar(&triggerOffline, "offline", false, "Review the local diff without contacting the platform")
	triggerReviewCmd.Flags().StringVar(&triggerValidator, "validation-reviewer", "", "Main reviewer login (default from config)")
	triggerReviewCmd.MarkFlagsMutuallyExclusive("local", "offline")
	rootCmd.AddCommand(triggerReviewCmd)
}

func triggerMode() models.Mode {
	switch {
	case triggerOffline:
		return models.ModeOffline
	case triggerLocal:
		return models.ModeLocal
	}
	return models.ModeOnline
}

func triggerReviewRun(ctx context.Context, arg string) error {
	mode := triggerMode()
	pr := 0
	switch {
	case arg != "":
		n, err := parsePR(arg)
		if err != nil {
			return fail(err)
		}
		pr = n
	case mode == models.ModeOnline:
		return fail(errInvalidf("pr_number is required unless --local or --offline is given"))
	}

	e, err := newEngine(ctx, engineOptions{offline: mode == models.ModeOffline})
	if err != nil {
		return fail(err)
	}

	res, err := e.Trigger(ctx, cycle.TriggerRequest{
		PRNumber:           pr,
		Mode:               mode,
		WaitSeconds:        triggerWait,
		ValidationReviewer: triggerValidator,
	})
	return emit(res, res.Status, err)
}
