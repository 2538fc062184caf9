package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Continue polling interrupted review cycles",
	Long: `Pick up every unfinished online or local review cycle of this repository
from its last checkpoint and keep polling without requesting reviews again.

Locks left by dead processes are cleared; cycles held by a running process
are skipped. Corrupt records are quarantined and reported.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return resumeRun(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(resumeCmd)
}

func resumeRun(ctx context.Context) error {
	e, err := newEngine(ctx, engineOptions{})
	if err != nil {
		return fail(err)
	}
	res, err := e.Resume(ctx)
	if err != nil {
		return fail(err)
	}
	for _, q := range res.Quarantined {
		ui.Warning("%s", q)
	}
	return emit(res, res.Status, nil)
}
