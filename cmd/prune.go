package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"
)

var pruneOlderThan int

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete finished review cycles",
	Long: `Delete cycles that reached ready_to_merge, error or superseded and have not
changed for --older-than days, along with quarantined records of the same age.
Active cycles are never pruned.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return pruneRun(cmd.Context())
	},
}

func init() {
	pruneCmd.Flags().IntVar(&pruneOlderThan, "older-than", 30, "Age in days")
	rootCmd.AddCommand(pruneCmd)
}

func pruneRun(ctx context.Context) error {
	if pruneOlderThan < 0 {
		return errInvalidf("--older-than must not be negative")
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -pruneOlderThan)

	if dryRun {
		ui.DryRunMsg("Would delete finished cycles last updated before %s", cutoff.Format(time.RFC3339))
		return nil
	}

	s, err := getStore(ctx)
	if err != nil {
		return err
	}
	n, err := s.PruneCycles(ctx, cutoff)
	if err != nil {
		return err
	}
	ui.Success("Pruned %d record(s)", n)
	return nil
}
