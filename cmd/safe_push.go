package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/joescharf/prcycle/internal/gate"
	"github.com/joescharf/prcycle/internal/git"
)

var safePushCmd = &cobra.Command{
	Use:     "safe_push",
	Aliases: []string{"safe-push"},
	Short:   "Rebase onto the upstream and push without overwriting remote work",
	Long: `Verify the working tree is clean and tracks an upstream, fetch, rebase onto
the upstream if it moved, and push with a lease on the commit the rebase used.
A rebase conflict is aborted and reported; nothing is ever force-pushed blind.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return safePushRun(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(safePushCmd)
}

func safePushRun(ctx context.Context) error {
	gc := git.NewClient()
	path := workPath()
	if root, err := gc.RepoRoot(ctx, path); err == nil {
		path = root
	}

	g := gate.New(gc, path)
	g.DryRun = dryRun
	res, err := g.SafePush(ctx)
	if err != nil {
		return fail(err)
	}
	if res.Pushed > 0 {
		ui.Success("%s", res.Message)
	} else {
		ui.Info("%s", res.Message)
	}
	return emit(res, res.Status, nil)
}
