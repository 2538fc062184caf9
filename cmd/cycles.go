package cmd

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/joescharf/prcycle/internal/git"
	"github.com/joescharf/prcycle/internal/models"
	"github.com/joescharf/prcycle/internal/output"
	"github.com/joescharf/prcycle/internal/store"
	"github.com/joescharf/prcycle/internal/timeutil"
)

var (
	cyclesAll  bool
	cyclesPR   int
	cyclesJSON bool
)

var cyclesCmd = &cobra.Command{
	Use:   "cycles",
	Short: "List review cycles",
	Long: `List the review cycles recorded for this repository with their status and
watermark. Only active cycles are shown unless --all is set. Records that
failed validation are listed from quarantine.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cyclesRun(cmd.Context())
	},
}

func init() {
	cyclesCmd.Flags().BoolVarP(&cyclesAll, "all", "a", false, "Include finished cycles")
	cyclesCmd.Flags().IntVar(&cyclesPR, "pr", 0, "Only cycles of this PR")
	cyclesCmd.Flags().BoolVar(&cyclesJSON, "json", false, "Print JSON instead of a table")
	rootCmd.AddCommand(cyclesCmd)
}

func cyclesRun(ctx context.Context) error {
	s, err := getStore(ctx)
	if err != nil {
		return err
	}

	// An unresolvable repository lists cycles of every repository.
	repo, err := resolveRepo(ctx, git.NewClient(), workPath())
	if err != nil {
		ui.VerboseLog("Listing cycles of all repositories: %v", err)
		repo = ""
	}

	cycles, corrupt, err := s.ListCycles(ctx, store.CycleFilter{
		Repo:       repo,
		PRNumber:   cyclesPR,
		ActiveOnly: !cyclesAll,
	})
	if err != nil {
		return err
	}
	for _, c := range corrupt {
		ui.Warning("%s", c.Error())
	}
	quarantined, err := s.ListQuarantined(ctx)
	if err != nil {
		return err
	}

	if cyclesJSON {
		if cycles == nil {
			cycles = []*models.ReviewCycle{}
		}
		return ui.JSON(struct {
			Cycles      []*models.ReviewCycle      `json:"cycles"`
			Quarantined []*models.QuarantinedCycle `json:"quarantined,omitempty"`
		}{cycles, quarantined})
	}

	if len(cycles) == 0 {
		ui.Info("No review cycles. Use 'prcycle trigger_review <pr>' to start one.")
	} else {
		table := ui.Table([]string{"PR", "Status", "Mode", "Iter", "Since", "Updated", "ID"})
		for _, c := range cycles {
			_ = table.Append([]string{
				fmt.Sprintf("%s#%d", c.Repo, c.PRNumber),
				output.StatusColor(string(c.Status)),
				string(c.Mode),
				strconv.Itoa(c.Iteration),
				timeutil.Format(c.Since),
				formatAge(c.UpdatedAt),
				c.ID,
			})
		}
		_ = table.Render()
	}

	if len(quarantined) > 0 {
		fmt.Fprintln(ui.Data)
		ui.Warning("%d quarantined record(s):", len(quarantined))
		table := ui.Table([]string{"PR", "Quarantined", "Reason", "ID"})
		for _, q := range quarantined {
			_ = table.Append([]string{
				fmt.Sprintf("%s#%d", q.Repo, q.PRNumber),
				formatAge(q.QuarantinedAt),
				q.Reason,
				q.ID,
			})
		}
		_ = table.Render()
	}
	return nil
}

// formatAge returns a human-readable relative time string.
func formatAge(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
