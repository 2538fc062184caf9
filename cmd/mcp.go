package cmd

import (
	"github.com/spf13/cobra"

	"github.com/joescharf/prcycle/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server for agent integration",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

This lets a coding agent drive the review cycle natively. Configure it
in the agent's MCP settings with:

  {
    "mcpServers": {
      "prcycle": { "command": "prcycle", "args": ["mcp"] }
    }
  }

Available tools: prcycle_safe_push, prcycle_trigger_review, prcycle_status,
prcycle_wait, prcycle_resume, prcycle_list_cycles`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, err := newEngine(ctx, engineOptions{offline: true})
		if err != nil {
			return err
		}
		ui.VerboseLog("Serving MCP on stdio for %s", e.Repo)
		return mcp.NewServer(e, buildVersion).ServeStdio(ctx)
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
