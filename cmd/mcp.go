package cmd

import (
	"context"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/joescharf/voxpilot/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

This lets an MCP client interpret requests and execute tools through the
configured backend with the stored credentials. Configure it with:

  {
    "mcpServers": {
      "voxpilot": { "command": "voxpilot", "args": ["mcp"] }
    }
  }

Available tools: voxpilot_interpret, voxpilot_execute,
voxpilot_classify_reply, voxpilot_list_tools`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return mcpRun(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func mcpRun(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s, err := getStore()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, shutdownSignals()...)
	defer stop()

	return mcp.NewServer(newClient(s), buildVersion).ServeStdio(ctx)
}
