package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rendis/flowfunc/pkg/mcp"
)

func newMCPCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the flowfunc tools over MCP on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := c.newApp(ctx, true)
			if err != nil {
				return err
			}
			defer a.Close()

			deps := mcp.FlowfuncServerDeps{
				Loader:  a.loader,
				Builder: a.builder,
				Engine:  a.engine,
				Runner:  a.coordinator(),
				Store:   a.store,
				Logger:  a.logger,
				Version: version,
			}
			return mcp.NewFlowfuncServer(deps).Serve(ctx)
		},
	}
}
