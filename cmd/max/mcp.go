package main

import (
	"fmt"
	"os"

	"github.com/aretw0/max/internal/cli"
	maxmcp "github.com/aretw0/max/pkg/adapters/mcp"
	"github.com/spf13/cobra"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the project workspace as an MCP server",
	Long: `Expose the workspace to MCP clients. The default transport is stdio;
--sse serves Server-Sent Events on --addr instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		level, _ := cmd.Flags().GetString("log-level")
		// stdout carries the protocol in stdio mode.
		logger, err := cli.NewLogger(os.Stderr, level, false)
		if err != nil {
			return err
		}
		ws, err := connect(cmd)
		if err != nil {
			return err
		}
		defer ws.Close()

		srv := maxmcp.NewServer(ws, maxmcp.WithLogger(logger))
		if sse, _ := cmd.Flags().GetBool("sse"); sse {
			addr, _ := cmd.Flags().GetString("addr")
			return srv.ServeSSE(cmd.Context(), addr)
		}
		if err := srv.ServeStdio(); err != nil {
			return fmt.Errorf("mcp stdio: %w", err)
		}
		return nil
	},
}

func init() {
	mcpCmd.Flags().Bool("sse", false, "Serve over SSE instead of stdio")
	mcpCmd.Flags().String("addr", "127.0.0.1:8080", "SSE listen address")
	mcpCmd.Flags().String("log-level", "warn", "Log level (debug, info, warn, error)")
	rootCmd.AddCommand(mcpCmd)
}
