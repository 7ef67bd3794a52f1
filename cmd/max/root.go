package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/aretw0/max/internal/cli"
	"github.com/aretw0/max/pkg/protocol"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "max",
	Short: "max supervises a federation of data-sync installations",
	Long: `max runs one daemon per project. The daemon hosts the project's workspace:
installations that load data from connectors into queryable stores.

Client commands reach the daemon over its unix socket and start it when needed.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	ctx := cli.NewSignalContext(context.Background())
	defer ctx.Cancel()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("dir", ".", "Directory inside the max project")
	rootCmd.PersistentFlags().Bool("json", false, "Print machine-readable JSON")
}

func loadProject(cmd *cobra.Command) (*cli.Project, error) {
	dir, _ := cmd.Flags().GetString("dir")
	return cli.LoadProject(dir)
}

// connect returns a handle on the project's workspace, spawning the daemon if needed.
func connect(cmd *cobra.Command) (*protocol.WorkspaceClient, error) {
	p, err := loadProject(cmd)
	if err != nil {
		return nil, err
	}
	return cli.Workspace(cmd.Context(), p, cli.SpawnDaemon)
}

func jsonMode(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
