package main

import (
	"os"

	"github.com/aretw0/max/internal/cli"
	"github.com/aretw0/max/pkg/adapters/subprocess"
	"github.com/spf13/cobra"
)

// nodeCmd is the entry point of subprocess-hosted installations.
var nodeCmd = &cobra.Command{
	Use:    "node",
	Short:  "Host one installation on a unix socket (used by the subprocess provider)",
	Hidden: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		var a cli.NodeArgs
		a.Socket, _ = cmd.Flags().GetString(subprocess.FlagSocket[2:])
		a.ID, _ = cmd.Flags().GetString(subprocess.FlagID[2:])
		a.Spec, _ = cmd.Flags().GetString(subprocess.FlagSpec[2:])
		level, _ := cmd.Flags().GetString("log-level")
		logger, err := cli.NewLogger(os.Stderr, level, false)
		if err != nil {
			return err
		}
		return cli.RunNode(cmd.Context(), a, logger)
	},
}

func init() {
	nodeCmd.Flags().String(subprocess.FlagSocket[2:], "", "Unix socket to serve on")
	nodeCmd.Flags().String(subprocess.FlagID[2:], "", "Installation id")
	nodeCmd.Flags().String(subprocess.FlagSpec[2:], "", "Path of the node.json spec")
	nodeCmd.Flags().String("log-level", "info", "Log level")
	rootCmd.AddCommand(nodeCmd)
}
