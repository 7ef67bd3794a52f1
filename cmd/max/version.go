package main

import (
	"fmt"
	"strings"

	"github.com/aretw0/max"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of max",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "max version %s\n", strings.TrimSpace(max.Version))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
