package main

import (
	"fmt"

	"github.com/aretw0/max/internal/presentation/tui"
	"github.com/spf13/cobra"
)

var schemaCmd = &cobra.Command{
	Use:   "schema <installation>",
	Short: "Show the entities an installation exposes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := connect(cmd)
		if err != nil {
			return err
		}
		defer ws.Close()

		inst, err := installation(ws, args[0])
		if err != nil {
			return err
		}
		schema, err := inst.Schema(cmd.Context())
		if err != nil {
			return err
		}
		if jsonMode(cmd) {
			return printJSON(cmd, schema)
		}
		out, err := tui.NewRenderer()(tui.SchemaMarkdown(schema))
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), out)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(schemaCmd)
}
