package main

import (
	"fmt"

	"github.com/aretw0/max/internal/presentation/tui"
	"github.com/aretw0/max/pkg/domain"
	"github.com/aretw0/max/pkg/protocol"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the workspace and its installations",
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := connect(cmd)
		if err != nil {
			return err
		}
		defer ws.Close()

		st, err := ws.Installations().Status(cmd.Context())
		if err != nil {
			return err
		}
		if jsonMode(cmd) {
			return printJSON(cmd, st)
		}
		tui.WriteStatus(cmd.OutOrStdout(), string(ws.ID()), st)
		return nil
	},
}

// transitionCmd builds start, stop and restart.
func transitionCmd(action string, call func(protocol.InstallationController, *cobra.Command, domain.InstallationID) (domain.LifecycleState, error)) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <installation>...",
		Short: fmt.Sprintf("%s installations", action),
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := connect(cmd)
			if err != nil {
				return err
			}
			defer ws.Close()

			for _, id := range args {
				st, err := call(ws.Installations(), cmd, domain.InstallationID(id))
				if err != nil {
					return fmt.Errorf("%s %s: %w", action, id, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", id, st)
			}
			return nil
		},
	}
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(transitionCmd("start", func(c protocol.InstallationController, cmd *cobra.Command, id domain.InstallationID) (domain.LifecycleState, error) {
		return c.Start(cmd.Context(), id)
	}))
	rootCmd.AddCommand(transitionCmd("stop", func(c protocol.InstallationController, cmd *cobra.Command, id domain.InstallationID) (domain.LifecycleState, error) {
		return c.Stop(cmd.Context(), id)
	}))
	rootCmd.AddCommand(transitionCmd("restart", func(c protocol.InstallationController, cmd *cobra.Command, id domain.InstallationID) (domain.LifecycleState, error) {
		return c.Restart(cmd.Context(), id)
	}))
}
