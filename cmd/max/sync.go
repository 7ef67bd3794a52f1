package main

import (
	"fmt"

	"github.com/aretw0/max/internal/presentation/tui"
	"github.com/aretw0/max/pkg/domain"
	"github.com/aretw0/max/pkg/protocol"
	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync <installation>",
	Short: "Run a synchronization of an installation",
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
		h, err := inst.Sync(cmd.Context())
		if err != nil {
			return err
		}
		var rec *domain.SyncRecord
		if detach, _ := cmd.Flags().GetBool("detach"); detach {
			rec, err = h.Status(cmd.Context())
		} else {
			rec, err = h.Wait(cmd.Context())
		}
		if err != nil {
			return err
		}
		return printSync(cmd, rec)
	},
}

var syncStatusCmd = &cobra.Command{
	Use:   "status <installation> [sync-id]",
	Short: "Show one sync run, or list the runs of an installation",
	Args:  cobra.RangeArgs(1, 2),
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
		if len(args) == 2 {
			h, err := inst.SyncHandle(cmd.Context(), args[1])
			if err != nil {
				return err
			}
			rec, err := h.Status(cmd.Context())
			if err != nil {
				return err
			}
			return printSync(cmd, rec)
		}
		runs, err := inst.Syncs(cmd.Context())
		if err != nil {
			return err
		}
		if jsonMode(cmd) {
			return printJSON(cmd, runs)
		}
		for _, rec := range runs {
			tui.WriteSync(cmd.OutOrStdout(), rec)
		}
		return nil
	},
}

var syncCancelCmd = &cobra.Command{
	Use:   "cancel <installation> <sync-id>",
	Short: "Cancel a running sync",
	Args:  cobra.ExactArgs(2),
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
		h, err := inst.SyncHandle(cmd.Context(), args[1])
		if err != nil {
			return err
		}
		return h.Cancel(cmd.Context())
	},
}

func installation(ws protocol.Workspace, id string) (protocol.Installation, error) {
	inst, ok := ws.Installation(domain.InstallationID(id))
	if !ok {
		return nil, fmt.Errorf("%w: installation %s", domain.ErrUnknownID, id)
	}
	return inst, nil
}

func printSync(cmd *cobra.Command, rec *domain.SyncRecord) error {
	if jsonMode(cmd) {
		return printJSON(cmd, rec)
	}
	tui.WriteSync(cmd.OutOrStdout(), rec)
	return nil
}

func init() {
	syncCmd.Flags().Bool("detach", false, "Return once the run started")
	syncCmd.AddCommand(syncStatusCmd, syncCancelCmd)
	rootCmd.AddCommand(syncCmd)
}
