package main

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/aretw0/max/internal/cli"
	"github.com/aretw0/max/internal/presentation/tui"
	"github.com/aretw0/max/pkg/adapters/subprocess"
	"github.com/spf13/cobra"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the project daemon in the foreground",
	Long: `Hosts the project's workspace until interrupted. Client commands spawn it
automatically; run it by hand to watch its logs.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := loadProject(cmd)
		if err != nil {
			return err
		}
		logger, err := cli.NewLogger(os.Stderr, p.Config.LogLevel, false)
		if err != nil {
			return err
		}
		if quiet, _ := cmd.Flags().GetBool("quiet"); !quiet {
			tui.PrintBanner(cmd.ErrOrStderr())
		}
		err = cli.RunDaemon(cmd.Context(), p, logger)
		if sc, ok := cmd.Context().(*cli.SignalContext); ok && sc.Signal() != nil {
			logger.Info("Daemon stopped", "signal", sc.Signal().String())
		}
		return err
	},
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the project daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := loadProject(cmd)
		if err != nil {
			return err
		}
		pid, err := subprocess.Paths{PID: p.Paths.PID}.ReadPID()
		if err != nil {
			return err
		}
		if pid == 0 || !subprocess.Alive(pid) {
			cli.PrintSystemMessage(cmd.OutOrStdout(), "No daemon running for %s", p.Root)
			return nil
		}
		proc, err := os.FindProcess(pid)
		if err != nil {
			return err
		}
		if err := proc.Signal(syscall.SIGTERM); err != nil {
			return fmt.Errorf("signal daemon %d: %w", pid, err)
		}
		wait, _ := cmd.Flags().GetDuration("wait")
		deadline := time.Now().Add(wait)
		for subprocess.Alive(pid) {
			if time.Now().After(deadline) {
				return fmt.Errorf("daemon %d still running after %s", pid, wait)
			}
			time.Sleep(cli.ConnectInterval)
		}
		cli.PrintSystemMessage(cmd.OutOrStdout(), "Daemon %d stopped", pid)
		return nil
	},
}

func init() {
	daemonCmd.Flags().Bool("quiet", false, "Do not print the banner")
	daemonStopCmd.Flags().Duration("wait", 15*time.Second, "How long to wait for the daemon to exit")
	daemonCmd.AddCommand(daemonStopCmd)
	rootCmd.AddCommand(daemonCmd)
}
