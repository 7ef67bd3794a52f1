package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aretw0/max/internal/cli"
	"github.com/aretw0/max/internal/config"
	"github.com/spf13/cobra"
)

const sampleConfig = `# max project
restart: escalate

store:
  kind: file

installations:
  demo:
    kind: inprocess
    options:
      connector: memory
      settings:
        page_size: 2
        entities:
          - name: user
            records:
              - {id: u1, fields: {name: ada, team: core}}
              - {id: u2, fields: {name: linus, team: kernel}}
              - {id: u3, fields: {name: grace, team: core}}

autostart: [demo]
`

var initCmd = &cobra.Command{
	Use:   "init [dir]",
	Short: "Create a max project",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := "."
		if len(args) == 1 {
			dir = args[0]
		}
		if err := os.MkdirAll(filepath.Join(dir, config.StateDirName), 0o755); err != nil {
			return err
		}
		if path, err := config.Find(dir); err == nil {
			cli.PrintSystemMessage(cmd.OutOrStdout(), "Project already initialized (%s)", path)
			return nil
		} else if !errors.Is(err, config.ErrNoConfig) {
			return err
		}
		path := filepath.Join(dir, config.FileNames[0])
		if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		cli.PrintSystemMessage(cmd.OutOrStdout(), "Created %s", path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
