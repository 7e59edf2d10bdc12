package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/clashtui/clashtui/internal/cli"
)

// NewRootCmd creates and returns the root command
func NewRootCmd(container *cli.Container) *cobra.Command {
	rootCmd := &cobra.Command{
		Version: container.AppConfig.Version.VersionText(),
		Use:     "clashtui",
		Short:   "Manage a mihomo proxy core and its subscription profiles",
		Long: `clashtui runs a background daemon that supervises a mihomo process,
keeps subscription profiles up to date, and applies the active profile
to the running core. The other subcommands talk to that daemon over a
unix socket.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("%s %s\n\n", container.AppConfig.Name, container.AppConfig.Version.VersionText())
			if !container.DaemonClient().IsDaemonRunning() {
				color.New(color.FgYellow).Println("Daemon is not running. Start it with 'clashtui daemon start'.")
				return nil
			}
			return cmd.Help()
		},
	}

	return rootCmd
}
