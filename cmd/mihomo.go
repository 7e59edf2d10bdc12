package cmd

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/clashtui/clashtui/internal/cli"
	"github.com/clashtui/clashtui/internal/daemon"
)

// NewMihomoCmd creates a command to control the supervised mihomo process.
func NewMihomoCmd(container *cli.Container) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mihomo [start|stop|restart]",
		Short: "Control the mihomo process through the daemon",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			subcommand := strings.ToLower(args[0])
			if subcommand != "start" && subcommand != "stop" && subcommand != "restart" {
				return fmt.Errorf("invalid subcommand: %s (must be 'start', 'stop' or 'restart')", subcommand)
			}

			resp, err := container.DaemonClient().Send(daemon.Request{Cmd: "mihomo_" + subcommand})
			if err != nil {
				return err
			}
			if !resp.OK {
				return fmt.Errorf("%s", resp.Error)
			}

			color.New(color.FgGreen).Printf("mihomo %s: ok\n", subcommand)
			return nil
		},
	}

	cmd.Example = "  clashtui mihomo start    # Start mihomo\n" +
		"  clashtui mihomo stop     # Stop mihomo\n" +
		"  clashtui mihomo restart  # Restart mihomo and reapply the active profile"

	return cmd
}
