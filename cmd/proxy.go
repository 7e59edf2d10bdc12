package cmd

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/clashtui/clashtui/internal/cli"
	"github.com/clashtui/clashtui/internal/mihomo"
)

const defaultDelayTestURL = "http://www.gstatic.com/generate_204"

// NewProxyCmd creates proxy inspection commands. These talk to mihomo's API
// directly, so they work even when the daemon is down and mihomo is managed
// externally.
func NewProxyCmd(container *cli.Container) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "proxy",
		Short: "Inspect and control proxy groups on the running mihomo",
	}

	cmd.AddCommand(
		newProxyGroupsCmd(container),
		newProxySelectCmd(container),
		newProxyModeCmd(container),
		newProxyDelayCmd(container),
		newProxyConnectionsCmd(container),
	)

	return cmd
}

func apiClient(container *cli.Container) *mihomo.Client {
	cfg := container.Config
	return mihomo.NewClient(cfg.API.Host, cfg.API.Port, cfg.API.Secret,
		time.Duration(cfg.API.TimeoutMS)*time.Millisecond)
}

func newProxyGroupsCmd(container *cli.Container) *cobra.Command {
	return &cobra.Command{
		Use:   "groups",
		Short: "List proxy groups and their current selection",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := apiClient(container)

			groups, err := client.GetProxyGroups(cmd.Context())
			if err != nil {
				return fmt.Errorf("cannot reach mihomo API: %w", err)
			}
			if len(groups) == 0 {
				fmt.Println("No selectable proxy groups.")
				return nil
			}

			names := make([]string, 0, len(groups))
			for name := range groups {
				names = append(names, name)
			}
			sort.Strings(names)

			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"Group", "Type", "Selected", "Nodes"})
			table.SetBorder(false)
			table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
			for _, name := range names {
				g := groups[name]
				table.Append([]string{g.Name, g.Type, g.Now, strconv.Itoa(len(g.All))})
			}
			table.Render()
			return nil
		},
	}
}

func newProxySelectCmd(container *cli.Container) *cobra.Command {
	return &cobra.Command{
		Use:   "select <group> <proxy>",
		Short: "Select a proxy inside a group",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := apiClient(container).SelectProxy(cmd.Context(), args[0], args[1]); err != nil {
				return fmt.Errorf("failed to select %q in %q: %w", args[1], args[0], err)
			}
			color.New(color.FgGreen).Printf("%s -> %s\n", args[0], args[1])
			return nil
		},
	}
}

func newProxyModeCmd(container *cli.Container) *cobra.Command {
	return &cobra.Command{
		Use:   "mode [rule|global|direct]",
		Short: "Show or change the proxy mode",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := apiClient(container)

			if len(args) == 0 {
				cfg, err := client.GetConfig(cmd.Context())
				if err != nil {
					return fmt.Errorf("cannot reach mihomo API: %w", err)
				}
				fmt.Println(cfg.Mode)
				return nil
			}

			mode := args[0]
			switch mode {
			case "rule", "global", "direct":
			default:
				return fmt.Errorf("invalid mode: %s (must be 'rule', 'global' or 'direct')", mode)
			}
			if err := client.SetMode(cmd.Context(), mode); err != nil {
				return fmt.Errorf("failed to set mode: %w", err)
			}
			color.New(color.FgGreen).Printf("mode set to %s\n", mode)
			return nil
		},
	}
}

func newProxyDelayCmd(container *cli.Container) *cobra.Command {
	var testURL string
	var timeoutMS int

	cmd := &cobra.Command{
		Use:   "delay <proxy>",
		Short: "Measure a proxy's latency",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Duration(timeoutMS)*time.Millisecond+5*time.Second)
			defer cancel()

			delay, err := apiClient(container).TestDelay(ctx, args[0], testURL, time.Duration(timeoutMS)*time.Millisecond)
			if err != nil {
				return fmt.Errorf("delay test failed for %q: %w", args[0], err)
			}
			fmt.Printf("%s: %dms\n", args[0], delay)
			return nil
		},
	}

	cmd.Flags().StringVar(&testURL, "url", defaultDelayTestURL, "URL used for the latency probe")
	cmd.Flags().IntVar(&timeoutMS, "timeout", 5000, "Probe timeout in milliseconds")

	return cmd
}

func newProxyConnectionsCmd(container *cli.Container) *cobra.Command {
	var closeAll bool

	cmd := &cobra.Command{
		Use:   "connections",
		Short: "Show live connection stats, or close all connections",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := apiClient(container)

			if closeAll {
				if err := client.CloseAllConnections(cmd.Context()); err != nil {
					return fmt.Errorf("failed to close connections: %w", err)
				}
				color.New(color.FgGreen).Println("All connections closed")
				return nil
			}

			stats, err := client.GetConnections(cmd.Context())
			if err != nil {
				return fmt.Errorf("cannot reach mihomo API: %w", err)
			}
			fmt.Printf("active: %d\nupload: %s\ndownload: %s\n",
				stats.Active, formatBytes(stats.UploadTotal), formatBytes(stats.DownloadTotal))
			return nil
		},
	}

	cmd.Flags().BoolVar(&closeAll, "close", false, "Close all live connections")

	return cmd
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
