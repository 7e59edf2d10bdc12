package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/clashtui/clashtui/internal/cli"
	"github.com/clashtui/clashtui/internal/daemon"
)

// NewStatusCmd creates a command showing daemon and mihomo state in one table.
func NewStatusCmd(container *cli.Container) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon and mihomo status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return renderStatus(container)
		},
	}
}

func renderStatus(container *cli.Container) error {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Component", "Status", "Details"})
	table.SetBorder(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetColumnAlignment([]int{tablewriter.ALIGN_LEFT, tablewriter.ALIGN_LEFT, tablewriter.ALIGN_LEFT})
	table.SetHeaderColor(
		tablewriter.Colors{tablewriter.Bold, tablewriter.FgCyanColor},
		tablewriter.Colors{tablewriter.Bold, tablewriter.FgCyanColor},
		tablewriter.Colors{tablewriter.Bold, tablewriter.FgCyanColor},
	)

	green := []tablewriter.Colors{{}, {tablewriter.Bold, tablewriter.FgGreenColor}, {}}
	red := []tablewriter.Colors{{}, {tablewriter.Bold, tablewriter.FgRedColor}, {}}

	status, err := fetchStatus(container.DaemonClient())
	if err != nil {
		table.Rich([]string{"Daemon", "Not running", "-"}, red)
		table.Render()
		fmt.Println("\nStart it with 'clashtui daemon start'.")
		return nil
	}

	table.Rich([]string{"Daemon", "Running", "-"}, green)

	if status.MihomoRunning {
		table.Rich([]string{"Mihomo", "Running", "PID " + strconv.Itoa(status.MihomoPID)}, green)
	} else {
		table.Rich([]string{"Mihomo", "Stopped", "-"}, red)
	}

	activeDetails := status.ActiveProfile
	if activeDetails == "" {
		activeDetails = "-"
	}
	table.Rich([]string{"Active profile", activeDetails, "-"}, []tablewriter.Colors{{}, {tablewriter.Bold}, {}})

	table.Render()
	return nil
}

// fetchStatus queries the daemon and decodes the status payload.
func fetchStatus(client *daemon.Client) (*daemon.StatusData, error) {
	resp, err := client.Send(daemon.Request{Cmd: "status"})
	if err != nil {
		return nil, err
	}
	if !resp.OK {
		return nil, fmt.Errorf("daemon error: %s", resp.Error)
	}

	raw, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, err
	}
	var status daemon.StatusData
	if err := json.Unmarshal(raw, &status); err != nil {
		return nil, fmt.Errorf("malformed status payload: %w", err)
	}
	return &status, nil
}
