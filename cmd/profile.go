package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/clashtui/clashtui/internal/cli"
	"github.com/clashtui/clashtui/internal/daemon"
	"github.com/clashtui/clashtui/internal/profile"
)

// NewProfileCmd creates the profile management command group.
func NewProfileCmd(container *cli.Container) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Manage subscription profiles",
	}

	cmd.AddCommand(
		newProfileAddCmd(container),
		newProfileListCmd(container),
		newProfileUpdateCmd(container),
		newProfileDeleteCmd(container),
		newProfileSwitchCmd(container),
	)

	return cmd
}

func newProfileAddCmd(container *cli.Container) *cobra.Command {
	return &cobra.Command{
		Use:   "add <name> <url>",
		Short: "Download a subscription and add it as a profile",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := sendProfileCommand(container, daemon.Request{Cmd: "profile_add", Name: args[0], URL: args[1]}); err != nil {
				return err
			}
			color.New(color.FgGreen).Printf("Profile %q added\n", args[0])
			return nil
		},
	}
}

func newProfileListCmd(container *cli.Container) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := container.DaemonClient().Send(daemon.Request{Cmd: "profile_list"})
			if err != nil {
				return err
			}
			if !resp.OK {
				return fmt.Errorf("daemon error: %s", resp.Error)
			}

			raw, err := json.Marshal(resp.Data)
			if err != nil {
				return err
			}
			var profiles []profile.Info
			if err := json.Unmarshal(raw, &profiles); err != nil {
				return fmt.Errorf("malformed profile list: %w", err)
			}

			if len(profiles) == 0 {
				fmt.Println("No profiles. Add one with 'clashtui profile add <name> <url>'.")
				return nil
			}

			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"Name", "Active", "Auto Update", "Interval (h)", "Last Updated"})
			table.SetBorder(false)
			table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)

			for _, p := range profiles {
				active := ""
				if p.IsActive {
					active = "*"
				}
				autoUpdate := "no"
				if p.AutoUpdate {
					autoUpdate = "yes"
				}
				lastUpdated := p.LastUpdated
				if lastUpdated == "" {
					lastUpdated = "-"
				}
				table.Append([]string{p.Name, active, autoUpdate, strconv.Itoa(p.UpdateIntervalHours), lastUpdated})
			}

			table.Render()
			return nil
		},
	}
}

func newProfileUpdateCmd(container *cli.Container) *cobra.Command {
	return &cobra.Command{
		Use:   "update <name>",
		Short: "Re-download a profile from its subscription URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := sendProfileCommand(container, daemon.Request{Cmd: "profile_update", Name: args[0]}); err != nil {
				return err
			}
			color.New(color.FgGreen).Printf("Profile %q updated\n", args[0])
			return nil
		},
	}
}

func newProfileDeleteCmd(container *cli.Container) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a profile and its downloaded file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := sendProfileCommand(container, daemon.Request{Cmd: "profile_delete", Name: args[0]}); err != nil {
				return err
			}
			color.New(color.FgGreen).Printf("Profile %q deleted\n", args[0])
			return nil
		},
	}
}

func newProfileSwitchCmd(container *cli.Container) *cobra.Command {
	return &cobra.Command{
		Use:   "switch <name>",
		Short: "Make a profile active and apply it to mihomo",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := sendProfileCommand(container, daemon.Request{Cmd: "profile_switch", Name: args[0]}); err != nil {
				return err
			}
			color.New(color.FgGreen).Printf("Switched to profile %q\n", args[0])
			return nil
		},
	}
}

func sendProfileCommand(container *cli.Container, req daemon.Request) error {
	resp, err := container.DaemonClient().Send(req)
	if err != nil {
		return err
	}
	if !resp.OK {
		return fmt.Errorf("%s", resp.Error)
	}
	return nil
}
