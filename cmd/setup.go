package cmd

import (
	"fmt"
	"strconv"

	"github.com/AlecAivazis/survey/v2"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/clashtui/clashtui/internal/cli"
)

// NewSetupCmd creates an interactive configuration command.
func NewSetupCmd(container *cli.Container) *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Configure clashtui with a guided setup",
		Long:  `Asks a few questions about your mihomo installation and writes the answers to the configuration file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := container.Config

			var binaryPath string
			promptBinary := &survey.Input{
				Message: "Path to the mihomo binary:",
				Help:    "The executable the daemon will start and supervise",
				Default: cfg.Mihomo.BinaryPath,
			}
			if err := survey.AskOne(promptBinary, &binaryPath); err != nil {
				return err
			}
			cfg.Mihomo.BinaryPath = binaryPath

			var host string
			promptHost := &survey.Input{
				Message: "mihomo API host:",
				Default: cfg.API.Host,
			}
			if err := survey.AskOne(promptHost, &host); err != nil {
				return err
			}
			cfg.API.Host = host

			var portStr string
			promptPort := &survey.Input{
				Message: "mihomo API port:",
				Default: strconv.Itoa(cfg.API.Port),
			}
			if err := survey.AskOne(promptPort, &portStr); err != nil {
				return err
			}
			port, err := strconv.Atoi(portStr)
			if err != nil || port < 1 || port > 65535 {
				return fmt.Errorf("invalid port: %s", portStr)
			}
			cfg.API.Port = port

			var secret string
			promptSecret := &survey.Password{
				Message: "mihomo API secret (empty for none):",
				Help:    "Sent as a bearer token on every API request",
			}
			if cfg.API.Secret != "" {
				color.Yellow("API secret is already set. Press Enter to keep the existing secret or enter a new one.")
			}
			if err := survey.AskOne(promptSecret, &secret); err != nil {
				return err
			}
			if secret != "" {
				cfg.API.Secret = secret
			}

			if err := cfg.Save(); err != nil {
				return fmt.Errorf("failed to save configuration: %w", err)
			}

			color.New(color.FgGreen).Printf("Configuration saved to %s\n", cfg.FilePath())
			color.New(color.FgCyan).Println("Run 'clashtui daemon start' to start the daemon.")
			return nil
		},
	}
}
