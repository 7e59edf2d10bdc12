package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/clashtui/clashtui/cmd"
	"github.com/clashtui/clashtui/internal/cli"
)

var version = "0.0.1"
var commit = "none"
var date = "unknown"

func main() {
	// Initialize with build information
	container, err := cli.NewContainer(cli.InitOptions{
		Version: version,
		Commit:  commit,
		Date:    date,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error during initialization: %v\n", err)
		os.Exit(1)
	}

	log := container.Logger
	defer log.Sync()

	// setup commands
	rootCmd := cmd.NewRootCmd(container)
	rootCmd.AddCommand(
		cmd.NewSetupCmd(container),
		cmd.NewDaemonCmd(container),
		cmd.NewProfileCmd(container),
		cmd.NewMihomoCmd(container),
		cmd.NewProxyCmd(container),
		cmd.NewStatusCmd(container),
	)

	// execute the command
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		log.Error("command failed", zap.Error(err))
		log.Sync()
		os.Exit(1)
	}
}
