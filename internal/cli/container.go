// Package cli wires the application dependencies shared by every command.
package cli

import (
	"fmt"

	"github.com/clashtui/clashtui/internal/config"
	"github.com/clashtui/clashtui/internal/daemon"
	"github.com/clashtui/clashtui/internal/filesystem"
	"github.com/clashtui/clashtui/internal/logger"
)

// Container holds all application dependencies
type Container struct {
	AppConfig  *config.AppConfig
	Config     *config.Config
	Filesystem *filesystem.Filesystem
	Paths      map[filesystem.PathType]string
	Logger     *logger.Logger
}

// InitOptions contains options for initialization
type InitOptions struct {
	Version    string
	Commit     string
	Date       string
	LogLevel   logger.LogLevel
	UseConsole bool
}

// NewContainer creates and initializes all application dependencies
func NewContainer(opts InitOptions) (*Container, error) {
	if opts.Version == "" {
		return nil, fmt.Errorf("version is required")
	}
	if opts.Commit == "" {
		return nil, fmt.Errorf("commit is required")
	}
	if opts.Date == "" {
		return nil, fmt.Errorf("date is required")
	}
	if opts.LogLevel == "" {
		opts.LogLevel = logger.InfoLevel
	}

	container := &Container{
		AppConfig: &config.AppConfig{
			Name: "clashtui",
			Version: config.Version{
				Version: opts.Version,
				Commit:  opts.Commit,
				Date:    opts.Date,
			},
		},
	}

	container.Filesystem = filesystem.NewAppFilesystem()

	var err error
	container.Paths, err = container.Filesystem.EnsureAllPaths()
	if err != nil {
		return nil, fmt.Errorf("failed to ensure all application paths: %w", err)
	}

	container.Config, err = config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	container.Logger, err = logger.NewLogger(logger.Config{
		FilePath:   container.Paths[filesystem.LogsFilePath],
		LogLevel:   opts.LogLevel,
		UseConsole: opts.UseConsole,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return container, nil
}

// DaemonClient returns a client bound to the daemon's command socket.
func (c *Container) DaemonClient() *daemon.Client {
	return daemon.NewClient(config.SocketPath())
}
