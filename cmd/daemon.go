package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/shirou/gopsutil/v3/process"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/clashtui/clashtui/internal/cli"
	"github.com/clashtui/clashtui/internal/config"
	"github.com/clashtui/clashtui/internal/daemon"
	"github.com/clashtui/clashtui/internal/filesystem"
	"github.com/clashtui/clashtui/internal/mihomo"
	"github.com/clashtui/clashtui/internal/profile"
	"github.com/clashtui/clashtui/internal/subscription"
	"github.com/clashtui/clashtui/internal/supervisor"
)

// NewDaemonCmd creates the daemon lifecycle command group.
func NewDaemonCmd(container *cli.Container) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Manage the clashtui daemon",
	}

	cmd.AddCommand(
		newDaemonStartCmd(container),
		newDaemonStopCmd(container),
		newDaemonStatusCmd(container),
	)

	return cmd
}

func newDaemonStartCmd(container *cli.Container) *cobra.Command {
	var foreground bool

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the clashtui daemon",
		Long:  `Starts the daemon process that supervises mihomo and listens for commands on a unix socket.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if foreground {
				return runDaemonForeground(container)
			}
			return startDaemonBackground(container)
		},
	}

	cmd.Flags().BoolVarP(&foreground, "foreground", "f", false, "Run daemon in foreground (don't detach)")

	return cmd
}

func startDaemonBackground(container *cli.Container) error {
	if container.DaemonClient().IsDaemonRunning() {
		color.New(color.FgYellow).Println("Daemon is already running")
		return nil
	}

	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	daemonCmd := exec.Command(execPath, "daemon", "start", "--foreground")
	daemonCmd.Stdin = nil
	daemonCmd.Stdout = nil
	daemonCmd.Stderr = nil
	daemonCmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := daemonCmd.Start(); err != nil {
		return fmt.Errorf("failed to start daemon process: %w", err)
	}
	pid := daemonCmd.Process.Pid
	// the child is detached; reap it from its own goroutine if it ever exits
	go daemonCmd.Wait()

	client := container.DaemonClient()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if client.IsDaemonRunning() {
			color.New(color.FgGreen).Printf("Daemon started (PID: %d), listening on %s\n", pid, config.SocketPath())
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	return fmt.Errorf("daemon process started (PID: %d) but never answered on %s", pid, config.SocketPath())
}

func runDaemonForeground(container *cli.Container) error {
	cfg := container.Config
	log := container.Logger
	defer log.Sync()

	if err := writePidFile(); err != nil {
		return err
	}
	defer os.Remove(pidFilePath())

	apiClient := mihomo.NewClient(cfg.API.Host, cfg.API.Port, cfg.API.Secret,
		time.Duration(cfg.API.TimeoutMS)*time.Millisecond)
	store := profile.NewStore(cfg, container.Paths[filesystem.ProfilesDirectory],
		subscription.NewDownloader(), log)
	sup := supervisor.New(log)

	d := daemon.New(cfg, store, sup, apiClient, log, config.SocketPath())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info("shutdown signal received", zap.String("signal", sig.String()))
		d.Stop()
	}()

	log.Info("daemon starting", zap.String("socket", config.SocketPath()), zap.Int("pid", os.Getpid()))
	return d.Run()
}

func newDaemonStopCmd(container *cli.Container) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the running clashtui daemon",
		Long:  `Signals the running daemon to shut down gracefully, stopping mihomo with it.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := readPidFile()
			if err != nil {
				if !container.DaemonClient().IsDaemonRunning() {
					color.New(color.FgYellow).Println("Daemon is not running")
					return nil
				}
				return fmt.Errorf("daemon is running but its pid file is unreadable: %w", err)
			}

			if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
				if err == syscall.ESRCH {
					os.Remove(pidFilePath())
					color.New(color.FgYellow).Println("Daemon is not running (removed stale pid file)")
					return nil
				}
				return fmt.Errorf("failed to signal daemon (PID: %d): %w", pid, err)
			}

			deadline := time.Now().Add(15 * time.Second)
			for time.Now().Before(deadline) {
				alive, err := process.PidExists(int32(pid))
				if err == nil && !alive {
					color.New(color.FgGreen).Println("Daemon stopped")
					return nil
				}
				time.Sleep(100 * time.Millisecond)
			}

			return fmt.Errorf("daemon (PID: %d) did not stop within 15s", pid)
		},
	}
}

func newDaemonStatusCmd(container *cli.Container) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check the status of the clashtui daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return renderStatus(container)
		},
	}
}

func pidFilePath() string {
	return filepath.Join(config.Dir(), "clashtui.pid")
}

func writePidFile() error {
	path := pidFilePath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create pid file directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		return fmt.Errorf("failed to write pid file: %w", err)
	}
	return nil
}

func readPidFile() (int, error) {
	data, err := os.ReadFile(pidFilePath())
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("malformed pid file %s: %w", pidFilePath(), err)
	}
	return pid, nil
}
