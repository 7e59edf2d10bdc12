// Package daemon implements the clashtui background daemon: the unix-socket
// command server, the auto-update loop, and the wiring between the profile
// store, the process supervisor and mihomo's control plane.
package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/clashtui/clashtui/internal/config"
	"github.com/clashtui/clashtui/internal/logger"
	"github.com/clashtui/clashtui/internal/profile"
	"github.com/clashtui/clashtui/internal/supervisor"
)

const (
	// maxRequestBytes caps a single request line to block abuse.
	maxRequestBytes = 64 * 1024

	acceptDeadline     = 500 * time.Millisecond
	connReadTimeout    = 10 * time.Second
	connWriteTimeout   = 10 * time.Second
	readinessTimeout   = 10 * time.Second
	readinessInterval  = 100 * time.Millisecond
	autoUpdateInterval = time.Minute
)

// ControlPlane is the part of mihomo's API the daemon consumes. Satisfied
// by *mihomo.Client.
type ControlPlane interface {
	TestConnection(ctx context.Context) bool
	ReloadConfig(ctx context.Context, path string) error
}

type handlerFunc func(req Request) Response

// Daemon is the long-running process owning the command socket, the
// supervised mihomo child and the profile catalog.
type Daemon struct {
	cfg        *config.Config
	store      *profile.Store
	supervisor *supervisor.Supervisor
	client     ControlPlane
	logger     *logger.Logger

	socketPath string
	listener   *net.UnixListener
	handlers   map[string]handlerFunc

	stopOnce sync.Once
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New wires a Daemon from its collaborators.
func New(cfg *config.Config, store *profile.Store, sup *supervisor.Supervisor, client ControlPlane, log *logger.Logger, socketPath string) *Daemon {
	if log == nil {
		log = logger.NewNop()
	}
	d := &Daemon{
		cfg:        cfg,
		store:      store,
		supervisor: sup,
		client:     client,
		logger:     log,
		socketPath: socketPath,
		stopChan:   make(chan struct{}),
	}
	d.handlers = map[string]handlerFunc{
		"status":         d.handleStatus,
		"profile_list":   d.handleProfileList,
		"profile_add":    d.handleProfileAdd,
		"profile_update": d.handleProfileUpdate,
		"profile_delete": d.handleProfileDelete,
		"profile_switch": d.handleProfileSwitch,
		"mihomo_start":   d.handleMihomoStart,
		"mihomo_stop":    d.handleMihomoStop,
		"mihomo_restart": d.handleMihomoRestart,
	}
	return d
}

// Run executes the daemon until Stop is called: bind the socket, start
// mihomo if configured, deploy the active profile, then serve commands.
// Only a bind failure is returned as an error.
func (d *Daemon) Run() error {
	if err := d.listen(); err != nil {
		return err
	}

	// Self-healing applies to any child started during this daemon's
	// lifetime, including one started later via mihomo_start.
	d.supervisor.SetAutoRestart(true)

	d.startMihomoIfConfigured()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.autoUpdateLoop()
	}()

	d.serve()

	d.wg.Wait()
	d.supervisor.Stop()
	d.cleanupSocket()
	d.logger.Info("daemon stopped")
	return nil
}

// Stop requests a graceful shutdown. It only closes a channel, so it is
// safe to call from a signal handler and is idempotent.
func (d *Daemon) Stop() {
	d.stopOnce.Do(func() {
		close(d.stopChan)
	})
}

func (d *Daemon) listen() error {
	if err := os.MkdirAll(filepath.Dir(d.socketPath), 0o755); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}

	// A previous instance may have left a stale socket behind.
	if err := os.Remove(d.socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove stale socket %s: %w", d.socketPath, err)
	}

	ln, err := net.Listen("unix", d.socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", d.socketPath, err)
	}
	d.listener = ln.(*net.UnixListener)

	if err := os.Chmod(d.socketPath, 0o600); err != nil {
		d.listener.Close()
		os.Remove(d.socketPath)
		return fmt.Errorf("failed to restrict socket permissions: %w", err)
	}

	d.logger.Info("listening on command socket", zap.String("path", d.socketPath))
	return nil
}

func (d *Daemon) startMihomoIfConfigured() {
	binary := config.ExpandHome(d.cfg.Mihomo.BinaryPath)
	if binary == "" {
		return
	}
	if _, err := os.Stat(binary); err != nil {
		d.logger.Warn("mihomo binary not found, skipping startup", zap.String("binary", binary))
		return
	}

	if err := d.supervisor.Start(binary, []string{"-d", d.mihomoConfigDir()}); err != nil {
		d.logger.Error("failed to start mihomo", zap.Error(err))
		return
	}

	if d.supervisor.IsRunning() {
		d.waitForMihomo()
		if deployed := d.store.DeployActive(); deployed != "" {
			ctx, cancel := context.WithTimeout(context.Background(), readinessTimeout)
			if err := d.client.ReloadConfig(ctx, deployed); err != nil {
				d.logger.Warn("initial profile reload failed", zap.Error(err))
			}
			cancel()
		}
	}
}

func (d *Daemon) mihomoConfigDir() string {
	return filepath.Dir(config.ExpandHome(d.cfg.Mihomo.ConfigPath))
}

// serve accepts one connection at a time and handles it fully before
// accepting the next. Commands therefore never interleave; the short accept
// deadline keeps shutdown responsive.
func (d *Daemon) serve() {
	// If the accept loop dies for any reason, the auto-update goroutine must
	// still be released or Run would never return.
	defer d.Stop()

	for {
		select {
		case <-d.stopChan:
			return
		default:
		}

		if err := d.listener.SetDeadline(time.Now().Add(acceptDeadline)); err != nil {
			d.logger.Error("failed to set accept deadline", zap.Error(err))
			return
		}

		conn, err := d.listener.Accept()
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			d.logger.Error("accept failed", zap.Error(err))
			time.Sleep(100 * time.Millisecond)
			continue
		}

		d.handleConnection(conn)
	}
}

// handleConnection reads exactly one request line, dispatches it, writes
// one response line, and closes the connection.
func (d *Daemon) handleConnection(conn net.Conn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(connReadTimeout))
	reader := bufio.NewReaderSize(io.LimitReader(conn, maxRequestBytes), 4096)

	line, err := reader.ReadBytes('\n')
	if err != nil && len(line) == 0 {
		return
	}

	resp := d.dispatch(line)

	payload, err := json.Marshal(resp)
	if err != nil {
		d.logger.Error("failed to marshal response", zap.Error(err))
		payload = []byte(`{"ok":false,"error":"internal error"}`)
	}
	payload = append(payload, '\n')

	conn.SetWriteDeadline(time.Now().Add(connWriteTimeout))
	if _, err := conn.Write(payload); err != nil {
		d.logger.Warn("failed to write response", zap.Error(err))
	}
}

// dispatch parses one request line and routes it through the command table.
// A bad request never crashes the daemon; it becomes an error response.
func (d *Daemon) dispatch(line []byte) Response {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return errResponse(fmt.Sprintf("Parse error: %v", err))
	}

	handler, ok := d.handlers[req.Cmd]
	if !ok {
		return errResponse(fmt.Sprintf("Unknown command: %s", req.Cmd))
	}

	d.logger.Debug("dispatching command", zap.String("cmd", req.Cmd), zap.String("name", req.Name))
	return handler(req)
}

// waitForMihomo polls the control plane until it answers or the bounded
// wait elapses.
func (d *Daemon) waitForMihomo() bool {
	deadline := time.Now().Add(readinessTimeout)
	for time.Now().Before(deadline) {
		select {
		case <-d.stopChan:
			return false
		default:
		}

		ctx, cancel := context.WithTimeout(context.Background(), readinessInterval*5)
		ready := d.client.TestConnection(ctx)
		cancel()
		if ready {
			return true
		}
		time.Sleep(readinessInterval)
	}
	return false
}

// reloadMihomo deploys the active profile and asks mihomo to load it.
func (d *Daemon) reloadMihomo() bool {
	deployed := d.store.DeployActive()
	if deployed == "" {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), readinessTimeout)
	defer cancel()
	if err := d.client.ReloadConfig(ctx, deployed); err != nil {
		d.logger.Warn("mihomo reload failed", zap.Error(err))
		return false
	}
	return true
}

// autoUpdateLoop periodically refreshes profiles whose update window has
// elapsed, reloading mihomo whenever the active one changed.
func (d *Daemon) autoUpdateLoop() {
	for {
		select {
		case <-d.stopChan:
			return
		case <-time.After(autoUpdateInterval):
		}

		for _, name := range d.store.DueForUpdate() {
			select {
			case <-d.stopChan:
				return
			default:
			}

			wasActive, err := d.store.Update(context.Background(), name)
			if err != nil {
				d.logger.Warn("auto-update failed", zap.String("profile", name), zap.Error(err))
				continue
			}
			d.logger.Info("profile auto-updated", zap.String("profile", name))
			if wasActive {
				d.reloadMihomo()
			}
		}
	}
}

func (d *Daemon) cleanupSocket() {
	if d.listener != nil {
		d.listener.Close()
	}
	if err := os.Remove(d.socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		d.logger.Warn("failed to remove socket file", zap.Error(err))
	}
}
