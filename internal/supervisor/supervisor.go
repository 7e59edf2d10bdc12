// Package supervisor owns the lifecycle of the one supervised mihomo
// subprocess: start, graceful stop, crash detection and optional
// auto-restart.
package supervisor

import (
	"fmt"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"github.com/clashtui/clashtui/internal/logger"
)

const (
	// GracefulStopTimeout is how long a SIGTERM'd child gets before SIGKILL.
	GracefulStopTimeout = 5 * time.Second

	stopPollInterval = 100 * time.Millisecond

	// RestartCooldown is the fixed delay before an auto-restart. Constant,
	// not exponential. TODO: make the cooldown configurable once the setup
	// command grows a daemon section.
	RestartCooldown = 3 * time.Second
)

// CrashHandler is invoked from the monitor goroutine when the child exits
// unexpectedly. It must not block.
type CrashHandler func(exitCode int)

// Supervisor manages at most one live child process. A new Start implicitly
// stops any previous instance first.
type Supervisor struct {
	mu     sync.Mutex
	binary string
	args   []string
	cmd    *exec.Cmd
	pid    int
	done   chan struct{}

	stopRequested atomic.Bool
	autoRestart   atomic.Bool

	onCrash CrashHandler
	logger  *logger.Logger
}

// New creates a Supervisor. Auto-restart starts disabled.
func New(log *logger.Logger) *Supervisor {
	if log == nil {
		log = logger.NewNop()
	}
	return &Supervisor{logger: log}
}

// OnCrash registers the handler invoked on unexpected child exit. Must be
// set before Start.
func (s *Supervisor) OnCrash(h CrashHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onCrash = h
}

// SetAutoRestart enables or disables restarting the child after a crash.
func (s *Supervisor) SetAutoRestart(enable bool) {
	s.autoRestart.Store(enable)
}

// Start launches the binary with the given arguments. Any previous child is
// stopped first. Start returns once the process is forked; readiness of the
// service inside is the control-plane client's concern.
func (s *Supervisor) Start(binary string, args []string) error {
	if s.IsRunning() {
		s.Stop()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.binary = binary
	s.args = args
	s.stopRequested.Store(false)
	return s.spawnLocked()
}

// spawnLocked forks the remembered binary and hands the instance to a
// monitor goroutine. Caller holds s.mu.
func (s *Supervisor) spawnLocked() error {
	cmd := exec.Command(s.binary, s.args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", s.binary, err)
	}

	done := make(chan struct{})
	s.cmd = cmd
	s.pid = cmd.Process.Pid
	s.done = done

	s.logger.Info("child process started", zap.String("binary", s.binary), zap.Int("pid", s.pid))

	go s.monitor(cmd, done)
	return nil
}

// monitor reaps the child and reacts to unexpected exits. One monitor runs
// per child instance.
func (s *Supervisor) monitor(cmd *exec.Cmd, done chan struct{}) {
	err := cmd.Wait()
	code := exitCode(err)

	s.mu.Lock()
	if s.cmd == cmd {
		s.cmd = nil
		s.pid = 0
	}
	handler := s.onCrash
	s.mu.Unlock()
	close(done)

	if s.stopRequested.Load() {
		return
	}

	s.logger.Warn("child process exited unexpectedly", zap.Int("exit_code", code))
	if handler != nil {
		handler(code)
	}

	if !s.autoRestart.Load() {
		return
	}

	// Fixed cooldown, checked in short quanta so a stop lands promptly.
	deadline := time.Now().Add(RestartCooldown)
	for time.Now().Before(deadline) {
		if s.stopRequested.Load() {
			return
		}
		time.Sleep(stopPollInterval)
	}
	if s.stopRequested.Load() {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd != nil || s.stopRequested.Load() {
		return
	}
	if err := s.spawnLocked(); err != nil {
		s.logger.Error("auto-restart failed", zap.Error(err))
	}
}

// Stop terminates the child: SIGTERM, a bounded grace window, then SIGKILL.
// Calling Stop with no child running is a no-op.
func (s *Supervisor) Stop() {
	s.stopRequested.Store(true)

	s.mu.Lock()
	cmd := s.cmd
	done := s.done
	s.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return
	}

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		// Already gone; the monitor will reap it.
		<-done
		return
	}

	select {
	case <-done:
		s.logger.Info("child process stopped gracefully")
		return
	case <-time.After(GracefulStopTimeout):
	}

	s.logger.Warn("child did not exit in time, sending SIGKILL")
	_ = cmd.Process.Kill()
	<-done
}

// Restart stops the child and starts it again with the remembered binary
// and arguments.
func (s *Supervisor) Restart() error {
	s.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.binary == "" {
		return fmt.Errorf("nothing to restart: no binary recorded")
	}
	s.stopRequested.Store(false)
	return s.spawnLocked()
}

// IsRunning reports whether a child pid is recorded and the process still
// exists. The probe does not reap the child.
func (s *Supervisor) IsRunning() bool {
	s.mu.Lock()
	pid := s.pid
	s.mu.Unlock()

	if pid <= 0 {
		return false
	}
	exists, err := process.PidExists(int32(pid))
	return err == nil && exists
}

// Pid returns the child's process id, or 0 when no child is running.
func (s *Supervisor) Pid() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pid
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode()
	}
	return -1
}
