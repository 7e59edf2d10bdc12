package daemon

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clashtui/clashtui/internal/config"
	"github.com/clashtui/clashtui/internal/logger"
	"github.com/clashtui/clashtui/internal/profile"
	"github.com/clashtui/clashtui/internal/supervisor"
)

type fakeControlPlane struct {
	mu      sync.Mutex
	ready   bool
	reloads []string
}

func (f *fakeControlPlane) TestConnection(context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}

func (f *fakeControlPlane) ReloadConfig(_ context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reloads = append(f.reloads, path)
	return nil
}

func (f *fakeControlPlane) reloadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reloads)
}

type fakeDownloader struct {
	content []byte
}

func (f *fakeDownloader) Download(context.Context, string) ([]byte, error) {
	return f.content, nil
}

type testEnv struct {
	daemon *Daemon
	client *Client
	cfg    *config.Config
	cp     *fakeControlPlane
	base   string

	exited chan struct{}
	runErr *error
}

// startTestDaemon runs a daemon with no mihomo binary configured.
func startTestDaemon(t *testing.T) *testEnv {
	return startTestDaemonWith(t, nil)
}

// startTestDaemonWith runs a daemon, letting prepare adjust the config and
// seed the profile store before the daemon starts.
func startTestDaemonWith(t *testing.T, prepare func(base string, cfg *config.Config, store *profile.Store)) *testEnv {
	t.Helper()
	base := t.TempDir()

	cfg, err := config.LoadFrom(filepath.Join(base, "config.yaml"))
	require.NoError(t, err)
	cfg.Mihomo.BinaryPath = "" // nothing to supervise unless prepare says so
	cfg.Mihomo.ConfigPath = filepath.Join(base, "mihomo", "config.yaml")

	store := profile.NewStore(cfg, filepath.Join(base, "profiles"),
		&fakeDownloader{content: []byte("proxies: []\n")}, logger.NewNop())
	sup := supervisor.New(logger.NewNop())
	cp := &fakeControlPlane{ready: true}

	if prepare != nil {
		prepare(base, cfg, store)
	}

	socketPath := filepath.Join(base, "clashtui.sock")
	d := New(cfg, store, sup, cp, logger.NewNop(), socketPath)

	exited := make(chan struct{})
	var runErr error
	go func() {
		runErr = d.Run()
		close(exited)
	}()

	require.Eventually(t, func() bool {
		_, err := os.Stat(socketPath)
		return err == nil
	}, 2*time.Second, 20*time.Millisecond, "daemon socket never appeared")

	t.Cleanup(func() {
		d.Stop()
		select {
		case <-exited:
			assert.NoError(t, runErr)
		case <-time.After(5 * time.Second):
			t.Error("daemon did not shut down in time")
		}
	})

	return &testEnv{
		daemon: d, client: NewClient(socketPath), cfg: cfg, cp: cp, base: base,
		exited: exited, runErr: &runErr,
	}
}

// writeStubBinary drops an executable that just sleeps, standing in for the
// supervised mihomo process.
func writeStubBinary(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\nsleep 30\n"), 0o755))
}

func TestStatusEmpty(t *testing.T) {
	env := startTestDaemon(t)

	resp, err := env.client.Send(Request{Cmd: "status"})
	require.NoError(t, err)
	require.True(t, resp.OK)

	data := resp.Data.(map[string]interface{})
	assert.Equal(t, false, data["mihomo_running"])
	assert.Equal(t, "", data["active_profile"])
}

func TestProfileListEmptyIsArray(t *testing.T) {
	env := startTestDaemon(t)

	conn, err := net.Dial("unix", env.client.SocketPath)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte(`{"cmd":"profile_list"}` + "\n"))
	require.NoError(t, err)

	line, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, line, `"data":[]`)
	assert.Contains(t, line, `"ok":true`)
}

func TestUnknownCommand(t *testing.T) {
	env := startTestDaemon(t)

	resp, err := env.client.Send(Request{Cmd: "nonexistent_cmd"})
	require.NoError(t, err)
	assert.False(t, resp.OK)
	assert.Equal(t, "Unknown command: nonexistent_cmd", resp.Error)
}

func TestMalformedJSON(t *testing.T) {
	env := startTestDaemon(t)

	conn, err := net.Dial("unix", env.client.SocketPath)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("{this is not json\n"))
	require.NoError(t, err)

	line, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.Unmarshal([]byte(line), &resp))
	assert.False(t, resp.OK)
	assert.Contains(t, resp.Error, "Parse error")
}

func TestOversizedRequestDoesNotCrashServer(t *testing.T) {
	env := startTestDaemon(t)

	conn, err := net.Dial("unix", env.client.SocketPath)
	require.NoError(t, err)
	huge := append(bytes.Repeat([]byte("x"), 70*1024), '\n')
	conn.Write(huge)
	conn.Close()

	// server must still answer the next request
	resp, err := env.client.Send(Request{Cmd: "status"})
	require.NoError(t, err)
	assert.True(t, resp.OK)
}

func TestProfileAddValidation(t *testing.T) {
	env := startTestDaemon(t)

	resp, err := env.client.Send(Request{Cmd: "profile_add", Name: "", URL: "http://x"})
	require.NoError(t, err)
	assert.False(t, resp.OK)
	assert.NotEmpty(t, resp.Error)
}

func TestProfileAddThenList(t *testing.T) {
	env := startTestDaemon(t)

	resp, err := env.client.Send(Request{Cmd: "profile_add", Name: "work", URL: "http://example.com/sub"})
	require.NoError(t, err)
	require.True(t, resp.OK, "add failed: %s", resp.Error)

	resp, err = env.client.Send(Request{Cmd: "profile_list"})
	require.NoError(t, err)
	require.True(t, resp.OK)

	items := resp.Data.([]interface{})
	require.Len(t, items, 1)
	entry := items[0].(map[string]interface{})
	assert.Equal(t, "work", entry["name"])
	assert.Equal(t, "work.yaml", entry["filename"])
	assert.Equal(t, true, entry["auto_update"])
	assert.Equal(t, float64(24), entry["update_interval_hours"])
	assert.Equal(t, false, entry["is_active"])
}

func TestProfileSwitchDeploysAndReloads(t *testing.T) {
	env := startTestDaemon(t)

	resp, err := env.client.Send(Request{Cmd: "profile_add", Name: "work", URL: "http://example.com/sub"})
	require.NoError(t, err)
	require.True(t, resp.OK)

	resp, err = env.client.Send(Request{Cmd: "profile_switch", Name: "work"})
	require.NoError(t, err)
	require.True(t, resp.OK, "switch failed: %s", resp.Error)

	// reply must reflect the fully applied state
	assert.Equal(t, 1, env.cp.reloadCount())
	deployed := config.ExpandHome(env.cfg.Mihomo.ConfigPath)
	assert.Equal(t, deployed, env.cp.reloads[0])

	data, err := os.ReadFile(deployed)
	require.NoError(t, err)
	assert.Equal(t, "proxies: []\n", string(data))

	resp, err = env.client.Send(Request{Cmd: "status"})
	require.NoError(t, err)
	status := resp.Data.(map[string]interface{})
	assert.Equal(t, "work", status["active_profile"])
}

func TestProfileSwitchUnknown(t *testing.T) {
	env := startTestDaemon(t)

	resp, err := env.client.Send(Request{Cmd: "profile_switch", Name: "ghost"})
	require.NoError(t, err)
	assert.False(t, resp.OK)
	assert.Contains(t, resp.Error, "not found")
}

func TestProfileUpdateReloadsOnlyActive(t *testing.T) {
	env := startTestDaemon(t)

	for _, name := range []string{"a", "b"} {
		resp, err := env.client.Send(Request{Cmd: "profile_add", Name: name, URL: "http://example.com/" + name})
		require.NoError(t, err)
		require.True(t, resp.OK)
	}

	resp, err := env.client.Send(Request{Cmd: "profile_switch", Name: "a"})
	require.NoError(t, err)
	require.True(t, resp.OK)
	baseline := env.cp.reloadCount()

	resp, err = env.client.Send(Request{Cmd: "profile_update", Name: "b"})
	require.NoError(t, err)
	require.True(t, resp.OK)
	assert.Equal(t, baseline, env.cp.reloadCount(), "inactive profile update must not reload")

	resp, err = env.client.Send(Request{Cmd: "profile_update", Name: "a"})
	require.NoError(t, err)
	require.True(t, resp.OK)
	assert.Equal(t, baseline+1, env.cp.reloadCount(), "active profile update must reload")
}

func TestProfileDeleteClearsActive(t *testing.T) {
	env := startTestDaemon(t)

	resp, err := env.client.Send(Request{Cmd: "profile_add", Name: "work", URL: "http://example.com/sub"})
	require.NoError(t, err)
	require.True(t, resp.OK)

	resp, err = env.client.Send(Request{Cmd: "profile_switch", Name: "work"})
	require.NoError(t, err)
	require.True(t, resp.OK)

	resp, err = env.client.Send(Request{Cmd: "profile_delete", Name: "work"})
	require.NoError(t, err)
	require.True(t, resp.OK)

	resp, err = env.client.Send(Request{Cmd: "status"})
	require.NoError(t, err)
	status := resp.Data.(map[string]interface{})
	assert.Equal(t, "", status["active_profile"])

	resp, err = env.client.Send(Request{Cmd: "profile_list"})
	require.NoError(t, err)
	assert.Empty(t, resp.Data)
}

func TestMihomoStopIdempotent(t *testing.T) {
	env := startTestDaemon(t)

	for i := 0; i < 2; i++ {
		resp, err := env.client.Send(Request{Cmd: "mihomo_stop"})
		require.NoError(t, err)
		assert.True(t, resp.OK)
	}
}

func TestMihomoStartWithoutBinary(t *testing.T) {
	env := startTestDaemon(t)

	resp, err := env.client.Send(Request{Cmd: "mihomo_start"})
	require.NoError(t, err)
	assert.False(t, resp.OK)
}

func TestStopRemovesSocketFile(t *testing.T) {
	env := startTestDaemon(t)
	socketPath := env.client.SocketPath

	env.daemon.Stop()
	require.Eventually(t, func() bool {
		_, err := os.Stat(socketPath)
		return os.IsNotExist(err)
	}, 3*time.Second, 50*time.Millisecond)

	// Stop is idempotent
	env.daemon.Stop()
}

func TestStartupDeploysActiveProfile(t *testing.T) {
	env := startTestDaemonWith(t, func(base string, cfg *config.Config, store *profile.Store) {
		writeStubBinary(t, filepath.Join(base, "mihomo-bin"))
		cfg.Mihomo.BinaryPath = filepath.Join(base, "mihomo-bin")
		require.NoError(t, store.Add(context.Background(), "work", "http://example.com/sub"))
		require.NoError(t, store.SwitchActive("work"))
	})

	require.Eventually(t, func() bool {
		return env.cp.reloadCount() >= 1
	}, 5*time.Second, 50*time.Millisecond, "active profile was never applied at startup")

	deployed := config.ExpandHome(env.cfg.Mihomo.ConfigPath)
	env.cp.mu.Lock()
	first := env.cp.reloads[0]
	env.cp.mu.Unlock()
	assert.Equal(t, deployed, first)

	data, err := os.ReadFile(deployed)
	require.NoError(t, err)
	assert.Equal(t, "proxies: []\n", string(data))

	resp, err := env.client.Send(Request{Cmd: "status"})
	require.NoError(t, err)
	require.True(t, resp.OK)
	status := resp.Data.(map[string]interface{})
	assert.Equal(t, true, status["mihomo_running"])
	assert.Equal(t, "work", status["active_profile"])
}

func TestCommandStartedMihomoAutoRestartsAfterCrash(t *testing.T) {
	if testing.Short() {
		t.Skip("waits out the restart cooldown")
	}

	// binary is configured but not installed when the daemon comes up
	env := startTestDaemonWith(t, func(base string, cfg *config.Config, store *profile.Store) {
		cfg.Mihomo.BinaryPath = filepath.Join(base, "mihomo-bin")
	})

	writeStubBinary(t, env.cfg.Mihomo.BinaryPath)

	resp, err := env.client.Send(Request{Cmd: "mihomo_start"})
	require.NoError(t, err)
	require.True(t, resp.OK, "start failed: %s", resp.Error)

	resp, err = env.client.Send(Request{Cmd: "status"})
	require.NoError(t, err)
	require.True(t, resp.OK)
	status := resp.Data.(map[string]interface{})
	pid := int(status["mihomo_pid"].(float64))
	require.NotZero(t, pid)

	require.NoError(t, syscall.Kill(pid, syscall.SIGKILL))

	require.Eventually(t, func() bool {
		resp, err := env.client.Send(Request{Cmd: "status"})
		if err != nil || !resp.OK {
			return false
		}
		s := resp.Data.(map[string]interface{})
		newPid := int(s["mihomo_pid"].(float64))
		return s["mihomo_running"] == true && newPid != 0 && newPid != pid
	}, supervisor.RestartCooldown+5*time.Second, 100*time.Millisecond,
		"crashed child was never restarted")
}

func TestRunExitsWhenListenerFails(t *testing.T) {
	env := startTestDaemon(t)

	// an unexpected listener failure must still unwind the whole daemon
	require.NoError(t, env.daemon.listener.Close())

	select {
	case <-env.exited:
		assert.NoError(t, *env.runErr)
	case <-time.After(3 * time.Second):
		t.Fatal("daemon did not shut down after listener failure")
	}
}

func TestIsDaemonRunning(t *testing.T) {
	env := startTestDaemon(t)
	assert.True(t, env.client.IsDaemonRunning())

	other := NewClient(filepath.Join(t.TempDir(), "missing.sock"))
	assert.False(t, other.IsDaemonRunning())
}
