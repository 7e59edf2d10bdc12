package daemon

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/clashtui/clashtui/internal/config"
)

// Command handlers. Each runs on the serve goroutine, so handlers never
// execute concurrently; a handler must finish any downstream reload before
// returning so the reply reflects the fully-applied state.

func (d *Daemon) handleStatus(Request) Response {
	return okResponse(StatusData{
		MihomoRunning: d.supervisor.IsRunning(),
		MihomoPID:     d.supervisor.Pid(),
		ActiveProfile: d.store.ActiveName(),
	})
}

func (d *Daemon) handleProfileList(Request) Response {
	return okResponse(d.store.List())
}

func (d *Daemon) handleProfileAdd(req Request) Response {
	if err := d.store.Add(context.Background(), req.Name, req.URL); err != nil {
		return errResponse(err.Error())
	}
	return okResponse(nil)
}

func (d *Daemon) handleProfileUpdate(req Request) Response {
	wasActive, err := d.store.Update(context.Background(), req.Name)
	if err != nil {
		return errResponse(err.Error())
	}
	if wasActive {
		d.reloadMihomo()
	}
	return okResponse(nil)
}

func (d *Daemon) handleProfileDelete(req Request) Response {
	if err := d.store.Delete(req.Name); err != nil {
		return errResponse(err.Error())
	}
	return okResponse(nil)
}

func (d *Daemon) handleProfileSwitch(req Request) Response {
	if err := d.store.SwitchActive(req.Name); err != nil {
		return errResponse(err.Error())
	}
	if !d.reloadMihomo() {
		d.logger.Warn("profile switched but reload did not complete", zap.String("profile", req.Name))
	}
	return okResponse(nil)
}

func (d *Daemon) handleMihomoStart(Request) Response {
	binary := config.ExpandHome(d.cfg.Mihomo.BinaryPath)
	if binary == "" {
		return errResponse("mihomo binary path is not configured")
	}
	if _, err := os.Stat(binary); err != nil {
		return errResponse(fmt.Sprintf("mihomo binary not found: %s", binary))
	}

	if err := d.supervisor.Start(binary, []string{"-d", d.mihomoConfigDir()}); err != nil {
		return errResponse(fmt.Sprintf("Failed to start mihomo: %v", err))
	}

	d.waitForMihomo()
	return okResponse(nil)
}

func (d *Daemon) handleMihomoStop(Request) Response {
	d.supervisor.Stop()
	return okResponse(nil)
}

func (d *Daemon) handleMihomoRestart(Request) Response {
	if err := d.supervisor.Restart(); err != nil {
		return errResponse(fmt.Sprintf("Failed to restart mihomo: %v", err))
	}

	d.waitForMihomo()
	d.reloadMihomo()
	return okResponse(nil)
}
