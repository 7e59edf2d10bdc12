// Package filesystem bootstraps the on-disk layout owned by the daemon.
package filesystem

import (
	"os"
	"path/filepath"

	"github.com/clashtui/clashtui/internal/config"
)

type PathType string

const (
	AppDirectory      PathType = "app"
	ProfilesDirectory PathType = "profiles"
	MihomoDirectory   PathType = "mihomo"
	LogsDirectory     PathType = "logs"
	LogsFilePath      PathType = "log_file"
	ConfigFilePath    PathType = "config_file"
)

// Filesystem creates and resolves the directories the application owns.
type Filesystem struct {
	baseDir string
}

// NewAppFilesystem returns a Filesystem rooted at the default config
// directory.
func NewAppFilesystem() *Filesystem {
	return &Filesystem{baseDir: config.Dir()}
}

// NewFilesystemAt returns a Filesystem rooted at an explicit directory.
// Used by tests.
func NewFilesystemAt(baseDir string) *Filesystem {
	return &Filesystem{baseDir: baseDir}
}

// EnsureAllPaths creates every directory the daemon needs and returns the
// resolved paths.
func (s *Filesystem) EnsureAllPaths() (map[PathType]string, error) {
	paths := map[PathType]string{}

	if s.baseDir == "" {
		return paths, os.ErrNotExist
	}
	if err := os.MkdirAll(s.baseDir, 0o755); err != nil {
		return paths, err
	}
	paths[AppDirectory] = s.baseDir

	profilesDir := filepath.Join(s.baseDir, "profiles")
	if err := os.MkdirAll(profilesDir, 0o755); err != nil {
		return paths, err
	}
	paths[ProfilesDirectory] = profilesDir

	mihomoDir := filepath.Join(s.baseDir, "mihomo")
	if err := os.MkdirAll(mihomoDir, 0o755); err != nil {
		return paths, err
	}
	paths[MihomoDirectory] = mihomoDir

	logsDir := filepath.Join(s.baseDir, "logs")
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return paths, err
	}
	paths[LogsDirectory] = logsDir
	paths[LogsFilePath] = filepath.Join(logsDir, "clashtui.log")

	paths[ConfigFilePath] = filepath.Join(s.baseDir, "config.yaml")

	return paths, nil
}
