// Package profile implements the subscription profile catalog: one YAML
// document per profile under the profiles directory, plus a profiles.yaml
// metadata sequence describing them.
package profile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/clashtui/clashtui/internal/config"
	"github.com/clashtui/clashtui/internal/logger"
)

// Timestamps are local time without zone, matching the metadata documents
// written by earlier releases.
const timeLayout = "2006-01-02T15:04:05"

const metadataFileName = "profiles.yaml"

// Info describes one profile catalog entry. IsActive is derived from the
// daemon config's active pointer and never persisted per-profile.
type Info struct {
	Name                string `yaml:"name" json:"name"`
	Filename            string `yaml:"filename" json:"filename"`
	SourceURL           string `yaml:"source_url" json:"source_url"`
	LastUpdated         string `yaml:"last_updated" json:"last_updated"`
	AutoUpdate          bool   `yaml:"auto_update" json:"auto_update"`
	UpdateIntervalHours int    `yaml:"update_interval_hours" json:"update_interval_hours"`
	IsActive            bool   `yaml:"-" json:"is_active"`
}

// Downloader fetches subscription content. Satisfied by
// subscription.Downloader.
type Downloader interface {
	Download(ctx context.Context, url string) ([]byte, error)
}

// Store manages the profile catalog. Catalog state lives on disk and is
// re-read per operation; the mutex only serializes the command handlers
// against the auto-update loop.
type Store struct {
	mu         sync.Mutex
	cfg        *config.Config
	dir        string
	downloader Downloader
	logger     *logger.Logger
}

// NewStore creates a Store over the given profiles directory. The config
// holds the active-profile pointer and the deploy target path.
func NewStore(cfg *config.Config, dir string, downloader Downloader, log *logger.Logger) *Store {
	if log == nil {
		log = logger.NewNop()
	}
	return &Store{cfg: cfg, dir: dir, downloader: downloader, logger: log}
}

// Dir returns the profiles directory.
func (s *Store) Dir() string {
	return s.dir
}

// sanitizeFilename maps a profile name to a safe filename root: alphanumerics,
// '-' and '_' pass through, spaces become '_', everything else is dropped.
func sanitizeFilename(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			out = append(out, r)
		case r == ' ':
			out = append(out, '_')
		}
	}
	if len(out) == 0 {
		return "profile"
	}
	return string(out)
}

func (s *Store) metadataPath() string {
	return filepath.Join(s.dir, metadataFileName)
}

func (s *Store) loadMetadata() []Info {
	data, err := os.ReadFile(s.metadataPath())
	if err != nil {
		return nil
	}

	var profiles []Info
	if err := yaml.Unmarshal(data, &profiles); err != nil {
		s.logger.Warn("failed to parse profile metadata", zap.Error(err))
		return nil
	}
	return profiles
}

// saveMetadata rewrites profiles.yaml wholly and atomically: write to a
// temp file in the same directory, then rename over the original. A reader
// sees either the old or the new complete document, never a partial one.
func (s *Store) saveMetadata(profiles []Info) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create profiles directory: %w", err)
	}

	data, err := yaml.Marshal(profiles)
	if err != nil {
		return fmt.Errorf("failed to marshal profile metadata: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".profiles-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create temp metadata file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp metadata file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp metadata file: %w", err)
	}
	if err := os.Rename(tmpPath, s.metadataPath()); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace metadata file: %w", err)
	}
	return nil
}

// List returns all catalog entries with IsActive derived from the config's
// active pointer. The result is never nil.
func (s *Store) List() []Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	profiles := s.loadMetadata()
	out := make([]Info, 0, len(profiles))
	for _, p := range profiles {
		p.IsActive = p.Name == s.cfg.Profiles.Active
		out = append(out, p)
	}
	return out
}

// Add downloads the subscription at url and registers it under name.
func (s *Store) Add(ctx context.Context, name, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if name == "" {
		return fmt.Errorf("profile name cannot be empty")
	}
	if url == "" {
		return fmt.Errorf("URL cannot be empty")
	}

	existing := s.loadMetadata()
	for _, p := range existing {
		if p.Name == name {
			return fmt.Errorf("profile already exists: %s", name)
		}
	}

	content, err := s.downloader.Download(ctx, url)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("cannot create profiles directory: %w", err)
	}

	filename := sanitizeFilename(name) + ".yaml"
	if err := os.WriteFile(filepath.Join(s.dir, filename), content, 0o644); err != nil {
		return fmt.Errorf("failed to save profile file: %w", err)
	}

	existing = append(existing, Info{
		Name:                name,
		Filename:            filename,
		SourceURL:           url,
		LastUpdated:         time.Now().Format(timeLayout),
		AutoUpdate:          true,
		UpdateIntervalHours: 24,
	})

	if err := s.saveMetadata(existing); err != nil {
		return err
	}

	s.logger.Info("profile added", zap.String("name", name), zap.String("filename", filename))
	return nil
}

// Update re-downloads a profile from its stored source URL, overwriting the
// same file and bumping last_updated. It reports whether the updated profile
// is the currently active one so the caller knows a reload is needed.
func (s *Store) Update(ctx context.Context, name string) (wasActive bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wasActive = name == s.cfg.Profiles.Active

	profiles := s.loadMetadata()
	idx := -1
	for i, p := range profiles {
		if p.Name == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return wasActive, fmt.Errorf("profile not found: %s", name)
	}

	content, err := s.downloader.Download(ctx, profiles[idx].SourceURL)
	if err != nil {
		return wasActive, err
	}

	path := filepath.Join(s.dir, profiles[idx].Filename)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return wasActive, fmt.Errorf("failed to save profile file: %w", err)
	}

	profiles[idx].LastUpdated = time.Now().Format(timeLayout)
	if err := s.saveMetadata(profiles); err != nil {
		return wasActive, err
	}

	s.logger.Info("profile updated", zap.String("name", name), zap.Bool("was_active", wasActive))
	return wasActive, nil
}

// Delete removes a profile's file and catalog entry. A failure to remove
// the file does not block removing the entry. If the deleted profile was
// active, the active pointer is cleared.
func (s *Store) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	profiles := s.loadMetadata()
	idx := -1
	for i, p := range profiles {
		if p.Name == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("profile not found: %s", name)
	}

	if err := os.Remove(filepath.Join(s.dir, profiles[idx].Filename)); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("failed to remove profile file", zap.String("name", name), zap.Error(err))
	}

	profiles = append(profiles[:idx], profiles[idx+1:]...)
	if err := s.saveMetadata(profiles); err != nil {
		return err
	}

	if s.cfg.Profiles.Active == name {
		s.cfg.Profiles.Active = ""
		if err := s.cfg.Save(); err != nil {
			return fmt.Errorf("failed to clear active profile: %w", err)
		}
	}

	s.logger.Info("profile deleted", zap.String("name", name))
	return nil
}

// SwitchActive makes name the active profile. The profile must exist in the
// catalog and its file must exist on disk; on failure the stored pointer is
// left unchanged.
func (s *Store) SwitchActive(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	profiles := s.loadMetadata()
	var found *Info
	for i := range profiles {
		if profiles[i].Name == name {
			found = &profiles[i]
			break
		}
	}
	if found == nil {
		return fmt.Errorf("profile not found: %s", name)
	}

	path := filepath.Join(s.dir, found.Filename)
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("profile file missing: %s", found.Filename)
	}

	s.cfg.Profiles.Active = name
	if err := s.cfg.Save(); err != nil {
		return fmt.Errorf("failed to persist active profile: %w", err)
	}

	s.logger.Info("active profile switched", zap.String("name", name))
	return nil
}

// SetUpdateInterval sets the auto-update interval for a profile. Zero or
// negative hours disables auto-update.
func (s *Store) SetUpdateInterval(name string, hours int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	profiles := s.loadMetadata()
	for i := range profiles {
		if profiles[i].Name == name {
			profiles[i].AutoUpdate = hours > 0
			if hours < 0 {
				hours = 0
			}
			profiles[i].UpdateIntervalHours = hours
			return s.saveMetadata(profiles)
		}
	}
	return fmt.Errorf("profile not found: %s", name)
}

// ActiveName returns the name of the active profile, or "".
func (s *Store) ActiveName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Profiles.Active
}

// ActivePath returns the on-disk path of the active profile's document, or
// "" when no active profile is set or the catalog has no entry for it.
func (s *Store) ActivePath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activePathLocked()
}

func (s *Store) activePathLocked() string {
	name := s.cfg.Profiles.Active
	if name == "" {
		return ""
	}
	for _, p := range s.loadMetadata() {
		if p.Name == name {
			return filepath.Join(s.dir, p.Filename)
		}
	}
	return ""
}

// DeployActive copies the active profile's document over the supervised
// process's configuration path using the temp-then-rename discipline.
// Returns the deployed path, or "" on any failure.
func (s *Store) DeployActive() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	src := s.activePathLocked()
	if src == "" {
		return ""
	}

	content, err := os.ReadFile(src)
	if err != nil {
		s.logger.Warn("cannot read active profile", zap.String("path", src), zap.Error(err))
		return ""
	}

	target := config.ExpandHome(s.cfg.Mihomo.ConfigPath)
	if target == "" {
		return ""
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		s.logger.Warn("cannot create mihomo config directory", zap.Error(err))
		return ""
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".deploy-*.yaml")
	if err != nil {
		return ""
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return ""
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return ""
	}
	if err := os.Rename(tmpPath, target); err != nil {
		os.Remove(tmpPath)
		s.logger.Warn("failed to deploy active profile", zap.Error(err))
		return ""
	}

	s.logger.Info("active profile deployed", zap.String("target", target))
	return target
}

// DueForUpdate returns the names of profiles whose auto-update window has
// elapsed. An unparseable last_updated timestamp counts as due.
func (s *Store) DueForUpdate() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []string
	now := time.Now()

	for _, p := range s.loadMetadata() {
		if !p.AutoUpdate || p.SourceURL == "" {
			continue
		}

		last, err := time.ParseInLocation(timeLayout, p.LastUpdated, time.Local)
		if err != nil {
			due = append(due, p.Name)
			continue
		}
		if now.Sub(last).Hours() >= float64(p.UpdateIntervalHours) {
			due = append(due, p.Name)
		}
	}
	return due
}
