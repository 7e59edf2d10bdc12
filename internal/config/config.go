package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// APIConfig holds the connection settings for mihomo's external controller.
type APIConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	Secret    string `yaml:"secret,omitempty"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

// DisplayConfig holds user-facing presentation settings.
type DisplayConfig struct {
	Language string `yaml:"language"`
	Theme    string `yaml:"theme"`
}

// MihomoConfig describes the supervised mihomo installation.
type MihomoConfig struct {
	ConfigPath  string `yaml:"config_path"`
	BinaryPath  string `yaml:"binary_path"`
	ServiceName string `yaml:"service_name"`
}

// ProfilesConfig holds the single active-profile pointer. The profile
// catalog itself lives in profiles/profiles.yaml, not here.
type ProfilesConfig struct {
	Active string `yaml:"active"`
}

// ProxyConfig remembers the shell proxy on/off state between sessions.
type ProxyConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Config is the daemon's persisted configuration document.
type Config struct {
	API      APIConfig      `yaml:"api"`
	Display  DisplayConfig  `yaml:"display"`
	Mihomo   MihomoConfig   `yaml:"mihomo"`
	Profiles ProfilesConfig `yaml:"profiles"`
	Proxy    ProxyConfig    `yaml:"proxy"`

	path string
}

// Default returns a Config populated with default values, bound to the
// default config file path.
func Default() *Config {
	return &Config{
		API: APIConfig{
			Host:      "127.0.0.1",
			Port:      9090,
			TimeoutMS: 5000,
		},
		Display: DisplayConfig{
			Language: "en",
			Theme:    "default",
		},
		Mihomo: MihomoConfig{
			ConfigPath:  DefaultMihomoConfigPath(),
			BinaryPath:  "/usr/local/bin/mihomo",
			ServiceName: "mihomo",
		},
		path: Path(),
	}
}

// Load reads the configuration from the default path. A missing file is not
// an error; defaults are returned so first runs work without a setup step.
func Load() (*Config, error) {
	return LoadFrom(Path())
}

// LoadFrom reads the configuration from an explicit path, binding future
// saves to that path.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()
	cfg.path = path

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the configuration atomically: the document goes to a temp
// file in the same directory and is renamed over the original, so readers
// never observe a partial write.
func (c *Config) Save() error {
	if c.path == "" {
		c.path = Path()
	}
	if c.path == "" {
		return fmt.Errorf("cannot determine config path")
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(c.path), ".config-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create temp config file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp config file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp config file: %w", err)
	}
	if err := os.Rename(tmpPath, c.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace config file: %w", err)
	}
	return nil
}

// FilePath returns the path this config is bound to.
func (c *Config) FilePath() string {
	return c.path
}

// IsPrivileged reports whether the process runs as root. Privileged runs
// use the system config directory so a root daemon and its clients agree
// on paths.
func IsPrivileged() bool {
	return os.Geteuid() == 0
}

// Dir returns the application configuration directory
// (~/.config/clashtui, or /etc/clashtui when running as root).
func Dir() string {
	if IsPrivileged() {
		return "/etc/clashtui"
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "clashtui")
}

// Path returns the path of the daemon's own configuration file.
func Path() string {
	dir := Dir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "config.yaml")
}

// MihomoDir returns the directory holding the supervised mihomo config.
func MihomoDir() string {
	dir := Dir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "mihomo")
}

// DefaultMihomoConfigPath returns the default deploy target for the active
// profile.
func DefaultMihomoConfigPath() string {
	dir := MihomoDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "config.yaml")
}

// SocketPath returns the unix socket path the daemon listens on.
func SocketPath() string {
	dir := Dir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "clashtui.sock")
}

// ExpandHome expands a leading ~ to the user's home directory.
func ExpandHome(path string) string {
	if path == "" || !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
