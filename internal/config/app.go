package config

import (
	"fmt"
)

// AppConfig represents build-time application metadata.
type AppConfig struct {
	Name    string
	Version Version
}

// Version represents the version information for the application.
type Version struct {
	Version string
	Commit  string
	Date    string
}

// VersionText returns the version information as a string.
func (v *Version) VersionText() string {
	return fmt.Sprintf("v%s : %s (%s)", v.Version, v.Commit, v.Date)
}
