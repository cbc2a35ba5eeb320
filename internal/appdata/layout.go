// Package appdata describes the on-disk layout of the per-user
// application-data root.
//
// A Layout is constructed once at startup and passed to the components
// that need it, so tests can point everything at a temporary directory.
package appdata

import "path/filepath"

// Fixed names inside the application-data root.
const (
	// ConfigDirName holds the profile documents.
	ConfigDirName = "Config"

	// StateFileName holds the currently selected profile.
	StateFileName = "state.json"

	// DefaultProfileName is the profile written by the bootstrap.
	DefaultProfileName = "config.yaml"
)

// Layout resolves well-known paths under an application-data root.
type Layout struct {
	Root string
}

// New returns a Layout rooted at root.
func New(root string) Layout {
	return Layout{Root: root}
}

// ConfigDir is the directory holding profile documents.
func (l Layout) ConfigDir() string {
	return filepath.Join(l.Root, ConfigDirName)
}

// StateFile is the path of the persisted current-profile record.
func (l Layout) StateFile() string {
	return filepath.Join(l.Root, StateFileName)
}

// DefaultProfile is the path of the bootstrap profile.
func (l Layout) DefaultProfile() string {
	return filepath.Join(l.ConfigDir(), DefaultProfileName)
}

// ProfilePath joins a bare profile file name onto the config directory.
func (l Layout) ProfilePath(name string) string {
	return filepath.Join(l.ConfigDir(), name)
}
