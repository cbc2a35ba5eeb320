package engine

import (
	"path/filepath"
	"time"

	"github.com/clashxw/clashxw-core/internal/process"
)

// DefaultAllowListEnv is the environment variable the engine reads its
// list of readable directories from.
const DefaultAllowListEnv = "SAFE_PATHS"

// Engine command-line flags.
const (
	flagAssetDir = "-d"
	flagConfig   = "-f"
)

// Config holds the Supervisor configuration.
type Config struct {
	// Executable is the path to the engine binary. It is fixed for the
	// lifetime of the Supervisor.
	Executable string

	// AllowListDir is appended to the allow-list variable so the engine
	// may read profiles from it. Usually the profile directory.
	AllowListDir string

	// AllowListEnv names the allow-list variable.
	// Default: "SAFE_PATHS"
	AllowListEnv string

	// Environ is the base environment for the engine.
	// If nil, the supervisor's own environment is used.
	Environ []string

	// StopTimeout bounds how long Stop waits for the engine to be reaped.
	// Default: 5s
	StopTimeout time.Duration
}

// applyDefaults fills zero values.
func (c *Config) applyDefaults() {
	if c.AllowListEnv == "" {
		c.AllowListEnv = DefaultAllowListEnv
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = 5 * time.Second
	}
}

// AssetDir returns the directory the engine is run from and told to load
// its assets (geo databases, dashboard files) from.
func (c Config) AssetDir() string {
	return filepath.Dir(c.Executable)
}

// BuildArgs returns the engine command-line arguments for a profile.
//
// Parameters:
//   - configPath: Profile document the engine should load
//
// Returns:
//   - []string: "-d <assetDir> -f <configPath>"
func (c Config) BuildArgs(configPath string) []string {
	return []string{flagAssetDir, c.AssetDir(), flagConfig, configPath}
}

// LaunchSpec returns the complete launch description for a profile. It
// does not check that the executable exists.
func (c Config) LaunchSpec(configPath string) process.Spec {
	return process.Spec{
		Binary: c.Executable,
		Args:   c.BuildArgs(configPath),
		Env:    c.environment(),
		Dir:    c.AssetDir(),
		Label:  configPath,
	}
}
