package profile

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/clashxw/clashxw-core/internal/appdata"
)

// Filesystem permissions for the profile directory and bootstrap profile.
const (
	dirPermissions  = 0750
	filePermissions = 0600
)

// profileExtensions are the file suffixes recognised as profile documents.
var profileExtensions = []string{".yaml", ".yml"}

// Logger defines the logging interface for the repository.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Profile is a named configuration document in the profile directory.
type Profile struct {
	// Name is the file name without its extension.
	Name string `json:"name"`

	// Path is the absolute path of the document.
	Path string `json:"path"`
}

// Repository owns the profile directory and the current-profile pointer.
//
// Thread Safety:
//   - State writes are serialised and replace the file atomically.
//   - Reads take no lock; they observe either the old or the new state.
type Repository struct {
	layout appdata.Layout
	logger Logger

	writeMu sync.Mutex
}

// NewRepository creates a repository over the given application-data layout.
func NewRepository(layout appdata.Layout) *Repository {
	return &Repository{
		layout: layout,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the repository. Call it before the
// repository is shared; it is not synchronised.
func (r *Repository) SetLogger(logger Logger) {
	r.logger = logger
}

// ConfigDir returns the profile directory. The supervisor adds it to the
// engine's allow-list.
func (r *Repository) ConfigDir() string {
	return r.layout.ConfigDir()
}

// DefaultConfigPath returns the path of the bootstrap profile.
func (r *Repository) DefaultConfigPath() string {
	return r.layout.DefaultProfile()
}

// EnsureDefaultConfigExists creates the profile directory if needed and
// writes the bundled template as the default profile when no file of that
// name exists. It is safe to call on every startup and never overwrites an
// existing default profile.
func (r *Repository) EnsureDefaultConfigExists() error {
	if err := os.MkdirAll(r.layout.ConfigDir(), dirPermissions); err != nil {
		return fmt.Errorf("creating profile directory: %w", err)
	}

	path := r.layout.DefaultProfile()
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, filePermissions)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil
		}
		return fmt.Errorf("creating default profile: %w", err)
	}

	if _, err := f.Write(defaultTemplate); err != nil {
		f.Close()       //nolint:errcheck // Already failing
		os.Remove(path) //nolint:errcheck // Don't leave a truncated default behind
		return fmt.Errorf("writing default profile: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing default profile: %w", err)
	}

	r.logger.Info("default profile created", "path", path)
	return nil
}

// CurrentConfigPath returns the active profile path.
//
// It never fails: when the state file is missing, unreadable, malformed or
// names a profile that no longer exists, the default profile path is
// returned instead.
func (r *Repository) CurrentConfigPath() string {
	if st, ok := r.loadState(); ok {
		if isRegularFile(st.CurrentConfig) {
			return st.CurrentConfig
		}
		r.logger.Debug("selected profile missing, using default", "path", st.CurrentConfig)
	}
	return r.layout.DefaultProfile()
}

// loadState reads the persisted selection. Read failures are logged and
// reported as "no selection".
func (r *Repository) loadState() (State, bool) {
	st, ok, err := readState(r.layout.StateFile())
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		r.logger.Debug("ignoring unreadable state file", "path", r.layout.StateFile(), "error", err)
	}
	return st, ok
}

// SetCurrentConfigPath persists path as the selected profile, replacing any
// previous selection. The path is not validated; a missing profile is
// skipped by the next CurrentConfigPath.
func (r *Repository) SetCurrentConfigPath(path string) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if err := writeState(r.layout.StateFile(), State{CurrentConfig: path}); err != nil {
		return fmt.Errorf("saving current profile: %w", err)
	}

	r.logger.Info("current profile changed", "path", path)
	return nil
}

// AvailableConfigs lists the profile documents directly inside the profile
// directory, in one os.ReadDir pass and so in file-name order. A missing
// directory yields an empty listing and no error.
func (r *Repository) AvailableConfigs() ([]string, error) {
	entries, err := os.ReadDir(r.layout.ConfigDir())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing profiles: %w", err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || !hasProfileExtension(entry.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(r.layout.ConfigDir(), entry.Name()))
	}

	return paths, nil
}

// Profiles returns the available profiles sorted by name.
func (r *Repository) Profiles() ([]Profile, error) {
	paths, err := r.AvailableConfigs()
	if err != nil {
		return nil, err
	}

	profiles := make([]Profile, 0, len(paths))
	for _, p := range paths {
		profiles = append(profiles, Profile{Name: profileName(p), Path: p})
	}

	sort.Slice(profiles, func(i, j int) bool {
		return profiles[i].Name < profiles[j].Name
	})

	return profiles, nil
}

// Resolve turns a profile reference into the absolute path of an existing
// profile document. A reference containing a path separator is treated as
// a filesystem path; anything else is looked up in the profile directory,
// with or without its extension.
func (r *Repository) Resolve(ref string) (string, error) {
	if ref == "" {
		return "", fmt.Errorf("%w: empty reference", ErrProfileNotFound)
	}

	var candidates []string
	if filepath.IsAbs(ref) || strings.ContainsAny(ref, `/\`) {
		candidates = []string{ref}
	} else if hasProfileExtension(ref) {
		candidates = []string{r.layout.ProfilePath(ref)}
	} else {
		for _, ext := range profileExtensions {
			candidates = append(candidates, r.layout.ProfilePath(ref+ext))
		}
	}

	for _, c := range candidates {
		info, err := os.Stat(c)
		if err != nil {
			continue
		}
		if !info.Mode().IsRegular() || !hasProfileExtension(c) {
			return "", fmt.Errorf("%w: %s", ErrNotProfile, c)
		}
		abs, err := filepath.Abs(c)
		if err != nil {
			return "", fmt.Errorf("resolving %s: %w", c, err)
		}
		return abs, nil
	}

	return "", fmt.Errorf("%w: %s", ErrProfileNotFound, ref)
}

// hasProfileExtension reports whether name ends in a recognised suffix.
func hasProfileExtension(name string) bool {
	ext := filepath.Ext(name)
	for _, want := range profileExtensions {
		if strings.EqualFold(ext, want) {
			return true
		}
	}
	return false
}

// profileName strips directory and extension from a profile path.
func profileName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func isRegularFile(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
