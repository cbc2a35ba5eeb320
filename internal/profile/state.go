package profile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// State is the persisted record of the currently selected profile.
type State struct {
	CurrentConfig string `json:"currentConfig"`
}

// readState loads the state file. The boolean is false when the file is
// absent, unreadable, malformed or carries no selection; err explains why
// for logging and is never surfaced to callers of the repository.
func readState(path string) (State, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return State{}, false, err
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return State{}, false, fmt.Errorf("decoding %s: %w", path, err)
	}

	if st.CurrentConfig == "" {
		return State{}, false, nil
	}

	return st, true, nil
}

// writeState replaces the state file atomically: the record is written to
// a temporary file in the same directory and renamed over the target, so a
// concurrent reader sees either the old or the new selection.
func writeState(path string, st State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".state-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp state file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()        //nolint:errcheck // Already failing
		os.Remove(tmpName) //nolint:errcheck // Best effort cleanup
		return fmt.Errorf("writing temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()        //nolint:errcheck // Already failing
		os.Remove(tmpName) //nolint:errcheck // Best effort cleanup
		return fmt.Errorf("syncing temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName) //nolint:errcheck // Best effort cleanup
		return fmt.Errorf("closing temp state file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName) //nolint:errcheck // Best effort cleanup
		return fmt.Errorf("replacing state file: %w", err)
	}

	return nil
}
