// Package profile manages the engine's configuration profiles and the
// durable "current profile" pointer.
//
// Profiles are YAML documents living directly inside the Config/
// directory of the application-data root. The selected profile is
// persisted in state.json as {"currentConfig": "<path>"}.
//
// Reading the current profile never fails: a missing, unreadable or
// malformed state file, or one that points at a deleted profile, falls
// back to the default profile written by EnsureDefaultConfigExists.
//
// Example usage:
//
//	repo := profile.NewRepository(appdata.New(dataDir))
//	if err := repo.EnsureDefaultConfigExists(); err != nil {
//	    return err
//	}
//	path := repo.CurrentConfigPath()
package profile
