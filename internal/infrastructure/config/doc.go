// Package config handles loading and validating ClashXW configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with CLASHXW_* environment variables
//   - Deriving per-user paths (data dir, engine binary, journal database)
//   - Validation of required fields
//
// This is the application's own configuration. Engine profiles (the
// documents handed to the proxy engine) are managed by internal/profile.
//
// Usage:
//
//	cfg, err := config.LoadOptional(path)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Engine.Binary)
package config
