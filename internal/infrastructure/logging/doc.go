// Package logging provides structured logging for ClashXW.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the supervisor, the profile
// repository and the optional telemetry sinks.
//
// # Features
//
//   - JSON output for machine consumption
//   - Text output for interactive use (the default, written to stderr)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "text"     # json, text
//	  output: "stderr"   # stdout, stderr
//
// # Security
//
// Never log the control-plane secret. Endpoint details are logged by
// address only.
package logging
