package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/clashxw/clashxw-core/internal/infrastructure/config"
)

const (
	// serviceName is attached to every log entry.
	serviceName = "clashxw"

	// redacted replaces the value of sensitive attributes.
	redacted = "[redacted]"
)

// sensitiveKeys are attribute keys whose values never reach the output:
// the control-plane secret, the admin API token and broker credentials.
var sensitiveKeys = map[string]bool{
	"secret":   true,
	"token":    true,
	"password": true,
}

// Logger is the slog logger shared by the supervisor, the profile
// repository, the controller and the telemetry sinks. It satisfies the
// small Logger interfaces those packages declare.
//
// All methods are safe for concurrent use.
type Logger struct {
	*slog.Logger
}

// New creates a Logger from the logging section of clashxw.yaml.
//
// Entries carry service=clashxw and the build version. Output "stdout"
// writes to standard output; anything else writes to standard error so
// command output stays machine-readable.
func New(cfg config.LoggingConfig, version string) *Logger {
	var output io.Writer = os.Stderr
	if strings.EqualFold(cfg.Output, "stdout") {
		output = os.Stdout
	}
	return newLogger(cfg, version, output)
}

func newLogger(cfg config.LoggingConfig, version string, output io.Writer) *Logger {
	opts := &slog.HandlerOptions{
		Level:       parseLevel(cfg.Level),
		ReplaceAttr: redact,
	}

	var handler slog.Handler = slog.NewTextHandler(output, opts)
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(output, opts)
	}

	return &Logger{
		Logger: slog.New(handler).With(
			slog.String("service", serviceName),
			slog.String("version", version),
		),
	}
}

// redact masks sensitive attributes, including ones nested in groups.
func redact(_ []string, a slog.Attr) slog.Attr {
	if sensitiveKeys[strings.ToLower(a.Key)] && a.Value.Kind() != slog.KindGroup {
		return slog.String(a.Key, redacted)
	}
	return a
}

// parseLevel maps debug, warn/warning and error to their slog levels.
// Anything else, including "", is info.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// With returns a Logger that adds args to every entry.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Component returns a Logger tagged with component=name.
//
//	sup.SetLogger(log.Component("engine"))
func (l *Logger) Component(name string) *Logger {
	return l.With("component", name)
}
