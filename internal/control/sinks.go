package control

import (
	"context"

	"github.com/clashxw/clashxw-core/internal/infrastructure/influxdb"
	"github.com/clashxw/clashxw-core/internal/journal"
)

// EventRecorder persists lifecycle events. Satisfied by
// *journal.SQLiteRepository.
type EventRecorder interface {
	Record(ctx context.Context, e *journal.Entry) error
}

// StatusPublisher publishes engine status and events. Satisfied by
// *mqtt.Client.
type StatusPublisher interface {
	PublishRetained(topic string, payload []byte) error
	PublishEvent(topic string, payload []byte) error
}

// MetricWriter records lifecycle metrics. Satisfied by *influxdb.Client.
type MetricWriter interface {
	WriteEngineEvent(ev influxdb.EngineEvent)
}

// Logger defines the logging interface for the controller.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
