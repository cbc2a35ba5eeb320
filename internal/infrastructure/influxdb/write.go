package influxdb

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// MeasurementEngineLifecycle is the measurement engine events are written to.
const MeasurementEngineLifecycle = "engine_lifecycle"

// EngineEvent is one lifecycle transition to record.
type EngineEvent struct {
	Kind string

	// Profile is a profile path or name; only its base name is stored as
	// a tag to keep cardinality low.
	Profile string

	PID    int
	Uptime time.Duration
	Time   time.Time
}

// newEnginePoint converts ev into a line-protocol point.
func newEnginePoint(ev EngineEvent) *write.Point {
	ts := ev.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	tags := map[string]string{"event": ev.Kind}
	if name := profileTag(ev.Profile); name != "" {
		tags["profile"] = name
	}

	fields := map[string]any{
		"pid":            int64(ev.PID),
		"uptime_seconds": ev.Uptime.Seconds(),
	}

	return write.NewPoint(MeasurementEngineLifecycle, tags, fields, ts)
}

// profileTag reduces a profile path to its name without extension.
func profileTag(profile string) string {
	if profile == "" {
		return ""
	}
	base := filepath.Base(profile)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// WriteEngineEvent queues a lifecycle point. It does not wait for the
// server and is a no-op after Close.
func (c *Client) WriteEngineEvent(ev EngineEvent) {
	if c == nil || c.client == nil {
		return
	}
	c.writeMu.RLock()
	defer c.writeMu.RUnlock()
	if c.closed {
		return
	}
	c.writes.WritePoint(newEnginePoint(ev))
}
