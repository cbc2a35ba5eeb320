package control

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/clashxw/clashxw-core/internal/controlplane"
	"github.com/clashxw/clashxw-core/internal/engine"
	"github.com/clashxw/clashxw-core/internal/infrastructure/influxdb"
	"github.com/clashxw/clashxw-core/internal/infrastructure/mqtt"
	"github.com/clashxw/clashxw-core/internal/journal"
	"github.com/clashxw/clashxw-core/internal/profile"
)

// journalTimeout bounds a single journal write from the event path.
const journalTimeout = 2 * time.Second

// Command actions accepted by HandleCommand.
const (
	ActionStart   = "start"
	ActionStop    = "stop"
	ActionRestart = "restart"
	ActionUse     = "use"
)

// Command is a remote control request received over MQTT.
type Command struct {
	Action  string `json:"action"`
	Profile string `json:"profile,omitempty"`
}

// Options configures a Controller. Every sink is optional.
type Options struct {
	Journal   EventRecorder
	Publisher StatusPublisher
	Metrics   MetricWriter

	// ReadyTimeout is how long a start waits for the control-plane port.
	// Zero disables the wait.
	ReadyTimeout time.Duration
}

// Status is the combined view of the engine and the selected profile.
type Status struct {
	Engine         engine.Status            `json:"engine"`
	CurrentProfile string                   `json:"current_profile"`
	Endpoint       *controlplane.APIDetails `json:"endpoint,omitempty"`
}

// statusMessage is the retained MQTT engine status payload.
type statusMessage struct {
	Status    string `json:"status"`
	PID       int    `json:"pid,omitempty"`
	Profile   string `json:"profile,omitempty"`
	Timestamp string `json:"timestamp"`
}

// eventMessage is the MQTT lifecycle event payload.
type eventMessage struct {
	Kind          string  `json:"kind"`
	Profile       string  `json:"profile,omitempty"`
	PID           int     `json:"pid,omitempty"`
	UptimeSeconds float64 `json:"uptime_seconds,omitempty"`
	Error         string  `json:"error,omitempty"`
	Timestamp     string  `json:"timestamp"`
}

// Controller drives the engine on behalf of the CLI and remote commands.
//
// Thread Safety:
//   - Start, SwitchProfile, Restart and Stop are serialised.
//   - Status and Endpoint may be called concurrently with them.
type Controller struct {
	repo       *profile.Repository
	supervisor *engine.Supervisor
	opts       Options
	logger     Logger

	// mu serialises profile selection with engine restarts.
	mu sync.Mutex
}

// New creates a controller and subscribes it to supervisor events.
func New(repo *profile.Repository, supervisor *engine.Supervisor, opts Options) *Controller {
	c := &Controller{
		repo:       repo,
		supervisor: supervisor,
		opts:       opts,
		logger:     noopLogger{},
	}
	supervisor.Subscribe(c.observe)
	return c
}

// SetLogger sets the logger for the controller. Call it before the
// controller is shared.
func (c *Controller) SetLogger(logger Logger) {
	c.logger = logger
}

// Bootstrap makes sure a default profile exists.
func (c *Controller) Bootstrap() error {
	return c.repo.EnsureDefaultConfigExists()
}

// StartActive launches the engine with the currently selected profile.
// A running engine is restarted.
func (c *Controller) StartActive(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.startLocked(ctx, c.repo.CurrentConfigPath())
}

// Restart relaunches the engine with the currently selected profile,
// starting it when it is not running.
func (c *Controller) Restart(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	path := c.repo.CurrentConfigPath()
	c.logger.Info("restarting engine", "config", path, "was_running", c.supervisor.IsRunning())
	return c.startLocked(ctx, path)
}

// SwitchProfile selects the profile named by ref and, when the engine is
// running, restarts it with that profile.
//
// Parameters:
//   - ref: Profile name (with or without extension) or path
//
// Returns:
//   - string: Absolute path of the selected profile
//   - error: profile.ErrProfileNotFound or profile.ErrNotProfile for a bad
//     reference, or the persistence or launch error
func (c *Controller) SwitchProfile(ctx context.Context, ref string) (string, error) {
	path, err := c.repo.Resolve(ref)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.repo.SetCurrentConfigPath(path); err != nil {
		return "", fmt.Errorf("selecting profile: %w", err)
	}
	c.logger.Info("profile selected", "path", path)

	if !c.supervisor.IsRunning() {
		return path, nil
	}
	if err := c.startLocked(ctx, path); err != nil {
		return path, err
	}
	return path, nil
}

// Stop terminates the engine. It is a no-op when nothing is running.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.supervisor.Stop()
}

func (c *Controller) startLocked(ctx context.Context, path string) error {
	if err := c.supervisor.Start(path); err != nil {
		return err
	}

	if err := c.waitForReady(ctx, path); err != nil {
		c.logger.Warn("engine control plane not ready", "config", path, "error", err)
	}
	return nil
}

// Endpoint returns the control-plane endpoint of the running profile, or
// of the selected profile when the engine is not running.
func (c *Controller) Endpoint() (controlplane.APIDetails, bool) {
	return controlplane.ReadAPIDetails(c.activePath())
}

func (c *Controller) activePath() string {
	if c.supervisor.IsRunning() {
		if p := c.supervisor.ConfigPath(); p != "" {
			return p
		}
	}
	return c.repo.CurrentConfigPath()
}

// Status returns the engine state, the selected profile and its endpoint.
func (c *Controller) Status() Status {
	st := Status{
		Engine:         c.supervisor.Status(),
		CurrentProfile: c.repo.CurrentConfigPath(),
	}
	if details, ok := c.Endpoint(); ok {
		st.Endpoint = &details
	}
	return st
}

// HandleCommand executes a JSON encoded Command. It matches the MQTT
// message handler signature so it can be subscribed directly.
func (c *Controller) HandleCommand(topic string, payload []byte) error {
	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidCommand, err)
	}

	c.logger.Info("command received", "topic", topic, "action", cmd.Action, "profile", cmd.Profile)

	ctx := context.Background()
	switch cmd.Action {
	case ActionStart:
		return c.StartActive(ctx)
	case ActionRestart:
		return c.Restart(ctx)
	case ActionStop:
		return c.Stop()
	case ActionUse:
		if cmd.Profile == "" {
			return fmt.Errorf("%w: use requires a profile", ErrInvalidCommand)
		}
		_, err := c.SwitchProfile(ctx, cmd.Profile)
		return err
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, cmd.Action)
	}
}

// PublishStatus publishes the current engine state as a retained message.
func (c *Controller) PublishStatus() error {
	if c.opts.Publisher == nil {
		return nil
	}
	st := c.supervisor.Status()
	return c.publishStatus(statusMessage{
		Status:    string(st.State),
		PID:       st.PID,
		Profile:   st.ConfigPath,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (c *Controller) publishStatus(msg statusMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding status: %w", err)
	}
	return c.opts.Publisher.PublishRetained(mqtt.Topics{}.EngineStatus(), payload)
}

// observe fans a lifecycle event out to the configured sinks. It runs on
// the supervisor's dispatch goroutine, so slow sinks delay only later
// events and never an engine operation.
func (c *Controller) observe(ev engine.Event) {
	c.recordEvent(ev)
	c.publishEvent(ev)

	if c.opts.Metrics != nil {
		c.opts.Metrics.WriteEngineEvent(influxdb.EngineEvent{
			Kind:    string(ev.Kind),
			Profile: ev.ConfigPath,
			PID:     ev.PID,
			Uptime:  ev.Uptime,
			Time:    ev.Time,
		})
	}
}

func (c *Controller) recordEvent(ev engine.Event) {
	if c.opts.Journal == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()

	entry := &journal.Entry{
		Kind:      string(ev.Kind),
		Profile:   ev.ConfigPath,
		PID:       ev.PID,
		CreatedAt: ev.Time,
	}
	if ev.Err != nil {
		entry.Detail = ev.Err.Error()
	}
	if err := c.opts.Journal.Record(ctx, entry); err != nil {
		c.logger.Warn("recording engine event", "kind", ev.Kind, "error", err)
	}
}

func (c *Controller) publishEvent(ev engine.Event) {
	if c.opts.Publisher == nil {
		return
	}

	ts := ev.Time.UTC().Format(time.RFC3339)
	msg := eventMessage{
		Kind:          string(ev.Kind),
		Profile:       ev.ConfigPath,
		PID:           ev.PID,
		UptimeSeconds: ev.Uptime.Seconds(),
		Timestamp:     ts,
	}
	if ev.Err != nil {
		msg.Error = ev.Err.Error()
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		c.logger.Warn("encoding engine event", "error", err)
		return
	}
	if err := c.opts.Publisher.PublishEvent(mqtt.Topics{}.EngineEvent(string(ev.Kind)), payload); err != nil {
		c.logger.Warn("publishing engine event", "kind", ev.Kind, "error", err)
	}

	status := statusMessage{Status: string(stateAfter(ev.Kind)), Profile: ev.ConfigPath, Timestamp: ts}
	if ev.Kind == engine.EventStarted {
		status.PID = ev.PID
	}
	if err := c.publishStatus(status); err != nil {
		c.logger.Warn("publishing engine status", "error", err)
	}
}

// stateAfter is the supervisor state an event leaves behind.
func stateAfter(kind engine.EventKind) engine.State {
	switch kind {
	case engine.EventStarted:
		return engine.StateRunning
	case engine.EventLaunchFailed:
		return engine.StateFailed
	default:
		return engine.StateIdle
	}
}
