package engine

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/clashxw/clashxw-core/internal/process"
)

// processName identifies the engine in process-manager logs.
const processName = "mihomo"

// State is the Supervisor lifecycle state.
type State = process.Status

// Supervisor states.
const (
	StateIdle    = process.StatusIdle
	StateRunning = process.StatusRunning
	StateFailed  = process.StatusFailed
)

// EventKind classifies engine lifecycle events.
type EventKind string

const (
	EventStarted      EventKind = "started"
	EventStopped      EventKind = "stopped"
	EventExited       EventKind = "exited"
	EventLaunchFailed EventKind = "launch_failed"
)

// Event describes one engine lifecycle transition.
type Event struct {
	Kind       EventKind
	ConfigPath string
	PID        int
	Uptime     time.Duration
	Err        error
	Time       time.Time
}

// Observer receives lifecycle events. Observers run one at a time on the
// supervisor's dispatch goroutine, in event order, so a slow observer never
// delays Start or Stop. They must not call Start, Stop or Close.
type Observer func(Event)

// eventQueueSize is the number of events buffered for observers.
const eventQueueSize = 64

// Status is a point-in-time snapshot of the Supervisor.
type Status struct {
	State      State         `json:"state"`
	PID        int           `json:"pid,omitempty"`
	ConfigPath string        `json:"config_path,omitempty"`
	Uptime     time.Duration `json:"uptime,omitempty"`
	LastError  string        `json:"last_error,omitempty"`
}

// Logger defines the logging interface for the supervisor.
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

// Supervisor owns the lifecycle of a single engine process.
//
// Thread Safety:
//   - Start, Stop and Close are serialised by an internal mutex.
//   - IsRunning and Status never block on a lifecycle operation.
//   - Close delivers every queued event before it returns.
type Supervisor struct {
	config Config
	logger Logger
	proc   *process.Manager

	// opMu serialises lifecycle operations.
	opMu   sync.Mutex
	closed bool

	// mu guards the fields below.
	mu         sync.RWMutex
	configPath string
	observers  []Observer

	// queueMu guards the event queue, which is created on first use.
	queueMu     sync.Mutex
	queue       chan Event
	queueClosed bool
	drained     chan struct{}
}

// NewSupervisor creates a supervisor for the configured executable.
// No process is started until Start is called.
func NewSupervisor(cfg Config) *Supervisor {
	cfg.applyDefaults()

	s := &Supervisor{
		config: cfg,
		logger: noopLogger{},
	}
	s.proc = process.NewManager(process.Config{
		Name:        processName,
		StopTimeout: cfg.StopTimeout,
		OnStart:     s.handleStart,
		OnExit:      s.handleExit,
	})
	return s
}

// SetLogger sets the logger for the supervisor and its process manager.
// Call it before Start.
func (s *Supervisor) SetLogger(logger Logger) {
	s.logger = logger
	s.proc.SetLogger(logger)
}

// Subscribe registers an observer for lifecycle events.
func (s *Supervisor) Subscribe(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

// Executable returns the configured engine binary path.
func (s *Supervisor) Executable() string {
	return s.config.Executable
}

// LaunchSpec returns the launch description Start would use for configPath.
func (s *Supervisor) LaunchSpec(configPath string) process.Spec {
	return s.config.LaunchSpec(configPath)
}

// Start launches the engine with the given profile.
//
// If the engine is already running it is stopped and reaped first.
//
// Parameters:
//   - configPath: Profile document passed to the engine with -f
//
// Returns:
//   - error: ErrExecutableNotFound if the binary is missing,
//     ErrLaunchFailed wrapping the OS error if the launch is rejected,
//     or ErrClosed after Close
func (s *Supervisor) Start(configPath string) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if s.closed {
		return ErrClosed
	}

	if err := s.checkExecutable(); err != nil {
		return err
	}

	if s.proc.IsRunning() {
		s.logger.Info("engine already running, restarting", "config", configPath)
		if err := s.proc.Stop(); err != nil {
			return fmt.Errorf("stopping previous engine: %w", err)
		}
	}

	s.mu.Lock()
	s.configPath = configPath
	s.mu.Unlock()

	launch := s.config.LaunchSpec(configPath)
	if err := s.proc.Start(launch); err != nil {
		s.emit(Event{
			Kind:       EventLaunchFailed,
			ConfigPath: configPath,
			Err:        err,
			Time:       time.Now(),
		})
		return fmt.Errorf("%w: %w", ErrLaunchFailed, err)
	}

	return nil
}

// checkExecutable verifies the engine binary exists and is a regular file.
func (s *Supervisor) checkExecutable() error {
	if s.config.Executable == "" {
		return fmt.Errorf("%w: no executable configured", ErrExecutableNotFound)
	}
	info, err := os.Stat(s.config.Executable)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrExecutableNotFound, s.config.Executable, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: %s is not a regular file", ErrExecutableNotFound, s.config.Executable)
	}
	return nil
}

// Stop forcibly terminates the engine and waits for it to exit.
// It is a no-op when the engine was never started or has already exited.
func (s *Supervisor) Stop() error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	return s.proc.Stop()
}

// Close stops the engine and marks the supervisor closed. It is safe to
// call more than once and is intended for use with defer.
func (s *Supervisor) Close() error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	err := s.proc.Stop()
	s.drainEvents()
	if err != nil {
		return fmt.Errorf("closing engine supervisor: %w", err)
	}
	return nil
}

// IsRunning reports whether an engine process is running.
func (s *Supervisor) IsRunning() bool {
	return s.proc.IsRunning()
}

// ConfigPath returns the profile of the current or most recent launch.
func (s *Supervisor) ConfigPath() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.configPath
}

// Status returns a snapshot of the supervisor state.
func (s *Supervisor) Status() Status {
	stats := s.proc.Stats()
	return Status{
		State:      stats.Status,
		PID:        stats.PID,
		ConfigPath: s.ConfigPath(),
		Uptime:     stats.Uptime,
		LastError:  stats.LastError,
	}
}

func (s *Supervisor) handleStart(pid int, label string) {
	s.logger.Info("engine started", "pid", pid, "config", label)
	s.emit(Event{
		Kind:       EventStarted,
		ConfigPath: label,
		PID:        pid,
		Time:       time.Now(),
	})
}

func (s *Supervisor) handleExit(ev process.ExitEvent) {
	kind := EventExited
	if ev.Requested {
		kind = EventStopped
	} else {
		s.logger.Warn("engine exited unexpectedly", "pid", ev.PID, "error", ev.Err)
	}

	s.emit(Event{
		Kind:       kind,
		ConfigPath: ev.Label,
		PID:        ev.PID,
		Uptime:     ev.Uptime,
		Err:        ev.Err,
		Time:       time.Now(),
	})
}

// emit queues ev for the observers. Events after Close are dropped.
func (s *Supervisor) emit(ev Event) {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()

	if s.queueClosed {
		s.logger.Debug("dropping engine event after close", "kind", ev.Kind, "pid", ev.PID)
		return
	}
	if s.queue == nil {
		s.queue = make(chan Event, eventQueueSize)
		s.drained = make(chan struct{})
		go s.dispatch(s.queue, s.drained)
	}
	s.queue <- ev
}

// dispatch delivers queued events until the queue is closed.
func (s *Supervisor) dispatch(queue <-chan Event, drained chan<- struct{}) {
	defer close(drained)

	for ev := range queue {
		s.mu.RLock()
		observers := make([]Observer, len(s.observers))
		copy(observers, s.observers)
		s.mu.RUnlock()

		for _, o := range observers {
			o(ev)
		}
	}
}

// drainEvents closes the queue and waits for the observers to catch up.
func (s *Supervisor) drainEvents() {
	s.queueMu.Lock()
	s.queueClosed = true
	queue, drained := s.queue, s.drained
	s.queueMu.Unlock()

	if queue == nil {
		return
	}
	close(queue)
	<-drained
}
