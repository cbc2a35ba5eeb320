package process

import (
	"fmt"
	"os/exec"
	"sync"
	"time"
)

// Status represents the current state of a managed process.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusRunning Status = "running"
	StatusFailed  Status = "failed"
)

// defaultStopTimeout bounds how long Stop waits for a killed process to be reaped.
const defaultStopTimeout = 5 * time.Second

// Spec describes a single launch.
type Spec struct {
	// Binary is the path to the executable. It is executed directly,
	// never through a shell.
	Binary string

	// Args are command-line arguments to pass to the binary.
	Args []string

	// Env is the complete environment (key=value format).
	// If nil, the child inherits the parent environment.
	Env []string

	// Dir is the working directory for the process.
	// If empty, inherits from parent process.
	Dir string

	// Label identifies the launch in callbacks (optional).
	Label string
}

// ExitEvent describes how a managed process ended.
type ExitEvent struct {
	PID   int
	Label string

	// Requested is true when the exit was caused by Stop.
	Requested bool

	// Err is the wait error (nil for a clean exit).
	Err error

	Uptime time.Duration
}

// Config holds configuration for a managed subprocess.
type Config struct {
	// Name is a human-readable identifier for logging.
	Name string

	// StopTimeout is how long Stop waits for the killed process to be
	// reaped. OnExit is not counted against it.
	// Default: 5s
	StopTimeout time.Duration

	// OnStart is called after the process starts successfully and before
	// its exit can be reported.
	OnStart func(pid int, label string)

	// OnExit is called once per launch after the process has been reaped
	// and before Stop returns. It must return promptly and must not call
	// back into the Manager.
	OnExit func(ev ExitEvent)
}

// Logger defines the logging interface for the process manager.
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

// Manager manages the lifecycle of one subprocess at a time.
//
// There is no automatic restart: an unexpected exit moves the manager back
// to StatusIdle and records the exit error.
type Manager struct {
	config Config
	logger Logger

	mu            sync.RWMutex
	cmd           *exec.Cmd
	status        Status
	lastError     error
	startTime     time.Time
	stopRequested bool

	// reaped is closed when the current process has been waited for;
	// done is closed once OnExit has returned.
	reaped chan struct{}
	done   chan struct{}
}

// NewManager creates a new process manager with the given configuration.
func NewManager(cfg Config) *Manager {
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = defaultStopTimeout
	}

	return &Manager{
		config: cfg,
		logger: noopLogger{},
		status: StatusIdle,
	}
}

// SetLogger sets the logger for the manager. Call it before Start.
func (m *Manager) SetLogger(logger Logger) {
	m.logger = logger
}

// Start launches the process described by launch and begins watching it.
// It fails with ErrAlreadyRunning if a process is still running, and with
// the wrapped OS error if the launch is rejected. A failed launch leaves
// no handle behind and the manager can be started again.
func (m *Manager) Start(launch Spec) error {
	m.mu.Lock()
	if m.status == StatusRunning {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, m.config.Name)
	}

	m.logger.Info("starting process",
		"name", m.config.Name,
		"binary", launch.Binary,
		"args", launch.Args,
	)

	cmd := exec.Command(launch.Binary, launch.Args...) //nolint:gosec // Binary is validated by the caller
	configureCommand(cmd)
	cmd.Env = launch.Env
	cmd.Dir = launch.Dir
	cmd.Stdout = newLineWriter(m.logger, m.config.Name, "stdout")
	cmd.Stderr = newLineWriter(m.logger, m.config.Name, "stderr")
	cmd.WaitDelay = m.config.StopTimeout

	if err := cmd.Start(); err != nil {
		m.status = StatusFailed
		m.lastError = err
		m.cmd = nil
		m.mu.Unlock()
		return fmt.Errorf("starting %s: %w", m.config.Name, err)
	}

	reaped := make(chan struct{})
	done := make(chan struct{})
	m.cmd = cmd
	m.status = StatusRunning
	m.lastError = nil
	m.startTime = time.Now()
	m.stopRequested = false
	m.reaped = reaped
	m.done = done
	pid := cmd.Process.Pid
	m.mu.Unlock()

	m.logger.Info("process started",
		"name", m.config.Name,
		"pid", pid,
	)

	if m.config.OnStart != nil {
		m.config.OnStart(pid, launch.Label)
	}

	go m.wait(cmd, launch.Label, reaped, done)

	return nil
}

// wait reaps cmd and records how it ended.
func (m *Manager) wait(cmd *exec.Cmd, label string, reaped, done chan struct{}) {
	err := cmd.Wait()

	m.mu.Lock()
	ev := ExitEvent{
		PID:       cmd.Process.Pid,
		Label:     label,
		Requested: m.stopRequested,
		Err:       err,
		Uptime:    time.Since(m.startTime),
	}
	if m.cmd == cmd {
		m.status = StatusIdle
		if !ev.Requested {
			m.lastError = err
		}
	}
	m.mu.Unlock()
	close(reaped)

	if ev.Requested {
		m.logger.Info("process stopped as requested", "name", m.config.Name, "pid", ev.PID)
	} else {
		m.logger.Warn("process exited unexpectedly",
			"name", m.config.Name,
			"pid", ev.PID,
			"error", err,
		)
	}

	if m.config.OnExit != nil {
		m.config.OnExit(ev)
	}

	close(done)
}

// Stop forcibly terminates the running process and waits for it to be
// reaped and for OnExit to return. StopTimeout bounds the reap only.
// When nothing is running it just waits for an exit that is still being
// reported.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if m.status != StatusRunning || m.cmd == nil {
		done := m.done
		m.mu.Unlock()
		if done != nil {
			<-done
		}
		return nil
	}
	m.stopRequested = true
	cmd := m.cmd
	reaped, done := m.reaped, m.done
	m.mu.Unlock()

	pid := cmd.Process.Pid
	m.logger.Info("stopping process", "name", m.config.Name, "pid", pid)

	if err := killProcess(cmd.Process); err != nil {
		m.logger.Warn("kill failed", "name", m.config.Name, "pid", pid, "error", err)
	}

	select {
	case <-reaped:
	case <-time.After(m.config.StopTimeout):
		return fmt.Errorf("%w: %s (pid %d) after %v", ErrStopTimeout, m.config.Name, pid, m.config.StopTimeout)
	}
	<-done
	return nil
}

// Status returns the current status of the managed process.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// IsRunning returns true if a process has been started and not yet reaped.
func (m *Manager) IsRunning() bool {
	return m.Status() == StatusRunning
}

// LastError returns the launch error or unexpected exit error of the most
// recent process, or nil.
func (m *Manager) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastError
}

// Uptime returns how long the process has been running.
// Returns 0 if the process is not running.
func (m *Manager) Uptime() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.status != StatusRunning {
		return 0
	}
	return time.Since(m.startTime)
}

// PID returns the process ID, or 0 if not running.
func (m *Manager) PID() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.status == StatusRunning && m.cmd != nil && m.cmd.Process != nil {
		return m.cmd.Process.Pid
	}
	return 0
}

// Stats returns statistics about the managed process.
type Stats struct {
	Name      string        `json:"name"`
	Status    Status        `json:"status"`
	PID       int           `json:"pid,omitempty"`
	Uptime    time.Duration `json:"uptime,omitempty"`
	LastError string        `json:"last_error,omitempty"`
}

// Stats returns current statistics for the process.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{
		Name:   m.config.Name,
		Status: m.status,
	}

	if m.status == StatusRunning {
		if m.cmd != nil && m.cmd.Process != nil {
			stats.PID = m.cmd.Process.Pid
		}
		stats.Uptime = time.Since(m.startTime)
	}

	if m.lastError != nil {
		stats.LastError = m.lastError.Error()
	}

	return stats
}
