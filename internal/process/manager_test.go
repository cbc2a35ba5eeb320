package process

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"
)

// writeScript creates an executable shell script in a temp directory.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not executable on windows")
	}
	path := filepath.Join(t.TempDir(), "fake-engine")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0700); err != nil { //nolint:gosec // test helper must be executable
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// recordingLogger captures debug messages for output assertions.
type recordingLogger struct {
	noopLogger
	mu    sync.Mutex
	lines []string
}

func (l *recordingLogger) Debug(msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := 0; i+1 < len(args); i += 2 {
		if args[i] == "line" {
			if s, ok := args[i+1].(string); ok {
				l.lines = append(l.lines, s)
			}
		}
	}
}

func (l *recordingLogger) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.lines...)
}

func TestNewManager_Defaults(t *testing.T) {
	m := NewManager(Config{Name: "test-proc"})

	if m.config.StopTimeout != defaultStopTimeout {
		t.Errorf("StopTimeout = %v, want %v", m.config.StopTimeout, defaultStopTimeout)
	}
	if m.Status() != StatusIdle {
		t.Errorf("initial Status() = %q, want %q", m.Status(), StatusIdle)
	}
	if m.IsRunning() {
		t.Error("IsRunning() = true, want false")
	}
	if m.PID() != 0 {
		t.Errorf("PID() = %d, want 0", m.PID())
	}
	if m.Uptime() != 0 {
		t.Errorf("Uptime() = %v, want 0", m.Uptime())
	}
	if m.LastError() != nil {
		t.Errorf("LastError() = %v, want nil", m.LastError())
	}
}

func TestManager_StopWhenNotRunning(t *testing.T) {
	m := NewManager(Config{Name: "test"})

	if err := m.Stop(); err != nil {
		t.Errorf("Stop() on idle manager error = %v, want nil", err)
	}
}

func TestManager_StartAndStop(t *testing.T) {
	script := writeScript(t, "exec sleep 60")

	var (
		mu    sync.Mutex
		exits []ExitEvent
		onPID int
	)
	m := NewManager(Config{
		Name:        "sleeper",
		StopTimeout: 3 * time.Second,
		OnStart:     func(pid int, _ string) { onPID = pid },
		OnExit: func(ev ExitEvent) {
			mu.Lock()
			exits = append(exits, ev)
			mu.Unlock()
		},
	})

	if err := m.Start(Spec{Binary: script}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if !m.IsRunning() {
		t.Error("IsRunning() = false after Start()")
	}
	pid := m.PID()
	if pid == 0 {
		t.Fatal("PID() = 0 after Start()")
	}
	if onPID != pid {
		t.Errorf("OnStart pid = %d, want %d", onPID, pid)
	}
	if stats := m.Stats(); stats.Status != StatusRunning || stats.PID != pid {
		t.Errorf("Stats() = %+v, want running with pid %d", stats, pid)
	}

	if err := m.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	if m.IsRunning() {
		t.Error("IsRunning() = true after Stop()")
	}
	if m.LastError() != nil {
		t.Errorf("LastError() = %v after requested stop, want nil", m.LastError())
	}

	mu.Lock()
	defer mu.Unlock()
	if len(exits) != 1 {
		t.Fatalf("OnExit called %d times, want 1", len(exits))
	}
	if !exits[0].Requested {
		t.Error("ExitEvent.Requested = false, want true")
	}
	if exits[0].PID != pid {
		t.Errorf("ExitEvent.PID = %d, want %d", exits[0].PID, pid)
	}
}

func TestManager_SlowOnExitDoesNotCountAgainstStopTimeout(t *testing.T) {
	script := writeScript(t, "exec sleep 60")

	const hookDelay = 600 * time.Millisecond
	m := NewManager(Config{
		Name:        "slow-hook",
		StopTimeout: 200 * time.Millisecond,
		OnExit:      func(ExitEvent) { time.Sleep(hookDelay) },
	})

	for i := 0; i < 2; i++ {
		if err := m.Start(Spec{Binary: script}); err != nil {
			t.Fatalf("Start() #%d error = %v", i+1, err)
		}

		start := time.Now()
		if err := m.Stop(); err != nil {
			t.Fatalf("Stop() #%d error = %v, want nil", i+1, err)
		}
		if elapsed := time.Since(start); elapsed < hookDelay {
			t.Errorf("Stop() #%d returned after %v, before OnExit finished", i+1, elapsed)
		}
		if m.IsRunning() {
			t.Errorf("IsRunning() = true after Stop() #%d", i+1)
		}
	}
}

func TestManager_StartAlreadyRunning(t *testing.T) {
	script := writeScript(t, "exec sleep 60")
	m := NewManager(Config{Name: "test"})

	if err := m.Start(Spec{Binary: script}); err != nil {
		t.Fatalf("first Start() error = %v", err)
	}
	defer m.Stop() //nolint:errcheck

	err := m.Start(Spec{Binary: script})
	if !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start() error = %v, want %v", err, ErrAlreadyRunning)
	}
}

func TestManager_StartWithInvalidBinary(t *testing.T) {
	m := NewManager(Config{Name: "bad-binary"})

	err := m.Start(Spec{Binary: filepath.Join(t.TempDir(), "nonexistent")})
	if err == nil {
		t.Fatal("Start() with invalid binary expected error, got nil")
	}
	if m.Status() != StatusFailed {
		t.Errorf("Status() = %q, want %q", m.Status(), StatusFailed)
	}
	if m.LastError() == nil {
		t.Error("LastError() = nil after failed launch")
	}
	if m.IsRunning() {
		t.Error("IsRunning() = true after failed launch")
	}
}

func TestManager_UnexpectedExit(t *testing.T) {
	script := writeScript(t, "exit 3")

	exited := make(chan ExitEvent, 1)
	m := NewManager(Config{
		Name:   "crasher",
		OnExit: func(ev ExitEvent) { exited <- ev },
	})

	if err := m.Start(Spec{Binary: script}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	select {
	case ev := <-exited:
		if ev.Requested {
			t.Error("ExitEvent.Requested = true for a self-exit")
		}
		if ev.Err == nil {
			t.Error("ExitEvent.Err = nil, want exit status error")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("OnExit not called after process exited")
	}

	waitFor(t, "manager to become idle", func() bool { return m.Status() == StatusIdle })
	if m.LastError() == nil {
		t.Error("LastError() = nil after unexpected exit")
	}

	// The manager can be started again after an exit.
	if err := m.Start(Spec{Binary: script}); err != nil {
		t.Errorf("Start() after exit error = %v", err)
	}
	waitFor(t, "second run to exit", func() bool { return !m.IsRunning() })
}

func TestManager_KillsProcessGroup(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("process groups are unix only")
	}
	pidFile := filepath.Join(t.TempDir(), "child.pid")
	script := writeScript(t, "sleep 60 &\necho $! > "+pidFile+"\nwait")

	m := NewManager(Config{Name: "group", StopTimeout: 3 * time.Second})
	if err := m.Start(Spec{Binary: script}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	waitFor(t, "child pid file", func() bool {
		data, err := os.ReadFile(pidFile)
		return err == nil && strings.TrimSpace(string(data)) != ""
	})

	if err := m.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if m.IsRunning() {
		t.Error("IsRunning() = true after Stop()")
	}
}

func TestManager_LaunchEnvAndDir(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, `echo "value=$CLASHXW_TEST_VALUE"`+"\npwd")

	logger := &recordingLogger{}
	exited := make(chan struct{})
	m := NewManager(Config{
		Name:   "env",
		OnExit: func(ExitEvent) { close(exited) },
	})
	m.SetLogger(logger)

	err := m.Start(Spec{
		Binary: script,
		Env:    []string{"CLASHXW_TEST_VALUE=42", "PATH=" + os.Getenv("PATH")},
		Dir:    dir,
	})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	select {
	case <-exited:
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
	}

	lines := logger.snapshot()
	if len(lines) < 2 {
		t.Fatalf("captured output = %v, want two lines", lines)
	}
	if lines[0] != "value=42" {
		t.Errorf("first output line = %q, want %q", lines[0], "value=42")
	}
	gotDir, _ := filepath.EvalSymlinks(lines[1])
	wantDir, _ := filepath.EvalSymlinks(dir)
	if gotDir != wantDir {
		t.Errorf("working directory = %q, want %q", lines[1], dir)
	}
}

func TestLineWriter_SplitsLines(t *testing.T) {
	logger := &recordingLogger{}
	w := newLineWriter(logger, "test", "stdout")

	w.Write([]byte("first\r\nsec"))  //nolint:errcheck
	w.Write([]byte("ond\n\nthird")) //nolint:errcheck

	got := logger.snapshot()
	want := []string{"first", "second"}
	if len(got) != len(want) {
		t.Fatalf("lines = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
