package control

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/clashxw/clashxw-core/internal/appdata"
	"github.com/clashxw/clashxw-core/internal/engine"
	"github.com/clashxw/clashxw-core/internal/infrastructure/influxdb"
	"github.com/clashxw/clashxw-core/internal/journal"
	"github.com/clashxw/clashxw-core/internal/profile"
)

type fakeJournal struct {
	mu      sync.Mutex
	entries []journal.Entry
	err     error
}

func (j *fakeJournal) Record(_ context.Context, e *journal.Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.err != nil {
		return j.err
	}
	j.entries = append(j.entries, *e)
	return nil
}

func (j *fakeJournal) kinds() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	kinds := make([]string, 0, len(j.entries))
	for _, e := range j.entries {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

type message struct {
	topic    string
	payload  string
	retained bool
}

type fakePublisher struct {
	mu       sync.Mutex
	messages []message
	delay    time.Duration
}

func (p *fakePublisher) PublishRetained(topic string, payload []byte) error {
	time.Sleep(p.delay)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, message{topic: topic, payload: string(payload), retained: true})
	return nil
}

func (p *fakePublisher) PublishEvent(topic string, payload []byte) error {
	time.Sleep(p.delay)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, message{topic: topic, payload: string(payload)})
	return nil
}

func (p *fakePublisher) snapshot() []message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]message(nil), p.messages...)
}

type fakeMetrics struct {
	mu     sync.Mutex
	events []influxdb.EngineEvent
}

func (m *fakeMetrics) WriteEngineEvent(ev influxdb.EngineEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
}

func (m *fakeMetrics) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

type testEnv struct {
	repo       *profile.Repository
	supervisor *engine.Supervisor
	controller *Controller
	journal    *fakeJournal
	publisher  *fakePublisher
	metrics    *fakeMetrics
}

// newTestEnv builds a controller over a temp data directory and a fake
// engine script running body.
func newTestEnv(t *testing.T, body string, readyTimeout time.Duration) *testEnv {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake engine scripts require a unix shell")
	}

	bin := filepath.Join(t.TempDir(), "mihomo")
	if err := os.WriteFile(bin, []byte("#!/bin/sh\n"+body+"\n"), 0700); err != nil { //nolint:gosec // must be executable
		t.Fatalf("WriteFile() error = %v", err)
	}

	repo := profile.NewRepository(appdata.New(t.TempDir()))
	sup := engine.NewSupervisor(engine.Config{
		Executable:   bin,
		AllowListDir: repo.ConfigDir(),
		Environ:      []string{"PATH=" + os.Getenv("PATH")},
		StopTimeout:  3 * time.Second,
	})
	t.Cleanup(func() { sup.Close() }) //nolint:errcheck

	env := &testEnv{
		repo:       repo,
		supervisor: sup,
		journal:    &fakeJournal{},
		publisher:  &fakePublisher{},
		metrics:    &fakeMetrics{},
	}
	env.controller = New(repo, sup, Options{
		Journal:      env.journal,
		Publisher:    env.publisher,
		Metrics:      env.metrics,
		ReadyTimeout: readyTimeout,
	})

	if err := env.controller.Bootstrap(); err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}
	return env
}

func writeProfile(t *testing.T, repo *profile.Repository, name, content string) string {
	t.Helper()
	path := filepath.Join(repo.ConfigDir(), name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func waitUntil(t *testing.T, what string, cond func() bool) {
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

func equalKinds(got, want []string) bool {
	return strings.Join(got, ",") == strings.Join(want, ",")
}

func TestController_Bootstrap(t *testing.T) {
	env := newTestEnv(t, "exec sleep 60", 0)

	if _, err := os.Stat(env.repo.DefaultConfigPath()); err != nil {
		t.Fatalf("default profile missing after Bootstrap(): %v", err)
	}
	if got := env.repo.CurrentConfigPath(); got != env.repo.DefaultConfigPath() {
		t.Errorf("CurrentConfigPath() = %q, want %q", got, env.repo.DefaultConfigPath())
	}
}

func TestController_StartActiveAndStop(t *testing.T) {
	env := newTestEnv(t, "exec sleep 60", 0)
	ctx := context.Background()

	if err := env.controller.StartActive(ctx); err != nil {
		t.Fatalf("StartActive() error = %v", err)
	}
	if !env.supervisor.IsRunning() {
		t.Fatal("engine not running after StartActive()")
	}
	if got := env.supervisor.ConfigPath(); got != env.repo.DefaultConfigPath() {
		t.Errorf("running profile = %q, want %q", got, env.repo.DefaultConfigPath())
	}

	if err := env.controller.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if env.supervisor.IsRunning() {
		t.Error("engine still running after Stop()")
	}
	waitUntil(t, "stop event", func() bool {
		return len(env.journal.kinds()) == 2 && env.metrics.count() == 2 && len(env.publisher.snapshot()) == 4
	})

	if got := env.journal.kinds(); !equalKinds(got, []string{"started", "stopped"}) {
		t.Errorf("journal kinds = %v, want [started stopped]", got)
	}
	if got := env.metrics.count(); got != 2 {
		t.Errorf("metric events = %d, want 2", got)
	}

	msgs := env.publisher.snapshot()
	if len(msgs) != 4 {
		t.Fatalf("published %d messages, want 4: %+v", len(msgs), msgs)
	}
	if msgs[0].topic != "clashxw/engine/event/started" || msgs[0].retained {
		t.Errorf("first message = %+v, want non-retained started event", msgs[0])
	}
	if msgs[1].topic != "clashxw/engine/status" || !msgs[1].retained {
		t.Errorf("second message = %+v, want retained status", msgs[1])
	}
	if !strings.Contains(msgs[1].payload, `"status":"running"`) {
		t.Errorf("status payload = %s, want running", msgs[1].payload)
	}
	if !strings.Contains(msgs[3].payload, `"status":"idle"`) {
		t.Errorf("final status payload = %s, want idle", msgs[3].payload)
	}
}

func TestController_SwitchProfileWhenIdle(t *testing.T) {
	env := newTestEnv(t, "exec sleep 60", 0)
	want := writeProfile(t, env.repo, "work.yml", "mixed-port: 7890\n")

	got, err := env.controller.SwitchProfile(context.Background(), "work")
	if err != nil {
		t.Fatalf("SwitchProfile() error = %v", err)
	}
	if got != want {
		t.Errorf("SwitchProfile() = %q, want %q", got, want)
	}
	if cur := env.repo.CurrentConfigPath(); cur != want {
		t.Errorf("CurrentConfigPath() = %q, want %q", cur, want)
	}
	if env.supervisor.IsRunning() {
		t.Error("SwitchProfile() started an idle engine")
	}
	if kinds := env.journal.kinds(); len(kinds) != 0 {
		t.Errorf("journal kinds = %v, want none", kinds)
	}
}

func TestController_SwitchProfileUnknown(t *testing.T) {
	env := newTestEnv(t, "exec sleep 60", 0)
	before := env.repo.CurrentConfigPath()

	_, err := env.controller.SwitchProfile(context.Background(), "missing")
	if !errors.Is(err, profile.ErrProfileNotFound) {
		t.Errorf("SwitchProfile() error = %v, want %v", err, profile.ErrProfileNotFound)
	}
	if after := env.repo.CurrentConfigPath(); after != before {
		t.Errorf("CurrentConfigPath() = %q after failed switch, want %q", after, before)
	}
}

func TestController_SwitchProfileRestartsRunningEngine(t *testing.T) {
	env := newTestEnv(t, "exec sleep 60", 0)
	ctx := context.Background()
	work := writeProfile(t, env.repo, "work.yaml", "mixed-port: 7890\n")

	if err := env.controller.StartActive(ctx); err != nil {
		t.Fatalf("StartActive() error = %v", err)
	}
	firstPID := env.supervisor.Status().PID

	if _, err := env.controller.SwitchProfile(ctx, "work.yaml"); err != nil {
		t.Fatalf("SwitchProfile() error = %v", err)
	}

	st := env.supervisor.Status()
	if st.State != engine.StateRunning {
		t.Fatalf("State = %q, want %q", st.State, engine.StateRunning)
	}
	if st.ConfigPath != work {
		t.Errorf("running profile = %q, want %q", st.ConfigPath, work)
	}
	if st.PID == firstPID {
		t.Error("engine was not restarted")
	}
	waitUntil(t, "restart events", func() bool { return len(env.journal.kinds()) == 3 })
	if got := env.journal.kinds(); !equalKinds(got, []string{"started", "stopped", "started"}) {
		t.Errorf("journal kinds = %v, want [started stopped started]", got)
	}
}

func TestController_UnexpectedExitIsRecorded(t *testing.T) {
	env := newTestEnv(t, "exit 2", 0)

	if err := env.controller.StartActive(context.Background()); err != nil {
		t.Fatalf("StartActive() error = %v", err)
	}
	waitUntil(t, "exit event", func() bool { return len(env.journal.kinds()) == 2 })

	env.journal.mu.Lock()
	last := env.journal.entries[1]
	env.journal.mu.Unlock()
	if last.Kind != "exited" {
		t.Errorf("last kind = %q, want exited", last.Kind)
	}
	if last.Detail == "" {
		t.Error("exit entry has no detail")
	}
}

func TestController_LaunchFailureIsRecorded(t *testing.T) {
	env := newTestEnv(t, "exec sleep 60", 0)
	if err := os.Chmod(env.supervisor.Executable(), 0600); err != nil {
		t.Fatalf("Chmod() error = %v", err)
	}

	err := env.controller.StartActive(context.Background())
	if !errors.Is(err, engine.ErrLaunchFailed) {
		t.Fatalf("StartActive() error = %v, want %v", err, engine.ErrLaunchFailed)
	}
	waitUntil(t, "launch_failed event", func() bool { return len(env.journal.kinds()) == 1 && len(env.publisher.snapshot()) == 2 })
	if got := env.journal.kinds(); !equalKinds(got, []string{"launch_failed"}) {
		t.Errorf("journal kinds = %v, want [launch_failed]", got)
	}
	msgs := env.publisher.snapshot()
	if len(msgs) == 0 || !strings.Contains(msgs[len(msgs)-1].payload, `"status":"failed"`) {
		t.Errorf("last message = %+v, want failed status", msgs)
	}
}

func TestController_SinkErrorsDoNotAffectEngine(t *testing.T) {
	env := newTestEnv(t, "exec sleep 60", 0)
	env.journal.err = errors.New("disk full")

	if err := env.controller.StartActive(context.Background()); err != nil {
		t.Fatalf("StartActive() error = %v", err)
	}
	if !env.supervisor.IsRunning() {
		t.Error("engine not running despite journal failure")
	}
}

func TestController_StalledPublisherDoesNotBreakRestart(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("fake engine scripts require a unix shell")
	}
	bin := filepath.Join(t.TempDir(), "mihomo")
	if err := os.WriteFile(bin, []byte("#!/bin/sh\nexec sleep 60\n"), 0700); err != nil { //nolint:gosec // must be executable
		t.Fatalf("WriteFile() error = %v", err)
	}

	repo := profile.NewRepository(appdata.New(t.TempDir()))
	sup := engine.NewSupervisor(engine.Config{
		Executable:  bin,
		Environ:     []string{"PATH=" + os.Getenv("PATH")},
		StopTimeout: 200 * time.Millisecond,
	})
	defer sup.Close() //nolint:errcheck

	publisher := &fakePublisher{delay: 300 * time.Millisecond}
	ctrl := New(repo, sup, Options{Publisher: publisher})
	if err := ctrl.Bootstrap(); err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}
	work := writeProfile(t, repo, "work.yaml", "mixed-port: 7890\n")
	ctx := context.Background()

	if err := ctrl.StartActive(ctx); err != nil {
		t.Fatalf("StartActive() error = %v", err)
	}
	if err := ctrl.Restart(ctx); err != nil {
		t.Fatalf("Restart() error = %v", err)
	}
	if _, err := ctrl.SwitchProfile(ctx, "work"); err != nil {
		t.Fatalf("SwitchProfile() error = %v", err)
	}
	if !sup.IsRunning() || sup.ConfigPath() != work {
		t.Errorf("IsRunning() = %v, ConfigPath() = %q, want running %q", sup.IsRunning(), sup.ConfigPath(), work)
	}

	if err := sup.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	// Three starts and three stops, each an event plus a retained status.
	if got := len(publisher.snapshot()); got != 12 {
		t.Errorf("published %d messages after Close(), want 12", got)
	}
}

func TestController_Restart(t *testing.T) {
	env := newTestEnv(t, "exec sleep 60", 0)
	ctx := context.Background()

	if err := env.controller.Restart(ctx); err != nil {
		t.Fatalf("Restart() of an idle engine error = %v", err)
	}
	if !env.supervisor.IsRunning() {
		t.Fatal("engine not running after Restart()")
	}
	firstPID := env.supervisor.Status().PID

	if err := env.controller.HandleCommand("clashxw/engine/command", []byte(`{"action":"restart"}`)); err != nil {
		t.Fatalf("restart command error = %v", err)
	}
	if pid := env.supervisor.Status().PID; pid == firstPID || pid == 0 {
		t.Errorf("PID after restart = %d, want a new process (was %d)", pid, firstPID)
	}
}

func TestController_HandleCommand(t *testing.T) {
	env := newTestEnv(t, "exec sleep 60", 0)
	work := writeProfile(t, env.repo, "work.yaml", "mixed-port: 7890\n")
	topic := "clashxw/engine/command"

	if err := env.controller.HandleCommand(topic, []byte(`{"action":"start"}`)); err != nil {
		t.Fatalf("start command error = %v", err)
	}
	if !env.supervisor.IsRunning() {
		t.Fatal("engine not running after start command")
	}

	if err := env.controller.HandleCommand(topic, []byte(`{"action":"use","profile":"work"}`)); err != nil {
		t.Fatalf("use command error = %v", err)
	}
	if got := env.supervisor.ConfigPath(); got != work {
		t.Errorf("running profile = %q, want %q", got, work)
	}

	if err := env.controller.HandleCommand(topic, []byte(`{"action":"stop"}`)); err != nil {
		t.Fatalf("stop command error = %v", err)
	}
	if env.supervisor.IsRunning() {
		t.Error("engine running after stop command")
	}
}

func TestController_HandleCommandErrors(t *testing.T) {
	env := newTestEnv(t, "exec sleep 60", 0)

	tests := []struct {
		name    string
		payload string
		wantErr error
	}{
		{name: "not json", payload: "start", wantErr: ErrInvalidCommand},
		{name: "unknown action", payload: `{"action":"reload"}`, wantErr: ErrUnknownAction},
		{name: "empty action", payload: `{}`, wantErr: ErrUnknownAction},
		{name: "use without profile", payload: `{"action":"use"}`, wantErr: ErrInvalidCommand},
		{name: "use unknown profile", payload: `{"action":"use","profile":"nope"}`, wantErr: profile.ErrProfileNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := env.controller.HandleCommand("clashxw/engine/command", []byte(tt.payload))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("HandleCommand(%s) error = %v, want %v", tt.payload, err, tt.wantErr)
			}
		})
	}

	if env.supervisor.IsRunning() {
		t.Error("a rejected command started the engine")
	}
}

func TestController_StatusAndEndpoint(t *testing.T) {
	env := newTestEnv(t, "exec sleep 60", 0)
	lan := writeProfile(t, env.repo, "lan.yaml", "external-controller: \":19090\"\nsecret: abc\n")

	details, ok := env.controller.Endpoint()
	if !ok {
		t.Fatal("Endpoint() ok = false for the default profile")
	}
	if details.BaseURL != "http://127.0.0.1:9090" {
		t.Errorf("BaseURL = %q, want %q", details.BaseURL, "http://127.0.0.1:9090")
	}

	if _, err := env.controller.SwitchProfile(context.Background(), lan); err != nil {
		t.Fatalf("SwitchProfile() error = %v", err)
	}

	st := env.controller.Status()
	if st.CurrentProfile != lan {
		t.Errorf("CurrentProfile = %q, want %q", st.CurrentProfile, lan)
	}
	if st.Engine.State != engine.StateIdle {
		t.Errorf("Engine.State = %q, want %q", st.Engine.State, engine.StateIdle)
	}
	if st.Endpoint == nil {
		t.Fatal("Status().Endpoint = nil, want lan endpoint")
	}
	if st.Endpoint.BaseURL != "http://127.0.0.1:19090" {
		t.Errorf("Endpoint.BaseURL = %q, want %q", st.Endpoint.BaseURL, "http://127.0.0.1:19090")
	}
	if !st.Endpoint.HasSecret() {
		t.Error("Endpoint.HasSecret() = false, want true")
	}
}

func TestController_EndpointAbsent(t *testing.T) {
	env := newTestEnv(t, "exec sleep 60", 0)
	plain := writeProfile(t, env.repo, "plain.yaml", "mixed-port: 7890\n")
	if _, err := env.controller.SwitchProfile(context.Background(), plain); err != nil {
		t.Fatalf("SwitchProfile() error = %v", err)
	}

	if _, ok := env.controller.Endpoint(); ok {
		t.Error("Endpoint() ok = true for a profile without a controller")
	}
	if st := env.controller.Status(); st.Endpoint != nil {
		t.Errorf("Status().Endpoint = %+v, want nil", st.Endpoint)
	}
}

func TestController_WaitForReady(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer ln.Close()

	env := newTestEnv(t, "exec sleep 60", 2*time.Second)
	path := writeProfile(t, env.repo, "ready.yaml", "external-controller: "+ln.Addr().String()+"\n")

	if err := env.supervisor.Start(path); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := env.controller.waitForReady(context.Background(), path); err != nil {
		t.Errorf("waitForReady() error = %v, want nil", err)
	}
}

func TestController_WaitForReadyFailures(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	closedAddr := ln.Addr().String()
	ln.Close()

	env := newTestEnv(t, "exec sleep 60", 300*time.Millisecond)
	path := writeProfile(t, env.repo, "closed.yaml", "external-controller: "+closedAddr+"\n")

	if err := env.supervisor.Start(path); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := env.controller.waitForReady(context.Background(), path); err == nil {
		t.Error("waitForReady() on a closed port error = nil, want timeout")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := env.controller.waitForReady(ctx, path); !errors.Is(err, context.Canceled) {
		t.Errorf("waitForReady() with cancelled context error = %v, want %v", err, context.Canceled)
	}

	// A readiness failure is logged and the engine keeps running.
	if err := env.controller.StartActive(context.Background()); err != nil {
		t.Errorf("StartActive() error = %v, want nil", err)
	}
}

func TestController_WaitForReadyEngineExit(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	closedAddr := ln.Addr().String()
	ln.Close()

	env := newTestEnv(t, "exit 1", 5*time.Second)
	path := writeProfile(t, env.repo, "crash.yaml", "external-controller: "+closedAddr+"\n")

	if err := env.supervisor.Start(path); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	start := time.Now()
	if err := env.controller.waitForReady(context.Background(), path); err == nil {
		t.Error("waitForReady() after engine exit error = nil")
	}
	if elapsed := time.Since(start); elapsed > 4*time.Second {
		t.Errorf("waitForReady() took %v, want early return on exit", elapsed)
	}
}

func TestDialAddress(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "127.0.0.1:9090", want: "127.0.0.1:9090"},
		{in: "0.0.0.0:9090", want: "127.0.0.1:9090"},
		{in: "[::]:9090", want: "127.0.0.1:9090"},
		{in: "192.168.1.2:9090", want: "192.168.1.2:9090"},
		{in: "localhost:9090", want: "localhost:9090"},
		{in: "no-port", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := dialAddress(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("dialAddress(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("dialAddress(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
