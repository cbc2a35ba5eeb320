package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/clashxw/clashxw-core/internal/control"
	"github.com/clashxw/clashxw-core/internal/engine"
	"github.com/clashxw/clashxw-core/internal/infrastructure/config"
	"github.com/clashxw/clashxw-core/internal/infrastructure/logging"
	"github.com/clashxw/clashxw-core/internal/journal"
	"github.com/clashxw/clashxw-core/internal/profile"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config     config.APIConfig
	Logger     *logging.Logger
	Controller *control.Controller
	Profiles   *profile.Repository
	Journal    journal.Repository // optional: /events answers 503 without it
	Version    string
}

// Server is the local admin HTTP API.
//
// It manages the HTTP listener, routes, middleware, and the engine event
// stream.
// The server is created with New() and started with Start().
type Server struct {
	cfg        config.APIConfig
	logger     *logging.Logger
	controller *control.Controller
	profiles   *profile.Repository
	journal    journal.Repository
	version    string

	stream   *eventStream
	server   *http.Server
	listener net.Listener
	cancel   context.CancelFunc
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called, but the event stream
// exists immediately so BroadcastEngineEvent can be subscribed first.
//
// Parameters:
//   - deps: Required dependencies (config, logger, controller, profiles)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Controller == nil {
		return nil, fmt.Errorf("controller is required")
	}
	if deps.Profiles == nil {
		return nil, fmt.Errorf("profile repository is required")
	}

	return &Server{
		cfg:        deps.Config,
		logger:     deps.Logger,
		controller: deps.Controller,
		profiles:   deps.Profiles,
		journal:    deps.Journal,
		version:    deps.Version,
		stream:     newEventStream(deps.Logger),
	}, nil
}

// Start binds the listen address and serves in a background goroutine.
// The server can be stopped with Close().
//
// Parameters:
//   - ctx: Parent context for the event stream
//
// Returns:
//   - error: If the address cannot be bound
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("binding %s: %w", s.cfg.Listen, err)
	}
	s.listener = ln

	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.stream.run(srvCtx)

	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	s.logger.Info("API server starting", "address", ln.Addr().String(), "auth", s.cfg.Token != "")

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}

// BroadcastEngineEvent relays a lifecycle event to WebSocket clients. It
// has the engine.Observer signature and never blocks.
func (s *Server) BroadcastEngineEvent(ev engine.Event) {
	s.stream.publish(ev)
}

// eventPayload is the WebSocket representation of an engine event.
type eventPayload struct {
	Kind          string  `json:"kind"`
	Profile       string  `json:"profile,omitempty"`
	PID           int     `json:"pid,omitempty"`
	UptimeSeconds float64 `json:"uptime_seconds,omitempty"`
	Error         string  `json:"error,omitempty"`
	Time          string  `json:"time"`
}

func newEventPayload(ev engine.Event) eventPayload {
	p := eventPayload{
		Kind:          string(ev.Kind),
		Profile:       ev.ConfigPath,
		PID:           ev.PID,
		UptimeSeconds: ev.Uptime.Seconds(),
		Time:          ev.Time.UTC().Format(time.RFC3339Nano),
	}
	if ev.Err != nil {
		p.Error = ev.Err.Error()
	}
	return p
}
