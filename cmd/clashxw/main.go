// ClashXW - proxy engine supervisor
//
// This is the main entry point for clashxw. It keeps a mihomo engine
// running with the selected configuration profile, manages the profile
// directory and the current-profile pointer, and reports the engine's
// control-plane endpoint. The run command can also serve a local admin
// HTTP API.
//
// Usage:
//
//	clashxw [--config FILE] <command> [arguments]
//
// Commands: init, profiles, current, use, api, run, history, version.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/clashxw/clashxw-core/internal/appdata"
	"github.com/clashxw/clashxw-core/internal/engine"
	"github.com/clashxw/clashxw-core/internal/infrastructure/config"
	"github.com/clashxw/clashxw-core/internal/infrastructure/logging"
	"github.com/clashxw/clashxw-core/internal/profile"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// configEnv overrides the implicit configuration file location.
const configEnv = "CLASHXW_CONFIG"

// errUsage marks command-line mistakes; main prints the usage text for it.
var errUsage = errors.New("usage error")

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.Is(err, errUsage) {
			fmt.Fprint(os.Stderr, usage)
			os.Exit(2)
		}
		os.Exit(1)
	}
}

const usage = `Usage: clashxw [--config FILE] <command> [arguments]

Commands:
  init                 create the profile directory and default profile
  profiles             list available profiles (* marks the current one)
  current              print the current profile path
  use <name|path>      select the profile the engine runs with
  api [--profile REF]  print the control-plane endpoint of a profile
  run                  supervise the engine until interrupted
  history              list recent engine lifecycle events
  version              print build information
`

// options holds the parsed global and per-command flags.
type options struct {
	configPath string
	profile    string
	showSecret bool
	kind       string
	limit      int
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context cancelled on interrupt signals
//   - args: Command-line arguments without the program name
//   - stdout: Destination for command output
//
// Returns:
//   - error: nil on success, errUsage-wrapped for bad invocations
func run(ctx context.Context, args []string, stdout io.Writer) error {
	var opts options
	flags := pflag.NewFlagSet("clashxw", pflag.ContinueOnError)
	flags.SetOutput(io.Discard)
	flags.StringVarP(&opts.configPath, "config", "c", "", "configuration file (default $"+configEnv+" or the user config dir)")
	flags.StringVar(&opts.profile, "profile", "", "profile name or path (api)")
	flags.BoolVar(&opts.showSecret, "show-secret", false, "print the control-plane secret (api)")
	flags.StringVar(&opts.kind, "kind", "", "only list events of this kind (history)")
	flags.IntVarP(&opts.limit, "limit", "n", 0, "number of events to list (history)")

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			fmt.Fprint(stdout, usage)
			return nil
		}
		return fmt.Errorf("%w: %w", errUsage, err)
	}

	rest := flags.Args()
	if len(rest) == 0 {
		return fmt.Errorf("%w: no command given", errUsage)
	}
	command, cmdArgs := rest[0], rest[1:]

	if command == "version" {
		fmt.Fprintf(stdout, "clashxw %s (commit %s, built %s)\n", version, commit, date)
		return nil
	}

	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log := logging.New(cfg.Logging, version)

	a := newApp(cfg, log, stdout)

	switch command {
	case "init":
		return a.cmdInit()
	case "profiles":
		return a.cmdProfiles()
	case "current":
		return a.cmdCurrent()
	case "use":
		if len(cmdArgs) != 1 {
			return fmt.Errorf("%w: use takes exactly one profile name or path", errUsage)
		}
		return a.cmdUse(ctx, cmdArgs[0])
	case "api":
		return a.cmdAPI(opts.profile, opts.showSecret)
	case "run":
		return a.cmdRun(ctx)
	case "history":
		return a.cmdHistory(ctx, opts.kind, opts.limit)
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, command)
	}
}

// loadConfig resolves the configuration file from the flag, then the
// environment, then the user config dir. Only an explicit file must exist.
func loadConfig(flagPath string) (*config.Config, error) {
	if flagPath != "" {
		return config.Load(flagPath)
	}
	if path := os.Getenv(configEnv); path != "" {
		return config.Load(path)
	}
	path, err := config.DefaultPath()
	if err != nil {
		return config.Load("")
	}
	return config.LoadOptional(path)
}

// app holds the components every command shares.
type app struct {
	cfg        *config.Config
	log        *logging.Logger
	out        io.Writer
	repo       *profile.Repository
	supervisor *engine.Supervisor
}

func newApp(cfg *config.Config, log *logging.Logger, out io.Writer) *app {
	repo := profile.NewRepository(appdata.New(cfg.App.DataDir))
	repo.SetLogger(log.Component("profile"))

	supervisor := engine.NewSupervisor(engine.Config{
		Executable:   cfg.Engine.Binary,
		AllowListDir: repo.ConfigDir(),
		AllowListEnv: cfg.Engine.AllowListEnv,
		StopTimeout:  cfg.Engine.StopTimeout,
	})
	supervisor.SetLogger(log.Component("engine"))

	return &app{
		cfg:        cfg,
		log:        log,
		out:        out,
		repo:       repo,
		supervisor: supervisor,
	}
}
