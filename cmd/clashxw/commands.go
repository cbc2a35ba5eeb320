package main

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/clashxw/clashxw-core/internal/control"
	"github.com/clashxw/clashxw-core/internal/controlplane"
	"github.com/clashxw/clashxw-core/internal/infrastructure/database"
	"github.com/clashxw/clashxw-core/internal/journal"
	"github.com/clashxw/clashxw-core/migrations"
)

var (
	errNoEndpoint      = errors.New("profile declares no external-controller")
	errJournalDisabled = errors.New("engine journal is disabled (database.enabled: false)")
)

func (a *app) controller(opts control.Options) *control.Controller {
	c := control.New(a.repo, a.supervisor, opts)
	c.SetLogger(a.log.Component("control"))
	return c
}

func (a *app) cmdInit() error {
	if err := a.controller(control.Options{}).Bootstrap(); err != nil {
		return err
	}
	fmt.Fprintln(a.out, a.repo.DefaultConfigPath())
	return nil
}

func (a *app) cmdProfiles() error {
	profiles, err := a.repo.Profiles()
	if err != nil {
		return err
	}

	current := a.repo.CurrentConfigPath()
	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	for _, p := range profiles {
		marker := " "
		if p.Path == current {
			marker = "*"
		}
		fmt.Fprintf(w, "%s %s\t%s\n", marker, p.Name, p.Path)
	}
	return w.Flush()
}

func (a *app) cmdCurrent() error {
	fmt.Fprintln(a.out, a.repo.CurrentConfigPath())
	return nil
}

func (a *app) cmdUse(ctx context.Context, ref string) error {
	path, err := a.controller(control.Options{}).SwitchProfile(ctx, ref)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, path)
	return nil
}

func (a *app) cmdAPI(ref string, showSecret bool) error {
	path := a.repo.CurrentConfigPath()
	if ref != "" {
		resolved, err := a.repo.Resolve(ref)
		if err != nil {
			return err
		}
		path = resolved
	}

	details, ok := controlplane.ReadAPIDetails(path)
	if !ok {
		return fmt.Errorf("%w: %s", errNoEndpoint, path)
	}

	secret := "(none)"
	if details.HasSecret() {
		secret = "(set)"
		if showSecret {
			secret = details.Secret
		}
	}

	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "profile:\t%s\n", path)
	fmt.Fprintf(w, "controller:\t%s\n", details.Controller)
	fmt.Fprintf(w, "base_url:\t%s\n", details.BaseURL)
	fmt.Fprintf(w, "dashboard:\t%s\n", details.DashboardURL)
	fmt.Fprintf(w, "secret:\t%s\n", secret)
	return w.Flush()
}

func (a *app) cmdHistory(ctx context.Context, kind string, limit int) error {
	if !a.cfg.Database.Enabled {
		return errJournalDisabled
	}

	db, err := a.openJournal(ctx)
	if err != nil {
		return err
	}
	defer db.Close() //nolint:errcheck // Read-only command

	entries, err := journal.NewSQLiteRepository(db.DB).List(ctx, journal.Filter{Kind: kind, Limit: limit})
	if err != nil {
		return fmt.Errorf("listing engine events: %w", err)
	}

	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	for _, e := range entries {
		pid := "-"
		if e.PID != 0 {
			pid = fmt.Sprint(e.PID)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			e.CreatedAt.Local().Format(time.DateTime), e.Kind, pid, e.Profile, e.Detail)
	}
	return w.Flush()
}

// openJournal opens the journal database and applies pending migrations.
func (a *app) openJournal(ctx context.Context) (*database.DB, error) {
	db, err := database.Open(ctx, database.Config{
		Path:        a.cfg.Database.Path,
		WALMode:     a.cfg.Database.WALMode,
		BusyTimeout: a.cfg.Database.BusyTimeout,
		Migrations:  migrations.FS,
	})
	if err != nil {
		return nil, fmt.Errorf("opening engine journal: %w", err)
	}
	if n := db.Applied(); n > 0 {
		a.log.Info("database migrations applied", "count", n)
	}
	return db, nil
}
