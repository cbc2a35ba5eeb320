package main

import (
	"context"
	"fmt"
	"time"

	"github.com/clashxw/clashxw-core/internal/api"
	"github.com/clashxw/clashxw-core/internal/control"
	"github.com/clashxw/clashxw-core/internal/infrastructure/database"
	"github.com/clashxw/clashxw-core/internal/infrastructure/influxdb"
	"github.com/clashxw/clashxw-core/internal/infrastructure/mqtt"
	"github.com/clashxw/clashxw-core/internal/journal"
)

// startupTimeout bounds migrations, health checks and the initial engine
// start.
const startupTimeout = 30 * time.Second

// cmdRun supervises the engine until ctx is cancelled.
//
// Startup uses a context detached from ctx and bounded by startupTimeout;
// a signal received during startup takes effect once startup completes.
// Deferred cleanup runs in reverse order: the engine is stopped first so
// its final events still reach the API, InfluxDB, MQTT and the journal.
func (a *app) cmdRun(ctx context.Context) error {
	a.log.Info("starting clashxw",
		"version", version,
		"commit", commit,
		"build_date", date,
		"data_dir", a.cfg.App.DataDir,
	)

	startCtx, cancelStartup := context.WithTimeout(context.WithoutCancel(ctx), startupTimeout)
	defer cancelStartup()

	opts := control.Options{ReadyTimeout: a.cfg.Engine.ReadyTimeout}

	// Engine journal (optional)
	var db *database.DB
	var events journal.Repository
	if a.cfg.Database.Enabled {
		var err error
		db, err = a.openJournal(startCtx)
		if err != nil {
			return err
		}
		defer func() {
			a.log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				a.log.Error("error closing database", "error", closeErr)
			}
		}()
		events = journal.NewSQLiteRepository(db.DB)
		opts.Journal = events
		a.log.Info("engine journal enabled", "path", a.cfg.Database.Path)
	}

	// MQTT status and commands (optional)
	var mqttClient *mqtt.Client
	if a.cfg.MQTT.Enabled {
		var err error
		mqttClient, err = mqtt.Connect(a.cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			a.log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				a.log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(a.log.Component("mqtt"))
		opts.Publisher = mqttClient
		a.log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", a.cfg.MQTT.Broker.Host, a.cfg.MQTT.Broker.Port),
			"client_id", a.cfg.MQTT.Broker.ClientID,
		)
	} else {
		a.log.Info("MQTT disabled")
	}

	// InfluxDB lifecycle metrics (optional)
	var influxClient *influxdb.Client
	if a.cfg.InfluxDB.Enabled {
		var err error
		influxClient, err = influxdb.Connect(startCtx, a.cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			a.log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				a.log.Error("error closing InfluxDB", "error", closeErr)
			}
			if n := influxClient.WriteFailures(); n > 0 {
				a.log.Warn("InfluxDB lifecycle writes failed", "count", n)
			}
		}()
		influxClient.SetOnError(func(err error) {
			a.log.Error("InfluxDB write error", "error", err)
		})
		opts.Metrics = influxClient
		a.log.Info("InfluxDB connected", "url", a.cfg.InfluxDB.URL, "bucket", a.cfg.InfluxDB.Bucket)
	} else {
		a.log.Info("InfluxDB disabled")
	}

	if err := healthCheck(startCtx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	ctrl := a.controller(opts)
	if err := ctrl.Bootstrap(); err != nil {
		return fmt.Errorf("creating default profile: %w", err)
	}

	// Local admin API (optional)
	if a.cfg.API.Enabled {
		apiServer, err := api.New(api.Deps{
			Config:     a.cfg.API,
			Logger:     a.log.Component("api"),
			Controller: ctrl,
			Profiles:   a.repo,
			Journal:    events,
			Version:    version,
		})
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		a.supervisor.Subscribe(apiServer.BroadcastEngineEvent)
		if err := apiServer.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		defer func() {
			if closeErr := apiServer.Close(); closeErr != nil {
				a.log.Error("error closing API server", "error", closeErr)
			}
		}()
		if err := apiServer.HealthCheck(startCtx); err != nil {
			return fmt.Errorf("health check failed: api: %w", err)
		}
		a.log.Info("API server listening", "address", apiServer.Addr())
	} else {
		a.log.Info("API server disabled")
	}

	defer func() {
		a.log.Info("stopping engine")
		if closeErr := a.supervisor.Close(); closeErr != nil {
			a.log.Error("error stopping engine", "error", closeErr)
		}
	}()

	if mqttClient != nil {
		if err := mqttClient.HandleCommands(ctrl.HandleCommand); err != nil {
			return fmt.Errorf("subscribing to engine commands: %w", err)
		}
		mqttClient.SetOnConnect(func() {
			if err := ctrl.PublishStatus(); err != nil {
				a.log.Warn("publishing engine status", "error", err)
			}
		})
	}

	if a.cfg.Engine.Autostart {
		if err := ctrl.StartActive(startCtx); err != nil {
			return fmt.Errorf("starting engine: %w", err)
		}
		if details, ok := ctrl.Endpoint(); ok {
			a.log.Info("engine control plane", "base_url", details.BaseURL, "dashboard", details.DashboardURL)
		}
	} else if err := ctrl.PublishStatus(); err != nil {
		a.log.Warn("publishing engine status", "error", err)
	}

	cancelStartup()
	a.log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	a.log.Info("shutdown signal received, cleaning up")

	return nil
}

// healthCheck verifies the enabled infrastructure connections.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Journal database (nil if disabled)
//   - mqttClient: MQTT client (nil if disabled)
//   - influxClient: InfluxDB client (nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}
