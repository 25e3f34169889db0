package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/speechlink/internal/api"
	"github.com/nerrad567/speechlink/internal/capture"
	"github.com/nerrad567/speechlink/internal/infrastructure/config"
	"github.com/nerrad567/speechlink/internal/infrastructure/database"
	"github.com/nerrad567/speechlink/internal/infrastructure/influxdb"
	"github.com/nerrad567/speechlink/internal/infrastructure/logging"
	"github.com/nerrad567/speechlink/internal/infrastructure/mqtt"
	"github.com/nerrad567/speechlink/internal/journal"
	"github.com/nerrad567/speechlink/internal/metrics"
	"github.com/nerrad567/speechlink/internal/publisher"
	"github.com/nerrad567/speechlink/internal/utterance"
	_ "github.com/nerrad567/speechlink/migrations" // registers the journal schema
)

// NewServeCmd runs the capture client until interrupted.
func NewServeCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the push-to-talk client",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := deps.LoadConfig()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			return Serve(cmd.Context(), cfg, deps.Build)
		},
	}
}

// Serve wires every component and blocks until ctx is cancelled.
//
// Startup order: logger, journal, metrics, InfluxDB, broker connection,
// publisher, capture controller, API. Deferred cleanup runs in reverse.
// Only configuration and database errors are fatal; the broker and
// InfluxDB are allowed to be unavailable.
func Serve(ctx context.Context, cfg *config.Config, build BuildInfo) error {
	log := logging.New(cfg.Logging, build.Version)
	log.Info("starting SpeechLink",
		"version", build.Version,
		"commit", build.Commit,
		"client_id", cfg.Client.ID,
	)

	// Utterance journal (optional)
	var recorder *journal.SQLiteRepository
	if cfg.Database.Enabled {
		db, err := database.Open(cfg.Database)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()

		if err := db.Migrate(ctx); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		recorder = journal.NewSQLiteRepository(db.DB)
		log.Info("utterance journal ready", "path", db.Path())

		if retention := cfg.Database.GetRetention(); retention > 0 {
			pruned, err := recorder.Prune(ctx, time.Now().Add(-retention))
			if err != nil {
				log.Warn("journal prune failed", "error", err)
			} else if pruned > 0 {
				log.Info("journal pruned", "removed", pruned, "retention_days", cfg.Database.RetentionDays)
			}
		}
	} else {
		log.Info("utterance journal disabled")
	}

	m := metrics.New()

	// InfluxDB export (optional, never fatal)
	influx, err := influxdb.Connect(cfg.InfluxDB)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("InfluxDB disabled")
		influx = nil
	case err != nil:
		log.Warn("InfluxDB unavailable, continuing without export", "error", err)
		influx = nil
	default:
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influx.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influx.SetClientID(cfg.MQTT.Broker.ClientID)
		influx.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	broker := mqtt.New(cfg.MQTT)
	broker.SetLogger(log.With("component", "mqtt"))

	pubOpts := []publisher.Option{
		publisher.WithQoS(byte(cfg.MQTT.QoS)), //nolint:gosec // validated to 0..2
		publisher.WithLogger(log.With("component", "publisher")),
		publisher.WithObserver(m),
	}
	if recorder != nil {
		pubOpts = append(pubOpts, publisher.WithRecorder(recorder))
	}
	if influx != nil {
		pubOpts = append(pubOpts, publisher.WithObserver(influx))
	}
	pub := publisher.New(broker, pubOpts...)

	device := capture.NewFFmpegDevice(cfg.Capture)
	device.SetLogger(log.With("component", "ffmpeg"))

	ctrl := capture.NewController(device, pub, capture.OptionsFromConfig(cfg.Capture))
	ctrl.SetLogger(log.With("component", "capture"))

	// API server (optional)
	var srv *api.Server
	if cfg.API.Enabled {
		apiDeps := api.Deps{
			Config:  cfg.API,
			WS:      cfg.WebSocket,
			Logger:  log.With("component", "api"),
			Trigger: ctrl,
			Broker:  broker,
			Metrics: m,
			Version: build.Version,
		}
		if recorder != nil {
			apiDeps.Journal = recorder
		}
		srv, err = api.New(apiDeps)
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
	}

	wire(ctx, broker, ctrl, pub, m, influx, srv)

	broker.Start()
	defer func() {
		log.Info("disconnecting from MQTT")
		if stopErr := broker.Stop(); stopErr != nil {
			log.Error("error stopping MQTT", "error", stopErr)
		}
	}()
	log.Info("MQTT connecting", "broker", cfg.MQTT.BrokerURL(), "client_id", cfg.MQTT.Broker.ClientID)

	if srv != nil {
		if err := srv.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		defer func() {
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	}

	log.Info("initialisation complete, waiting for push-to-talk")

	// Blocks until shutdown; an open session is discarded, never published.
	if err := ctrl.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("capture controller: %w", err)
	}

	log.Info("shutdown signal received, cleaning up")
	return nil
}

// wire connects state and outcome callbacks to their consumers. srv and
// influx may be nil.
func wire(ctx context.Context, broker *mqtt.Client, ctrl *capture.Controller, pub *publisher.Publisher,
	m *metrics.Metrics, influx *influxdb.Client, srv *api.Server) {
	// Outcomes must still reach the journal while shutting down.
	reportCtx := context.WithoutCancel(ctx)

	broker.SetOnStateChange(func(s mqtt.ConnectionState) {
		m.RecordBrokerState(s)
		if influx != nil {
			influx.WriteBrokerState(s.String())
		}
		if srv != nil {
			srv.Hub().BroadcastBrokerState(s)
		}
	})

	ctrl.SetOnStateChange(func(s capture.State) {
		m.SetCaptureState(s)
		if srv != nil {
			srv.Hub().BroadcastPTTState(s)
		}
	})

	ctrl.SetOnOutcome(func(o utterance.Outcome) {
		pub.Report(reportCtx, o)
		if srv != nil {
			srv.Hub().BroadcastOutcome(o)
		}
	})
}
