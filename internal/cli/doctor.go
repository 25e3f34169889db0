package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/speechlink/internal/capture"
	"github.com/nerrad567/speechlink/internal/infrastructure/config"
	"github.com/nerrad567/speechlink/internal/infrastructure/database"
	"github.com/nerrad567/speechlink/internal/infrastructure/influxdb"
)

// errChecksFailed makes doctor exit non-zero.
var errChecksFailed = errors.New("some prerequisites are missing")

// NewDoctorCmd checks that the client can capture and publish.
func NewDoctorCmd(deps *Dependencies) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check prerequisites",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := newPrinter(cmd.OutOrStdout())

			cfg, err := deps.LoadConfig()
			if err != nil {
				out.check("config", false, err.Error())
				return errChecksFailed
			}
			if _, statErr := os.Stat(deps.ConfigPath); statErr != nil {
				out.check("config", true, "defaults (no file at "+deps.ConfigPath+")")
			} else {
				out.check("config", true, deps.ConfigPath)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			if !runDoctor(ctx, cfg, out) {
				return errChecksFailed
			}
			out.info("\nAll prerequisites met. Ready to talk.")
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "overall time allowed for the checks")

	return cmd
}

// runDoctor prints one line per check and reports whether all passed.
func runDoctor(ctx context.Context, cfg *config.Config, out *printer) bool {
	ok := true
	fail := func(name, detail string) {
		out.check(name, false, detail)
		ok = false
	}

	device := capture.NewFFmpegDevice(cfg.Capture)
	if version, err := device.Probe(ctx); err != nil {
		fail("ffmpeg", fmt.Sprintf("%s: %v", cfg.Capture.FFmpeg, err))
	} else {
		out.check("ffmpeg", true, version)
	}

	out.check("input", true, fmt.Sprintf("%s %q (echo cancellation must come from this source)",
		cfg.Capture.InputFormat, cfg.Capture.InputDevice))

	broker := newBroker(cfg.MQTT)
	broker.Start()
	if err := broker.WaitConnected(ctx); err != nil {
		fail("broker", fmt.Sprintf("%s: %v", cfg.MQTT.BrokerURL(), err))
	} else {
		out.check("broker", true, cfg.MQTT.BrokerURL())
	}
	broker.Stop() //nolint:errcheck // best effort

	if cfg.Database.Enabled {
		if version, err := checkDatabase(ctx, cfg.Database); err != nil {
			fail("journal", err.Error())
		} else {
			if version == "" {
				version = "not migrated yet"
			}
			out.check("journal", true, fmt.Sprintf("%s (schema %s)", cfg.Database.Path, version))
		}
	}

	if cfg.InfluxDB.Enabled {
		client, err := influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			fail("influxdb", err.Error())
		} else {
			out.check("influxdb", true, cfg.InfluxDB.URL)
			client.Close() //nolint:errcheck // best effort
		}
	}

	return ok
}

// checkDatabase opens the journal and returns its schema version.
func checkDatabase(ctx context.Context, cfg config.DatabaseConfig) (string, error) {
	db, err := database.Open(cfg)
	if err != nil {
		return "", err
	}
	defer db.Close() //nolint:errcheck // best effort

	if err := db.HealthCheck(ctx); err != nil {
		return "", err
	}
	return db.SchemaVersion(ctx)
}
