package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nerrad567/speechlink/internal/infrastructure/config"
	"github.com/nerrad567/speechlink/internal/infrastructure/logging"
	"github.com/nerrad567/speechlink/internal/infrastructure/mqtt"
	"github.com/nerrad567/speechlink/internal/publisher"
	"github.com/nerrad567/speechlink/internal/utterance"
)

// defaultSendTimeout bounds how long send waits for the broker.
const defaultSendTimeout = 15 * time.Second

// Broker is the connection send publishes through. *mqtt.Client satisfies it.
type Broker interface {
	publisher.Conn
	Start()
	WaitConnected(ctx context.Context) error
	Stop() error
}

// newBroker is replaced in tests.
var newBroker = func(cfg config.MQTTConfig) Broker { return mqtt.New(cfg) }

// NewSendCmd publishes a prerecorded file as one utterance.
func NewSendCmd(deps *Dependencies) *cobra.Command {
	var dryRun bool
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "send <file>",
		Short: "Publish an audio file as a single utterance",
		Long: "Reads a WebM/Opus (or any) audio file and publishes it exactly like a " +
			"push-to-talk recording, using the same encoder and envelope.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := deps.LoadConfig()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading audio file: %w", err)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			return sendFile(ctx, cfg, data, dryRun, newPrinter(cmd.OutOrStdout()), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "encode and print the message without connecting")
	cmd.Flags().DurationVar(&timeout, "timeout", defaultSendTimeout, "how long to wait for the broker")

	return cmd
}

// sendFile publishes data as one utterance. Logs go to logw so that out
// only carries the command's own report.
func sendFile(ctx context.Context, cfg *config.Config, data []byte, dryRun bool, out *printer, logw io.Writer) error {
	u := utterance.New(uuid.NewString(), time.Now(), 0, [][]byte{data})

	encoded, err := utterance.Encode(u)
	if err != nil {
		return fmt.Errorf("encoding utterance: %w", err)
	}
	payload, err := utterance.NewMessage(encoded).Marshal()
	if err != nil {
		return fmt.Errorf("building message: %w", err)
	}

	if dryRun {
		out.info("topic:   %s", utterance.SpeechTopic)
		out.info("audio:   %d bytes", u.Size())
		out.info("payload: %d bytes", len(payload))
		return nil
	}

	log := logging.NewWriter(logw, cfg.Logging, "cli")
	broker := newBroker(cfg.MQTT)
	broker.Start()
	defer broker.Stop() //nolint:errcheck // best effort on exit

	if err := broker.WaitConnected(ctx); err != nil {
		return fmt.Errorf("connecting to %s: %w", cfg.MQTT.BrokerURL(), err)
	}

	pub := publisher.New(broker,
		publisher.WithQoS(byte(cfg.MQTT.QoS)), //nolint:gosec // validated to 0..2
		publisher.WithLogger(log),
	)
	outcome := pub.HandleUtterance(ctx, u)
	pub.Report(ctx, outcome)

	if outcome.Result != utterance.ResultPublished {
		return fmt.Errorf("utterance %s: %s", outcome.Result, outcome.Error())
	}
	out.info("published %d bytes to %s", u.Size(), utterance.SpeechTopic)
	return nil
}
