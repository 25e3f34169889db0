// Package cli implements the speechlink command line.
package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/nerrad567/speechlink/internal/infrastructure/config"
)

// DefaultConfigPath is used when neither --config nor SPEECHLINK_CONFIG is set.
const DefaultConfigPath = "configs/config.yaml"

// BuildInfo is set at build time via ldflags in main.
type BuildInfo struct {
	Version string
	Commit  string
	Date    string
}

// Dependencies is shared by all subcommands.
type Dependencies struct {
	Build      BuildInfo
	ConfigPath string
}

// LoadConfig loads the configuration the flags point at. A missing file
// falls back to defaults so that `speechlink send` works out of the box.
func (d *Dependencies) LoadConfig() (*config.Config, error) {
	return config.LoadOrDefault(d.ConfigPath)
}

// NewRootCmd builds the command tree.
func NewRootCmd(build BuildInfo) *cobra.Command {
	deps := &Dependencies{Build: build}

	rootCmd := &cobra.Command{
		Use:   "speechlink",
		Short: "Push-to-talk voice capture client",
		Long: "SpeechLink records the microphone while a push-to-talk control is held " +
			"and publishes each utterance to an MQTT broker as base64 WebM/Opus.",
		SilenceUsage: true,
	}

	rootCmd.Version = build.Version
	rootCmd.SetVersionTemplate("speechlink {{.Version}} (commit " + build.Commit + ", built " + build.Date + ")\n")

	rootCmd.PersistentFlags().StringVarP(&deps.ConfigPath, "config", "c", defaultConfigPath(),
		"path to config.yaml (env SPEECHLINK_CONFIG)")

	rootCmd.AddCommand(NewServeCmd(deps))
	rootCmd.AddCommand(NewSendCmd(deps))
	rootCmd.AddCommand(NewDoctorCmd(deps))

	return rootCmd
}

// defaultConfigPath uses SPEECHLINK_CONFIG if set, otherwise the default.
func defaultConfigPath() string {
	if path := os.Getenv("SPEECHLINK_CONFIG"); path != "" {
		return path
	}
	return DefaultConfigPath
}
