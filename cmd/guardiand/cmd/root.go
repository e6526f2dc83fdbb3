package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pintubhai440/secure-recoder/internal/config"
	"github.com/pintubhai440/secure-recoder/internal/service/daemon"
	"github.com/pintubhai440/secure-recoder/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// journalFile path where the local incident journal is kept.
	journalFile string

	// rootCmd represents the base command for running the guardian daemon.
	rootCmd = &cobra.Command{
		Use:   "guardiand [listen-address]",
		Short: "Run the guardian daemon: monitoring, alerts, and the HTTP API.",
		Long: `Starts the guardian daemon that watches the camera while armed and runs
the alert workflow on detections.

The daemon listens on the specified address or uses settings from the configuration file.
Only the port from the server address config is used for listening (e.g., :8465).
Listen address can be provided as argument to override config (e.g., :9090, 0.0.0.0:8465).
Incidents are journaled to a local SQLite file and mirrored to the remote store when configured.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			// Use listen address argument if provided, otherwise rely on config.
			var listenAddress string
			if len(args) > 0 {
				listenAddress = args[0]
			}

			options := &daemon.Options{
				ConfigPath:    configPath,
				ListenAddress: listenAddress,
				JournalFile:   journalFile,
			}

			return daemon.Run(ctx, options)
		},
	}
)

// Execute runs the guardiand CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.Flags().
		StringVarP(&journalFile, "journal-file", "j", "", "path to the local incident journal")
}
