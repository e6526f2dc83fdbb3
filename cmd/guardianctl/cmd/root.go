package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pintubhai440/secure-recoder/internal/config"
	"github.com/pintubhai440/secure-recoder/internal/service/ctl"
	"github.com/pintubhai440/secure-recoder/internal/version"
)

// errMessageRequired is returned when chat is invoked without a message.
var errMessageRequired = errors.New("message must be provided")

var (
	// configPath to the configuration YAML file.
	configPath string
	// serverAddress overrides the daemon address from config.
	serverAddress string
	// limit bounds incident and event listings.
	limit int

	// rootCmd represents the base command for controlling the daemon.
	rootCmd = &cobra.Command{
		Use:   "guardianctl",
		Short: "Query and control a running guardian daemon.",
		Long: `Command-line client for the guardian daemon's HTTP API.

Arms and disarms monitoring, manages owner enrollment, lists and purges
recorded incidents, tails the operator event log, and forwards questions to
the vision assistant. The daemon address is read from the configuration file
unless overridden with --server.`,
	}

	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show the daemon's session state.",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, stop := newCommandContext()
			defer stop()

			return ctl.Status(ctx, newOptions())
		},
	}

	enrollCmd = &cobra.Command{
		Use:   "enroll",
		Short: "Capture the owner reference frame and arm monitoring.",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, stop := newCommandContext()
			defer stop()

			return ctl.Enroll(ctx, newOptions())
		},
	}

	clearEnrollmentCmd = &cobra.Command{
		Use:   "clear-enrollment",
		Short: "Drop the enrolled owner reference.",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, stop := newCommandContext()
			defer stop()

			return ctl.ClearEnrollment(ctx, newOptions())
		},
	}

	armCmd = &cobra.Command{
		Use:   "arm",
		Short: "Arm monitoring.",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, stop := newCommandContext()
			defer stop()

			return ctl.SetArmed(ctx, newOptions(), true)
		},
	}

	disarmCmd = &cobra.Command{
		Use:   "disarm",
		Short: "Disarm monitoring. Queued if an alert is in flight.",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, stop := newCommandContext()
			defer stop()

			return ctl.SetArmed(ctx, newOptions(), false)
		},
	}

	incidentsCmd = &cobra.Command{
		Use:   "incidents",
		Short: "List recorded incidents, newest first.",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, stop := newCommandContext()
			defer stop()

			return ctl.Incidents(ctx, newOptions(), limit)
		},
	}

	purgeCmd = &cobra.Command{
		Use:   "purge",
		Short: "Bulk-clear the incident log.",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, stop := newCommandContext()
			defer stop()

			return ctl.PurgeIncidents(ctx, newOptions())
		},
	}

	chatCmd = &cobra.Command{
		Use:   "chat <message>",
		Short: "Ask the vision assistant a question.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			message := strings.TrimSpace(strings.Join(args, " "))
			if message == "" {
				return errMessageRequired
			}

			ctx, stop := newCommandContext()
			defer stop()

			return ctl.Chat(ctx, newOptions(), message)
		},
	}

	eventsCmd = &cobra.Command{
		Use:   "events",
		Short: "Show recent operator log entries, newest first.",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, stop := newCommandContext()
			defer stop()

			return ctl.Events(ctx, newOptions(), limit)
		},
	}
)

// newCommandContext sets up graceful cancellation for one command run.
func newCommandContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
}

// newOptions collects the shared flags into ctl options.
func newOptions() *ctl.Options {
	return &ctl.Options{
		ConfigPath:    configPath,
		ServerAddress: serverAddress,
	}
}

// Execute runs the guardianctl CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.PersistentFlags().
		StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.PersistentFlags().
		StringVarP(&serverAddress, "server", "s", "", "daemon address override (host:port)")

	incidentsCmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum entries to list")
	eventsCmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum entries to list")

	rootCmd.AddCommand(
		statusCmd,
		enrollCmd,
		clearEnrollmentCmd,
		armCmd,
		disarmCmd,
		incidentsCmd,
		purgeCmd,
		chatCmd,
		eventsCmd,
	)
}
