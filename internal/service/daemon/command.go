package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	api "github.com/pintubhai440/secure-recoder/internal/api/http/guardian"
	"github.com/pintubhai440/secure-recoder/internal/config"
	"github.com/pintubhai440/secure-recoder/internal/detection"
	"github.com/pintubhai440/secure-recoder/internal/evidence"
	"github.com/pintubhai440/secure-recoder/internal/logger"
	"github.com/pintubhai440/secure-recoder/internal/media"
	repository "github.com/pintubhai440/secure-recoder/internal/repository/incident"
	guardian "github.com/pintubhai440/secure-recoder/internal/service/guardian"
	"github.com/pintubhai440/secure-recoder/internal/vision"
)

// Options controls the guardiand process and configuration.
type Options struct {
	// ConfigPath specifies the path to the settings YAML file.
	ConfigPath string
	// ListenAddress provides an optional listen address override for the
	// HTTP server.
	ListenAddress string
	// JournalFile overrides the local incident journal path.
	JournalFile string
}

// ErrNoServerAddress indicates missing server configuration.
var ErrNoServerAddress = errors.New("no server address configured")

// shutdownTimeout bounds the graceful drain of in-flight requests.
const shutdownTimeout = 10 * time.Second

// Run starts the guardian daemon and blocks until the context is canceled or
// the server stops. Loads configuration first, then wires storage, media,
// and the vision service into the orchestrator.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "guardiand")

	settings, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	if level, ok := logger.ParseLogLevel(settings.LogLevel); ok {
		logger.SetLevel(level)
	}

	journalFile := settings.JournalFile
	if opts.JournalFile != "" {
		journalFile = opts.JournalFile
	}

	listenAddress, err := resolveListenAddress(settings.ServerAddress, opts.ListenAddress)
	if err != nil {
		return fmt.Errorf("resolve listen address: %w", err)
	}

	journal, err := repository.OpenJournal(journalFile)
	if err != nil {
		return fmt.Errorf("open incident journal: %w", err)
	}

	defer func() {
		_ = journal.Close()
	}()

	remote := repository.NewRemoteStore(settings.Store.URL, settings.Store.APIKey, settings.Timeout)
	if !remote.Configured() {
		logger.Warn(ctx, "Remote incident store is not configured, incidents stay in the local journal")
	}

	visionClient := vision.NewClient(vision.Config{
		Endpoint:   settings.Vision.Endpoint,
		Model:      settings.Vision.Model,
		APIKeys:    settings.Vision.APIKeys,
		MaxRetries: settings.Vision.MaxRetries,
		Timeout:    settings.Timeout,
	})
	if !visionClient.Configured() {
		logger.Warn(ctx, "Vision service is not configured, classification and chat are disabled")
	}

	uploader := evidence.NewStorageUploader(
		settings.Store.URL,
		settings.Store.EvidenceBucket,
		settings.Store.APIKey,
		settings.Timeout,
	)
	if !uploader.Configured() {
		logger.Warn(ctx, "Evidence storage is not configured, recordings will not be archived")
	}

	svc, err := guardian.New(
		guardian.Config{
			AuditInterval: settings.AuditInterval,
			AlertCooldown: settings.AlertCooldown,
		},
		guardian.Deps{
			Camera: func(context.Context) (media.Camera, error) {
				return media.NewSyntheticCamera(), nil
			},
			Screen: func(context.Context) (media.Screen, error) {
				return media.NewSyntheticScreen(), nil
			},
			Policy:    detection.NewRandomPolicy(*settings.DetectionChance),
			Analyzer:  visionClient,
			Chatter:   visionClient,
			Incidents: repository.NewTieredStore(journal, remote),
			Archiver:  evidence.NewArchiver(uploader, settings.RecordDuration),
		},
	)
	if err != nil {
		return fmt.Errorf("initialise guardian: %w", err)
	}

	// A faulted start keeps serving so operators can see the condition over
	// the status endpoint.
	if err := svc.Start(ctx); err != nil {
		logger.ErrorKV(ctx, "Guardian started in fault state", "error", err)
	}

	defer func() {
		_ = svc.Close()
	}()

	server := &http.Server{
		Addr:              listenAddress,
		Handler:           api.NewServer(svc),
		ReadHeaderTimeout: settings.Timeout,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	logger.InfoKV(ctx, "Guardian daemon listening",
		"listen_address", listenAddress,
		"journal_file", journalFile)

	// Done channel is closed after Shutdown finishes to ensure we block
	// until the server fully stops before returning.
	done := make(chan struct{})

	go func() {
		<-ctx.Done()
		logger.Info(ctx, "Shutting down HTTP server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		_ = server.Shutdown(shutdownCtx)
		close(done)
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve HTTP: %w", err)
	}

	<-done
	logger.Info(ctx, "HTTP server stopped")

	return nil
}

// resolveListenAddress determines the listen address for the HTTP server.
// If override is provided, uses it directly. Otherwise extracts the port from
// configAddr and binds on all interfaces.
func resolveListenAddress(configAddr, override string) (string, error) {
	if override != "" {
		return override, nil
	}

	if configAddr == "" {
		return "", ErrNoServerAddress
	}

	_, port, err := net.SplitHostPort(configAddr)
	if err != nil {
		return "", fmt.Errorf("invalid server address format %q: %w", configAddr, err)
	}

	return ":" + port, nil
}
