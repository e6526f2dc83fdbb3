package ctl

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pintubhai440/secure-recoder/internal/config"
	domain "github.com/pintubhai440/secure-recoder/internal/domain/guardian"
	"github.com/pintubhai440/secure-recoder/internal/logger"
	"github.com/pintubhai440/secure-recoder/internal/service/common"
)

// Options configures guardianctl operations.
type Options struct {
	// ConfigPath to YAML settings file, defaults to standard filename if empty.
	ConfigPath string

	// ServerAddress overrides the daemon address from config when specified.
	ServerAddress string

	// Output receives human-readable command results. Defaults to stdout.
	Output io.Writer
}

// connect loads configuration and builds a daemon client.
func connect(opts *Options) (*common.Client, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	serverAddress := cfg.ServerAddress
	if opts.ServerAddress != "" {
		serverAddress = opts.ServerAddress
	}

	return common.New(serverAddress, common.WithCallTimeout(cfg.Timeout))
}

// output returns the configured result writer.
func (o *Options) output() io.Writer {
	if o.Output != nil {
		return o.Output
	}

	return os.Stdout
}

// Status prints the daemon's session state.
func Status(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "guardianctl")

	client, err := connect(opts)
	if err != nil {
		return err
	}

	report, err := client.Status(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintln(opts.output(), formatStatus(report))

	return nil
}

// Enroll captures the owner reference and arms monitoring.
func Enroll(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "guardianctl")

	client, err := connect(opts)
	if err != nil {
		return err
	}

	mode, err := client.Enroll(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(opts.output(), "enrolled, mode: %s\n", mode)

	return nil
}

// ClearEnrollment drops the enrolled owner reference.
func ClearEnrollment(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "guardianctl")

	client, err := connect(opts)
	if err != nil {
		return err
	}

	mode, err := client.ClearEnrollment(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(opts.output(), "enrollment cleared, mode: %s\n", mode)

	return nil
}

// SetArmed arms or disarms monitoring on behalf of the current user.
func SetArmed(ctx context.Context, opts *Options, armed bool) error {
	ctx = logger.WithName(ctx, "guardianctl")

	client, err := connect(opts)
	if err != nil {
		return err
	}

	// Identify current user and hostname for audit logging.
	actor, err := common.DetectActor()
	if err != nil {
		return err
	}

	mode, err := client.SetArmed(ctx, actor, armed)
	if err != nil {
		return err
	}

	fmt.Fprintf(opts.output(), "mode: %s\n", mode)

	return nil
}

// Incidents prints persisted incident records, newest first.
func Incidents(ctx context.Context, opts *Options, limit int) error {
	ctx = logger.WithName(ctx, "guardianctl")

	client, err := connect(opts)
	if err != nil {
		return err
	}

	records, err := client.Incidents(ctx, limit)
	if err != nil {
		return err
	}

	out := opts.output()

	if len(records) == 0 {
		fmt.Fprintln(out, "no incidents recorded")
		return nil
	}

	for _, record := range records {
		fmt.Fprintln(out, formatIncident(&record))
	}

	return nil
}

// PurgeIncidents bulk-clears the incident log.
func PurgeIncidents(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "guardianctl")

	client, err := connect(opts)
	if err != nil {
		return err
	}

	if err := client.PurgeIncidents(ctx); err != nil {
		return err
	}

	fmt.Fprintln(opts.output(), "incident log purged")

	return nil
}

// Chat sends one operator message and prints the assistant's reply.
func Chat(ctx context.Context, opts *Options, message string) error {
	ctx = logger.WithName(ctx, "guardianctl")

	client, err := connect(opts)
	if err != nil {
		return err
	}

	reply, err := client.Chat(ctx, message)
	if err != nil {
		return err
	}

	fmt.Fprintln(opts.output(), reply)

	return nil
}

// Events prints recent operator log entries, newest first.
func Events(ctx context.Context, opts *Options, limit int) error {
	ctx = logger.WithName(ctx, "guardianctl")

	client, err := connect(opts)
	if err != nil {
		return err
	}

	events, err := client.Events(ctx, limit)
	if err != nil {
		return err
	}

	out := opts.output()

	if len(events) == 0 {
		fmt.Fprintln(out, "no events recorded")
		return nil
	}

	for _, event := range events {
		fmt.Fprintf(out, "%s [%s] %s\n", event.At.Format(time.RFC3339), event.Kind, event.Message)
	}

	return nil
}

// formatStatus converts a status report to a readable summary.
func formatStatus(report *common.StatusReport) string {
	if report == nil {
		return "<nil status>"
	}

	summary := fmt.Sprintf("mode: %s, enrolled: %t", report.Mode, report.Enrolled)

	if report.ArmedSince != nil {
		summary += ", armed since: " + report.ArmedSince.Format(time.RFC3339)
	}

	if report.ActiveIncidentID != "" {
		summary += ", active incident: " + report.ActiveIncidentID
	}

	if report.PendingDisarm {
		summary += ", disarm pending"
	}

	if report.LastActor != nil {
		summary += fmt.Sprintf(", last actor: %s@%s", report.LastActor.Username, report.LastActor.Hostname)
	}

	return summary
}

// formatIncident converts an incident record to a readable log line.
func formatIncident(record *common.IncidentRecord) string {
	if record == nil {
		return "<nil incident>"
	}

	line := fmt.Sprintf("%s  %s  %s  %s",
		record.CapturedAt.Format(time.RFC3339), record.ID, record.ThreatLevel, record.Status)

	if record.Status == domain.StatusArchived && record.EvidenceURL != "" {
		line += "  " + record.EvidenceURL
	}

	if record.Classification != "" {
		line += "\n    " + record.Classification
	}

	return line
}
