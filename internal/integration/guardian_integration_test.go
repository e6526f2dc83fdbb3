// Package integration exercises the guardian daemon end to end: the real
// orchestrator, journal, and HTTP API behind the CLI client.
package integration

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	api "github.com/pintubhai440/secure-recoder/internal/api/http/guardian"
	"github.com/pintubhai440/secure-recoder/internal/detection"
	domain "github.com/pintubhai440/secure-recoder/internal/domain/guardian"
	"github.com/pintubhai440/secure-recoder/internal/evidence"
	"github.com/pintubhai440/secure-recoder/internal/media"
	repository "github.com/pintubhai440/secure-recoder/internal/repository/incident"
	"github.com/pintubhai440/secure-recoder/internal/service/common"
	guardian "github.com/pintubhai440/secure-recoder/internal/service/guardian"
	"github.com/pintubhai440/secure-recoder/internal/vision"
)

// memoryUploader stores uploads in memory and hands back stable URLs.
type memoryUploader struct {
	uploads atomic.Int64
}

func (u *memoryUploader) Upload(_ context.Context, blob []byte, name string) (string, error) {
	if len(blob) == 0 {
		return "", fmt.Errorf("empty recording %q", name)
	}

	u.uploads.Add(1)

	return "https://evidence.test/" + name, nil
}

// testDaemon is a full guardian stack behind a live HTTP listener.
type testDaemon struct {
	client   *common.Client
	service  *guardian.Service
	policy   *atomic.Int64
	uploader *memoryUploader
}

// startDaemon boots the orchestrator with a temporary journal and serves its
// API over a test listener. The detection policy fires while the counter is
// positive.
func startDaemon(t *testing.T) *testDaemon {
	t.Helper()

	journal, err := repository.OpenJournal(filepath.Join(t.TempDir(), "incidents.db"))
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = journal.Close()
	})

	// Unconfigured remote tiers and vision: incidents stay in the journal,
	// classification is skipped, chat answers 503.
	remote := repository.NewRemoteStore("", "", time.Second)
	visionClient := vision.NewClient(vision.Config{})
	uploader := &memoryUploader{}

	var fires atomic.Int64

	svc, err := guardian.New(
		guardian.Config{
			AuditInterval: 5 * time.Millisecond,
			AlertCooldown: 100 * time.Millisecond,
		},
		guardian.Deps{
			Camera: func(context.Context) (media.Camera, error) {
				return media.NewSyntheticCamera(), nil
			},
			Screen: func(context.Context) (media.Screen, error) {
				return media.NewSyntheticScreen(), nil
			},
			Policy: detection.PolicyFunc(func(frame *media.Frame, reference []byte) bool {
				if frame.Empty() || len(reference) == 0 {
					return false
				}

				return fires.Add(-1) >= 0
			}),
			Analyzer:  visionClient,
			Chatter:   visionClient,
			Incidents: repository.NewTieredStore(journal, remote),
			Archiver:  evidence.NewArchiver(uploader, 10*time.Millisecond),
		},
	)
	require.NoError(t, err)
	require.NoError(t, svc.Start(context.Background()))

	t.Cleanup(func() {
		_ = svc.Close()
	})

	server := httptest.NewServer(api.NewServer(svc))
	t.Cleanup(server.Close)

	client, err := common.New(server.URL, common.WithCallTimeout(2*time.Second))
	require.NoError(t, err)

	fires.Store(-1 << 30)

	return &testDaemon{
		client:   client,
		service:  svc,
		policy:   &fires,
		uploader: uploader,
	}
}

// waitForMode polls the API until the daemon reports the wanted mode.
func (d *testDaemon) waitForMode(t *testing.T, want domain.Mode) {
	t.Helper()

	require.Eventually(t, func() bool {
		report, err := d.client.Status(context.Background())

		return err == nil && report.Mode == want
	}, 5*time.Second, 5*time.Millisecond)
}

// TestGuardian_FullAlertCycle walks the whole lifecycle over the wire:
// blocked arming, enrollment, a forced detection, evidence archival, re-arm,
// and disarm.
func TestGuardian_FullAlertCycle(t *testing.T) {
	t.Parallel()

	d := startDaemon(t)
	ctx := context.Background()
	actor := &domain.Actor{Hostname: "test-host", Username: "test-user"}

	// Fresh daemon is idle and unenrolled.
	report, err := d.client.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, domain.ModeIdle, report.Mode)
	require.False(t, report.Enrolled)

	// Arming before enrollment is refused with a conflict.
	_, err = d.client.SetArmed(ctx, actor, true)

	var apiErr *common.APIError

	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusConflict, apiErr.StatusCode)

	d.waitForMode(t, domain.ModeEnrolling)

	// Enrollment captures the reference and starts monitoring.
	mode, err := d.client.Enroll(ctx)
	require.NoError(t, err)
	require.Equal(t, domain.ModeMonitoring, mode)

	// Force the next audit to flag a detection.
	d.policy.Store(1)
	d.waitForMode(t, domain.ModeAlert)

	// The workflow journals the incident and archives the recording. No
	// classification arrives because the vision service is unconfigured.
	require.Eventually(t, func() bool {
		records, listErr := d.client.Incidents(ctx, 10)
		if listErr != nil || len(records) != 1 {
			return false
		}

		return records[0].Status == domain.StatusArchived
	}, 5*time.Second, 5*time.Millisecond)

	records, err := d.client.Incidents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Contains(t, records[0].EvidenceURL, "https://evidence.test/incident-")
	require.Empty(t, records[0].Classification)
	require.Equal(t, domain.ThreatCritical, records[0].ThreatLevel)
	require.EqualValues(t, 1, d.uploader.uploads.Load())

	// Cooldown elapses and monitoring resumes.
	d.waitForMode(t, domain.ModeMonitoring)

	// Disarm lands in idle.
	mode, err = d.client.SetArmed(ctx, actor, false)
	require.NoError(t, err)
	require.Equal(t, domain.ModeIdle, mode)

	// The event log recorded the journey.
	events, err := d.client.Events(ctx, 0)
	require.NoError(t, err)
	require.NotEmpty(t, events)

	// Purge clears the incident log.
	require.NoError(t, d.client.PurgeIncidents(ctx))

	records, err = d.client.Incidents(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, records)
}

// TestGuardian_ChatUnavailableWithoutVision maps the unconfigured vision
// service onto 503 over the wire.
func TestGuardian_ChatUnavailableWithoutVision(t *testing.T) {
	t.Parallel()

	d := startDaemon(t)

	_, err := d.client.Chat(context.Background(), "anything to report?")

	var apiErr *common.APIError

	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
}

// TestGuardian_DisarmDuringAlertQueued verifies the queued disarm lands in
// idle after the cooldown, observed over the API.
func TestGuardian_DisarmDuringAlertQueued(t *testing.T) {
	t.Parallel()

	d := startDaemon(t)
	ctx := context.Background()
	actor := &domain.Actor{Hostname: "test-host", Username: "test-user"}

	_, err := d.client.Enroll(ctx)
	require.NoError(t, err)

	d.policy.Store(1)
	d.waitForMode(t, domain.ModeAlert)

	_, err = d.client.SetArmed(ctx, actor, false)

	var apiErr *common.APIError

	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusConflict, apiErr.StatusCode)

	report, err := d.client.Status(ctx)
	require.NoError(t, err)
	require.True(t, report.PendingDisarm)

	d.waitForMode(t, domain.ModeIdle)
}
