package guardian

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	domain "github.com/pintubhai440/secure-recoder/internal/domain/guardian"
	"github.com/pintubhai440/secure-recoder/internal/logger"
	"github.com/pintubhai440/secure-recoder/internal/media"
	repo "github.com/pintubhai440/secure-recoder/internal/repository/incident"
	"github.com/pintubhai440/secure-recoder/internal/vision"
)

// TestMain quiets log output below the error level for the noisy state
// machine tests.
func TestMain(m *testing.M) {
	logger.SetLogger(logger.Logger().WithOptions(logger.WithLevel(zapcore.ErrorLevel)))

	os.Exit(m.Run())
}

var (
	errAnalyzeDown = errors.New("analysis down")
	errStoreDown   = errors.New("store down")
	errRecordFail  = errors.New("recording failed")
	errNoCamera    = errors.New("camera denied")
)

// scriptedCamera returns deterministic frames.
type scriptedCamera struct{}

func (c *scriptedCamera) CaptureFrame(context.Context) (*media.Frame, error) {
	return &media.Frame{
		Data:       []byte{1, 2, 3},
		CapturedAt: time.Now(),
	}, nil
}

func (c *scriptedCamera) Close() error {
	return nil
}

// scriptedPolicy fires for a scripted number of evaluations and counts calls.
type scriptedPolicy struct {
	mu    sync.Mutex
	fires int
	calls int
}

func (p *scriptedPolicy) Evaluate(*media.Frame, []byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls++

	if p.fires > 0 {
		p.fires--
		return true
	}

	return false
}

// FireNext makes the next n evaluations return true.
func (p *scriptedPolicy) FireNext(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.fires = n
}

// Calls returns how many evaluations ran.
func (p *scriptedPolicy) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.calls
}

// stubAnalyzer returns a fixed classification or error.
type stubAnalyzer struct {
	text string
	err  error
}

func (a *stubAnalyzer) Analyze(context.Context, []byte) (string, error) {
	return a.text, a.err
}

// stubChatter echoes and records history length.
type stubChatter struct {
	mu          sync.Mutex
	lastHistory int
}

func (c *stubChatter) Chat(_ context.Context, history []vision.Message, message string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastHistory = len(history)

	return "echo: " + message, nil
}

// memoryRepo is an in-memory incident repository.
type memoryRepo struct {
	mu        sync.Mutex
	records   map[string]*domain.Incident
	creates   int
	createErr error
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		records: map[string]*domain.Incident{},
	}
}

func (r *memoryRepo) Create(_ context.Context, record *domain.Incident) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.creates++

	if r.createErr != nil {
		return "", r.createErr
	}

	id := fmt.Sprintf("r-%d", r.creates)
	stored := record.Clone()
	stored.ID = id
	r.records[id] = stored

	return id, nil
}

func (r *memoryRepo) Update(_ context.Context, id string, fields repo.UpdateFields) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[id]
	if !ok {
		return repo.ErrNotFound
	}

	if fields.Classification != nil {
		record.Classification = *fields.Classification
	}

	if fields.EvidenceURL != nil {
		record.EvidenceURL = *fields.EvidenceURL
	}

	if fields.Status != nil {
		record.Status = *fields.Status
	}

	return nil
}

func (r *memoryRepo) List(context.Context, int) ([]*domain.Incident, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	records := make([]*domain.Incident, 0, len(r.records))
	for _, record := range r.records {
		records = append(records, record.Clone())
	}

	return records, nil
}

func (r *memoryRepo) Purge(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.records = map[string]*domain.Incident{}

	return nil
}

// Creates returns how many Create calls ran.
func (r *memoryRepo) Creates() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.creates
}

// Only returns the single stored record.
func (r *memoryRepo) Only(t *testing.T) *domain.Incident {
	t.Helper()

	r.mu.Lock()
	defer r.mu.Unlock()

	require.Len(t, r.records, 1)

	for _, record := range r.records {
		return record.Clone()
	}

	return nil
}

// stubArchiver returns a fixed URL or error.
type stubArchiver struct {
	url string
	err error
}

func (a *stubArchiver) Archive(context.Context, media.Screen, string) (string, error) {
	return a.url, a.err
}

// stubScreen satisfies media.Screen for pre-authorization.
type stubScreen struct{}

func (s *stubScreen) Record(_ context.Context, _ time.Duration) ([]byte, error) {
	return []byte{9}, nil
}

func (s *stubScreen) Close() error {
	return nil
}

// fixture bundles a service with its scripted collaborators.
type fixture struct {
	svc      *Service
	policy   *scriptedPolicy
	repo     *memoryRepo
	analyzer *stubAnalyzer
	archiver *stubArchiver
	chatter  *stubChatter
}

// newFixture builds a started service with fast timings. mutate may adjust
// dependencies and config before construction.
func newFixture(t *testing.T, mutate func(*Deps, *Config)) *fixture {
	t.Helper()

	f := &fixture{
		policy:   &scriptedPolicy{},
		repo:     newMemoryRepo(),
		analyzer: &stubAnalyzer{text: "test"},
		archiver: &stubArchiver{url: "https://x/y"},
		chatter:  &stubChatter{},
	}

	cfg := Config{
		AuditInterval: 5 * time.Millisecond,
		AlertCooldown: 50 * time.Millisecond,
	}

	deps := Deps{
		Camera: func(context.Context) (media.Camera, error) {
			return &scriptedCamera{}, nil
		},
		Screen: func(context.Context) (media.Screen, error) {
			return &stubScreen{}, nil
		},
		Policy:    f.policy,
		Analyzer:  f.analyzer,
		Chatter:   f.chatter,
		Incidents: f.repo,
		Archiver:  f.archiver,
	}

	if mutate != nil {
		mutate(&deps, &cfg)
	}

	svc, err := New(cfg, deps)
	require.NoError(t, err)

	require.NoError(t, svc.Start(context.Background()))

	t.Cleanup(func() {
		_ = svc.Close()
	})

	f.svc = svc

	return f
}

// enroll arms the fixture through enrollment.
func (f *fixture) enroll(t *testing.T) {
	t.Helper()

	mode, err := f.svc.Enroll(context.Background())
	require.NoError(t, err)
	require.Equal(t, domain.ModeMonitoring, mode)
}

// waitForMode blocks until the service reaches the wanted mode.
func (f *fixture) waitForMode(t *testing.T, want domain.Mode) {
	t.Helper()

	require.Eventually(t, func() bool {
		return f.svc.Mode() == want
	}, 2*time.Second, 2*time.Millisecond)
}

// TestArmWithoutEnrollmentBlocks asserts arming without a reference lands in
// Enrolling, never Monitoring.
func TestArmWithoutEnrollmentBlocks(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)

	mode, err := f.svc.SetArmed(context.Background(), true, &domain.Actor{Username: "operator"})
	require.ErrorIs(t, err, ErrEnrollmentRequired)
	require.Equal(t, domain.ModeEnrolling, mode)
	require.Equal(t, domain.ModeEnrolling, f.svc.Mode())
}

// TestEnrollStartsMonitoring walks enrollment into the armed state.
func TestEnrollStartsMonitoring(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.enroll(t)

	snapshot := f.svc.Snapshot()
	require.Equal(t, domain.ModeMonitoring, snapshot.Mode)
	require.True(t, snapshot.Enrolled())

	// Audits start ticking.
	require.Eventually(t, func() bool {
		return f.policy.Calls() > 0
	}, 2*time.Second, 2*time.Millisecond)
}

// TestNoOrphanedTimers asserts zero audit evaluations after disarm, however
// long we wait.
func TestNoOrphanedTimers(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.enroll(t)

	// Let a few audits run.
	require.Eventually(t, func() bool {
		return f.policy.Calls() >= 3
	}, 2*time.Second, 2*time.Millisecond)

	mode, err := f.svc.SetArmed(context.Background(), false, &domain.Actor{Username: "operator"})
	require.NoError(t, err)
	require.Equal(t, domain.ModeIdle, mode)

	calls := f.policy.Calls()

	// Ten audit intervals of silence.
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, calls, f.policy.Calls())
}

// TestAtMostOneAlert asserts rapid repeated detections produce exactly one
// workflow until re-arm.
func TestAtMostOneAlert(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(_ *Deps, cfg *Config) {
		cfg.AlertCooldown = 300 * time.Millisecond
	})

	f.policy.FireNext(1 << 20)
	f.enroll(t)

	f.waitForMode(t, domain.ModeAlert)

	// Stay in alert for many audit intervals; no second workflow may begin.
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, 1, f.repo.Creates())
	require.Equal(t, domain.ModeAlert, f.svc.Mode())
}

// TestAlwaysRearms walks the full failure grid of classify, persist, and
// evidence; the session must return to Monitoring in every combination.
func TestAlwaysRearms(t *testing.T) {
	t.Parallel()

	for _, classifyFails := range []bool{false, true} {
		for _, persistFails := range []bool{false, true} {
			for _, evidenceFails := range []bool{false, true} {
				classifyFails := classifyFails
				persistFails := persistFails
				evidenceFails := evidenceFails
				name := fmt.Sprintf("classify_fail=%v/persist_fail=%v/evidence_fail=%v",
					classifyFails, persistFails, evidenceFails)

				t.Run(name, func(t *testing.T) {
					t.Parallel()

					f := newFixture(t, nil)

					if classifyFails {
						f.analyzer.err = errAnalyzeDown
						f.analyzer.text = ""
					}

					if persistFails {
						f.repo.createErr = errStoreDown
					}

					if evidenceFails {
						f.archiver.err = errRecordFail
						f.archiver.url = ""
					}

					f.policy.FireNext(1)
					f.enroll(t)

					f.waitForMode(t, domain.ModeAlert)
					f.waitForMode(t, domain.ModeMonitoring)
				})
			}
		}
	}
}

// TestRecordNeverArchivedWithoutURL asserts a failed upload leaves the
// record in the Detected state.
func TestRecordNeverArchivedWithoutURL(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.archiver.err = errRecordFail
	f.archiver.url = ""

	f.policy.FireNext(1)
	f.enroll(t)

	f.waitForMode(t, domain.ModeAlert)
	f.waitForMode(t, domain.ModeMonitoring)

	record := f.repo.Only(t)
	require.Equal(t, domain.StatusDetected, record.Status)
	require.Empty(t, record.EvidenceURL)
}

// TestDetectionScenario is the end-to-end walk: enroll, forced detection,
// classification and archival, then re-arm after cooldown.
func TestDetectionScenario(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)

	f.enroll(t)

	f.policy.FireNext(1)
	f.waitForMode(t, domain.ModeAlert)

	snapshot := f.svc.Snapshot()
	require.NotEmpty(t, snapshot.ActiveIncidentID)

	// The workflow lands one record with the stubbed classification and
	// evidence URL.
	require.Eventually(t, func() bool {
		records, err := f.svc.Incidents(context.Background(), 10)
		if err != nil || len(records) != 1 {
			return false
		}

		record := records[0]

		return record.Classification == "test" &&
			record.EvidenceURL == "https://x/y" &&
			record.Status == domain.StatusArchived
	}, 2*time.Second, 2*time.Millisecond)

	f.waitForMode(t, domain.ModeMonitoring)

	snapshot = f.svc.Snapshot()
	require.Empty(t, snapshot.ActiveIncidentID)
	require.False(t, snapshot.AuditInFlight)
}

// TestDisarmDuringAlertIsQueued asserts alerts cannot be cancelled mid-
// flight: the disarm applies only after the cooldown, landing in Idle.
func TestDisarmDuringAlertIsQueued(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)

	f.policy.FireNext(1)
	f.enroll(t)

	f.waitForMode(t, domain.ModeAlert)

	mode, err := f.svc.SetArmed(context.Background(), false, &domain.Actor{Username: "operator"})
	require.ErrorIs(t, err, ErrAlertInProgress)
	require.Equal(t, domain.ModeAlert, mode)

	// The alert is authoritative: still in Alert right after the refusal.
	require.Equal(t, domain.ModeAlert, f.svc.Mode())

	f.waitForMode(t, domain.ModeIdle)

	// Disarmed for good: no audits resume.
	calls := f.policy.Calls()
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, calls, f.policy.Calls())
}

// TestCameraFailureFaults asserts acquisition failure is terminal.
func TestCameraFailureFaults(t *testing.T) {
	t.Parallel()

	svc, err := New(Config{
		AuditInterval: 5 * time.Millisecond,
		AlertCooldown: 50 * time.Millisecond,
	}, Deps{
		Camera: func(context.Context) (media.Camera, error) {
			return nil, errNoCamera
		},
		Policy:    &scriptedPolicy{},
		Analyzer:  &stubAnalyzer{},
		Chatter:   &stubChatter{},
		Incidents: newMemoryRepo(),
		Archiver:  &stubArchiver{},
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = svc.Close()
	})

	require.ErrorIs(t, svc.Start(context.Background()), errNoCamera)
	require.Equal(t, domain.ModeFault, svc.Mode())

	_, err = svc.SetArmed(context.Background(), true, nil)
	require.ErrorIs(t, err, ErrFaulted)

	_, err = svc.Enroll(context.Background())
	require.ErrorIs(t, err, ErrFaulted)
}

// TestEvidenceSkippedWithoutScreen keeps the workflow alive when screen
// authorization was never granted.
func TestEvidenceSkippedWithoutScreen(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(deps *Deps, _ *Config) {
		deps.Screen = nil
	})

	f.policy.FireNext(1)
	f.enroll(t)

	f.waitForMode(t, domain.ModeAlert)
	f.waitForMode(t, domain.ModeMonitoring)

	record := f.repo.Only(t)
	require.Equal(t, domain.StatusDetected, record.Status)
	require.Empty(t, record.EvidenceURL)
	require.Equal(t, "test", record.Classification)
}

// TestChatAccumulatesHistory verifies successful exchanges extend the
// conversation passed to the service.
func TestChatAccumulatesHistory(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)

	reply, err := f.svc.Chat(context.Background(), "anything new?")
	require.NoError(t, err)
	require.Equal(t, "echo: anything new?", reply)
	require.Equal(t, 0, f.chatter.lastHistory)

	_, err = f.svc.Chat(context.Background(), "and now?")
	require.NoError(t, err)
	require.Equal(t, 2, f.chatter.lastHistory)
}

// TestClearEnrollment drops the reference while disarmed and refuses while
// armed.
func TestClearEnrollment(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.enroll(t)

	_, err := f.svc.ClearEnrollment(context.Background())
	require.ErrorIs(t, err, ErrAlertInProgress)

	_, err = f.svc.SetArmed(context.Background(), false, nil)
	require.NoError(t, err)

	mode, err := f.svc.ClearEnrollment(context.Background())
	require.NoError(t, err)
	require.Equal(t, domain.ModeIdle, mode)
	require.False(t, f.svc.Snapshot().Enrolled())
}
