package guardian

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pintubhai440/secure-recoder/internal/detection"
	domain "github.com/pintubhai440/secure-recoder/internal/domain/guardian"
	"github.com/pintubhai440/secure-recoder/internal/logger"
	"github.com/pintubhai440/secure-recoder/internal/media"
	repo "github.com/pintubhai440/secure-recoder/internal/repository/incident"
	"github.com/pintubhai440/secure-recoder/internal/vision"
)

// Analyzer describes an intruder frame in text. Best effort: failures never
// block the rest of the alert workflow.
type Analyzer interface {
	Analyze(ctx context.Context, image []byte) (string, error)
}

// Chatter answers operator questions. A separate user-facing path, not part
// of the alert workflow.
type Chatter interface {
	Chat(ctx context.Context, history []vision.Message, message string) (string, error)
}

// Archiver records the screen and uploads the result, returning the evidence
// URL.
type Archiver interface {
	Archive(ctx context.Context, screen media.Screen, incidentID string) (string, error)
}

// Config holds the state machine timings.
type Config struct {
	// AuditInterval is the delay between monitoring audits.
	AuditInterval time.Duration
	// AlertCooldown is the re-arm delay, measured from the moment an alert
	// begins, not from workflow completion.
	AlertCooldown time.Duration
}

// Deps are the collaborators the orchestrator sequences.
type Deps struct {
	// Camera acquires the camera stream once at startup.
	Camera media.CameraProvider
	// Screen acquires the screen capture stream once at arm time, so no
	// user gesture is needed mid-incident. Optional.
	Screen media.ScreenProvider
	// Policy decides whether an audited frame is a detection.
	Policy detection.Policy
	// Analyzer classifies intruder frames.
	Analyzer Analyzer
	// Chatter answers operator questions.
	Chatter Chatter
	// Incidents persists incident records.
	Incidents repo.Repository
	// Archiver gathers and uploads evidence.
	Archiver Archiver
	// Events receives the operator log. A fresh ring is created when nil.
	Events *domain.EventLog
}

var (
	// ErrEnrollmentRequired signals that arming was blocked because no
	// owner reference is enrolled.
	ErrEnrollmentRequired = errors.New("enrollment required before arming")
	// ErrAlertInProgress signals that a manual disarm arrived during an
	// alert; the request is queued and applied once the cooldown elapses.
	ErrAlertInProgress = errors.New("alert in progress")
	// ErrFaulted signals the session is in the terminal fault state.
	ErrFaulted = errors.New("guardian is in fault state")
	// errCameraRequired is returned when the service is built without a
	// camera provider.
	errCameraRequired = errors.New("camera provider is required")
)

// Service is the orchestrator owning the session state. All collaborators
// receive clones; nothing outside this package mutates the state.
type Service struct {
	// cfg holds the state machine timings.
	cfg Config
	// deps are the injected collaborators.
	deps Deps

	// mu protects state, camera, screen, and stopAudit.
	mu sync.Mutex
	// state is the single live session state.
	state *domain.SessionState
	// camera is the stream acquired at startup and held for the process
	// lifetime.
	camera media.Camera
	// screen is the capture stream pre-authorized at arm time. Nil when
	// authorization was never granted.
	screen media.Screen
	// stopAudit cancels the current audit loop. Nil while disarmed.
	stopAudit chan struct{}

	// events is the operator log ring.
	events *domain.EventLog

	// runCtx is the lifetime context captured by Start; scheduler and
	// workflow goroutines derive from it.
	runCtx context.Context

	// chatMu protects chatHistory.
	chatMu sync.Mutex
	// chatHistory accumulates the operator conversation.
	chatHistory []vision.Message

	// closed is closed once by Close; long-lived timers select on it.
	closed chan struct{}
	// closeOnce guards closed.
	closeOnce sync.Once
	// wg tracks audit loops, workflows, and re-arm timers.
	wg sync.WaitGroup
}

// New creates the orchestrator in the Idle mode.
func New(cfg Config, deps Deps) (*Service, error) {
	if deps.Camera == nil {
		return nil, errCameraRequired
	}

	events := deps.Events
	if events == nil {
		events = domain.NewEventLog(0)
	}

	return &Service{
		cfg:    cfg,
		deps:   deps,
		state:  &domain.SessionState{Mode: domain.ModeIdle},
		events: events,
		runCtx: context.Background(),
		closed: make(chan struct{}),
	}, nil
}

// Start acquires the camera stream. Acquisition failure moves the session to
// the terminal Fault mode; the service keeps serving status requests so the
// condition is visible to operators.
func (s *Service) Start(ctx context.Context) error {
	s.runCtx = ctx

	camera, err := s.deps.Camera(ctx)
	if err != nil {
		s.mu.Lock()
		s.state.Mode = domain.ModeFault
		s.mu.Unlock()

		s.events.Append(domain.EventError, "camera unavailable: "+err.Error())
		logger.ErrorKV(ctx, "Camera acquisition failed, entering fault state", "error", err)

		return fmt.Errorf("acquire camera: %w", err)
	}

	s.mu.Lock()
	s.camera = camera
	s.mu.Unlock()

	s.events.Append(domain.EventTransition, "guardian ready, mode idle")
	logger.Info(ctx, "Guardian ready")

	return nil
}

// Mode returns the current operating mode.
func (s *Service) Mode() domain.Mode {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state.Mode
}

// Snapshot returns a clone of the session state for reporting collaborators.
func (s *Service) Snapshot() *domain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state.Clone()
}

// Incidents lists persisted incident records, newest first.
func (s *Service) Incidents(ctx context.Context, limit int) ([]*domain.Incident, error) {
	return s.deps.Incidents.List(ctx, limit)
}

// PurgeIncidents bulk-clears the incident log.
func (s *Service) PurgeIncidents(ctx context.Context) error {
	if err := s.deps.Incidents.Purge(ctx); err != nil {
		return err
	}

	s.events.Append(domain.EventWorkflow, "incident log purged")

	return nil
}

// Chat forwards an operator message to the vision service together with the
// accumulated conversation. Successful exchanges extend the history.
func (s *Service) Chat(ctx context.Context, message string) (string, error) {
	s.chatMu.Lock()
	history := make([]vision.Message, len(s.chatHistory))
	copy(history, s.chatHistory)
	s.chatMu.Unlock()

	reply, err := s.deps.Chatter.Chat(ctx, history, message)
	if err != nil {
		return "", err
	}

	s.chatMu.Lock()
	s.chatHistory = append(s.chatHistory,
		vision.Message{Role: vision.RoleUser, Content: message},
		vision.Message{Role: vision.RoleModel, Content: reply},
	)
	s.chatMu.Unlock()

	return reply, nil
}

// Events returns up to limit recent operator log entries, newest first.
func (s *Service) Events(limit int) []domain.Event {
	return s.events.Recent(limit)
}

// EventLog exposes the ring for streaming subscribers.
func (s *Service) EventLog() *domain.EventLog {
	return s.events
}

// Close stops the scheduler, waits for in-flight workflows and timers, and
// releases the media streams.
func (s *Service) Close() error {
	s.mu.Lock()
	s.stopSchedulerLocked()
	camera := s.camera
	screen := s.screen
	s.camera = nil
	s.screen = nil
	s.mu.Unlock()

	s.closeOnce.Do(func() {
		close(s.closed)
	})

	s.wg.Wait()

	var cameraErr, screenErr error

	if camera != nil {
		cameraErr = camera.Close()
	}

	if screen != nil {
		screenErr = screen.Close()
	}

	return errors.Join(cameraErr, screenErr)
}
