package guardian

import (
	"context"
	"time"

	domain "github.com/pintubhai440/secure-recoder/internal/domain/guardian"
	"github.com/pintubhai440/secure-recoder/internal/logger"
)

// Enroll captures a frame from the camera and records it as the owner
// reference, then arms monitoring. A failed capture is logged and leaves the
// session unchanged; hardware trouble during enrollment is not fatal.
func (s *Service) Enroll(ctx context.Context) (domain.Mode, error) {
	s.mu.Lock()
	mode := s.state.Mode
	camera := s.camera
	s.mu.Unlock()

	switch mode {
	case domain.ModeFault:
		return mode, ErrFaulted
	case domain.ModeAlert, domain.ModeMonitoring:
		logger.WarnKV(ctx, "Enrollment ignored", "mode", mode)
		return mode, nil
	case domain.ModeIdle, domain.ModeEnrolling:
	}

	if camera == nil {
		logger.Warn(ctx, "Enrollment skipped: no camera stream")
		s.events.Append(domain.EventError, "enrollment skipped: no camera stream")

		return mode, nil
	}

	frame, err := camera.CaptureFrame(ctx)
	if err != nil || frame.Empty() {
		logger.WarnKV(ctx, "Enrollment capture failed", "error", err)
		s.events.Append(domain.EventError, "enrollment capture failed")

		return mode, nil
	}

	// Pre-authorize the screen stream now so evidence gathering never
	// needs a user gesture mid-incident.
	s.acquireScreen(ctx)

	s.mu.Lock()

	if s.state.Mode != domain.ModeIdle && s.state.Mode != domain.ModeEnrolling {
		mode = s.state.Mode
		s.mu.Unlock()

		return mode, nil
	}

	s.state.ReferenceSignature = frame.Data
	s.state.Mode = domain.ModeMonitoring
	s.state.ArmedSince = frame.CapturedAt
	s.startSchedulerLocked()

	s.mu.Unlock()

	s.events.Append(domain.EventTransition, "owner enrolled, monitoring started")
	logger.Info(ctx, "Owner enrolled, monitoring started")

	return domain.ModeMonitoring, nil
}

// ClearEnrollment drops the owner reference. Only permitted while disarmed.
func (s *Service) ClearEnrollment(ctx context.Context) (domain.Mode, error) {
	s.mu.Lock()

	switch s.state.Mode {
	case domain.ModeMonitoring, domain.ModeAlert:
		mode := s.state.Mode
		s.mu.Unlock()

		return mode, ErrAlertInProgress
	case domain.ModeFault:
		s.mu.Unlock()

		return domain.ModeFault, ErrFaulted
	case domain.ModeIdle, domain.ModeEnrolling:
	}

	s.state.ReferenceSignature = nil
	s.state.Mode = domain.ModeIdle

	s.mu.Unlock()

	s.events.Append(domain.EventTransition, "enrollment cleared")
	logger.Info(ctx, "Enrollment cleared")

	return domain.ModeIdle, nil
}

// SetArmed toggles monitoring. Arming without an enrolled reference moves
// the session to Enrolling and reports the blocked transition. Disarming
// during an alert is queued: the alert runs to completion and the session
// lands in Idle once the cooldown elapses.
func (s *Service) SetArmed(ctx context.Context, armed bool, actor *domain.Actor) (domain.Mode, error) {
	if armed {
		return s.arm(ctx, actor)
	}

	return s.disarm(ctx, actor)
}

// arm starts monitoring when an owner reference exists.
func (s *Service) arm(ctx context.Context, actor *domain.Actor) (domain.Mode, error) {
	s.mu.Lock()

	switch s.state.Mode {
	case domain.ModeFault:
		s.mu.Unlock()
		return domain.ModeFault, ErrFaulted
	case domain.ModeMonitoring, domain.ModeAlert:
		// Already armed; the alert, if any, is authoritative.
		mode := s.state.Mode
		s.mu.Unlock()

		return mode, nil
	case domain.ModeIdle, domain.ModeEnrolling:
	}

	if !s.state.Enrolled() {
		s.state.Mode = domain.ModeEnrolling
		s.mu.Unlock()

		s.events.Append(domain.EventTransition, "arming blocked: enrollment required")
		logger.Warn(ctx, "Arming blocked: enrollment required")

		return domain.ModeEnrolling, ErrEnrollmentRequired
	}

	s.mu.Unlock()

	// Pre-authorize the screen stream before monitoring begins.
	s.acquireScreen(ctx)

	s.mu.Lock()

	if s.state.Mode != domain.ModeIdle && s.state.Mode != domain.ModeEnrolling {
		mode := s.state.Mode
		s.mu.Unlock()

		return mode, nil
	}

	s.state.Mode = domain.ModeMonitoring
	s.state.ArmedSince = time.Now()
	s.state.LastActor = actor.Clone()
	s.startSchedulerLocked()

	s.mu.Unlock()

	s.events.Append(domain.EventTransition, "armed, monitoring started")
	logger.InfoKV(ctx, "Armed", "actor", actor)

	return domain.ModeMonitoring, nil
}

// disarm stops monitoring, or queues the request when an alert is in flight.
func (s *Service) disarm(ctx context.Context, actor *domain.Actor) (domain.Mode, error) {
	s.mu.Lock()

	switch s.state.Mode {
	case domain.ModeAlert:
		// Alerts cannot be cancelled mid-flight; apply once the cooldown
		// elapses.
		s.state.PendingDisarm = true
		s.state.LastActor = actor.Clone()
		s.mu.Unlock()

		s.events.Append(domain.EventTransition, "disarm queued until alert completes")
		logger.WarnKV(ctx, "Disarm queued: alert in progress", "actor", actor)

		return domain.ModeAlert, ErrAlertInProgress
	case domain.ModeMonitoring:
		s.stopSchedulerLocked()
		s.state.Mode = domain.ModeIdle
		s.state.LastActor = actor.Clone()
		s.mu.Unlock()

		s.events.Append(domain.EventTransition, "disarmed, mode idle")
		logger.InfoKV(ctx, "Disarmed", "actor", actor)

		return domain.ModeIdle, nil
	case domain.ModeEnrolling:
		s.state.Mode = domain.ModeIdle
		s.mu.Unlock()

		return domain.ModeIdle, nil
	case domain.ModeFault:
		s.mu.Unlock()

		return domain.ModeFault, ErrFaulted
	default:
		mode := s.state.Mode
		s.mu.Unlock()

		return mode, nil
	}
}

// acquireScreen requests the screen capture stream once. Denial is logged
// and evidence gathering is skipped for subsequent alerts; the workflow
// itself never fails over a missing screen.
func (s *Service) acquireScreen(ctx context.Context) {
	if s.deps.Screen == nil {
		return
	}

	s.mu.Lock()
	already := s.screen != nil
	s.mu.Unlock()

	if already {
		return
	}

	screen, err := s.deps.Screen(ctx)
	if err != nil {
		logger.WarnKV(ctx, "Screen capture not authorized, evidence gathering will be skipped", "error", err)
		s.events.Append(domain.EventError, "screen capture not authorized")

		return
	}

	s.mu.Lock()
	if s.screen == nil {
		s.screen = screen
		screen = nil
	}
	s.mu.Unlock()

	// A concurrent caller won the race; release the duplicate stream.
	if screen != nil {
		_ = screen.Close()
	}
}
