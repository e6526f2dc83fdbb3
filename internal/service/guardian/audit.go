package guardian

import (
	"time"

	domain "github.com/pintubhai440/secure-recoder/internal/domain/guardian"
	"github.com/pintubhai440/secure-recoder/internal/logger"
)

// startSchedulerLocked launches the audit loop for the current monitoring
// session. Caller holds s.mu.
func (s *Service) startSchedulerLocked() {
	stop := make(chan struct{})
	s.stopAudit = stop

	s.wg.Add(1)

	go s.auditLoop(stop)
}

// stopSchedulerLocked cancels the current audit loop. The loop re-checks the
// mode under s.mu before every audit, so no audit can begin after this
// returns and the mode has left Monitoring. Caller holds s.mu.
func (s *Service) stopSchedulerLocked() {
	if s.stopAudit != nil {
		close(s.stopAudit)
		s.stopAudit = nil
	}
}

// auditLoop ticks at the configured interval until stopped.
func (s *Service) auditLoop(stop <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.AuditInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-s.closed:
			return
		case <-ticker.C:
			s.runAudit()
		}
	}
}

// runAudit performs one audit: capture a frame, evaluate the detection
// policy, and hand off to the alert workflow on a hit. Failed captures are
// skipped silently; a stale tick racing a disarm is discarded by the mode
// re-check.
func (s *Service) runAudit() {
	ctx := s.runCtx

	s.mu.Lock()

	if s.state.Mode != domain.ModeMonitoring || s.state.AuditInFlight {
		s.mu.Unlock()
		return
	}

	s.state.AuditInFlight = true
	reference := s.state.ReferenceSignature
	camera := s.camera

	s.mu.Unlock()

	if camera == nil {
		s.finishAudit()
		return
	}

	frame, err := camera.CaptureFrame(ctx)
	if err != nil || frame.Empty() {
		if err != nil {
			logger.DebugKV(ctx, "Audit capture failed, skipping", "error", err)
		}

		s.finishAudit()

		return
	}

	if !s.deps.Policy.Evaluate(frame, reference) {
		s.finishAudit()
		return
	}

	s.events.Append(domain.EventAudit, "audit flagged a detection")
	logger.Warn(ctx, "Audit flagged a detection")

	s.beginAlert(ctx, frame)
}

// finishAudit releases the audit guard after a non-detecting audit. On a
// detection the guard stays held until the cooldown re-arms the session.
func (s *Service) finishAudit() {
	s.mu.Lock()
	s.state.AuditInFlight = false
	s.mu.Unlock()
}
