package guardian

import (
	"context"
	"time"

	"github.com/google/uuid"

	domain "github.com/pintubhai440/secure-recoder/internal/domain/guardian"
	"github.com/pintubhai440/secure-recoder/internal/logger"
	"github.com/pintubhai440/secure-recoder/internal/media"
	repo "github.com/pintubhai440/secure-recoder/internal/repository/incident"
)

// beginAlert transitions to Alert and launches the incident workflow. The
// cooldown timer starts here, concurrent with the workflow steps: re-arming
// never waits for classification, persistence, or evidence.
func (s *Service) beginAlert(ctx context.Context, frame *media.Frame) {
	s.mu.Lock()

	// A detection racing another alert loses; at most one workflow runs.
	if s.state.Mode != domain.ModeMonitoring {
		s.mu.Unlock()
		s.finishAudit()

		return
	}

	localID := uuid.NewString()

	s.state.Mode = domain.ModeAlert
	s.state.ActiveIncidentID = localID
	s.stopSchedulerLocked()
	screen := s.screen

	s.mu.Unlock()

	s.events.Append(domain.EventTransition, "intruder detected, alert started")
	logger.WarnKV(ctx, "Alert started", "incident_id", localID)

	s.wg.Add(2)

	go s.runWorkflow(ctx, localID, frame, screen)
	go s.rearmAfterCooldown(ctx)
}

// runWorkflow sequences one incident: classify, persist, gather evidence,
// archive. Every step degrades gracefully; no failure here can prevent the
// re-arm timer from firing.
func (s *Service) runWorkflow(ctx context.Context, localID string, frame *media.Frame, screen media.Screen) {
	defer s.wg.Done()

	record := domain.NewIncident(localID, frame.CapturedAt, frame.Data)

	s.classify(ctx, record)
	s.persist(ctx, record)
	s.gatherEvidence(ctx, record, screen)

	s.events.Append(domain.EventWorkflow, "incident workflow finished")
}

// classify asks the vision service to describe the captured frame. Best
// effort: the incident is recorded either way.
func (s *Service) classify(ctx context.Context, record *domain.Incident) {
	classification, err := s.deps.Analyzer.Analyze(ctx, record.FrameSnapshot)
	if err != nil {
		logger.ErrorKV(ctx, "Classification failed", "incident_id", record.ID, "error", err)
		s.events.Append(domain.EventError, "classification failed: "+err.Error())

		return
	}

	record.Classification = classification
	s.events.Append(domain.EventWorkflow, "incident classified")
}

// persist stores the incident record. On failure the in-memory record lives
// on through the rest of the workflow; it is never lost mid-incident.
func (s *Service) persist(ctx context.Context, record *domain.Incident) {
	id, err := s.deps.Incidents.Create(ctx, record)
	if err != nil {
		logger.ErrorKV(ctx, "Incident persistence degraded", "incident_id", record.ID, "error", err)
		s.events.Append(domain.EventError, "incident persistence degraded: "+err.Error())
	}

	if id == "" || id == record.ID {
		return
	}

	// The store assigned its own id; adopt it for the remaining steps.
	record.ID = id

	s.mu.Lock()
	if s.state.Mode == domain.ModeAlert {
		s.state.ActiveIncidentID = id
	}
	s.mu.Unlock()
}

// gatherEvidence records the pre-authorized screen stream and archives the
// result. A missing stream or a failed upload leaves the record in the
// Detected state; it is never marked archived without an evidence URL.
func (s *Service) gatherEvidence(ctx context.Context, record *domain.Incident, screen media.Screen) {
	if screen == nil {
		logger.Warn(ctx, "No screen stream authorized, skipping evidence gathering")
		s.events.Append(domain.EventWorkflow, "evidence gathering skipped: no screen stream")

		return
	}

	url, err := s.deps.Archiver.Archive(ctx, screen, record.ID)
	if err != nil {
		logger.ErrorKV(ctx, "Evidence gathering failed", "incident_id", record.ID, "error", err)
		s.events.Append(domain.EventError, "evidence gathering failed: "+err.Error())

		return
	}

	if err := record.Archive(url); err != nil {
		logger.ErrorKV(ctx, "Archive rejected", "incident_id", record.ID, "error", err)
		return
	}

	archived := domain.StatusArchived

	err = s.deps.Incidents.Update(ctx, record.ID, repo.UpdateFields{
		EvidenceURL: &url,
		Status:      &archived,
	})
	if err != nil {
		logger.ErrorKV(ctx, "Evidence update degraded", "incident_id", record.ID, "error", err)
		s.events.Append(domain.EventError, "evidence update degraded: "+err.Error())

		return
	}

	s.events.Append(domain.EventWorkflow, "evidence archived: "+url)
	logger.InfoKV(ctx, "Evidence archived", "incident_id", record.ID, "url", url)
}

// rearmAfterCooldown returns the session to Monitoring once the cooldown
// elapses, regardless of workflow outcomes. A disarm queued during the alert
// lands the session in Idle instead.
func (s *Service) rearmAfterCooldown(ctx context.Context) {
	defer s.wg.Done()

	timer := time.NewTimer(s.cfg.AlertCooldown)
	defer timer.Stop()

	select {
	case <-s.closed:
		return
	case <-timer.C:
	}

	s.mu.Lock()

	if s.state.Mode != domain.ModeAlert {
		s.mu.Unlock()
		return
	}

	s.state.ActiveIncidentID = ""
	s.state.AuditInFlight = false

	pendingDisarm := s.state.PendingDisarm
	s.state.PendingDisarm = false

	if pendingDisarm {
		s.state.Mode = domain.ModeIdle
	} else {
		s.state.Mode = domain.ModeMonitoring
		s.startSchedulerLocked()
	}

	s.mu.Unlock()

	if pendingDisarm {
		s.events.Append(domain.EventTransition, "cooldown elapsed, queued disarm applied")
		logger.Info(ctx, "Cooldown elapsed, queued disarm applied")

		return
	}

	s.events.Append(domain.EventTransition, "cooldown elapsed, monitoring resumed")
	logger.Info(ctx, "Cooldown elapsed, monitoring resumed")
}
