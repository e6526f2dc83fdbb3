package guardian

import "time"

// Mode is the operating state of the guardian session.
type Mode string

const (
	// ModeIdle means the guardian is disarmed and no audits run.
	ModeIdle Mode = "idle"
	// ModeEnrolling means arming was requested without an enrolled owner;
	// the session waits for a reference frame.
	ModeEnrolling Mode = "enrolling"
	// ModeMonitoring means periodic audits compare camera frames against
	// the enrolled reference.
	ModeMonitoring Mode = "monitoring"
	// ModeAlert means an incident workflow is in flight. Alerts cannot be
	// cancelled manually; the session leaves this mode only when the
	// cooldown elapses.
	ModeAlert Mode = "alert"
	// ModeFault means camera hardware could not be acquired. Terminal until
	// the process is restarted.
	ModeFault Mode = "fault"
)

// legalTransitions lists the targets each mode may move to. Fault is
// reachable from anywhere and has no outgoing edges.
var legalTransitions = map[Mode][]Mode{
	ModeIdle:       {ModeEnrolling, ModeMonitoring, ModeFault},
	ModeEnrolling:  {ModeIdle, ModeMonitoring, ModeFault},
	ModeMonitoring: {ModeIdle, ModeAlert, ModeFault},
	ModeAlert:      {ModeIdle, ModeMonitoring, ModeFault},
	ModeFault:      {},
}

// CanTransitionTo reports whether moving from m to target is a legal edge of
// the mode state machine.
func (m Mode) CanTransitionTo(target Mode) bool {
	for _, allowed := range legalTransitions[m] {
		if allowed == target {
			return true
		}
	}

	return false
}

// Actor identifies who performed an action in the system.
type Actor struct {
	// Hostname is the machine name where the action was performed.
	Hostname string `json:"hostname"`
	// Username is the system user who triggered the action.
	Username string `json:"username"`
}

// Clone returns a deep copy of the actor.
func (a *Actor) Clone() *Actor {
	if a == nil {
		return nil
	}

	cloned := *a

	return &cloned
}

// SessionState is the single live state of a guardian run. It is owned by
// the orchestrator; collaborators receive clones.
type SessionState struct {
	// Mode is the current operating mode.
	Mode Mode
	// ReferenceSignature is the enrolled owner's frame payload. Monitoring
	// and Alert both require it to be non-empty.
	ReferenceSignature []byte
	// AuditInFlight is true for the duration of one audit-workflow
	// execution and prevents re-entrant audits.
	AuditInFlight bool
	// ActiveIncidentID identifies the incident currently being processed.
	// Non-empty only while in Alert.
	ActiveIncidentID string
	// PendingDisarm is set when a disarm request arrives during an alert.
	// It is applied once the cooldown elapses.
	PendingDisarm bool
	// ArmedSince is when the session last entered Monitoring.
	ArmedSince time.Time
	// LastActor is the user who last armed or disarmed the session.
	LastActor *Actor
}

// Enrolled reports whether an owner reference has been captured.
func (s *SessionState) Enrolled() bool {
	return len(s.ReferenceSignature) > 0
}

// Clone returns a copy of the state to avoid leaking internal references.
func (s *SessionState) Clone() *SessionState {
	cloned := &SessionState{
		Mode:             s.Mode,
		AuditInFlight:    s.AuditInFlight,
		ActiveIncidentID: s.ActiveIncidentID,
		PendingDisarm:    s.PendingDisarm,
		ArmedSince:       s.ArmedSince,
		LastActor:        s.LastActor.Clone(),
	}

	if s.ReferenceSignature != nil {
		cloned.ReferenceSignature = make([]byte, len(s.ReferenceSignature))
		copy(cloned.ReferenceSignature, s.ReferenceSignature)
	}

	return cloned
}
