package guardian

import (
	"errors"
	"time"
)

// ThreatLevel is the enumerated severity of an incident.
type ThreatLevel string

// ThreatCritical is the maximum severity tier. Every detection is currently
// recorded at this level; no graded scoring exists.
const ThreatCritical ThreatLevel = "critical"

// IncidentStatus tracks how far an incident progressed through the alert
// workflow.
type IncidentStatus string

const (
	// StatusDetected is the initial status assigned at detection time.
	StatusDetected IncidentStatus = "detected"
	// StatusArchived means the screen recording was uploaded and the
	// incident carries an evidence URL.
	StatusArchived IncidentStatus = "archived"
)

// ErrEvidenceURLRequired is returned when an incident would be archived
// without an evidence URL.
var ErrEvidenceURLRequired = errors.New("evidence URL is required to archive an incident")

// Incident is one detected event. Records are append-only: they are mutated
// in place as classification and evidence arrive and are never deleted
// individually, only bulk-cleared by an explicit purge.
type Incident struct {
	// ID is assigned locally (UUID) at detection time and reconciled to the
	// remote store's identifier once the remote insert succeeds.
	ID string `json:"id"`
	// CapturedAt is the detection timestamp.
	CapturedAt time.Time `json:"captured_at"`
	// FrameSnapshot is the camera frame captured at detection time.
	FrameSnapshot []byte `json:"frame_snapshot,omitempty"`
	// Classification is the text produced by the analysis service. Empty
	// until (and unless) that call resolves.
	Classification string `json:"classification,omitempty"`
	// ThreatLevel is the severity tier of the incident.
	ThreatLevel ThreatLevel `json:"threat_level"`
	// EvidenceURL points at the archived screen recording. Empty until the
	// upload completes.
	EvidenceURL string `json:"evidence_url,omitempty"`
	// Status is the lifecycle stage of the record.
	Status IncidentStatus `json:"status"`
}

// NewIncident creates a record in the Detected state for a frame captured at
// the given time.
func NewIncident(id string, capturedAt time.Time, frame []byte) *Incident {
	return &Incident{
		ID:            id,
		CapturedAt:    capturedAt,
		FrameSnapshot: frame,
		ThreatLevel:   ThreatCritical,
		Status:        StatusDetected,
	}
}

// Archive marks the incident archived with the given evidence URL. An
// incident is never archived without a URL.
func (i *Incident) Archive(evidenceURL string) error {
	if evidenceURL == "" {
		return ErrEvidenceURLRequired
	}

	i.EvidenceURL = evidenceURL
	i.Status = StatusArchived

	return nil
}

// Clone returns a copy of the incident to avoid leaking internal references.
func (i *Incident) Clone() *Incident {
	if i == nil {
		return nil
	}

	cloned := *i

	if i.FrameSnapshot != nil {
		cloned.FrameSnapshot = make([]byte, len(i.FrameSnapshot))
		copy(cloned.FrameSnapshot, i.FrameSnapshot)
	}

	return &cloned
}
