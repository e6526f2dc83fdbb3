package incident

import (
	"context"
	"errors"

	guardian "github.com/pintubhai440/secure-recoder/internal/domain/guardian"
)

// UpdateFields names the mutable incident columns. Nil fields are left
// untouched.
type UpdateFields struct {
	// Classification sets the analysis text.
	Classification *string
	// EvidenceURL sets the archived recording URL.
	EvidenceURL *string
	// Status sets the lifecycle stage.
	Status *guardian.IncidentStatus
}

// Repository defines persistence operations for incident records.
type Repository interface {
	// Create stores a new record and returns the identifier it was
	// assigned. Implementations may replace the caller-provided id.
	Create(ctx context.Context, record *guardian.Incident) (string, error)
	// Update mutates an existing record in place.
	Update(ctx context.Context, id string, fields UpdateFields) error
	// List returns up to limit records, newest first.
	List(ctx context.Context, limit int) ([]*guardian.Incident, error)
	// Purge bulk-clears all records. Individual deletion does not exist.
	Purge(ctx context.Context) error
}

var (
	// ErrNotFound is returned when an incident id matches no record.
	ErrNotFound = errors.New("incident not found")
	// ErrNotConfigured is returned by the remote store when it was built
	// without credentials.
	ErrNotConfigured = errors.New("remote incident store is not configured")
)
