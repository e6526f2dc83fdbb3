package incident

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	guardian "github.com/pintubhai440/secure-recoder/internal/domain/guardian"
	"github.com/pintubhai440/secure-recoder/internal/logger"
)

// journalAPI is the slice of the journal the tiered store needs; tests
// substitute fakes.
type journalAPI interface {
	Repository
	ReconcileID(ctx context.Context, localID, remoteID string) error
}

// TieredStore journals incidents locally before mirroring them to the
// remote store. Local writes are the durability floor: a remote outage
// degrades the store but never loses a record. Once the remote insert
// succeeds, the remote id replaces the locally assigned one.
type TieredStore struct {
	// journal is the local SQLite journal. Optional.
	journal journalAPI
	// remote is the remote REST store. Optional (may be disabled).
	remote Repository
}

// NewTieredStore combines the local journal and the remote store. Either may
// be nil; at least one should be usable or every write is in-memory only.
func NewTieredStore(journal journalAPI, remote Repository) *TieredStore {
	return &TieredStore{
		journal: journal,
		remote:  remote,
	}
}

// Create journals the record locally, then mirrors it remotely. The returned
// id is the remote one when the mirror succeeded, the local one otherwise. A
// non-nil error alongside a non-empty id signals degraded (local-only)
// persistence.
func (t *TieredStore) Create(ctx context.Context, record *guardian.Incident) (string, error) {
	localID := record.ID
	if localID == "" {
		localID = uuid.NewString()
		record.ID = localID
	}

	if t.journal != nil {
		if _, err := t.journal.Create(ctx, record); err != nil {
			logger.ErrorKV(ctx, "Journal write failed", "incident_id", localID, "error", err)
		}
	}

	if t.remote == nil {
		return localID, nil
	}

	remoteID, err := t.remote.Create(ctx, record)
	if err != nil {
		if errors.Is(err, ErrNotConfigured) {
			return localID, nil
		}

		return localID, fmt.Errorf("mirror incident: %w", err)
	}

	record.ID = remoteID

	if t.journal != nil {
		if err := t.journal.ReconcileID(ctx, localID, remoteID); err != nil {
			logger.ErrorKV(ctx, "Incident id reconciliation failed",
				"local_id", localID, "remote_id", remoteID, "error", err)
		}
	}

	return remoteID, nil
}

// Update applies the patch to both tiers; failures are joined so the caller
// sees every degraded layer.
func (t *TieredStore) Update(ctx context.Context, id string, fields UpdateFields) error {
	var journalErr, remoteErr error

	if t.journal != nil {
		journalErr = t.journal.Update(ctx, id, fields)
	}

	if t.remote != nil {
		remoteErr = t.remote.Update(ctx, id, fields)
		if errors.Is(remoteErr, ErrNotConfigured) {
			remoteErr = nil
		}
	}

	return errors.Join(journalErr, remoteErr)
}

// List prefers the remote store and falls back to the journal when the
// remote is unavailable.
func (t *TieredStore) List(ctx context.Context, limit int) ([]*guardian.Incident, error) {
	if t.remote != nil {
		records, err := t.remote.List(ctx, limit)
		if err == nil {
			return records, nil
		}

		if !errors.Is(err, ErrNotConfigured) {
			logger.WarnKV(ctx, "Remote incident list failed, serving journal", "error", err)
		}
	}

	if t.journal == nil {
		return nil, nil
	}

	return t.journal.List(ctx, limit)
}

// Purge bulk-clears both tiers.
func (t *TieredStore) Purge(ctx context.Context) error {
	var journalErr, remoteErr error

	if t.journal != nil {
		journalErr = t.journal.Purge(ctx)
	}

	if t.remote != nil {
		remoteErr = t.remote.Purge(ctx)
		if errors.Is(remoteErr, ErrNotConfigured) {
			remoteErr = nil
		}
	}

	return errors.Join(journalErr, remoteErr)
}
