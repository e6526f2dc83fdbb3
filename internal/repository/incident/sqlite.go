package incident

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	guardian "github.com/pintubhai440/secure-recoder/internal/domain/guardian"
)

// Schema for the local incident journal.
const schema = `
CREATE TABLE IF NOT EXISTS incidents (
    id              TEXT PRIMARY KEY,
    captured_at     INTEGER NOT NULL,
    frame_snapshot  BLOB,
    classification  TEXT NOT NULL DEFAULT '',
    threat_level    TEXT NOT NULL,
    evidence_url    TEXT NOT NULL DEFAULT '',
    status          TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_incidents_captured_at ON incidents(captured_at);
`

// Journal persists incidents to a local SQLite database. It is the
// durability floor: records land here before the remote store is attempted,
// so a remote outage never loses an incident.
type Journal struct {
	db *sql.DB
}

// OpenJournal opens or creates the SQLite journal at the given path and
// applies the schema.
func OpenJournal(path string) (*Journal, error) {
	// Ensure parent directory exists.
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Journal{db: db}, nil
}

// Close closes the database connection.
func (j *Journal) Close() error {
	if j.db != nil {
		return j.db.Close()
	}

	return nil
}

// Create inserts a record. A missing id is assigned a fresh UUID. The
// assigned id is returned.
func (j *Journal) Create(ctx context.Context, record *guardian.Incident) (string, error) {
	id := record.ID
	if id == "" {
		id = uuid.NewString()
	}

	const query = `
		INSERT INTO incidents
		(id, captured_at, frame_snapshot, classification, threat_level, evidence_url, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := j.db.ExecContext(ctx, query,
		id, record.CapturedAt.UnixMilli(), record.FrameSnapshot,
		record.Classification, string(record.ThreatLevel), record.EvidenceURL, string(record.Status),
	)
	if err != nil {
		return "", fmt.Errorf("insert incident: %w", err)
	}

	return id, nil
}

// Update mutates the named columns of an existing record.
func (j *Journal) Update(ctx context.Context, id string, fields UpdateFields) error {
	assignments := make([]string, 0, 3)
	args := make([]any, 0, 4)

	if fields.Classification != nil {
		assignments = append(assignments, "classification = ?")
		args = append(args, *fields.Classification)
	}

	if fields.EvidenceURL != nil {
		assignments = append(assignments, "evidence_url = ?")
		args = append(args, *fields.EvidenceURL)
	}

	if fields.Status != nil {
		assignments = append(assignments, "status = ?")
		args = append(args, string(*fields.Status))
	}

	if len(assignments) == 0 {
		return nil
	}

	args = append(args, id)

	query := "UPDATE incidents SET " + strings.Join(assignments, ", ") + " WHERE id = ?"

	result, err := j.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update incident: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update incident: %w", err)
	}

	if affected == 0 {
		return ErrNotFound
	}

	return nil
}

// ReconcileID replaces a locally assigned id with the identifier the remote
// store handed out once the remote insert succeeded.
func (j *Journal) ReconcileID(ctx context.Context, localID, remoteID string) error {
	if localID == remoteID {
		return nil
	}

	result, err := j.db.ExecContext(ctx,
		"UPDATE incidents SET id = ? WHERE id = ?", remoteID, localID)
	if err != nil {
		return fmt.Errorf("reconcile incident id: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("reconcile incident id: %w", err)
	}

	if affected == 0 {
		return ErrNotFound
	}

	return nil
}

// List returns up to limit records, newest first. A non-positive limit
// returns everything.
func (j *Journal) List(ctx context.Context, limit int) ([]*guardian.Incident, error) {
	const query = `
		SELECT id, captured_at, frame_snapshot, classification, threat_level, evidence_url, status
		FROM incidents
		ORDER BY captured_at DESC
		LIMIT ?`

	if limit <= 0 {
		limit = -1
	}

	rows, err := j.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	var records []*guardian.Incident

	for rows.Next() {
		var (
			record      guardian.Incident
			capturedAt  int64
			threatLevel string
			status      string
		)

		if err := rows.Scan(&record.ID, &capturedAt, &record.FrameSnapshot,
			&record.Classification, &threatLevel, &record.EvidenceURL, &status); err != nil {
			return nil, fmt.Errorf("scan incident: %w", err)
		}

		record.CapturedAt = time.UnixMilli(capturedAt)
		record.ThreatLevel = guardian.ThreatLevel(threatLevel)
		record.Status = guardian.IncidentStatus(status)

		records = append(records, &record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}

	return records, nil
}

// Purge bulk-clears the journal.
func (j *Journal) Purge(ctx context.Context) error {
	if _, err := j.db.ExecContext(ctx, "DELETE FROM incidents"); err != nil {
		return fmt.Errorf("purge incidents: %w", err)
	}

	return nil
}
