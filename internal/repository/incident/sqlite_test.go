package incident

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	guardian "github.com/pintubhai440/secure-recoder/internal/domain/guardian"
)

// openTestJournal creates a journal in a temporary directory.
func openTestJournal(t *testing.T) *Journal {
	t.Helper()

	journal, err := OpenJournal(filepath.Join(t.TempDir(), "incidents.db"))
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = journal.Close()
	})

	return journal
}

// TestJournalCreateAndList round-trips a record through the journal.
func TestJournalCreateAndList(t *testing.T) {
	t.Parallel()

	journal := openTestJournal(t)
	ctx := context.Background()

	record := guardian.NewIncident("", time.UnixMilli(1000), []byte{1, 2, 3})

	id, err := journal.Create(ctx, record)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	later := guardian.NewIncident("", time.UnixMilli(2000), nil)
	_, err = journal.Create(ctx, later)
	require.NoError(t, err)

	records, err := journal.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)

	// Newest first.
	require.Equal(t, time.UnixMilli(2000), records[0].CapturedAt)
	require.Equal(t, id, records[1].ID)
	require.Equal(t, []byte{1, 2, 3}, records[1].FrameSnapshot)
	require.Equal(t, guardian.ThreatCritical, records[1].ThreatLevel)
	require.Equal(t, guardian.StatusDetected, records[1].Status)

	limited, err := journal.List(ctx, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
}

// TestJournalUpdate patches individual columns and reports missing rows.
func TestJournalUpdate(t *testing.T) {
	t.Parallel()

	journal := openTestJournal(t)
	ctx := context.Background()

	id, err := journal.Create(ctx, guardian.NewIncident("", time.Now(), nil))
	require.NoError(t, err)

	classification := "a person in a red jacket"
	evidenceURL := "https://storage.local/evidence/x.webm"
	archived := guardian.StatusArchived

	require.NoError(t, journal.Update(ctx, id, UpdateFields{
		Classification: &classification,
		EvidenceURL:    &evidenceURL,
		Status:         &archived,
	}))

	records, err := journal.List(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, classification, records[0].Classification)
	require.Equal(t, evidenceURL, records[0].EvidenceURL)
	require.Equal(t, guardian.StatusArchived, records[0].Status)

	// Empty patch is a no-op.
	require.NoError(t, journal.Update(ctx, id, UpdateFields{}))

	// Unknown id.
	err = journal.Update(ctx, "missing", UpdateFields{Classification: &classification})
	require.ErrorIs(t, err, ErrNotFound)
}

// TestJournalReconcileID swaps a local id for the remote one.
func TestJournalReconcileID(t *testing.T) {
	t.Parallel()

	journal := openTestJournal(t)
	ctx := context.Background()

	localID, err := journal.Create(ctx, guardian.NewIncident("", time.Now(), nil))
	require.NoError(t, err)

	require.NoError(t, journal.ReconcileID(ctx, localID, "remote-42"))

	records, err := journal.List(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, "remote-42", records[0].ID)

	// Identical ids short-circuit.
	require.NoError(t, journal.ReconcileID(ctx, "remote-42", "remote-42"))

	// Unknown local id.
	require.ErrorIs(t, journal.ReconcileID(ctx, "missing", "x"), ErrNotFound)
}

// TestJournalPurge bulk-clears all records.
func TestJournalPurge(t *testing.T) {
	t.Parallel()

	journal := openTestJournal(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := journal.Create(ctx, guardian.NewIncident("", time.Now(), nil))
		require.NoError(t, err)
	}

	require.NoError(t, journal.Purge(ctx))

	records, err := journal.List(ctx, 0)
	require.NoError(t, err)
	require.Empty(t, records)
}
