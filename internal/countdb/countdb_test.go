package countdb

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := New(filepath.Join(t.TempDir(), "footfall.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMigrateUp_CreatesSchema(t *testing.T) {
	db := setupTestDB(t)

	for _, table := range []string{"sessions", "crossings", "segments"} {
		var count int
		err := db.QueryRow(
			`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table,
		).Scan(&count)
		require.NoError(t, err)
		assert.Equal(t, 1, count, "expected table %s to exist", table)
	}

	version, dirty, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)
}

func TestMigrateUp_Idempotent(t *testing.T) {
	db := setupTestDB(t)

	// Already migrated by New; a second run must be a no-op.
	require.NoError(t, db.MigrateUp())
}

func TestSessionLifecycle(t *testing.T) {
	db := setupTestDB(t)

	started := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, db.StartSession("sess-1", started))
	require.NoError(t, db.FinishSession("sess-1", 12, 9, 4, started.Add(time.Hour)))

	var entries, exits uint64
	var segments int
	err := db.QueryRow(
		`SELECT entries, exits, segments_processed FROM sessions WHERE session_id = 'sess-1'`,
	).Scan(&entries, &exits, &segments)
	require.NoError(t, err)
	assert.Equal(t, uint64(12), entries)
	assert.Equal(t, uint64(9), exits)
	assert.Equal(t, 4, segments)
}

func TestRecordCrossing_Totals(t *testing.T) {
	db := setupTestDB(t)

	now := time.Date(2026, 3, 1, 10, 15, 0, 0, time.UTC)
	require.NoError(t, db.StartSession("sess-1", now))

	record := func(trackID int, dir string, staff bool) {
		t.Helper()
		require.NoError(t, db.RecordCrossing("sess-1", trackID, dir, 100, 200, staff, now))
	}
	record(1, "entry", false)
	record(2, "entry", false)
	record(3, "exit", false)
	record(4, "entry", true) // staff-vetoed, must not count

	totals, err := db.SessionTotals("sess-1")
	require.NoError(t, err)
	assert.Equal(t, Totals{Entries: 2, Exits: 1, Staff: 1}, totals)

	// Crossings for another session don't leak in.
	other, err := db.SessionTotals("sess-2")
	require.NoError(t, err)
	assert.Equal(t, Totals{}, other)
}

func TestRecordSegment_Count(t *testing.T) {
	db := setupTestDB(t)

	now := time.Now().UTC()
	for i := 0; i < 3; i++ {
		require.NoError(t, db.RecordSegment("sess-1", "segment_000000001.mp4", 2, 1, 450, now))
	}

	n, err := db.SegmentCount("sess-1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestHourlyCrossings(t *testing.T) {
	db := setupTestDB(t)

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	crossings := []struct {
		at    time.Time
		dir   string
		staff bool
	}{
		{base.Add(5 * time.Minute), "entry", false},
		{base.Add(20 * time.Minute), "entry", false},
		{base.Add(40 * time.Minute), "exit", false},
		{base.Add(70 * time.Minute), "entry", false},
		{base.Add(80 * time.Minute), "entry", true}, // staff excluded
	}
	for i, c := range crossings {
		require.NoError(t, db.RecordCrossing("sess-1", i, c.dir, 0, 0, c.staff, c.at))
	}

	buckets, err := db.HourlyCrossings(base)
	require.NoError(t, err)
	require.Len(t, buckets, 2)
	assert.Equal(t, HourlyBucket{Hour: "2026-03-01 09:00", Entries: 2, Exits: 1}, buckets[0])
	assert.Equal(t, HourlyBucket{Hour: "2026-03-01 10:00", Entries: 1, Exits: 0}, buckets[1])

	// A later cutoff filters earlier rows.
	late, err := db.HourlyCrossings(base.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, late, 1)
}
