package meetingstore

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidekick2020/meeting-scraper-sub002/pkg/meeting"
)

func openTestStore(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open(context.Background(), Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, Migrate(context.Background(), db))
	return db
}

func testRecord(name string, day int, startTime string) *meeting.Record {
	lat, lng := 37.7749, -122.4194
	return &meeting.Record{
		Name:             name,
		Types:            []string{"O", "D"},
		Day:              day,
		Time:             startTime,
		Timezone:         "America/Los_Angeles",
		LocationName:     "Community Center",
		Address:          "123 Main St",
		City:             "San Francisco",
		State:            "CA",
		PostalCode:       "94103",
		Country:          "US",
		FormattedAddress: "123 Main St, San Francisco, CA 94103",
		Latitude:         &lat,
		Longitude:        &lng,
		SourceFeed:       "ca-aa-sf",
		ScrapedAt:        time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestOpenCreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "store.db")
	db, err := Open(context.Background(), Config{Path: path})
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	require.NoError(t, Migrate(context.Background(), db))
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(context.Background(), Config{})
	require.Error(t, err)
}

func TestMigrateIdempotent(t *testing.T) {
	db := openTestStore(t)
	require.NoError(t, Migrate(context.Background(), db))

	var version int
	require.NoError(t, db.QueryRow(`SELECT schema_version FROM schema_meta WHERE id=1`).Scan(&version))
	assert.Equal(t, SchemaVersion, version)
}

func TestUpsertAndGetMeeting(t *testing.T) {
	db := openTestStore(t)
	ctx := context.Background()

	rec := testRecord("Saturday Serenity", 6, "09:00")
	require.NoError(t, UpsertMeeting(ctx, db, rec))

	got, err := GetMeeting(ctx, db, rec.UniqueKey())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Saturday Serenity", got.Name)
	assert.Equal(t, []string{"O", "D"}, got.Types)
	assert.Equal(t, 6, got.Day)
	assert.Equal(t, "09:00", got.Time)
	assert.Equal(t, "CA", got.State)
	require.NotNil(t, got.Latitude)
	assert.InDelta(t, 37.7749, *got.Latitude, 1e-9)
	assert.True(t, got.ScrapedAt.Equal(rec.ScrapedAt))
}

func TestGetMeetingAbsent(t *testing.T) {
	db := openTestStore(t)

	got, err := GetMeeting(context.Background(), db, "no|such|0|00:00")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestUpsertMeetingReplacesAndPreservesCreatedAt(t *testing.T) {
	db := openTestStore(t)
	ctx := context.Background()

	rec := testRecord("Morning Group", 1, "07:00")
	require.NoError(t, UpsertMeeting(ctx, db, rec))

	var createdBefore string
	require.NoError(t, db.QueryRow(`SELECT created_at FROM meetings WHERE unique_key=?`, rec.UniqueKey()).Scan(&createdBefore))

	rec.Notes = "updated notes"
	rec.ScrapedAt = rec.ScrapedAt.Add(time.Hour)
	require.NoError(t, UpsertMeeting(ctx, db, rec))

	count, err := CountMeetings(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	var createdAfter string
	require.NoError(t, db.QueryRow(`SELECT created_at FROM meetings WHERE unique_key=?`, rec.UniqueKey()).Scan(&createdAfter))
	assert.Equal(t, createdBefore, createdAfter)

	got, err := GetMeeting(ctx, db, rec.UniqueKey())
	require.NoError(t, err)
	assert.Equal(t, "updated notes", got.Notes)
}

func TestListMeetingsOrdered(t *testing.T) {
	db := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, UpsertMeeting(ctx, db, testRecord("Zeta Group", 2, "19:00")))
	require.NoError(t, UpsertMeeting(ctx, db, testRecord("Alpha Group", 2, "19:00")))

	recs, err := ListMeetings(ctx, db)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "Alpha Group", recs[0].Name)
	assert.Equal(t, "Zeta Group", recs[1].Name)
}

func TestCountsByState(t *testing.T) {
	db := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, UpsertMeeting(ctx, db, testRecord("Group A", 0, "10:00")))
	require.NoError(t, UpsertMeeting(ctx, db, testRecord("Group B", 1, "10:00")))

	tx := testRecord("Group C", 2, "10:00")
	tx.State = "TX"
	require.NoError(t, UpsertMeeting(ctx, db, tx))

	online := testRecord("Group D", 3, "10:00")
	online.State = ""
	require.NoError(t, UpsertMeeting(ctx, db, online))

	counts, err := CountsByState(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"CA": 2, "TX": 1}, counts)
}

func TestClusterKeyLifecycle(t *testing.T) {
	db := openTestStore(t)
	ctx := context.Background()

	a := testRecord("Group A", 0, "10:00")
	b := testRecord("Group B", 1, "10:00")
	require.NoError(t, UpsertMeeting(ctx, db, a))
	require.NoError(t, UpsertMeeting(ctx, db, b))

	unclustered, err := ListUnclustered(ctx, db)
	require.NoError(t, err)
	assert.Len(t, unclustered, 2)

	require.NoError(t, BatchSetClusterKeys(ctx, db, map[string]string{
		a.UniqueKey(): "377:-1225",
		b.UniqueKey(): "377:-1225",
	}))

	unclustered, err = ListUnclustered(ctx, db)
	require.NoError(t, err)
	assert.Empty(t, unclustered)

	got, err := GetMeeting(ctx, db, a.UniqueKey())
	require.NoError(t, err)
	assert.Equal(t, "377:-1225", got.ClusterKey)
}

func TestUpsertPreservesExistingClusterKeyOnRescrape(t *testing.T) {
	db := openTestStore(t)
	ctx := context.Background()

	rec := testRecord("Group A", 0, "10:00")
	require.NoError(t, UpsertMeeting(ctx, db, rec))
	require.NoError(t, SetClusterKey(ctx, db, rec.UniqueKey(), "377:-1225"))

	// Dedup merges the stored cluster key into the incoming record
	// before the upsert, so a rescrape keeps the annotation.
	stored, err := GetMeeting(ctx, db, rec.UniqueKey())
	require.NoError(t, err)
	rec.ClusterKey = stored.ClusterKey
	rec.ScrapedAt = rec.ScrapedAt.Add(time.Hour)
	require.NoError(t, UpsertMeeting(ctx, db, rec))

	got, err := GetMeeting(ctx, db, rec.UniqueKey())
	require.NoError(t, err)
	assert.Equal(t, "377:-1225", got.ClusterKey)
}

func TestReplaceIndicators(t *testing.T) {
	db := openTestStore(t)
	ctx := context.Background()

	first := []Indicator{
		{CellKey: "377:-1225", CenterLat: 37.77, CenterLng: -122.41, MeetingCount: 3},
		{CellKey: "407:-740", CenterLat: 40.71, CenterLng: -74.00, MeetingCount: 5},
	}
	require.NoError(t, ReplaceIndicators(ctx, db, first))

	second := []Indicator{
		{CellKey: "300:-900", CenterLat: 30.0, CenterLng: -90.0, MeetingCount: 1},
	}
	require.NoError(t, ReplaceIndicators(ctx, db, second))

	got, err := ListIndicators(ctx, db)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "300:-900", got[0].CellKey)
	assert.Equal(t, 1, got[0].MeetingCount)
}

func TestUpsertIndicator(t *testing.T) {
	db := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, UpsertIndicator(ctx, db, Indicator{CellKey: "377:-1225", CenterLat: 37.7, CenterLng: -122.4, MeetingCount: 1}))
	require.NoError(t, UpsertIndicator(ctx, db, Indicator{CellKey: "377:-1225", CenterLat: 37.75, CenterLng: -122.42, MeetingCount: 2}))

	count, err := CountIndicators(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	got, err := ListIndicators(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, 2, got[0].MeetingCount)
	assert.InDelta(t, 37.75, got[0].CenterLat, 1e-9)
}

func TestScrapeRunHistory(t *testing.T) {
	db := openTestStore(t)
	ctx := context.Background()

	older := ScrapeRun{
		RunID:     "run-1",
		StartedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		EndedAt:   time.Date(2026, 3, 1, 10, 5, 0, 0, time.UTC),
		Status:    "completed", FeedsTotal: 2,
		TotalFound: 100, TotalSaved: 90, TotalDuplicates: 8, TotalFailed: 2,
	}
	newer := ScrapeRun{
		RunID:     "run-2",
		StartedAt: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
		EndedAt:   time.Date(2026, 3, 2, 10, 4, 0, 0, time.UTC),
		Status:    "stopped", FeedsTotal: 2,
		TotalFound: 40, TotalSaved: 0, TotalDuplicates: 40, TotalFailed: 0,
	}
	require.NoError(t, RecordScrapeRun(ctx, db, older))
	require.NoError(t, RecordScrapeRun(ctx, db, newer))

	runs, err := ListScrapeRuns(ctx, db, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-2", runs[0].RunID)
	assert.Equal(t, "stopped", runs[0].Status)
	assert.Equal(t, 90, runs[1].TotalSaved)
	assert.True(t, runs[1].StartedAt.Equal(older.StartedAt))
}
