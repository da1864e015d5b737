package dedup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidekick2020/meeting-scraper-sub002/pkg/meeting"
)

func floatPtr(v float64) *float64 { return &v }

func baseRecord(scrapedAt time.Time) *meeting.Record {
	return &meeting.Record{
		Name:       "Saturday Serenity",
		Day:        6,
		Time:       "09:00",
		City:       "San Diego",
		State:      "CA",
		Country:    "US",
		SourceFeed: "ca-san-diego",
		ScrapedAt:  scrapedAt,
	}
}

func TestResolveCreate(t *testing.T) {
	d := Resolve(baseRecord(time.Now()), nil)
	assert.Equal(t, ActionCreate, d.Action)
	assert.Nil(t, d.Merged)
}

func TestResolveSkipNoChange(t *testing.T) {
	t0 := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	existing := baseRecord(t0)

	incoming := baseRecord(t0.Add(24 * time.Hour))
	d := Resolve(incoming, existing)

	assert.Equal(t, ActionSkip, d.Action)
	assert.Equal(t, SkipNoChange, d.Reason)
}

func TestResolveSkipStale(t *testing.T) {
	t0 := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	existing := baseRecord(t0)

	incoming := baseRecord(t0.Add(-24 * time.Hour))
	incoming.Notes = "should not matter"
	d := Resolve(incoming, existing)

	assert.Equal(t, ActionSkip, d.Action)
	assert.Equal(t, SkipStale, d.Reason)
}

func TestResolveUpdateMerges(t *testing.T) {
	t0 := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	existing := baseRecord(t0)
	existing.Address = "100 Main St"
	existing.Latitude = floatPtr(32.7)
	existing.Longitude = floatPtr(-117.1)
	existing.ClusterKey = "327:-1172"

	incoming := baseRecord(t0.Add(time.Hour))
	incoming.Notes = "wheelchair accessible"
	// Incoming has no address and no coordinates.

	d := Resolve(incoming, existing)
	require.Equal(t, ActionUpdate, d.Action)
	require.NotNil(t, d.Merged)

	assert.Equal(t, "wheelchair accessible", d.Merged.Notes)
	assert.Equal(t, "100 Main St", d.Merged.Address, "absent incoming field must not erase stored value")
	require.NotNil(t, d.Merged.Latitude)
	assert.InDelta(t, 32.7, *d.Merged.Latitude, 1e-9, "stored coordinates survive")
	assert.Equal(t, "327:-1172", d.Merged.ClusterKey, "cluster key belongs to the cluster engine")
	assert.Equal(t, t0.Add(time.Hour), d.Merged.ScrapedAt)
}

func TestResolveUpdateIncomingCoordinatesWin(t *testing.T) {
	t0 := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	existing := baseRecord(t0)
	existing.Latitude = floatPtr(32.7)
	existing.Longitude = floatPtr(-117.1)

	incoming := baseRecord(t0.Add(time.Hour))
	incoming.Latitude = floatPtr(32.8)
	incoming.Longitude = floatPtr(-117.2)

	d := Resolve(incoming, existing)
	require.Equal(t, ActionUpdate, d.Action)
	assert.InDelta(t, 32.8, *d.Merged.Latitude, 1e-9)
}

func TestResolveNeverTwoCreates(t *testing.T) {
	// Running the same record through resolve twice, persisting in
	// between, must not yield a second create.
	t0 := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	first := baseRecord(t0)

	d1 := Resolve(first, nil)
	require.Equal(t, ActionCreate, d1.Action)

	second := baseRecord(t0.Add(time.Hour))
	d2 := Resolve(second, first)
	assert.NotEqual(t, ActionCreate, d2.Action)
}
