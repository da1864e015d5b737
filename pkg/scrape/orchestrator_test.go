package scrape

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sidekick2020/meeting-scraper-sub002/pkg/feed"
	"github.com/sidekick2020/meeting-scraper-sub002/pkg/geocode"
	"github.com/sidekick2020/meeting-scraper-sub002/pkg/jobs"
	"github.com/sidekick2020/meeting-scraper-sub002/pkg/meeting"
	"github.com/sidekick2020/meeting-scraper-sub002/pkg/meetingstore"
)

type stubFetcher struct {
	results map[string]*feed.ParseResult
	errs    map[string]error
	onFetch func(name string)
}

func (s *stubFetcher) Fetch(_ context.Context, f feed.Feed) (*feed.ParseResult, error) {
	if s.onFetch != nil {
		s.onFetch(f.Name)
	}
	if err, ok := s.errs[f.Name]; ok {
		return nil, err
	}
	if res, ok := s.results[f.Name]; ok {
		return res, nil
	}
	return &feed.ParseResult{}, nil
}

type stubGeocoder struct {
	coords map[string]*geocode.Coordinate
	calls  int
}

func (s *stubGeocoder) Resolve(_ context.Context, address string) (*geocode.Coordinate, error) {
	s.calls++
	return s.coords[geocode.NormalizeAddress(address)], nil
}

func openTestStore(t *testing.T) *sql.DB {
	t.Helper()
	db, err := meetingstore.Open(context.Background(), meetingstore.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, meetingstore.Migrate(context.Background(), db))
	return db
}

func draft(name string, day int, startTime string) meeting.Draft {
	d := meeting.Draft{
		Name:    name,
		Time:    startTime,
		Address: "123 Main St",
		City:    "San Francisco",
		State:   "CA",
	}
	d.Day = &day
	return d
}

func testFeeds(names ...string) []feed.Feed {
	var out []feed.Feed
	for _, name := range names {
		out = append(out, feed.Feed{Name: name, Format: feed.FormatTSML, URL: "http://example.test/" + name, State: "CA"})
	}
	return out
}

func newTestOrchestrator(db *sql.DB, fetcher FeedFetcher, geocoder geocode.Resolver) *Orchestrator {
	cfg := DefaultConfig()
	cfg.Geocode = geocoder != nil
	return New(cfg, db, fetcher, geocoder, jobs.NewScrapeTracker(), zap.NewNop())
}

func TestRunSavesMeetings(t *testing.T) {
	db := openTestStore(t)
	fetcher := &stubFetcher{results: map[string]*feed.ParseResult{
		"ca-aa-sf": {Drafts: []meeting.Draft{
			draft("Morning Group", 1, "07:00"),
			draft("Evening Group", 1, "19:00"),
		}},
	}}

	o := newTestOrchestrator(db, fetcher, nil)
	require.NoError(t, o.Run(context.Background(), testFeeds("ca-aa-sf")))

	snap := o.Tracker().Snapshot()
	assert.Equal(t, jobs.StatusCompleted, snap.Status)
	assert.Equal(t, 2, snap.TotalFound)
	assert.Equal(t, 2, snap.TotalSaved)
	assert.Equal(t, 0, snap.TotalDuplicates)
	assert.Equal(t, float64(100), snap.Progress)

	count, err := meetingstore.CountMeetings(context.Background(), db)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	runs, err := meetingstore.ListScrapeRuns(context.Background(), db, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "completed", runs[0].Status)
	assert.Equal(t, 2, runs[0].TotalSaved)
}

func TestRunIsIdempotent(t *testing.T) {
	db := openTestStore(t)
	fetcher := &stubFetcher{results: map[string]*feed.ParseResult{
		"ca-aa-sf": {Drafts: []meeting.Draft{
			draft("Morning Group", 1, "07:00"),
			draft("Evening Group", 1, "19:00"),
		}},
	}}

	o := newTestOrchestrator(db, fetcher, nil)
	require.NoError(t, o.Run(context.Background(), testFeeds("ca-aa-sf")))
	require.NoError(t, o.Run(context.Background(), testFeeds("ca-aa-sf")))

	snap := o.Tracker().Snapshot()
	assert.Equal(t, 2, snap.TotalFound)
	assert.Equal(t, 0, snap.TotalSaved)
	assert.Equal(t, 2, snap.TotalDuplicates)

	count, err := meetingstore.CountMeetings(context.Background(), db)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestRunContinuesPastFailedFeed(t *testing.T) {
	db := openTestStore(t)
	fetcher := &stubFetcher{
		results: map[string]*feed.ParseResult{
			"ca-aa-sf": {Drafts: []meeting.Draft{draft("Group A", 0, "10:00")}},
			"wa-aa":    {Drafts: []meeting.Draft{draft("Group C", 2, "10:00")}},
		},
		errs: map[string]error{
			"ny-na": fmt.Errorf("%w: HTTP 500", feed.ErrFeedUnreachable),
		},
	}

	o := newTestOrchestrator(db, fetcher, nil)
	require.NoError(t, o.Run(context.Background(), testFeeds("ca-aa-sf", "ny-na", "wa-aa")))

	snap := o.Tracker().Snapshot()
	assert.Equal(t, jobs.StatusCompleted, snap.Status)
	assert.False(t, snap.IsRunning)
	assert.Equal(t, 2, snap.TotalSaved)
	require.Len(t, snap.Errors, 1)
	assert.Contains(t, snap.Errors[0], "ny-na")
}

func TestRunRejectsConcurrentRun(t *testing.T) {
	db := openTestStore(t)
	o := newTestOrchestrator(db, &stubFetcher{}, nil)

	require.NoError(t, o.Tracker().Begin("other-run", 1))
	err := o.Run(context.Background(), testFeeds("ca-aa-sf"))
	assert.True(t, jobs.IsAlreadyRunning(err))
}

func TestRunStopsBetweenFeeds(t *testing.T) {
	db := openTestStore(t)

	var o *Orchestrator
	fetcher := &stubFetcher{
		results: map[string]*feed.ParseResult{
			"first":  {Drafts: []meeting.Draft{draft("Group A", 0, "10:00")}},
			"second": {Drafts: []meeting.Draft{draft("Group B", 1, "10:00")}},
		},
		onFetch: func(name string) {
			if name == "first" {
				o.Tracker().RequestStop()
			}
		},
	}
	o = newTestOrchestrator(db, fetcher, nil)

	require.NoError(t, o.Run(context.Background(), testFeeds("first", "second")))

	snap := o.Tracker().Snapshot()
	assert.Equal(t, jobs.StatusStopped, snap.Status)
	// first feed had already fetched; its item may or may not have been
	// processed before the stop check, but the second feed never ran
	count, err := meetingstore.CountMeetings(context.Background(), db)
	require.NoError(t, err)
	assert.LessOrEqual(t, count, int64(1))

	runs, err := meetingstore.ListScrapeRuns(context.Background(), db, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "stopped", runs[0].Status)
}

func TestRunGeocodesRecordsWithoutCoordinates(t *testing.T) {
	db := openTestStore(t)
	fetcher := &stubFetcher{results: map[string]*feed.ParseResult{
		"ca-aa-sf": {Drafts: []meeting.Draft{draft("Morning Group", 1, "07:00")}},
	}}
	geocoder := &stubGeocoder{coords: map[string]*geocode.Coordinate{
		geocode.NormalizeAddress("123 Main St, San Francisco, CA"): {Latitude: 37.77, Longitude: -122.41},
	}}

	o := newTestOrchestrator(db, fetcher, geocoder)
	require.NoError(t, o.Run(context.Background(), testFeeds("ca-aa-sf")))

	assert.Equal(t, 1, geocoder.calls)

	recs, err := meetingstore.ListMeetings(context.Background(), db)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.NotNil(t, recs[0].Latitude)
	assert.InDelta(t, 37.77, *recs[0].Latitude, 1e-9)
}

func TestRunSavesWithoutCoordinatesOnGeocodeMiss(t *testing.T) {
	db := openTestStore(t)
	fetcher := &stubFetcher{results: map[string]*feed.ParseResult{
		"ca-aa-sf": {Drafts: []meeting.Draft{draft("Morning Group", 1, "07:00")}},
	}}
	geocoder := &stubGeocoder{}

	o := newTestOrchestrator(db, fetcher, geocoder)
	require.NoError(t, o.Run(context.Background(), testFeeds("ca-aa-sf")))

	snap := o.Tracker().Snapshot()
	assert.Equal(t, 1, snap.TotalSaved)
	assert.Equal(t, 0, snap.TotalFailed)

	recs, err := meetingstore.ListMeetings(context.Background(), db)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Nil(t, recs[0].Latitude)
}

func TestRunCountsDroppedAndInvalidItems(t *testing.T) {
	db := openTestStore(t)
	invalid := draft("", 1, "07:00")
	fetcher := &stubFetcher{results: map[string]*feed.ParseResult{
		"ca-aa-sf": {
			Drafts:  []meeting.Draft{draft("Good Group", 1, "07:00"), invalid},
			Dropped: []feed.ItemError{{Index: 5, Detail: "malformed json"}},
		},
	}}

	o := newTestOrchestrator(db, fetcher, nil)
	require.NoError(t, o.Run(context.Background(), testFeeds("ca-aa-sf")))

	snap := o.Tracker().Snapshot()
	assert.Equal(t, jobs.StatusCompleted, snap.Status)
	assert.Equal(t, 3, snap.TotalFound)
	assert.Equal(t, 1, snap.TotalSaved)
	assert.Equal(t, 2, snap.TotalFailed)
}

func TestRunFailsWhenStoreUnreachable(t *testing.T) {
	db, err := meetingstore.Open(context.Background(), meetingstore.Config{Path: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	o := newTestOrchestrator(db, &stubFetcher{}, nil)
	err = o.Run(context.Background(), testFeeds("ca-aa-sf"))
	require.Error(t, err)
	assert.False(t, errors.Is(err, jobs.ErrAlreadyRunning))

	snap := o.Tracker().Snapshot()
	assert.Equal(t, jobs.StatusFailed, snap.Status)
	require.NotEmpty(t, snap.Errors)
}

func TestRunInvokesCompletionHook(t *testing.T) {
	db := openTestStore(t)
	fetcher := &stubFetcher{results: map[string]*feed.ParseResult{
		"ca-aa-sf": {Drafts: []meeting.Draft{draft("Morning Group", 1, "07:00")}},
	}}

	o := newTestOrchestrator(db, fetcher, nil)
	var got *Summary
	o.OnComplete = func(_ context.Context, sum Summary) { got = &sum }

	require.NoError(t, o.Run(context.Background(), testFeeds("ca-aa-sf")))
	require.NotNil(t, got)
	assert.Equal(t, jobs.StatusCompleted, got.Status)
	assert.Equal(t, 1, got.TotalSaved)
	assert.NotEmpty(t, got.RunID)
}
