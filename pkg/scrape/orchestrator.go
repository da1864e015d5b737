// Package scrape drives the feed ingestion pipeline: fetch, normalize,
// deduplicate, geocode, and persist, one feed at a time.
package scrape

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sidekick2020/meeting-scraper-sub002/pkg/dedup"
	"github.com/sidekick2020/meeting-scraper-sub002/pkg/feed"
	"github.com/sidekick2020/meeting-scraper-sub002/pkg/geocode"
	"github.com/sidekick2020/meeting-scraper-sub002/pkg/jobs"
	"github.com/sidekick2020/meeting-scraper-sub002/pkg/meeting"
	"github.com/sidekick2020/meeting-scraper-sub002/pkg/meetingstore"
)

// FeedFetcher retrieves and parses one feed. *feed.Fetcher satisfies it;
// tests substitute stubs.
type FeedFetcher interface {
	Fetch(ctx context.Context, f feed.Feed) (*feed.ParseResult, error)
}

// Config tunes a pipeline run.
type Config struct {
	// Geocode enables coordinate resolution for records that arrive
	// without coordinates.
	Geocode bool
	// GeocodeTimeout bounds each resolver call.
	GeocodeTimeout time.Duration
	// StoreRetries is the retry budget for transient store writes.
	StoreRetries int
	// StoreRetryDelay is the base backoff between store write retries.
	StoreRetryDelay time.Duration
}

// DefaultConfig returns the production run settings.
func DefaultConfig() Config {
	return Config{
		Geocode:         true,
		GeocodeTimeout:  10 * time.Second,
		StoreRetries:    3,
		StoreRetryDelay: 200 * time.Millisecond,
	}
}

// Summary is the final accounting of one run, passed to the completion
// hook and persisted as run history.
type Summary struct {
	RunID           string
	Status          jobs.Status
	StartedAt       time.Time
	EndedAt         time.Time
	FeedsTotal      int
	TotalFound      int
	TotalSaved      int
	TotalDuplicates int
	TotalFailed     int
}

// Orchestrator runs the pipeline over a configured feed list.
//
// At most one run is active at a time; the tracker's Begin gate
// enforces that. Feed and item failures are logged and skipped so a
// run completes the whole feed list whenever possible.
type Orchestrator struct {
	cfg      Config
	db       *sql.DB
	fetcher  FeedFetcher
	geocoder geocode.Resolver
	tracker  *jobs.ScrapeTracker
	logger   *zap.Logger

	storeRetry retrypolicy.RetryPolicy[any]

	// OnComplete, when set, receives the terminal summary after the
	// run record is persisted. Hook failures never affect the run.
	OnComplete func(ctx context.Context, sum Summary)
}

func New(cfg Config, db *sql.DB, fetcher FeedFetcher, geocoder geocode.Resolver, tracker *jobs.ScrapeTracker, logger *zap.Logger) *Orchestrator {
	if cfg.GeocodeTimeout <= 0 {
		cfg.GeocodeTimeout = 10 * time.Second
	}
	if cfg.StoreRetries <= 0 {
		cfg.StoreRetries = 3
	}
	if cfg.StoreRetryDelay <= 0 {
		cfg.StoreRetryDelay = 200 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	retry := retrypolicy.NewBuilder[any]().
		HandleIf(func(_ any, err error) bool {
			return errors.Is(err, meetingstore.ErrStoreWrite)
		}).
		WithBackoff(cfg.StoreRetryDelay, 2*time.Second).
		WithMaxRetries(cfg.StoreRetries).
		Build()

	return &Orchestrator{
		cfg:        cfg,
		db:         db,
		fetcher:    fetcher,
		geocoder:   geocoder,
		tracker:    tracker,
		logger:     logger,
		storeRetry: retry,
	}
}

// Tracker exposes the job state for status readers and stop requests.
func (o *Orchestrator) Tracker() *jobs.ScrapeTracker {
	return o.tracker
}

// Run executes the pipeline over the given feeds and blocks until the
// run reaches a terminal state.
//
// Returns ErrAlreadyRunning if another run is active. Returns an error
// only for orchestrator-level faults (store unreachable); feed and item
// failures are absorbed into the job's error list.
func (o *Orchestrator) Run(ctx context.Context, feeds []feed.Feed) error {
	runID := uuid.New().String()
	if err := o.tracker.Begin(runID, len(feeds)); err != nil {
		return err
	}
	return o.run(ctx, runID, feeds)
}

// Start reserves the run gate and detaches the pipeline onto its own
// goroutine. Returns ErrAlreadyRunning without side effects when a run
// is active.
func (o *Orchestrator) Start(ctx context.Context, feeds []feed.Feed) error {
	runID := uuid.New().String()
	if err := o.tracker.Begin(runID, len(feeds)); err != nil {
		return err
	}
	go func() {
		if err := o.run(ctx, runID, feeds); err != nil {
			o.logger.Error("scrape run failed", zap.Error(err))
		}
	}()
	return nil
}

func (o *Orchestrator) run(ctx context.Context, runID string, feeds []feed.Feed) error {
	startedAt := time.Now().UTC()
	o.logger.Info("scrape run started",
		zap.String("run_id", runID),
		zap.Int("feeds", len(feeds)))

	// The store must be reachable before any feed work starts. A dead
	// store is the one fault that fails the whole run.
	if err := o.db.PingContext(ctx); err != nil {
		o.tracker.RecordError(fmt.Sprintf("store unreachable: %v", err))
		o.finish(ctx, runID, jobs.StatusFailed, startedAt, len(feeds))
		return fmt.Errorf("store unreachable: %w", err)
	}

	status := jobs.StatusCompleted
	for i, f := range feeds {
		if o.shouldStop(ctx) {
			status = jobs.StatusStopped
			break
		}
		o.processFeed(ctx, i, f)
	}
	if o.shouldStop(ctx) && status == jobs.StatusCompleted {
		status = jobs.StatusStopped
	}

	o.finish(ctx, runID, status, startedAt, len(feeds))
	return nil
}

func (o *Orchestrator) shouldStop(ctx context.Context) bool {
	return o.tracker.StopRequested() || ctx.Err() != nil
}

func (o *Orchestrator) processFeed(ctx context.Context, index int, f feed.Feed) {
	result, err := o.fetcher.Fetch(ctx, f)
	if err != nil {
		o.tracker.BeginFeed(index, f.Name, 0)
		o.tracker.RecordError(fmt.Sprintf("feed %s: %v", f.Name, err))
		o.logger.Warn("feed failed", zap.String("feed", f.Name), zap.Error(err))
		return
	}

	o.tracker.BeginFeed(index, f.Name, len(result.Drafts)+len(result.Dropped))

	for _, itemErr := range result.Dropped {
		o.tracker.ItemFound()
		o.tracker.ItemFailed()
		o.logger.Debug("item dropped at parse",
			zap.String("feed", f.Name),
			zap.Int("index", itemErr.Index),
			zap.String("detail", itemErr.Detail))
	}

	info := meeting.FeedInfo{Name: f.Name, State: f.State}
	scrapedAt := time.Now().UTC()

	for _, draft := range result.Drafts {
		if o.shouldStop(ctx) {
			return
		}
		o.tracker.ItemFound()
		o.processItem(ctx, f, info, draft, scrapedAt)
	}

	o.tracker.EndFeed(f.Name)
}

func (o *Orchestrator) processItem(ctx context.Context, f feed.Feed, info meeting.FeedInfo, draft meeting.Draft, scrapedAt time.Time) {
	rec, err := meeting.Normalize(draft, info, scrapedAt)
	if err != nil {
		o.tracker.ItemFailed()
		o.logger.Debug("item dropped at normalize",
			zap.String("feed", f.Name), zap.Error(err))
		return
	}

	existing, err := o.getWithRetry(ctx, rec.UniqueKey())
	if err != nil {
		o.tracker.ItemFailed()
		o.tracker.RecordError(fmt.Sprintf("feed %s: read %s: %v", f.Name, rec.UniqueKey(), err))
		return
	}

	decision := dedup.Resolve(rec, existing)
	if decision.Action == dedup.ActionSkip {
		o.tracker.ItemDuplicate()
		return
	}
	merged := rec
	if decision.Action == dedup.ActionUpdate {
		merged = decision.Merged
	}

	if o.cfg.Geocode && o.geocoder != nil && !merged.HasCoordinates() && merged.FormattedAddress != "" {
		o.geocodeItem(ctx, merged)
	}

	if err := o.upsertWithRetry(ctx, merged); err != nil {
		o.tracker.ItemFailed()
		o.tracker.RecordError(fmt.Sprintf("feed %s: write %s: %v", f.Name, merged.UniqueKey(), err))
		return
	}

	o.tracker.ItemSaved()
}

// geocodeItem resolves coordinates with a bounded timeout. Failure or
// timeout leaves the record without coordinates; it is saved anyway.
func (o *Orchestrator) geocodeItem(ctx context.Context, rec *meeting.Record) {
	geoCtx, cancel := context.WithTimeout(ctx, o.cfg.GeocodeTimeout)
	defer cancel()

	coord, err := o.geocoder.Resolve(geoCtx, rec.FormattedAddress)
	if err != nil || coord == nil || !coord.Valid() {
		return
	}
	lat, lng := coord.Latitude, coord.Longitude
	rec.Latitude = &lat
	rec.Longitude = &lng
}

func (o *Orchestrator) getWithRetry(ctx context.Context, uniqueKey string) (*meeting.Record, error) {
	result, err := failsafe.With[any](o.storeRetry).WithContext(ctx).Get(func() (any, error) {
		return meetingstore.GetMeeting(ctx, o.db, uniqueKey)
	})
	if err != nil {
		return nil, err
	}
	rec, _ := result.(*meeting.Record)
	return rec, nil
}

func (o *Orchestrator) upsertWithRetry(ctx context.Context, rec *meeting.Record) error {
	return failsafe.With[any](o.storeRetry).WithContext(ctx).Run(func() error {
		return meetingstore.UpsertMeeting(ctx, o.db, rec)
	})
}

func (o *Orchestrator) finish(ctx context.Context, runID string, status jobs.Status, startedAt time.Time, feedsTotal int) {
	o.tracker.Finish(status)
	snap := o.tracker.Snapshot()

	sum := Summary{
		RunID:           runID,
		Status:          status,
		StartedAt:       startedAt,
		EndedAt:         time.Now().UTC(),
		FeedsTotal:      feedsTotal,
		TotalFound:      snap.TotalFound,
		TotalSaved:      snap.TotalSaved,
		TotalDuplicates: snap.TotalDuplicates,
		TotalFailed:     snap.TotalFailed,
	}

	err := meetingstore.RecordScrapeRun(ctx, o.db, meetingstore.ScrapeRun{
		RunID:           sum.RunID,
		StartedAt:       sum.StartedAt,
		EndedAt:         sum.EndedAt,
		Status:          string(sum.Status),
		FeedsTotal:      sum.FeedsTotal,
		TotalFound:      sum.TotalFound,
		TotalSaved:      sum.TotalSaved,
		TotalDuplicates: sum.TotalDuplicates,
		TotalFailed:     sum.TotalFailed,
	})
	if err != nil {
		o.logger.Warn("failed to record run history", zap.Error(err))
	}

	o.logger.Info("scrape run finished",
		zap.String("run_id", runID),
		zap.String("status", string(status)),
		zap.Int("found", sum.TotalFound),
		zap.Int("saved", sum.TotalSaved),
		zap.Int("duplicates", sum.TotalDuplicates),
		zap.Int("failed", sum.TotalFailed))

	if o.OnComplete != nil {
		o.OnComplete(ctx, sum)
	}
}
