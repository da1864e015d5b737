package cluster

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

	"github.com/sidekick2020/meeting-scraper-sub002/pkg/jobs"
	"github.com/sidekick2020/meeting-scraper-sub002/pkg/meeting"
	"github.com/sidekick2020/meeting-scraper-sub002/pkg/meetingstore"
)

// ErrClusterWrite indicates an indicator delete or save failed during a
// full rebuild. It is fatal for the run: continuing would risk a
// half-deleted indicator set.
var ErrClusterWrite = errors.New("cluster write failed")

// Config tunes an engine run.
type Config struct {
	// CellSizeDegrees is the grid cell edge. Default: 0.1.
	CellSizeDegrees float64
	// AttachThresholdKm is the incremental attach radius. Default: 25.
	AttachThresholdKm float64
	// FetchRetries is the retry budget for store reads.
	FetchRetries int
	// FetchRetryDelay is the base backoff between read retries.
	FetchRetryDelay time.Duration
}

// Engine recomputes cluster indicators, either as a full rebuild or an
// incremental pass over records not yet assigned to a cell.
type Engine struct {
	cfg     Config
	db      *sql.DB
	tracker *jobs.ClusterTracker
	logger  *zap.Logger

	fetchRetry retrypolicy.RetryPolicy[any]
}

func NewEngine(cfg Config, db *sql.DB, tracker *jobs.ClusterTracker, logger *zap.Logger) *Engine {
	if cfg.CellSizeDegrees <= 0 {
		cfg.CellSizeDegrees = DefaultCellSizeDegrees
	}
	if cfg.AttachThresholdKm <= 0 {
		cfg.AttachThresholdKm = DefaultAttachThresholdKm
	}
	if cfg.FetchRetries <= 0 {
		cfg.FetchRetries = 3
	}
	if cfg.FetchRetryDelay <= 0 {
		cfg.FetchRetryDelay = 200 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	retry := retrypolicy.NewBuilder[any]().
		WithBackoff(cfg.FetchRetryDelay, 2*time.Second).
		WithMaxRetries(cfg.FetchRetries).
		Build()

	return &Engine{cfg: cfg, db: db, tracker: tracker, logger: logger, fetchRetry: retry}
}

// Tracker exposes the job state for status readers.
func (e *Engine) Tracker() *jobs.ClusterTracker {
	return e.tracker
}

// Run executes one clustering pass in the given mode and blocks until
// the run reaches a terminal state.
//
// Returns ErrAlreadyRunning if another pass is active, ErrClusterWrite
// (wrapped) when a full-mode delete or save fails.
func (e *Engine) Run(ctx context.Context, mode jobs.ClusterMode) error {
	runID := uuid.New().String()
	if err := e.tracker.Begin(runID, mode); err != nil {
		return err
	}
	return e.run(ctx, runID, mode)
}

// Start reserves the run gate and detaches the pass onto its own
// goroutine. Returns ErrAlreadyRunning without side effects when a run
// is active.
func (e *Engine) Start(ctx context.Context, mode jobs.ClusterMode) error {
	runID := uuid.New().String()
	if err := e.tracker.Begin(runID, mode); err != nil {
		return err
	}
	go func() { _ = e.run(ctx, runID, mode) }()
	return nil
}

func (e *Engine) run(ctx context.Context, runID string, mode jobs.ClusterMode) error {
	e.logger.Info("cluster run started",
		zap.String("run_id", runID),
		zap.String("mode", string(mode)))

	var err error
	switch mode {
	case jobs.ClusterModeFull:
		err = e.runFull(ctx)
	case jobs.ClusterModeIncremental:
		err = e.runIncremental(ctx)
	default:
		err = fmt.Errorf("unknown cluster mode: %s", mode)
	}

	if err != nil {
		e.tracker.RecordError(err.Error())
		e.tracker.Finish(jobs.StatusFailed)
		e.logger.Error("cluster run failed", zap.String("run_id", runID), zap.Error(err))
		return err
	}

	e.tracker.Finish(jobs.StatusCompleted)
	e.logger.Info("cluster run finished", zap.String("run_id", runID))
	return nil
}

// runFull rebuilds every indicator from scratch: fetch all meetings,
// drop the old indicator set, regroup, save, and re-annotate meetings.
func (e *Engine) runFull(ctx context.Context) error {
	e.tracker.EnterPhase("fetch meetings", 0, 15)
	meetings, err := e.fetchAll(ctx)
	if err != nil {
		return fmt.Errorf("fetch meetings: %w", err)
	}
	e.tracker.Advance(1, fmt.Sprintf("fetched %d meetings", len(meetings)))

	// The old set is removed atomically with the save below, so a fault
	// in between leaves the prior indicators as last known good.
	e.tracker.EnterPhase("delete indicators", 15, 20)
	prior, err := meetingstore.CountIndicators(ctx, e.db)
	if err != nil {
		return fmt.Errorf("%w: count indicators: %v", ErrClusterWrite, err)
	}
	e.tracker.Advance(1, fmt.Sprintf("removing %d indicators", prior))

	e.tracker.EnterPhase("generate clusters", 20, 80)
	indicators := BuildIndicators(meetings, e.cfg.CellSizeDegrees)
	assignments := make(map[string]string)
	for i, rec := range meetings {
		if rec.HasCoordinates() {
			assignments[rec.UniqueKey()] = CellKey(*rec.Latitude, *rec.Longitude, e.cfg.CellSizeDegrees)
		}
		if len(meetings) > 0 {
			e.tracker.Advance(float64(i+1)/float64(len(meetings)),
				fmt.Sprintf("%d/%d meetings", i+1, len(meetings)))
		}
	}

	e.tracker.EnterPhase("save indicators", 80, 90)
	if err := meetingstore.ReplaceIndicators(ctx, e.db, indicators); err != nil {
		return fmt.Errorf("%w: %v", ErrClusterWrite, err)
	}
	e.tracker.Advance(1, fmt.Sprintf("saved %d indicators", len(indicators)))

	e.tracker.EnterPhase("update meetings", 90, 100)
	if err := meetingstore.BatchSetClusterKeys(ctx, e.db, assignments); err != nil {
		return fmt.Errorf("%w: %v", ErrClusterWrite, err)
	}
	e.tracker.Advance(1, fmt.Sprintf("updated %d meetings", len(assignments)))

	e.tracker.SetCounts(len(meetings), 0, len(indicators), len(assignments))
	return nil
}

// runIncremental attaches unclustered meetings to the nearest existing
// indicator within the attach threshold, growing that indicator's
// count, or opens a new cell when nothing is close enough. Existing
// assignments are never touched.
func (e *Engine) runIncremental(ctx context.Context) error {
	e.tracker.EnterPhase("fetch new meetings", 0, 50)
	newMeetings, err := e.fetchUnclustered(ctx)
	if err != nil {
		return fmt.Errorf("fetch new meetings: %w", err)
	}
	indicators, err := meetingstore.ListIndicators(ctx, e.db)
	if err != nil {
		return fmt.Errorf("fetch indicators: %w", err)
	}
	e.tracker.Advance(1, fmt.Sprintf("%d new meetings, %d indicators", len(newMeetings), len(indicators)))

	e.tracker.EnterPhase("assign cluster keys", 50, 75)
	assignments := make(map[string]string)
	grown := make(map[string]*meetingstore.Indicator)
	preexisting := make(map[string]bool)
	created := 0

	for i, rec := range newMeetings {
		if rec.HasCoordinates() {
			key := e.assign(rec, indicators, grown)
			if grown[key] == nil {
				// start from the stored indicator when one exists
				if existing, ok := findIndicator(indicators, key); ok {
					cp := existing
					grown[key] = &cp
					preexisting[key] = true
				} else {
					grown[key] = &meetingstore.Indicator{CellKey: key}
					created++
				}
			}
			ind := grown[key]
			// indicators that predate the run keep their center; only
			// cells opened during this pass take the member mean
			if !preexisting[key] {
				ind.CenterLat = (ind.CenterLat*float64(ind.MeetingCount) + *rec.Latitude) / float64(ind.MeetingCount+1)
				ind.CenterLng = (ind.CenterLng*float64(ind.MeetingCount) + *rec.Longitude) / float64(ind.MeetingCount+1)
			}
			ind.MeetingCount++
			assignments[rec.UniqueKey()] = key
		}
		if len(newMeetings) > 0 {
			e.tracker.Advance(float64(i+1)/float64(len(newMeetings)),
				fmt.Sprintf("%d/%d meetings", i+1, len(newMeetings)))
		}
	}

	e.tracker.EnterPhase("update meetings", 75, 100)
	for _, ind := range grown {
		if err := meetingstore.UpsertIndicator(ctx, e.db, *ind); err != nil {
			return fmt.Errorf("save indicator %s: %w", ind.CellKey, err)
		}
	}
	if err := meetingstore.BatchSetClusterKeys(ctx, e.db, assignments); err != nil {
		return fmt.Errorf("update meetings: %w", err)
	}
	e.tracker.Advance(1, fmt.Sprintf("updated %d meetings", len(assignments)))

	total, err := meetingstore.CountMeetings(ctx, e.db)
	if err != nil {
		total = int64(len(newMeetings))
	}
	e.tracker.SetCounts(int(total), len(newMeetings), created, len(assignments))
	return nil
}

// assign picks the cell for one new meeting: the nearest existing
// indicator within the attach threshold (considering cells grown during
// this pass too), otherwise the meeting's own grid cell.
func (e *Engine) assign(rec *meeting.Record, indicators []meetingstore.Indicator, grown map[string]*meetingstore.Indicator) string {
	lat, lng := *rec.Latitude, *rec.Longitude

	candidates := indicators
	for _, ind := range grown {
		if _, stored := findIndicator(indicators, ind.CellKey); !stored {
			candidates = append(candidates, *ind)
		}
	}

	nearest, dist := NearestIndicator(candidates, lat, lng)
	if nearest != nil && dist <= e.cfg.AttachThresholdKm {
		return nearest.CellKey
	}
	return CellKey(lat, lng, e.cfg.CellSizeDegrees)
}

func findIndicator(indicators []meetingstore.Indicator, key string) (meetingstore.Indicator, bool) {
	for _, ind := range indicators {
		if ind.CellKey == key {
			return ind, true
		}
	}
	return meetingstore.Indicator{}, false
}

func (e *Engine) fetchAll(ctx context.Context) ([]*meeting.Record, error) {
	result, err := failsafe.With[any](e.fetchRetry).WithContext(ctx).Get(func() (any, error) {
		return meetingstore.ListMeetings(ctx, e.db)
	})
	if err != nil {
		return nil, err
	}
	recs, _ := result.([]*meeting.Record)
	return recs, nil
}

func (e *Engine) fetchUnclustered(ctx context.Context) ([]*meeting.Record, error) {
	result, err := failsafe.With[any](e.fetchRetry).WithContext(ctx).Get(func() (any, error) {
		return meetingstore.ListUnclustered(ctx, e.db)
	})
	if err != nil {
		return nil, err
	}
	recs, _ := result.([]*meeting.Record)
	return recs, nil
}
