package jobs

import (
	"sync"
	"time"
)

// ScrapeStatus is the read snapshot of a scrape run.
type ScrapeStatus struct {
	RunID     string `json:"run_id,omitempty"`
	IsRunning bool   `json:"is_running"`
	Status    Status `json:"status"`

	FeedsTotal   int    `json:"feeds_total"`
	FeedIndex    int    `json:"feed_index"`
	CurrentFeed  string `json:"current_feed,omitempty"`
	FeedItemsDone  int  `json:"feed_items_done"`
	FeedItemsTotal int  `json:"feed_items_total"`

	TotalFound      int `json:"total_found"`
	TotalSaved      int `json:"total_saved"`
	TotalDuplicates int `json:"total_duplicates"`
	TotalFailed     int `json:"total_failed"`

	Progress       float64 `json:"progress"`
	ItemsPerSecond float64 `json:"items_per_second"`
	ETA            string  `json:"eta"`

	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`

	Logs   []LogEntry `json:"logs,omitempty"`
	Errors []string   `json:"errors,omitempty"`
}

// ScrapeTracker owns the mutable state of the current scrape run.
// One writer mutates it; any number of readers call Snapshot.
type ScrapeTracker struct {
	mu    sync.Mutex
	state ScrapeStatus

	stopRequested bool
	itemsTotal    int
}

func NewScrapeTracker() *ScrapeTracker {
	return &ScrapeTracker{state: ScrapeStatus{Status: StatusIdle}}
}

// Begin transitions the tracker into a fresh running state. Fails with
// ErrAlreadyRunning while a previous run is still active.
func (t *ScrapeTracker) Begin(runID string, feedsTotal int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state.IsRunning {
		return ErrAlreadyRunning
	}

	now := time.Now().UTC()
	t.state = ScrapeStatus{
		RunID:      runID,
		IsRunning:  true,
		Status:     StatusRunning,
		FeedsTotal: feedsTotal,
		StartedAt:  &now,
	}
	t.stopRequested = false
	t.itemsTotal = 0
	return nil
}

// BeginFeed marks the start of one feed's item loop.
func (t *ScrapeTracker) BeginFeed(index int, name string, itemsTotal int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.state.FeedIndex = index
	t.state.CurrentFeed = name
	t.state.FeedItemsDone = 0
	t.state.FeedItemsTotal = itemsTotal
	t.state.Logs = append(t.state.Logs,
		formatEntry(LevelInfo, "feed %s: %d items", name, itemsTotal))
}

// EndFeed closes out the current feed's counters.
func (t *ScrapeTracker) EndFeed(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.state.Logs = append(t.state.Logs,
		formatEntry(LevelInfo, "feed %s: done (%d/%d items)",
			name, t.state.FeedItemsDone, t.state.FeedItemsTotal))
}

// ItemFound counts one parsed draft.
func (t *ScrapeTracker) ItemFound() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.TotalFound++
}

// ItemSaved counts one create or update write.
func (t *ScrapeTracker) ItemSaved() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.TotalSaved++
	t.itemDone()
}

// ItemDuplicate counts one skipped write.
func (t *ScrapeTracker) ItemDuplicate() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.TotalDuplicates++
	t.itemDone()
}

// ItemFailed counts one dropped item.
func (t *ScrapeTracker) ItemFailed() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.TotalFailed++
	t.itemDone()
}

func (t *ScrapeTracker) itemDone() {
	t.state.FeedItemsDone++
	t.itemsTotal++
}

// Logf appends an activity-log entry.
func (t *ScrapeTracker) Logf(level Level, format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.Logs = append(t.state.Logs, formatEntry(level, format, args...))
}

// RecordError appends to both the error list and the activity log.
func (t *ScrapeTracker) RecordError(message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.Errors = append(t.state.Errors, message)
	t.state.Logs = append(t.state.Logs, formatEntry(LevelError, "%s", message))
}

// RequestStop flags cooperative cancellation. The worker observes it
// between items and winds down with counts intact.
func (t *ScrapeTracker) RequestStop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.IsRunning {
		t.stopRequested = true
		t.state.Logs = append(t.state.Logs, formatEntry(LevelInfo, "stop requested"))
	}
}

// StopRequested reports whether the worker should wind down.
func (t *ScrapeTracker) StopRequested() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopRequested
}

// Finish transitions the run to a terminal status.
func (t *ScrapeTracker) Finish(status Status) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now().UTC()
	t.state.IsRunning = false
	t.state.Status = status
	t.state.EndedAt = &now
}

// Snapshot returns a value copy with derived progress, throughput, and
// ETA filled in.
func (t *ScrapeTracker) Snapshot() ScrapeStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap := t.state
	snap.Logs = cloneEntries(t.state.Logs)
	snap.Errors = cloneStrings(t.state.Errors)
	snap.Progress = t.progressLocked()

	if t.state.StartedAt != nil {
		end := time.Now().UTC()
		if t.state.EndedAt != nil {
			end = *t.state.EndedAt
		}
		elapsed := end.Sub(*t.state.StartedAt)
		if elapsed > 0 && t.itemsTotal > 0 {
			snap.ItemsPerSecond = float64(t.itemsTotal) / elapsed.Seconds()
		}
		snap.ETA = EstimateETA(elapsed, snap.Progress)
	} else {
		snap.ETA = "unknown"
	}

	return snap
}

// progressLocked computes overall percent from the feed index plus the
// within-feed fraction. Terminal completed runs pin to 100.
func (t *ScrapeTracker) progressLocked() float64 {
	if t.state.Status == StatusCompleted {
		return 100
	}
	if t.state.FeedsTotal == 0 {
		return 0
	}

	done := float64(t.state.FeedIndex)
	if t.state.FeedItemsTotal > 0 {
		done += float64(t.state.FeedItemsDone) / float64(t.state.FeedItemsTotal)
	}
	pct := done / float64(t.state.FeedsTotal) * 100
	if pct > 100 {
		pct = 100
	}
	return pct
}
