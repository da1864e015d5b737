package jobs

import (
	"sync"
	"time"
)

// ClusterMode selects the recomputation strategy.
type ClusterMode string

const (
	ClusterModeFull        ClusterMode = "full"
	ClusterModeIncremental ClusterMode = "incremental"
)

// ClusterStatus is the read snapshot of a clustering run.
type ClusterStatus struct {
	RunID     string      `json:"run_id,omitempty"`
	IsRunning bool        `json:"is_running"`
	Status    Status      `json:"status"`
	Mode      ClusterMode `json:"mode,omitempty"`

	Phase       string  `json:"phase,omitempty"`
	PhaseDetail string  `json:"phase_detail,omitempty"`
	Progress    float64 `json:"progress"`
	ETA         string  `json:"eta"`

	TotalMeetings     int `json:"total_meetings"`
	NewMeetings       int `json:"new_meetings"`
	IndicatorsCreated int `json:"indicators_created"`
	MeetingsUpdated   int `json:"meetings_updated"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	Logs   []LogEntry `json:"logs,omitempty"`
	Errors []string   `json:"errors,omitempty"`
}

// ClusterTracker owns the mutable state of the current clustering run.
//
// Progress moves through fixed per-phase percentage bands. The tracker
// clamps updates so the reported figure never decreases inside a run.
type ClusterTracker struct {
	mu    sync.Mutex
	state ClusterStatus

	phaseLow  float64
	phaseHigh float64
}

func NewClusterTracker() *ClusterTracker {
	return &ClusterTracker{state: ClusterStatus{Status: StatusIdle}}
}

// Begin transitions into a fresh running state for the given mode.
func (t *ClusterTracker) Begin(runID string, mode ClusterMode) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state.IsRunning {
		return ErrAlreadyRunning
	}

	now := time.Now().UTC()
	t.state = ClusterStatus{
		RunID:     runID,
		IsRunning: true,
		Status:    StatusRunning,
		Mode:      mode,
		StartedAt: &now,
	}
	t.phaseLow, t.phaseHigh = 0, 0
	return nil
}

// EnterPhase starts a phase covering the [low, high] percentage band.
// Overall progress jumps to the band floor if it is not already past it.
func (t *ClusterTracker) EnterPhase(name string, low, high float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.state.Phase = name
	t.state.PhaseDetail = ""
	t.phaseLow, t.phaseHigh = low, high
	if t.state.Progress < low {
		t.state.Progress = low
	}
	t.state.Logs = append(t.state.Logs, formatEntry(LevelInfo, "phase: %s", name))
}

// Advance reports fraction-complete (0-1) within the current phase.
func (t *ClusterTracker) Advance(fraction float64, detail string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	pct := t.phaseLow + fraction*(t.phaseHigh-t.phaseLow)
	if pct > t.state.Progress {
		t.state.Progress = pct
	}
	if detail != "" {
		t.state.PhaseDetail = detail
	}
}

// SetCounts updates the run counters in one shot.
func (t *ClusterTracker) SetCounts(total, newMeetings, indicators, updated int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.TotalMeetings = total
	t.state.NewMeetings = newMeetings
	t.state.IndicatorsCreated = indicators
	t.state.MeetingsUpdated = updated
}

// Logf appends an activity-log entry.
func (t *ClusterTracker) Logf(level Level, format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.Logs = append(t.state.Logs, formatEntry(level, format, args...))
}

// RecordError appends to both the error list and the activity log.
func (t *ClusterTracker) RecordError(message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.Errors = append(t.state.Errors, message)
	t.state.Logs = append(t.state.Logs, formatEntry(LevelError, "%s", message))
}

// Finish transitions to a terminal status. Completed runs report
// exactly 100 percent.
func (t *ClusterTracker) Finish(status Status) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now().UTC()
	t.state.IsRunning = false
	t.state.Status = status
	t.state.CompletedAt = &now
	if status == StatusCompleted {
		t.state.Progress = 100
	}
}

// Snapshot returns a value copy with the ETA derived on read.
func (t *ClusterTracker) Snapshot() ClusterStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap := t.state
	snap.Logs = cloneEntries(t.state.Logs)
	snap.Errors = cloneStrings(t.state.Errors)

	if t.state.StartedAt != nil {
		end := time.Now().UTC()
		if t.state.CompletedAt != nil {
			end = *t.state.CompletedAt
		}
		snap.ETA = EstimateETA(end.Sub(*t.state.StartedAt), t.state.Progress)
	} else {
		snap.ETA = "unknown"
	}

	return snap
}
