package jobs

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimateETA(t *testing.T) {
	tests := []struct {
		name     string
		elapsed  time.Duration
		progress float64
		want     string
	}{
		{"zero progress", time.Minute, 0, "unknown"},
		{"complete", time.Minute, 100, "unknown"},
		{"halfway", time.Minute, 50, "1m0s"},
		{"quarter", time.Minute, 25, "3m0s"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EstimateETA(tt.elapsed, tt.progress))
		})
	}
}

func TestScrapeTrackerLifecycle(t *testing.T) {
	tr := NewScrapeTracker()

	snap := tr.Snapshot()
	assert.Equal(t, StatusIdle, snap.Status)
	assert.False(t, snap.IsRunning)
	assert.Equal(t, "unknown", snap.ETA)

	require.NoError(t, tr.Begin("run-1", 2))
	assert.Equal(t, ErrAlreadyRunning, tr.Begin("run-2", 1))

	tr.BeginFeed(0, "ca-aa-sf", 4)
	for i := 0; i < 4; i++ {
		tr.ItemFound()
		tr.ItemSaved()
	}
	tr.EndFeed("ca-aa-sf")

	snap = tr.Snapshot()
	assert.Equal(t, 4, snap.TotalFound)
	assert.Equal(t, 4, snap.TotalSaved)
	assert.InDelta(t, 50, snap.Progress, 0.01)
	assert.True(t, snap.IsRunning)

	tr.BeginFeed(1, "ny-na", 2)
	tr.ItemFound()
	tr.ItemDuplicate()
	tr.ItemFound()
	tr.ItemFailed()
	tr.EndFeed("ny-na")

	tr.Finish(StatusCompleted)
	snap = tr.Snapshot()
	assert.False(t, snap.IsRunning)
	assert.Equal(t, StatusCompleted, snap.Status)
	assert.Equal(t, float64(100), snap.Progress)
	assert.Equal(t, "unknown", snap.ETA)
	assert.Equal(t, 1, snap.TotalDuplicates)
	assert.Equal(t, 1, snap.TotalFailed)
	require.NotNil(t, snap.EndedAt)

	// terminal state frees the gate
	require.NoError(t, tr.Begin("run-3", 1))
}

func TestScrapeTrackerStopAndErrors(t *testing.T) {
	tr := NewScrapeTracker()
	require.NoError(t, tr.Begin("run-1", 3))

	assert.False(t, tr.StopRequested())
	tr.RequestStop()
	assert.True(t, tr.StopRequested())

	tr.RecordError("feed ny-na: fetch failed")
	tr.Finish(StatusStopped)

	snap := tr.Snapshot()
	assert.Equal(t, StatusStopped, snap.Status)
	require.Len(t, snap.Errors, 1)
	assert.Contains(t, snap.Errors[0], "ny-na")

	var sawError bool
	for _, entry := range snap.Logs {
		if entry.Level == LevelError {
			sawError = true
		}
	}
	assert.True(t, sawError)
}

func TestScrapeSnapshotIsolation(t *testing.T) {
	tr := NewScrapeTracker()
	require.NoError(t, tr.Begin("run-1", 1))
	tr.Logf(LevelInfo, "first")

	snap := tr.Snapshot()
	tr.Logf(LevelInfo, "second")

	assert.Len(t, snap.Logs, 1)
	assert.Len(t, tr.Snapshot().Logs, 2)
}

func TestScrapeTrackerConcurrentReads(t *testing.T) {
	tr := NewScrapeTracker()
	require.NoError(t, tr.Begin("run-1", 1))
	tr.BeginFeed(0, "feed", 100)

	var wg sync.WaitGroup
	done := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
				_ = tr.Snapshot()
			}
		}
	}()

	for i := 0; i < 100; i++ {
		tr.ItemFound()
		tr.ItemSaved()
	}
	tr.Finish(StatusCompleted)
	close(done)
	wg.Wait()

	snap := tr.Snapshot()
	assert.Equal(t, 100, snap.TotalSaved)
}

func TestClusterTrackerPhaseBands(t *testing.T) {
	tr := NewClusterTracker()
	require.NoError(t, tr.Begin("run-1", ClusterModeFull))
	assert.Equal(t, ErrAlreadyRunning, tr.Begin("run-2", ClusterModeFull))

	tr.EnterPhase("fetch meetings", 0, 15)
	tr.Advance(1, "fetched 500 meetings")
	snap := tr.Snapshot()
	assert.InDelta(t, 15, snap.Progress, 0.01)
	assert.Equal(t, "fetch meetings", snap.Phase)

	tr.EnterPhase("delete indicators", 15, 20)
	tr.Advance(0.5, "")
	snap = tr.Snapshot()
	assert.InDelta(t, 17.5, snap.Progress, 0.01)

	tr.EnterPhase("generate clusters", 20, 80)
	tr.Advance(0.5, "250/500")
	assert.InDelta(t, 50, tr.Snapshot().Progress, 0.01)

	tr.Finish(StatusCompleted)
	snap = tr.Snapshot()
	assert.Equal(t, float64(100), snap.Progress)
	assert.Equal(t, "unknown", snap.ETA)
}

func TestClusterTrackerProgressMonotonic(t *testing.T) {
	tr := NewClusterTracker()
	require.NoError(t, tr.Begin("run-1", ClusterModeIncremental))

	tr.EnterPhase("fetch new meetings", 0, 50)
	tr.Advance(1, "")
	before := tr.Snapshot().Progress

	// a late or out-of-order update never moves the figure backwards
	tr.Advance(0.2, "")
	assert.GreaterOrEqual(t, tr.Snapshot().Progress, before)

	tr.EnterPhase("assign cluster keys", 50, 75)
	assert.GreaterOrEqual(t, tr.Snapshot().Progress, before)
}

func TestClusterTrackerFailedRunKeepsProgress(t *testing.T) {
	tr := NewClusterTracker()
	require.NoError(t, tr.Begin("run-1", ClusterModeFull))

	tr.EnterPhase("delete indicators", 15, 20)
	tr.RecordError("delete indicators: disk full")
	tr.Finish(StatusFailed)

	snap := tr.Snapshot()
	assert.Equal(t, StatusFailed, snap.Status)
	assert.Less(t, snap.Progress, float64(100))
	require.Len(t, snap.Errors, 1)
	require.NotNil(t, snap.CompletedAt)
}

func TestClusterTrackerCounts(t *testing.T) {
	tr := NewClusterTracker()
	require.NoError(t, tr.Begin("run-1", ClusterModeFull))
	tr.SetCounts(500, 0, 42, 500)

	snap := tr.Snapshot()
	assert.Equal(t, 500, snap.TotalMeetings)
	assert.Equal(t, 42, snap.IndicatorsCreated)
	assert.Equal(t, 500, snap.MeetingsUpdated)
}
