// Package jobs holds the in-memory state machines for the pipeline's
// background runs.
//
// Each job kind has a tracker owned by the worker that mutates it.
// Readers only ever get value-copy snapshots, so status polling is safe
// against the single writer without exposing the tracker internals.
package jobs

import (
	"errors"
	"fmt"
	"time"
)

// Status is the lifecycle state of a background run.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusStopped   Status = "stopped"
	StatusFailed    Status = "failed"
)

// Terminal reports whether a run in this status has finished.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusStopped || s == StatusFailed
}

// Level classifies an activity-log entry.
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// LogEntry is one ordered activity-log line on a job.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
}

// ErrAlreadyRunning is returned when a run is requested while another
// run of the same kind is active.
var ErrAlreadyRunning = errors.New("a job of this kind is already running")

// IsAlreadyRunning reports whether err is the concurrent-run rejection.
func IsAlreadyRunning(err error) bool {
	return errors.Is(err, ErrAlreadyRunning)
}

// EstimateETA projects remaining wall time from elapsed time and a
// 0-100 progress figure. Progress at either extreme gives no basis for
// projection, so those report "unknown".
func EstimateETA(elapsed time.Duration, progress float64) string {
	if progress <= 0 || progress >= 100 {
		return "unknown"
	}
	remaining := time.Duration(float64(elapsed) * (100 - progress) / progress)
	return remaining.Round(time.Second).String()
}

func formatEntry(level Level, format string, args ...any) LogEntry {
	return LogEntry{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Message:   fmt.Sprintf(format, args...),
	}
}

func cloneEntries(entries []LogEntry) []LogEntry {
	if len(entries) == 0 {
		return nil
	}
	out := make([]LogEntry, len(entries))
	copy(out, entries)
	return out
}

func cloneStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, len(values))
	copy(out, values)
	return out
}
