package meetingstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ScrapeRun is a terminal snapshot of one scrape job.
type ScrapeRun struct {
	RunID           string    `json:"run_id"`
	StartedAt       time.Time `json:"started_at"`
	EndedAt         time.Time `json:"ended_at"`
	Status          string    `json:"status"`
	FeedsTotal      int       `json:"feeds_total"`
	TotalFound      int       `json:"total_found"`
	TotalSaved      int       `json:"total_saved"`
	TotalDuplicates int       `json:"total_duplicates"`
	TotalFailed     int       `json:"total_failed"`
}

// RecordScrapeRun persists a finished run's counters.
func RecordScrapeRun(ctx context.Context, db *sql.DB, run ScrapeRun) error {
	if ctx == nil {
		ctx = context.Background()
	}

	_, err := db.ExecContext(ctx,
		`INSERT INTO scrape_runs (run_id, started_at, ended_at, status, feeds_total,
		   total_found, total_saved, total_duplicates, total_failed)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID,
		run.StartedAt.UTC().Format(time.RFC3339Nano),
		run.EndedAt.UTC().Format(time.RFC3339Nano),
		run.Status, run.FeedsTotal,
		run.TotalFound, run.TotalSaved, run.TotalDuplicates, run.TotalFailed)
	if err != nil {
		return fmt.Errorf("%w: record scrape run: %v", ErrStoreWrite, err)
	}
	return nil
}

// ListScrapeRuns returns run history, most recent first.
func ListScrapeRuns(ctx context.Context, db *sql.DB, limit int) ([]ScrapeRun, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := db.QueryContext(ctx,
		`SELECT run_id, started_at, ended_at, status, feeds_total,
		   total_found, total_saved, total_duplicates, total_failed
		 FROM scrape_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list scrape runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []ScrapeRun
	for rows.Next() {
		var run ScrapeRun
		var started, ended string
		if err := rows.Scan(&run.RunID, &started, &ended, &run.Status, &run.FeedsTotal,
			&run.TotalFound, &run.TotalSaved, &run.TotalDuplicates, &run.TotalFailed); err != nil {
			return nil, fmt.Errorf("scan scrape run: %w", err)
		}
		if run.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
			return nil, fmt.Errorf("parse started_at: %w", err)
		}
		if run.EndedAt, err = time.Parse(time.RFC3339Nano, ended); err != nil {
			return nil, fmt.Errorf("parse ended_at: %w", err)
		}
		out = append(out, run)
	}
	return out, rows.Err()
}
