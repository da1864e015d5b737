package meetingstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Indicator is one spatial cell with its centroid and member count.
type Indicator struct {
	CellKey      string  `json:"cell_key"`
	CenterLat    float64 `json:"center_lat"`
	CenterLng    float64 `json:"center_lng"`
	MeetingCount int     `json:"meeting_count"`
}

// ListIndicators returns all indicators ordered by cell key.
func ListIndicators(ctx context.Context, db *sql.DB) ([]Indicator, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	rows, err := db.QueryContext(ctx,
		`SELECT cell_key, center_lat, center_lng, meeting_count
		 FROM cluster_indicators ORDER BY cell_key`)
	if err != nil {
		return nil, fmt.Errorf("list indicators: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Indicator
	for rows.Next() {
		var ind Indicator
		if err := rows.Scan(&ind.CellKey, &ind.CenterLat, &ind.CenterLng, &ind.MeetingCount); err != nil {
			return nil, fmt.Errorf("scan indicator: %w", err)
		}
		out = append(out, ind)
	}
	return out, rows.Err()
}

// CountIndicators returns the indicator count.
func CountIndicators(ctx context.Context, db *sql.DB) (int64, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	var count int64
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cluster_indicators`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count indicators: %w", err)
	}
	return count, nil
}

// ReplaceIndicators swaps the full indicator set in one transaction.
// Full clustering mode uses this so readers never see a half-written set.
func ReplaceIndicators(ctx context.Context, db *sql.DB, indicators []Indicator) error {
	if ctx == nil {
		ctx = context.Background()
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin tx: %v", ErrStoreWrite, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM cluster_indicators`); err != nil {
		return fmt.Errorf("%w: delete indicators: %v", ErrStoreWrite, err)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, ind := range indicators {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO cluster_indicators (cell_key, center_lat, center_lng, meeting_count, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			ind.CellKey, ind.CenterLat, ind.CenterLng, ind.MeetingCount, now, now)
		if err != nil {
			return fmt.Errorf("%w: insert indicator %s: %v", ErrStoreWrite, ind.CellKey, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit tx: %v", ErrStoreWrite, err)
	}
	return nil
}

// UpsertIndicator inserts a cell or adjusts an existing one. Incremental
// mode uses it to grow counts without touching other cells.
func UpsertIndicator(ctx context.Context, db *sql.DB, ind Indicator) error {
	if ctx == nil {
		ctx = context.Background()
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := db.ExecContext(ctx,
		`INSERT INTO cluster_indicators (cell_key, center_lat, center_lng, meeting_count, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(cell_key) DO UPDATE SET
		   center_lat = excluded.center_lat,
		   center_lng = excluded.center_lng,
		   meeting_count = excluded.meeting_count,
		   updated_at = excluded.updated_at`,
		ind.CellKey, ind.CenterLat, ind.CenterLng, ind.MeetingCount, now, now)
	if err != nil {
		return fmt.Errorf("%w: upsert indicator %s: %v", ErrStoreWrite, ind.CellKey, err)
	}
	return nil
}
