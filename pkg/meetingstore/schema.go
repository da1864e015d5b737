package meetingstore

import (
	"context"
	"database/sql"
	"fmt"
)

const SchemaVersion = 1

// Migrate creates (or upgrades) the store schema in-place.
//
// The schema supports:
// - canonical meeting rows keyed by unique_key (upserted)
// - cluster indicator rows keyed by spatial cell
// - terminal scrape-run snapshots for operator history
func Migrate(ctx context.Context, db *sql.DB) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if db == nil {
		return fmt.Errorf("db is nil")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS schema_meta (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			schema_version INTEGER NOT NULL
		);`,
		`INSERT INTO schema_meta (id, schema_version)
			VALUES (1, 0)
			ON CONFLICT(id) DO NOTHING;`,

		`CREATE TABLE IF NOT EXISTS meetings (
			unique_key TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			types TEXT,
			day INTEGER NOT NULL,
			time TEXT NOT NULL,
			end_time TEXT,
			timezone TEXT,
			location_name TEXT,
			address TEXT,
			city TEXT,
			state TEXT,
			postal_code TEXT,
			country TEXT,
			formatted_address TEXT,
			latitude REAL,
			longitude REAL,
			conference_url TEXT,
			conference_phone TEXT,
			notes TEXT,
			source_feed TEXT NOT NULL,
			scraped_at TEXT NOT NULL,
			cluster_key TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_meetings_state ON meetings(state);`,
		`CREATE INDEX IF NOT EXISTS idx_meetings_cluster_key ON meetings(cluster_key);`,
		`CREATE INDEX IF NOT EXISTS idx_meetings_source_feed ON meetings(source_feed);`,

		`CREATE TABLE IF NOT EXISTS cluster_indicators (
			cell_key TEXT PRIMARY KEY,
			center_lat REAL NOT NULL,
			center_lng REAL NOT NULL,
			meeting_count INTEGER NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,

		`CREATE TABLE IF NOT EXISTS scrape_runs (
			run_id TEXT PRIMARY KEY,
			started_at TEXT NOT NULL,
			ended_at TEXT,
			status TEXT NOT NULL,
			feeds_total INTEGER NOT NULL,
			total_found INTEGER NOT NULL,
			total_saved INTEGER NOT NULL,
			total_duplicates INTEGER NOT NULL,
			total_failed INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_scrape_runs_started_at ON scrape_runs(started_at);`,
	}

	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec schema statement: %w", err)
		}
	}

	var current int
	if err := tx.QueryRowContext(ctx, `SELECT schema_version FROM schema_meta WHERE id=1`).Scan(&current); err != nil {
		return fmt.Errorf("read schema_version: %w", err)
	}

	if current != SchemaVersion {
		if _, err := tx.ExecContext(ctx, `UPDATE schema_meta SET schema_version=? WHERE id=1`, SchemaVersion); err != nil {
			return fmt.Errorf("update schema_version: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}
