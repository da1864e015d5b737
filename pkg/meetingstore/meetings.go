package meetingstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/sidekick2020/meeting-scraper-sub002/pkg/meeting"
)

const meetingColumns = `unique_key, name, types, day, time, end_time, timezone,
	location_name, address, city, state, postal_code, country, formatted_address,
	latitude, longitude, conference_url, conference_phone, notes,
	source_feed, scraped_at, cluster_key`

// UpsertMeeting inserts or replaces the row for a record's unique key.
//
// The caller (deduplicator) has already merged fields; this writes the
// record as given. created_at is preserved across updates.
func UpsertMeeting(ctx context.Context, db *sql.DB, rec *meeting.Record) error {
	if ctx == nil {
		ctx = context.Background()
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := db.ExecContext(ctx,
		`INSERT INTO meetings (`+meetingColumns+`, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(unique_key) DO UPDATE SET
		   name = excluded.name,
		   types = excluded.types,
		   day = excluded.day,
		   time = excluded.time,
		   end_time = excluded.end_time,
		   timezone = excluded.timezone,
		   location_name = excluded.location_name,
		   address = excluded.address,
		   city = excluded.city,
		   state = excluded.state,
		   postal_code = excluded.postal_code,
		   country = excluded.country,
		   formatted_address = excluded.formatted_address,
		   latitude = excluded.latitude,
		   longitude = excluded.longitude,
		   conference_url = excluded.conference_url,
		   conference_phone = excluded.conference_phone,
		   notes = excluded.notes,
		   source_feed = excluded.source_feed,
		   scraped_at = excluded.scraped_at,
		   cluster_key = excluded.cluster_key,
		   updated_at = excluded.updated_at`,
		rec.UniqueKey(), rec.Name, joinTypes(rec.Types), rec.Day, rec.Time,
		rec.EndTime, rec.Timezone, rec.LocationName, rec.Address, rec.City,
		rec.State, rec.PostalCode, rec.Country, rec.FormattedAddress,
		rec.Latitude, rec.Longitude, rec.ConferenceURL, rec.ConferencePhone,
		rec.Notes, rec.SourceFeed, rec.ScrapedAt.UTC().Format(time.RFC3339Nano),
		nullEmpty(rec.ClusterKey), now, now)

	if err != nil {
		return fmt.Errorf("%w: upsert meeting: %v", ErrStoreWrite, err)
	}
	return nil
}

// GetMeeting retrieves a record by unique key. Returns nil when absent.
func GetMeeting(ctx context.Context, db *sql.DB, uniqueKey string) (*meeting.Record, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	row := db.QueryRowContext(ctx,
		`SELECT `+meetingColumns+` FROM meetings WHERE unique_key = ?`, uniqueKey)

	rec, err := scanMeeting(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get meeting: %w", err)
	}
	return rec, nil
}

// ListMeetings returns all records, ordered by unique key for
// deterministic iteration.
func ListMeetings(ctx context.Context, db *sql.DB) ([]*meeting.Record, error) {
	return queryMeetings(ctx, db,
		`SELECT `+meetingColumns+` FROM meetings ORDER BY unique_key`)
}

// ListUnclustered returns records with no cluster key, ordered by
// unique key. These are incremental mode's input.
func ListUnclustered(ctx context.Context, db *sql.DB) ([]*meeting.Record, error) {
	return queryMeetings(ctx, db,
		`SELECT `+meetingColumns+` FROM meetings WHERE cluster_key IS NULL ORDER BY unique_key`)
}

// CountMeetings returns the total record count.
func CountMeetings(ctx context.Context, db *sql.DB) (int64, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	var count int64
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM meetings`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count meetings: %w", err)
	}
	return count, nil
}

// CountsByState returns the meeting count per state code. Records with
// no state are excluded.
func CountsByState(ctx context.Context, db *sql.DB) (map[string]int, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	rows, err := db.QueryContext(ctx,
		`SELECT state, COUNT(*) FROM meetings
		 WHERE state IS NOT NULL AND state != ''
		 GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("counts by state: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]int)
	for rows.Next() {
		var state string
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, fmt.Errorf("scan state count: %w", err)
		}
		out[state] = count
	}
	return out, rows.Err()
}

// SetClusterKey annotates one record with its spatial cell.
func SetClusterKey(ctx context.Context, db *sql.DB, uniqueKey, clusterKey string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	_, err := db.ExecContext(ctx,
		`UPDATE meetings SET cluster_key = ?, updated_at = ? WHERE unique_key = ?`,
		nullEmpty(clusterKey), time.Now().UTC().Format(time.RFC3339Nano), uniqueKey)
	if err != nil {
		return fmt.Errorf("%w: set cluster key: %v", ErrStoreWrite, err)
	}
	return nil
}

// BatchSetClusterKeys annotates many records in one transaction.
func BatchSetClusterKeys(ctx context.Context, db *sql.DB, keys map[string]string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(keys) == 0 {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin tx: %v", ErrStoreWrite, err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`UPDATE meetings SET cluster_key = ?, updated_at = ? WHERE unique_key = ?`)
	if err != nil {
		return fmt.Errorf("%w: prepare stmt: %v", ErrStoreWrite, err)
	}
	defer func() { _ = stmt.Close() }()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for uniqueKey, clusterKey := range keys {
		if _, err := stmt.ExecContext(ctx, nullEmpty(clusterKey), now, uniqueKey); err != nil {
			return fmt.Errorf("%w: set cluster key for %s: %v", ErrStoreWrite, uniqueKey, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit tx: %v", ErrStoreWrite, err)
	}
	return nil
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanMeeting(row rowScanner) (*meeting.Record, error) {
	var rec meeting.Record
	var types, endTime, timezone, locationName, address, city, state sql.NullString
	var postalCode, country, formattedAddress, confURL, confPhone, notes, clusterKey sql.NullString
	var lat, lng sql.NullFloat64
	var scrapedAt string
	var uniqueKey string

	err := row.Scan(&uniqueKey, &rec.Name, &types, &rec.Day, &rec.Time,
		&endTime, &timezone, &locationName, &address, &city, &state,
		&postalCode, &country, &formattedAddress, &lat, &lng,
		&confURL, &confPhone, &notes, &rec.SourceFeed, &scrapedAt, &clusterKey)
	if err != nil {
		return nil, err
	}

	rec.Types = splitTypes(types.String)
	rec.EndTime = endTime.String
	rec.Timezone = timezone.String
	rec.LocationName = locationName.String
	rec.Address = address.String
	rec.City = city.String
	rec.State = state.String
	rec.PostalCode = postalCode.String
	rec.Country = country.String
	rec.FormattedAddress = formattedAddress.String
	rec.ConferenceURL = confURL.String
	rec.ConferencePhone = confPhone.String
	rec.Notes = notes.String
	rec.ClusterKey = clusterKey.String

	if lat.Valid && lng.Valid {
		latV, lngV := lat.Float64, lng.Float64
		rec.Latitude = &latV
		rec.Longitude = &lngV
	}

	parsed, err := time.Parse(time.RFC3339Nano, scrapedAt)
	if err != nil {
		return nil, fmt.Errorf("parse scraped_at: %w", err)
	}
	rec.ScrapedAt = parsed

	return &rec, nil
}

func queryMeetings(ctx context.Context, db *sql.DB, query string, args ...any) ([]*meeting.Record, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query meetings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*meeting.Record
	for rows.Next() {
		rec, err := scanMeeting(rows)
		if err != nil {
			return nil, fmt.Errorf("scan meeting: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func joinTypes(types []string) string {
	return strings.Join(types, ",")
}

func splitTypes(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func nullEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
