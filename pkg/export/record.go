// Package export archives run snapshots as JSONL to S3-compatible
// object storage.
//
// Archives are structured as typed record envelopes: one line per
// meeting plus a trailing summary line. Each line is a self-contained
// JSON object that can be parsed independently.
package export

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sidekick2020/meeting-scraper-sub002/pkg/meeting"
)

// Record type constants define the envelope types for JSONL output.
// These follow the pattern: meetingscraper.<type>.v<version>
const (
	// TypeMeeting identifies meeting snapshot records.
	TypeMeeting = "meetingscraper.meeting.v1"

	// TypeSummary identifies the final run summary record.
	TypeSummary = "meetingscraper.summary.v1"
)

// Record is the envelope for all JSONL archive lines.
type Record struct {
	// Type identifies the record type (e.g., "meetingscraper.meeting.v1").
	Type string `json:"type"`

	// TS is the timestamp when the record was created.
	TS time.Time `json:"ts"`

	// RunID is the correlation ID for the scrape run being archived.
	RunID string `json:"run_id"`

	// Data contains the type-specific payload as raw JSON.
	Data json.RawMessage `json:"data"`
}

// MeetingPayload is the data payload for one archived meeting.
type MeetingPayload struct {
	UniqueKey        string   `json:"unique_key"`
	Name             string   `json:"name"`
	Types            []string `json:"types,omitempty"`
	Day              int      `json:"day"`
	Time             string   `json:"time"`
	EndTime          string   `json:"end_time,omitempty"`
	Timezone         string   `json:"timezone,omitempty"`
	LocationName     string   `json:"location_name,omitempty"`
	FormattedAddress string   `json:"formatted_address,omitempty"`
	State            string   `json:"state,omitempty"`
	Latitude         *float64 `json:"latitude,omitempty"`
	Longitude        *float64 `json:"longitude,omitempty"`
	ConferenceURL    string   `json:"conference_url,omitempty"`
	SourceFeed       string   `json:"source_feed"`
	ScrapedAt        string   `json:"scraped_at"`
	ClusterKey       string   `json:"cluster_key,omitempty"`
}

// SummaryPayload is the data payload for the trailing summary line.
type SummaryPayload struct {
	Status          string `json:"status"`
	StartedAt       string `json:"started_at"`
	EndedAt         string `json:"ended_at"`
	FeedsTotal      int    `json:"feeds_total"`
	TotalFound      int    `json:"total_found"`
	TotalSaved      int    `json:"total_saved"`
	TotalDuplicates int    `json:"total_duplicates"`
	TotalFailed     int    `json:"total_failed"`
	MeetingsInStore int    `json:"meetings_in_store"`
}

func meetingPayload(rec *meeting.Record) *MeetingPayload {
	return &MeetingPayload{
		UniqueKey:        rec.UniqueKey(),
		Name:             rec.Name,
		Types:            rec.Types,
		Day:              rec.Day,
		Time:             rec.Time,
		EndTime:          rec.EndTime,
		Timezone:         rec.Timezone,
		LocationName:     rec.LocationName,
		FormattedAddress: rec.FormattedAddress,
		State:            rec.State,
		Latitude:         rec.Latitude,
		Longitude:        rec.Longitude,
		ConferenceURL:    rec.ConferenceURL,
		SourceFeed:       rec.SourceFeed,
		ScrapedAt:        rec.ScrapedAt.UTC().Format(time.RFC3339),
		ClusterKey:       rec.ClusterKey,
	}
}

func marshalRecord(recordType, runID string, data any) ([]byte, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", recordType, err)
	}
	line, err := json.Marshal(Record{
		Type:  recordType,
		TS:    time.Now().UTC(),
		RunID: runID,
		Data:  payload,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal %s record: %w", recordType, err)
	}
	return append(line, '\n'), nil
}
