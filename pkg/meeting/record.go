// Package meeting defines the canonical meeting record and the
// normalization step that turns raw feed drafts into records.
//
// Records are identified by a composite unique key derived from name,
// location label, weekday, and start time. The key is the deduplication
// identity for the whole pipeline: two records with an equal key are the
// same meeting.
package meeting

import (
	"strconv"
	"strings"
	"time"
)

// Record is a canonical meeting listing.
//
// Records are created by Normalize during a scrape, updated in place by
// later scrapes of the same source, and annotated with a cluster key by
// the cluster engine. The pipeline never deletes them.
type Record struct {
	// Name is the meeting name as published by the source feed.
	Name string `json:"name"`

	// Types holds fellowship/type codes (e.g. "O", "C", "W", "ONL").
	Types []string `json:"types,omitempty"`

	// Day is the weekday, 0 (Sunday) through 6 (Saturday).
	Day int `json:"day"`

	// Time is the start time in 24h "HH:MM" form.
	Time string `json:"time"`

	// EndTime is the end time in 24h "HH:MM" form, if known.
	EndTime string `json:"end_time,omitempty"`

	// Timezone is an IANA zone name (e.g. "America/Los_Angeles").
	Timezone string `json:"timezone,omitempty"`

	// LocationName is the venue label (church, club, etc.). May be empty
	// for online-only meetings.
	LocationName string `json:"location_name,omitempty"`

	Address    string `json:"address,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country,omitempty"`

	// FormattedAddress is the single-line address used for geocoding.
	FormattedAddress string `json:"formatted_address,omitempty"`

	// Latitude and Longitude are nil until geocoded.
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`

	ConferenceURL   string `json:"conference_url,omitempty"`
	ConferencePhone string `json:"conference_phone,omitempty"`
	Notes           string `json:"notes,omitempty"`

	// SourceFeed names the feed this record was last scraped from.
	SourceFeed string `json:"source_feed"`

	// ScrapedAt is when the record was last seen by a scrape.
	ScrapedAt time.Time `json:"scraped_at"`

	// ClusterKey is the spatial cell this record belongs to.
	// Empty until the cluster engine assigns one.
	ClusterKey string `json:"cluster_key,omitempty"`
}

// UniqueKey returns the composite deduplication identity:
// lowercase(name | location label | day | time).
//
// The location label may be empty, leaving two adjacent pipes. The key
// must be deterministic for identical input; the deduplicator depends on
// nothing else.
func (r *Record) UniqueKey() string {
	return BuildUniqueKey(r.Name, r.LocationName, r.Day, r.Time)
}

// BuildUniqueKey builds the composite key from its parts.
func BuildUniqueKey(name, locationName string, day int, startTime string) string {
	parts := []string{
		strings.TrimSpace(name),
		strings.TrimSpace(locationName),
		strconv.Itoa(day),
		strings.TrimSpace(startTime),
	}
	return strings.ToLower(strings.Join(parts, "|"))
}

// HasCoordinates reports whether the record has been geocoded.
func (r *Record) HasCoordinates() bool {
	return r.Latitude != nil && r.Longitude != nil
}
