package meeting

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrValidation indicates a draft is missing a required field and must be
// dropped. Item-level: the feed continues.
var ErrValidation = errors.New("meeting validation failed")

// IsValidation returns true if the error is a validation failure.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// DefaultCountry is applied when a feed publishes no country.
const DefaultCountry = "US"

// stateTimezones maps US state codes to their predominant IANA zone.
// States split across zones get the zone covering most of the state;
// feeds that care publish an explicit timezone, which always wins.
var stateTimezones = map[string]string{
	"AL": "America/Chicago", "AK": "America/Anchorage", "AZ": "America/Phoenix",
	"AR": "America/Chicago", "CA": "America/Los_Angeles", "CO": "America/Denver",
	"CT": "America/New_York", "DE": "America/New_York", "FL": "America/New_York",
	"GA": "America/New_York", "HI": "Pacific/Honolulu", "ID": "America/Boise",
	"IL": "America/Chicago", "IN": "America/Indiana/Indianapolis", "IA": "America/Chicago",
	"KS": "America/Chicago", "KY": "America/New_York", "LA": "America/Chicago",
	"ME": "America/New_York", "MD": "America/New_York", "MA": "America/New_York",
	"MI": "America/Detroit", "MN": "America/Chicago", "MS": "America/Chicago",
	"MO": "America/Chicago", "MT": "America/Denver", "NE": "America/Chicago",
	"NV": "America/Los_Angeles", "NH": "America/New_York", "NJ": "America/New_York",
	"NM": "America/Denver", "NY": "America/New_York", "NC": "America/New_York",
	"ND": "America/Chicago", "OH": "America/New_York", "OK": "America/Chicago",
	"OR": "America/Los_Angeles", "PA": "America/New_York", "RI": "America/New_York",
	"SC": "America/New_York", "SD": "America/Chicago", "TN": "America/Chicago",
	"TX": "America/Chicago", "UT": "America/Denver", "VT": "America/New_York",
	"VA": "America/New_York", "WA": "America/Los_Angeles", "WV": "America/New_York",
	"WI": "America/Chicago", "WY": "America/Denver", "DC": "America/New_York",
}

// FeedInfo is the slice of feed configuration normalization needs.
// Keeping it minimal avoids a package cycle with the feed package.
type FeedInfo struct {
	// Name is the configured feed name, recorded as the source.
	Name string

	// State is the feed's target state, used as a fallback when items
	// carry no state of their own.
	State string
}

// Normalize converts a raw draft into a canonical Record.
//
// It fails with ErrValidation when name, day, or time is absent; the
// caller drops the item and continues the feed. Given identical input it
// always produces an identical unique key. Country defaults to US, the
// timezone is inferred from the state when the source publishes none,
// and a formatted address is derived from structured parts when the
// source has not combined one itself.
func Normalize(d Draft, f FeedInfo, scrapedAt time.Time) (*Record, error) {
	name := strings.TrimSpace(d.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrValidation)
	}
	if d.Day == nil {
		return nil, fmt.Errorf("%w: day is required", ErrValidation)
	}
	day := *d.Day
	if day < 0 || day > 6 {
		return nil, fmt.Errorf("%w: day %d out of range 0-6", ErrValidation, day)
	}
	startTime := strings.TrimSpace(d.Time)
	if startTime == "" {
		return nil, fmt.Errorf("%w: time is required", ErrValidation)
	}

	state := strings.ToUpper(strings.TrimSpace(d.State))
	if state == "" {
		state = strings.ToUpper(strings.TrimSpace(f.State))
	}

	country := strings.TrimSpace(d.Country)
	if country == "" {
		country = DefaultCountry
	}

	tz := strings.TrimSpace(d.Timezone)
	if tz == "" {
		tz = stateTimezones[state]
	}

	rec := &Record{
		Name:             name,
		Types:            d.Types,
		Day:              day,
		Time:             startTime,
		EndTime:          strings.TrimSpace(d.EndTime),
		Timezone:         tz,
		LocationName:     strings.TrimSpace(d.LocationName),
		Address:          strings.TrimSpace(d.Address),
		City:             strings.TrimSpace(d.City),
		State:            state,
		PostalCode:       strings.TrimSpace(d.PostalCode),
		Country:          country,
		FormattedAddress: strings.TrimSpace(d.FormattedAddress),
		Latitude:         d.Latitude,
		Longitude:        d.Longitude,
		ConferenceURL:    strings.TrimSpace(d.ConferenceURL),
		ConferencePhone:  strings.TrimSpace(d.ConferencePhone),
		Notes:            d.Notes,
		SourceFeed:       f.Name,
		ScrapedAt:        scrapedAt.UTC(),
	}

	if rec.FormattedAddress == "" {
		rec.FormattedAddress = FormatAddress(rec.Address, rec.City, rec.State, rec.PostalCode)
	}

	return rec, nil
}

// FormatAddress joins structured address parts into a single line,
// skipping empty parts. Returns "" when nothing is known.
func FormatAddress(address, city, state, postalCode string) string {
	var parts []string
	if address != "" {
		parts = append(parts, address)
	}
	if city != "" {
		parts = append(parts, city)
	}
	switch {
	case state != "" && postalCode != "":
		parts = append(parts, state+" "+postalCode)
	case state != "":
		parts = append(parts, state)
	case postalCode != "":
		parts = append(parts, postalCode)
	}
	return strings.Join(parts, ", ")
}
