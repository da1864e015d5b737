package feed

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sidekick2020/meeting-scraper-sub002/pkg/meeting"
)

// BMLTAdapter parses the REST meeting-list format.
//
// A search-results payload is either a bare JSON array of meetings or an
// object with a "meetings" array. Weekdays on the wire are 1-based with
// 1 = Sunday; times carry seconds. The fetcher handles the service-body
// follow-up requests; this adapter only sees meeting payloads.
type BMLTAdapter struct{}

// Kind implements Adapter.
func (a *BMLTAdapter) Kind() FormatKind { return FormatBMLT }

type bmltItem struct {
	MeetingName        string         `json:"meeting_name"`
	WeekdayTinyint     *flexInt       `json:"weekday_tinyint"`
	StartTime          string         `json:"start_time"`
	DurationTime       string         `json:"duration_time"`
	TimeZone           string         `json:"time_zone"`
	Formats            flexStringList `json:"formats"`
	LocationText       string         `json:"location_text"`
	LocationStreet     string         `json:"location_street"`
	LocationCity       string         `json:"location_municipality"`
	LocationProvince   string         `json:"location_province"`
	LocationPostalCode string         `json:"location_postal_code_1"`
	LocationNation     string         `json:"location_nation"`
	Latitude           *flexFloat     `json:"latitude"`
	Longitude          *flexFloat     `json:"longitude"`
	VirtualMeetingLink string         `json:"virtual_meeting_link"`
	PhoneMeetingNumber string         `json:"phone_meeting_number"`
	Comments           string         `json:"comments"`
}

type bmltEnvelope struct {
	Meetings []json.RawMessage `json:"meetings"`
}

// Parse implements Adapter.
func (a *BMLTAdapter) Parse(payload []byte, f Feed) (*ParseResult, error) {
	raw, err := bmltMeetingItems(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: feed %s: %v", ErrParse, f.Name, err)
	}

	result := &ParseResult{Drafts: make([]meeting.Draft, 0, len(raw))}
	for i, item := range raw {
		var m bmltItem
		if err := json.Unmarshal(item, &m); err != nil {
			result.Dropped = append(result.Dropped, ItemError{Index: i, Detail: err.Error()})
			continue
		}
		result.Drafts = append(result.Drafts, m.toDraft())
	}

	return result, nil
}

func bmltMeetingItems(payload []byte) ([]json.RawMessage, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(payload, &raw); err == nil {
		return raw, nil
	}

	var env bmltEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("expected meeting array or envelope: %v", err)
	}
	if env.Meetings == nil {
		return nil, fmt.Errorf("envelope has no meetings array")
	}
	return env.Meetings, nil
}

func (m bmltItem) toDraft() meeting.Draft {
	d := meeting.Draft{
		Name:            m.MeetingName,
		Types:           m.Formats,
		Time:            trimSeconds(m.StartTime),
		Timezone:        m.TimeZone,
		LocationName:    m.LocationText,
		Address:         m.LocationStreet,
		City:            m.LocationCity,
		State:           m.LocationProvince,
		PostalCode:      m.LocationPostalCode,
		Country:         m.LocationNation,
		ConferenceURL:   m.VirtualMeetingLink,
		ConferencePhone: m.PhoneMeetingNumber,
		Notes:           m.Comments,
	}
	if m.WeekdayTinyint != nil {
		// 1-based with Sunday first on the wire.
		day := int(*m.WeekdayTinyint) - 1
		d.Day = &day
	}
	if m.Latitude != nil && m.Longitude != nil {
		lat := float64(*m.Latitude)
		lng := float64(*m.Longitude)
		// Some servers emit 0,0 for unknown locations; treat as absent.
		if lat != 0 || lng != 0 {
			d.Latitude = &lat
			d.Longitude = &lng
		}
	}
	return d
}

// trimSeconds reduces "HH:MM:SS" to "HH:MM". Already-short or odd
// values pass through unchanged.
func trimSeconds(t string) string {
	parts := strings.Split(strings.TrimSpace(t), ":")
	if len(parts) == 3 {
		return parts[0] + ":" + parts[1]
	}
	return strings.TrimSpace(t)
}
