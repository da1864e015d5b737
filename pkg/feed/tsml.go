package feed

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/sidekick2020/meeting-scraper-sub002/pkg/meeting"
)

// TSMLAdapter parses the flat JSON meeting-list format: a single JSON
// array of meeting objects.
//
// Sources are inconsistent about scalar types (day as number or string,
// coordinates as number or string, types as array or comma string), so
// the item schema uses tolerant wrappers. One bad item is dropped, not
// fatal.
type TSMLAdapter struct{}

// Kind implements Adapter.
func (a *TSMLAdapter) Kind() FormatKind { return FormatTSML }

// tsmlItem is one meeting object on the wire.
type tsmlItem struct {
	Name             string         `json:"name"`
	Day              *flexInt       `json:"day"`
	Time             string         `json:"time"`
	EndTime          string         `json:"end_time"`
	Timezone         string         `json:"timezone"`
	Types            flexStringList `json:"types"`
	Location         string         `json:"location"`
	FormattedAddress string         `json:"formatted_address"`
	Address          string         `json:"address"`
	City             string         `json:"city"`
	State            string         `json:"state"`
	PostalCode       string         `json:"postal_code"`
	Country          string         `json:"country"`
	Latitude         *flexFloat     `json:"latitude"`
	Longitude        *flexFloat     `json:"longitude"`
	ConferenceURL    string         `json:"conference_url"`
	ConferencePhone  string         `json:"conference_phone"`
	Notes            string         `json:"notes"`
}

// Parse implements Adapter.
func (a *TSMLAdapter) Parse(payload []byte, f Feed) (*ParseResult, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("%w: expected JSON array for feed %s: %v", ErrParse, f.Name, err)
	}

	result := &ParseResult{Drafts: make([]meeting.Draft, 0, len(raw))}
	for i, item := range raw {
		var m tsmlItem
		if err := json.Unmarshal(item, &m); err != nil {
			result.Dropped = append(result.Dropped, ItemError{Index: i, Detail: err.Error()})
			continue
		}
		result.Drafts = append(result.Drafts, m.toDraft())
	}

	return result, nil
}

func (m tsmlItem) toDraft() meeting.Draft {
	d := meeting.Draft{
		Name:             m.Name,
		Types:            m.Types,
		Time:             m.Time,
		EndTime:          m.EndTime,
		Timezone:         m.Timezone,
		LocationName:     m.Location,
		Address:          m.Address,
		City:             m.City,
		State:            m.State,
		PostalCode:       m.PostalCode,
		Country:          m.Country,
		FormattedAddress: m.FormattedAddress,
		ConferenceURL:    m.ConferenceURL,
		ConferencePhone:  m.ConferencePhone,
		Notes:            m.Notes,
	}
	if m.Day != nil {
		day := int(*m.Day)
		d.Day = &day
	}
	if m.Latitude != nil && m.Longitude != nil {
		lat := float64(*m.Latitude)
		lng := float64(*m.Longitude)
		d.Latitude = &lat
		d.Longitude = &lng
	}
	return d
}

// flexInt accepts a JSON number or a numeric string.
type flexInt int

func (v *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		return fmt.Errorf("empty value")
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	*v = flexInt(n)
	return nil
}

// flexFloat accepts a JSON number or a numeric string.
type flexFloat float64

func (v *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		return fmt.Errorf("empty value")
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*v = flexFloat(n)
	return nil
}

// flexStringList accepts a JSON string array or a comma-joined string.
type flexStringList []string

func (v *flexStringList) UnmarshalJSON(b []byte) error {
	var list []string
	if err := json.Unmarshal(b, &list); err == nil {
		*v = list
		return nil
	}

	var joined string
	if err := json.Unmarshal(b, &joined); err != nil {
		return err
	}
	if strings.TrimSpace(joined) == "" {
		*v = nil
		return nil
	}

	parts := strings.Split(joined, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	*v = out
	return nil
}
