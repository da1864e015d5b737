package meeting

// Draft is a raw meeting item as parsed by a format adapter, before
// normalization. Field names mirror the wire formats loosely; adapters
// map whatever the source calls a field into the closest draft slot and
// leave the rest empty.
//
// Drafts carry no identity. Normalize decides whether a draft is valid
// and what its canonical key is.
type Draft struct {
	Name         string
	Types        []string
	Day          *int
	Time         string
	EndTime      string
	Timezone     string
	LocationName string

	Address    string
	City       string
	State      string
	PostalCode string
	Country    string

	// FormattedAddress is set when the source publishes a combined
	// address string of its own.
	FormattedAddress string

	Latitude  *float64
	Longitude *float64

	ConferenceURL   string
	ConferencePhone string
	Notes           string
}
