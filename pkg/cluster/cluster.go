// Package cluster computes spatial cluster indicators over the meeting
// set: fixed-size grid cells with member counts and centroids, used to
// drive density heatmaps.
package cluster

import (
	"fmt"
	"math"
	"sort"

	"github.com/sidekick2020/meeting-scraper-sub002/pkg/meeting"
	"github.com/sidekick2020/meeting-scraper-sub002/pkg/meetingstore"
)

// DefaultCellSizeDegrees is the default grid cell edge in degrees of
// latitude and longitude. Roughly 11 km north-south, fine enough to
// separate neighborhoods in dense metros without exploding the
// indicator count in rural areas.
const DefaultCellSizeDegrees = 0.1

// DefaultAttachThresholdKm bounds how far a new meeting may sit from
// an existing indicator's centroid and still join it in incremental
// mode.
const DefaultAttachThresholdKm = 25.0

const earthRadiusKm = 6371.0

// CellKey maps coordinates to their grid cell identifier for the given
// cell size. Flooring gives every cell a stable lower-corner index, so
// a point on a cell boundary always lands in the higher-index cell's
// lower neighbor. A non-positive size falls back to the default.
func CellKey(lat, lng, size float64) string {
	if size <= 0 {
		size = DefaultCellSizeDegrees
	}
	return fmt.Sprintf("%d:%d",
		int(math.Floor(lat/size)),
		int(math.Floor(lng/size)))
}

// HaversineKm is the great-circle distance between two points.
func HaversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLng := (lng2 - lng1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*
			math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(a))
}

// BuildIndicators groups geocoded meetings into grid cells of the
// given size and returns one indicator per occupied cell, ordered by
// cell key. Meetings without coordinates are ignored. Centroid is the
// member mean.
func BuildIndicators(meetings []*meeting.Record, cellSize float64) []meetingstore.Indicator {
	type accum struct {
		sumLat, sumLng float64
		count          int
	}
	cells := make(map[string]*accum)

	for _, rec := range meetings {
		if !rec.HasCoordinates() {
			continue
		}
		key := CellKey(*rec.Latitude, *rec.Longitude, cellSize)
		acc := cells[key]
		if acc == nil {
			acc = &accum{}
			cells[key] = acc
		}
		acc.sumLat += *rec.Latitude
		acc.sumLng += *rec.Longitude
		acc.count++
	}

	out := make([]meetingstore.Indicator, 0, len(cells))
	for key, acc := range cells {
		out = append(out, meetingstore.Indicator{
			CellKey:      key,
			CenterLat:    acc.sumLat / float64(acc.count),
			CenterLng:    acc.sumLng / float64(acc.count),
			MeetingCount: acc.count,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CellKey < out[j].CellKey })
	return out
}

// NearestIndicator returns the indicator whose centroid is closest to
// the point, with its distance. Returns nil for an empty set. Ties
// break toward the lower cell key so assignment is deterministic.
func NearestIndicator(indicators []meetingstore.Indicator, lat, lng float64) (*meetingstore.Indicator, float64) {
	var best *meetingstore.Indicator
	bestDist := math.Inf(1)
	for i := range indicators {
		d := HaversineKm(lat, lng, indicators[i].CenterLat, indicators[i].CenterLng)
		if d < bestDist || (d == bestDist && best != nil && indicators[i].CellKey < best.CellKey) {
			best = &indicators[i]
			bestDist = d
		}
	}
	if best == nil {
		return nil, 0
	}
	return best, bestDist
}
