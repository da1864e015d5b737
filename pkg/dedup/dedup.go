// Package dedup decides how an incoming meeting record relates to what
// the store already holds: create it, update the stored copy, or skip
// it as a duplicate.
//
// The decision rests entirely on the record's unique key; the skip
// reason is preserved because duplicate-vs-new is the central metric the
// job surfaces to operators.
package dedup

import (
	"github.com/sidekick2020/meeting-scraper-sub002/pkg/meeting"
)

// Action is the resolution for one incoming record.
type Action string

const (
	// ActionCreate stores the record as new.
	ActionCreate Action = "create"

	// ActionUpdate merges the incoming record into the stored one.
	ActionUpdate Action = "update"

	// ActionSkip drops the incoming record as a duplicate.
	ActionSkip Action = "skip"
)

// SkipReason explains a skip decision.
type SkipReason string

const (
	// SkipNoChange means the key matched and no material field differs.
	SkipNoChange SkipReason = "no_material_change"

	// SkipStale means the incoming record is not newer than the stored one.
	SkipStale SkipReason = "stale_scrape"
)

// Decision is the outcome of resolving one incoming record.
type Decision struct {
	Action Action

	// Reason is set only for ActionSkip.
	Reason SkipReason

	// Merged is set only for ActionUpdate: the stored record with the
	// incoming record's non-empty fields applied.
	Merged *meeting.Record
}

// Resolve decides what to do with an incoming record given the stored
// record under the same unique key (nil when absent).
//
// Two records with an equal key never both Create: the second is always
// Update or Skip. An update is a field-level merge; fields absent in
// the incoming record never erase previously known values.
func Resolve(incoming *meeting.Record, existing *meeting.Record) Decision {
	if existing == nil {
		return Decision{Action: ActionCreate}
	}

	if incoming.ScrapedAt.Before(existing.ScrapedAt) {
		return Decision{Action: ActionSkip, Reason: SkipStale}
	}

	merged := Merge(existing, incoming)
	if !materialChange(existing, merged) {
		return Decision{Action: ActionSkip, Reason: SkipNoChange}
	}

	return Decision{Action: ActionUpdate, Merged: merged}
}

// Merge applies the incoming record's non-empty fields onto a copy of
// the stored record. Stored coordinates survive unless the incoming
// record carries its own; the cluster key always survives (only the
// cluster engine writes it).
func Merge(existing, incoming *meeting.Record) *meeting.Record {
	out := *existing

	out.SourceFeed = incoming.SourceFeed
	out.ScrapedAt = incoming.ScrapedAt

	if len(incoming.Types) > 0 {
		out.Types = incoming.Types
	}
	if incoming.EndTime != "" {
		out.EndTime = incoming.EndTime
	}
	if incoming.Timezone != "" {
		out.Timezone = incoming.Timezone
	}
	if incoming.Address != "" {
		out.Address = incoming.Address
	}
	if incoming.City != "" {
		out.City = incoming.City
	}
	if incoming.State != "" {
		out.State = incoming.State
	}
	if incoming.PostalCode != "" {
		out.PostalCode = incoming.PostalCode
	}
	if incoming.Country != "" {
		out.Country = incoming.Country
	}
	if incoming.FormattedAddress != "" {
		out.FormattedAddress = incoming.FormattedAddress
	}
	if incoming.HasCoordinates() {
		out.Latitude = incoming.Latitude
		out.Longitude = incoming.Longitude
	}
	if incoming.ConferenceURL != "" {
		out.ConferenceURL = incoming.ConferenceURL
	}
	if incoming.ConferencePhone != "" {
		out.ConferencePhone = incoming.ConferencePhone
	}
	if incoming.Notes != "" {
		out.Notes = incoming.Notes
	}

	return &out
}

// materialChange reports whether any surfaced field differs between the
// stored record and the merge result. SourceFeed and ScrapedAt churn
// on every scrape and do not count as material.
func materialChange(existing, merged *meeting.Record) bool {
	if merged.EndTime != existing.EndTime ||
		merged.Timezone != existing.Timezone ||
		merged.Address != existing.Address ||
		merged.City != existing.City ||
		merged.State != existing.State ||
		merged.PostalCode != existing.PostalCode ||
		merged.Country != existing.Country ||
		merged.FormattedAddress != existing.FormattedAddress ||
		merged.ConferenceURL != existing.ConferenceURL ||
		merged.ConferencePhone != existing.ConferencePhone ||
		merged.Notes != existing.Notes {
		return true
	}

	if !equalCoord(merged.Latitude, existing.Latitude) || !equalCoord(merged.Longitude, existing.Longitude) {
		return true
	}

	if len(merged.Types) != len(existing.Types) {
		return true
	}
	for i := range merged.Types {
		if merged.Types[i] != existing.Types[i] {
			return true
		}
	}

	return false
}

func equalCoord(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
