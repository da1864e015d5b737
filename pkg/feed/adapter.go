package feed

import (
	"fmt"

	"github.com/sidekick2020/meeting-scraper-sub002/pkg/meeting"
)

// ItemError records a single malformed feed item that was dropped.
//
// Malformed items never fail the feed; they are collected here so the
// orchestrator can log them and count them against the job.
type ItemError struct {
	// Index is the item's position in the payload.
	Index int

	// Detail describes why the item was dropped.
	Detail string
}

func (e ItemError) Error() string {
	return fmt.Sprintf("item %d dropped: %s", e.Index, e.Detail)
}

// ParseResult is the outcome of parsing one payload.
type ParseResult struct {
	// Drafts are the well-formed items, in payload order.
	Drafts []meeting.Draft

	// Dropped lists malformed items that were skipped.
	Dropped []ItemError
}

// Adapter parses one feed's raw payload into meeting drafts.
//
// Adapters are stateless and tolerant of missing optional fields. A
// payload that does not match the declared format at all fails with
// ErrParse; a single malformed item is dropped into ParseResult.Dropped
// instead.
type Adapter interface {
	// Kind reports the format this adapter handles.
	Kind() FormatKind

	// Parse converts a raw payload into drafts.
	Parse(payload []byte, f Feed) (*ParseResult, error)
}

// AdapterFor returns the adapter for a format kind.
func AdapterFor(kind FormatKind) (Adapter, error) {
	switch kind {
	case FormatTSML:
		return &TSMLAdapter{}, nil
	case FormatBMLT:
		return &BMLTAdapter{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, kind)
	}
}
