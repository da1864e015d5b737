// Package feed defines feed configuration, the format adapters that
// parse raw feed payloads into meeting drafts, and the HTTP fetcher
// that retrieves them.
//
// Two wire formats are supported: a flat JSON meeting-list format
// ("tsml") and a REST meeting-list format ("bmlt") that requires
// follow-up requests per service body. The set is closed; per-feed
// dispatch goes through AdapterFor rather than runtime inspection.
package feed

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

// FormatKind identifies a feed's wire format.
type FormatKind string

const (
	// FormatTSML is a flat JSON array of meeting objects.
	FormatTSML FormatKind = "tsml"

	// FormatBMLT is a REST meeting list; the root endpoint enumerates
	// service bodies and each body's meetings are fetched separately.
	FormatBMLT FormatKind = "bmlt"
)

// Sentinel errors for feed operations.
var (
	// ErrParse indicates a payload did not match the expected schema
	// for the feed's declared format.
	ErrParse = errors.New("feed payload parse failed")

	// ErrFeedUnreachable indicates the feed endpoint could not be
	// fetched. Feed-level: logged on the job, next feed continues.
	ErrFeedUnreachable = errors.New("feed unreachable")

	// ErrUnknownFormat indicates a feed declares a format outside the
	// supported set.
	ErrUnknownFormat = errors.New("unknown feed format")
)

// IsParse returns true if the error is a payload parse failure.
func IsParse(err error) bool {
	return errors.Is(err, ErrParse)
}

// IsUnreachable returns true if the error is a feed fetch failure.
func IsUnreachable(err error) bool {
	return errors.Is(err, ErrFeedUnreachable)
}

// Feed is one configured external meeting source.
//
// Feeds are configuration values: immutable at pipeline runtime and
// read-only to the orchestrator.
type Feed struct {
	// Name uniquely identifies the feed in configuration and in the
	// source metadata written onto records.
	Name string `yaml:"name" json:"name"`

	// Format declares the wire shape of the feed's payload.
	Format FormatKind `yaml:"format" json:"format"`

	// URL is the base endpoint of the feed.
	URL string `yaml:"url" json:"url"`

	// State is the target state/region this feed covers.
	State string `yaml:"state" json:"state"`
}

// Validate checks a feed configuration value.
func (f Feed) Validate() error {
	if strings.TrimSpace(f.Name) == "" {
		return fmt.Errorf("feed name is required")
	}
	if strings.TrimSpace(f.URL) == "" {
		return fmt.Errorf("feed %q: url is required", f.Name)
	}
	switch f.Format {
	case FormatTSML, FormatBMLT:
		return nil
	default:
		return fmt.Errorf("feed %q: %w: %q", f.Name, ErrUnknownFormat, f.Format)
	}
}

// feedsFile is the on-disk shape of a feed list.
type feedsFile struct {
	Feeds []Feed `yaml:"feeds"`
}

// LoadFile reads and validates a YAML feed list.
func LoadFile(path string) ([]Feed, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read feeds file: %w", err)
	}

	var file feedsFile
	if err := yaml.Unmarshal(b, &file); err != nil {
		return nil, fmt.Errorf("parse feeds file: %w", err)
	}

	seen := make(map[string]bool, len(file.Feeds))
	for _, f := range file.Feeds {
		if err := f.Validate(); err != nil {
			return nil, err
		}
		if seen[f.Name] {
			return nil, fmt.Errorf("duplicate feed name: %s", f.Name)
		}
		seen[f.Name] = true
	}

	return file.Feeds, nil
}

// Select filters feeds by name patterns (doublestar globs). With no
// patterns, all feeds are returned in configured order. Order is
// preserved either way; an invalid pattern is an error.
func Select(feeds []Feed, patterns []string) ([]Feed, error) {
	if len(patterns) == 0 {
		return feeds, nil
	}

	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid feed pattern: %s", p)
		}
	}

	var out []Feed
	for _, f := range feeds {
		for _, p := range patterns {
			ok, err := doublestar.Match(p, f.Name)
			if err != nil {
				return nil, fmt.Errorf("match feed pattern %q: %w", p, err)
			}
			if ok {
				out = append(out, f)
				break
			}
		}
	}
	return out, nil
}
