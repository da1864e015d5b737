// Package coverage derives per-state meetings-per-capita statistics
// from store counts and a static population reference table.
package coverage

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	referenceassets "github.com/sidekick2020/meeting-scraper-sub002/internal/assets/reference"
)

// PriorityPopulationThreshold marks states large enough that thin
// coverage is worth prioritizing.
const PriorityPopulationThreshold = 5_000_000

// Stat is one state's derived coverage figures.
type Stat struct {
	State       string  `json:"state"`
	Population  int64   `json:"population"`
	Meetings    int     `json:"meetings"`
	Per100k     float64 `json:"per_100k"`
	HasFeed     bool    `json:"has_feed"`
	HasCoverage bool    `json:"has_coverage"`
}

// Summary aggregates the per-state figures.
type Summary struct {
	TotalMeetings         int     `json:"total_meetings"`
	StatesWithCoverage    int     `json:"states_with_coverage"`
	StatesWithoutCoverage int     `json:"states_without_coverage"`
	AveragePer100k        float64 `json:"average_per_100k"`
}

// Report is the full analysis output.
type Report struct {
	Stats   []Stat  `json:"stats"`
	Summary Summary `json:"summary"`

	// PriorityStates are large states with below-average coverage,
	// worst first.
	PriorityStates []Stat `json:"priority_states"`
	// StatesWithoutCoverage have no meetings at all.
	StatesWithoutCoverage []Stat `json:"states_without_coverage"`
}

// Analyze computes coverage statistics. Pure: same inputs, same output.
//
// countsByState comes from the store; populations maps state code to
// resident count; feedStates are the states targeted by at least one
// configured feed. States present only in countsByState (unknown codes)
// are reported with zero population and no per-capita figure.
func Analyze(countsByState map[string]int, populations map[string]int64, feedStates map[string]bool) Report {
	states := make(map[string]bool, len(populations))
	for state := range populations {
		states[state] = true
	}
	for state := range countsByState {
		states[state] = true
	}

	var stats []Stat
	var totalMeetings int
	var perCapitaSum float64
	var perCapitaCount int

	for state := range states {
		pop := populations[state]
		count := countsByState[state]
		totalMeetings += count

		stat := Stat{
			State:       state,
			Population:  pop,
			Meetings:    count,
			HasFeed:     feedStates[state],
			HasCoverage: count > 0,
		}
		if pop > 0 {
			stat.Per100k = float64(count) / float64(pop) * 100_000
			perCapitaSum += stat.Per100k
			perCapitaCount++
		}
		stats = append(stats, stat)
	}

	sort.Slice(stats, func(i, j int) bool { return stats[i].State < stats[j].State })

	var average float64
	if perCapitaCount > 0 {
		average = perCapitaSum / float64(perCapitaCount)
	}

	report := Report{Stats: stats}
	for _, stat := range stats {
		if stat.HasCoverage {
			report.Summary.StatesWithCoverage++
		} else {
			report.Summary.StatesWithoutCoverage++
			report.StatesWithoutCoverage = append(report.StatesWithoutCoverage, stat)
		}
		if stat.Population > PriorityPopulationThreshold && stat.Per100k < average {
			report.PriorityStates = append(report.PriorityStates, stat)
		}
	}
	report.Summary.TotalMeetings = totalMeetings
	report.Summary.AveragePer100k = average

	sort.Slice(report.PriorityStates, func(i, j int) bool {
		a, b := report.PriorityStates[i], report.PriorityStates[j]
		if a.Per100k != b.Per100k {
			return a.Per100k < b.Per100k
		}
		return a.State < b.State
	})

	return report
}

type populationFile struct {
	Populations map[string]int64 `yaml:"populations"`
}

// LoadPopulations reads a state population table from a YAML file.
func LoadPopulations(path string) (map[string]int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read population table: %w", err)
	}
	return parsePopulations(data)
}

// DefaultPopulations returns the embedded census table.
func DefaultPopulations() (map[string]int64, error) {
	return parsePopulations(referenceassets.StatePopulations)
}

func parsePopulations(data []byte) (map[string]int64, error) {
	var file populationFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse population table: %w", err)
	}
	if len(file.Populations) == 0 {
		return nil, fmt.Errorf("population table is empty")
	}
	for state, pop := range file.Populations {
		if pop <= 0 {
			return nil, fmt.Errorf("population for %s must be positive", state)
		}
	}
	return file.Populations, nil
}
