package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/sidekick2020/meeting-scraper-sub002/pkg/coverage"
	"github.com/sidekick2020/meeting-scraper-sub002/pkg/meetingstore"
)

var coverageCmd = &cobra.Command{
	Use:   "coverage",
	Short: "Show per-state coverage statistics",
	Long: `Derive meetings-per-capita statistics from the store and the
population reference table, flagging large under-covered states.

Examples:
  meeting-scraper coverage
  meeting-scraper coverage --json`,
	Args: cobra.NoArgs,
	RunE: runCoverage,
}

func init() {
	rootCmd.AddCommand(coverageCmd)
	coverageCmd.Flags().Bool("json", false, "Output as JSON")
}

func runCoverage(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	jsonOutput, _ := cmd.Flags().GetBool("json")

	p, err := buildPipeline(ctx, appConfig)
	if err != nil {
		return err
	}
	defer p.Close()

	counts, err := meetingstore.CountsByState(ctx, p.db)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to read store counts", err)
	}

	report := coverage.Analyze(counts, p.populations, feedStates(p.feeds))

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	printCoverageReport(os.Stdout, report)
	return nil
}

// printCoverageReport renders the human table. Per-capita rates are
// rounded to whole meetings per 100k here; the JSON surface keeps full
// precision.
func printCoverageReport(out io.Writer, report coverage.Report) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)

	fmt.Fprintln(w, "STATE\tPOPULATION\tMEETINGS\tPER 100K\tFEED")
	for _, stat := range report.Stats {
		feedMark := ""
		if stat.HasFeed {
			feedMark = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%.0f\t%s\n",
			stat.State,
			humanize.Comma(stat.Population),
			humanize.Comma(int64(stat.Meetings)),
			math.Round(stat.Per100k),
			feedMark)
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Total meetings:\t%s\n", humanize.Comma(int64(report.Summary.TotalMeetings)))
	fmt.Fprintf(w, "States with coverage:\t%d\n", report.Summary.StatesWithCoverage)
	fmt.Fprintf(w, "States without coverage:\t%d\n", report.Summary.StatesWithoutCoverage)
	fmt.Fprintf(w, "Average per 100k:\t%.2f\n", report.Summary.AveragePer100k)

	if len(report.PriorityStates) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Priority states (large population, below-average coverage):")
		for _, stat := range report.PriorityStates {
			fmt.Fprintf(w, "\t%s\t%.0f per 100k\n", stat.State, math.Round(stat.Per100k))
		}
	}

	_ = w.Flush()
}
