package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sidekick2020/meeting-scraper-sub002/internal/observability"
	"github.com/sidekick2020/meeting-scraper-sub002/pkg/feed"
	"github.com/sidekick2020/meeting-scraper-sub002/pkg/jobs"
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Run the feed ingestion pipeline",
	Long: `Fetch every configured feed, normalize and deduplicate the
meetings, geocode records without coordinates, and write them to the
canonical store.

Examples:
  # Scrape every configured feed
  meeting-scraper scrape

  # Scrape only California feeds
  meeting-scraper scrape --feeds 'ca-*'

  # Skip geocoding
  meeting-scraper scrape --no-geocode`,
	Args: cobra.NoArgs,
	RunE: runScrape,
}

func init() {
	rootCmd.AddCommand(scrapeCmd)
	scrapeCmd.Flags().StringSlice("feeds", nil, "Glob patterns selecting feeds by name")
	scrapeCmd.Flags().Bool("no-geocode", false, "Skip coordinate resolution")
}

func runScrape(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	patterns, _ := cmd.Flags().GetStringSlice("feeds")
	noGeocode, _ := cmd.Flags().GetBool("no-geocode")

	cfg := *appConfig
	if noGeocode {
		cfg.Scrape.Geocode = false
	}

	p, err := buildPipeline(ctx, &cfg)
	if err != nil {
		return err
	}
	defer p.Close()

	selected := p.feeds
	if len(patterns) > 0 {
		selected, err = feed.Select(p.feeds, patterns)
		if err != nil {
			return exitError(foundry.ExitInvalidArgument, "Invalid feed pattern", err)
		}
	}
	if len(selected) == 0 {
		return exitError(foundry.ExitInvalidArgument, "No feeds selected",
			fmt.Errorf("no configured feed matches %v", patterns))
	}

	observability.CLILogger.Info("starting scrape",
		zap.Int("feeds", len(selected)),
		zap.Bool("geocode", cfg.Scrape.Geocode))

	if err := p.orchestrator.Run(ctx, selected); err != nil {
		if jobs.IsAlreadyRunning(err) {
			return exitError(foundry.ExitInvalidArgument, "A scrape is already running", err)
		}
		return exitError(foundry.ExitExternalServiceUnavailable, "Scrape run failed", err)
	}

	printScrapeSummary(p.orchestrator.Tracker().Snapshot())
	return nil
}

func printScrapeSummary(snap jobs.ScrapeStatus) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "Status:\t%s\n", snap.Status)
	fmt.Fprintf(w, "Feeds:\t%d\n", snap.FeedsTotal)
	fmt.Fprintf(w, "Found:\t%s\n", humanize.Comma(int64(snap.TotalFound)))
	fmt.Fprintf(w, "Saved:\t%s\n", humanize.Comma(int64(snap.TotalSaved)))
	fmt.Fprintf(w, "Duplicates:\t%s\n", humanize.Comma(int64(snap.TotalDuplicates)))
	fmt.Fprintf(w, "Failed:\t%s\n", humanize.Comma(int64(snap.TotalFailed)))
	fmt.Fprintf(w, "Throughput:\t%.1f items/sec\n", snap.ItemsPerSecond)
	if snap.StartedAt != nil && snap.EndedAt != nil {
		fmt.Fprintf(w, "Duration:\t%s\n", snap.EndedAt.Sub(*snap.StartedAt).Round(time.Millisecond))
	}
	if len(snap.Errors) > 0 {
		fmt.Fprintf(w, "Errors:\t%d\n", len(snap.Errors))
		for _, msg := range snap.Errors {
			fmt.Fprintf(w, "\t%s\n", msg)
		}
	}
	_ = w.Flush()
}
