package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/sidekick2020/meeting-scraper-sub002/pkg/feed"
)

var feedsCmd = &cobra.Command{
	Use:   "feeds",
	Short: "Manage the configured feed list",
}

var feedsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured feeds",
	Long: `Print every feed from the feed-list file with its format,
target state, and endpoint.

Examples:
  meeting-scraper feeds list
  meeting-scraper feeds list --feeds 'ca-*'`,
	Args: cobra.NoArgs,
	RunE: runFeedsList,
}

func init() {
	rootCmd.AddCommand(feedsCmd)
	feedsCmd.AddCommand(feedsListCmd)
	feedsListCmd.Flags().StringSlice("feeds", nil, "Glob patterns selecting feeds by name")
}

func runFeedsList(cmd *cobra.Command, args []string) error {
	patterns, _ := cmd.Flags().GetStringSlice("feeds")

	feeds, err := feed.LoadFile(appConfig.Feeds.File)
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to load feed list", err)
	}

	if len(patterns) > 0 {
		feeds, err = feed.Select(feeds, patterns)
		if err != nil {
			return exitError(foundry.ExitInvalidArgument, "Invalid feed pattern", err)
		}
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tFORMAT\tSTATE\tURL")
	for _, f := range feeds {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", f.Name, f.Format, f.State, f.URL)
	}
	return w.Flush()
}
