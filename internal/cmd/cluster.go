package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sidekick2020/meeting-scraper-sub002/internal/observability"
	"github.com/sidekick2020/meeting-scraper-sub002/pkg/jobs"
)

var clusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Recompute spatial cluster indicators",
	Long: `Group geocoded meetings into spatial cells and persist one
indicator per occupied cell.

Modes:
  full         delete and rebuild every indicator (default)
  incremental  assign cells only to meetings added since the last run

Examples:
  meeting-scraper cluster
  meeting-scraper cluster --mode incremental`,
	Args: cobra.NoArgs,
	RunE: runCluster,
}

func init() {
	rootCmd.AddCommand(clusterCmd)
	clusterCmd.Flags().String("mode", "full", "Clustering mode (full or incremental)")
}

func runCluster(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	modeFlag, _ := cmd.Flags().GetString("mode")

	var mode jobs.ClusterMode
	switch modeFlag {
	case "full":
		mode = jobs.ClusterModeFull
	case "incremental":
		mode = jobs.ClusterModeIncremental
	default:
		return exitError(foundry.ExitInvalidArgument, "Invalid --mode value",
			fmt.Errorf("mode must be full or incremental, got %q", modeFlag))
	}

	p, err := buildPipeline(ctx, appConfig)
	if err != nil {
		return err
	}
	defer p.Close()

	observability.CLILogger.Info("starting cluster run", zap.String("mode", string(mode)))

	if err := p.engine.Run(ctx, mode); err != nil {
		if jobs.IsAlreadyRunning(err) {
			return exitError(foundry.ExitInvalidArgument, "A cluster run is already running", err)
		}
		return exitError(foundry.ExitExternalServiceUnavailable, "Cluster run failed", err)
	}

	snap := p.engine.Tracker().Snapshot()
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "Status:\t%s\n", snap.Status)
	fmt.Fprintf(w, "Mode:\t%s\n", snap.Mode)
	fmt.Fprintf(w, "Meetings:\t%s\n", humanize.Comma(int64(snap.TotalMeetings)))
	fmt.Fprintf(w, "New meetings:\t%s\n", humanize.Comma(int64(snap.NewMeetings)))
	fmt.Fprintf(w, "Indicators created:\t%s\n", humanize.Comma(int64(snap.IndicatorsCreated)))
	fmt.Fprintf(w, "Meetings updated:\t%s\n", humanize.Comma(int64(snap.MeetingsUpdated)))
	_ = w.Flush()
	return nil
}
