package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/sidekick2020/meeting-scraper-sub002/internal/observability"
	"github.com/sidekick2020/meeting-scraper-sub002/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the status and control HTTP server",
	Long: `Serve the pipeline's HTTP surface: job status polling,
scrape/cluster start and stop, coverage statistics, and run history.

The server runs until interrupted. Scrape and cluster runs started over
HTTP execute in the background inside this process.

Examples:
  meeting-scraper serve
  meeting-scraper serve --port 9000`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("host", "", "Listen host (overrides config)")
	serveCmd.Flags().Int("port", 0, "Listen port (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := *appConfig
	if cmd.Flags().Changed("host") {
		cfg.Server.Host, _ = cmd.Flags().GetString("host")
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port, _ = cmd.Flags().GetInt("port")
	}

	p, err := buildPipeline(ctx, &cfg)
	if err != nil {
		return err
	}
	defer p.Close()

	srv := server.New(server.Options{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		DB:           p.db,
		Orchestrator: p.orchestrator,
		Engine:       p.engine,
		Feeds:        p.feeds,
		Populations:  p.populations,
		Logger:       observability.ServerLogger,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	})

	if err := srv.ListenAndServe(ctx, cfg.Server.ShutdownTimeout); err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "HTTP server failed", err)
	}
	return nil
}
