package cmd

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fulmenhq/gofulmen/foundry"

	"github.com/sidekick2020/meeting-scraper-sub002/internal/config"
	"github.com/sidekick2020/meeting-scraper-sub002/internal/observability"
	"github.com/sidekick2020/meeting-scraper-sub002/pkg/cluster"
	"github.com/sidekick2020/meeting-scraper-sub002/pkg/coverage"
	"github.com/sidekick2020/meeting-scraper-sub002/pkg/export"
	"github.com/sidekick2020/meeting-scraper-sub002/pkg/feed"
	"github.com/sidekick2020/meeting-scraper-sub002/pkg/geocode"
	"github.com/sidekick2020/meeting-scraper-sub002/pkg/jobs"
	"github.com/sidekick2020/meeting-scraper-sub002/pkg/meetingstore"
	"github.com/sidekick2020/meeting-scraper-sub002/pkg/scrape"
)

// pipeline bundles the wired components behind one cleanup handle.
type pipeline struct {
	db           *sql.DB
	feeds        []feed.Feed
	orchestrator *scrape.Orchestrator
	engine       *cluster.Engine
	populations  map[string]int64
}

func (p *pipeline) Close() {
	if p.db != nil {
		_ = p.db.Close()
	}
}

// buildPipeline opens the store and wires every component from the
// loaded configuration.
func buildPipeline(ctx context.Context, cfg *config.Config) (*pipeline, error) {
	db, err := meetingstore.Open(ctx, meetingstore.Config{Path: cfg.Store.Path})
	if err != nil {
		return nil, exitError(foundry.ExitExternalServiceUnavailable, "Failed to open meeting store", err)
	}
	if err := meetingstore.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, exitError(foundry.ExitExternalServiceUnavailable, "Failed to migrate meeting store", err)
	}

	feeds, err := feed.LoadFile(cfg.Feeds.File)
	if err != nil {
		_ = db.Close()
		return nil, exitError(foundry.ExitFileReadError, "Failed to load feed list", err)
	}

	fetcherCfg := feed.DefaultFetcherConfig()
	fetcherCfg.Timeout = cfg.Scrape.FetchTimeout
	fetcherCfg.MaxRetries = cfg.Scrape.FetchRetries
	fetcher := feed.NewFetcher(fetcherCfg, observability.PipelineLogger)

	var geocoder geocode.Resolver
	if cfg.Scrape.Geocode {
		geocoder = geocode.New(geocode.Config{
			BaseURL:           cfg.Geocode.BaseURL,
			RequestsPerSecond: cfg.Geocode.RequestsPerSecond,
			Timeout:           cfg.Geocode.Timeout,
			UserAgent:         cfg.Geocode.UserAgent,
		}, observability.PipelineLogger)
	}

	orchestrator := scrape.New(scrape.Config{
		Geocode:         cfg.Scrape.Geocode,
		GeocodeTimeout:  cfg.Scrape.GeocodeTimeout,
		StoreRetries:    cfg.Scrape.StoreRetries,
		StoreRetryDelay: cfg.Scrape.StoreRetryDelay,
	}, db, fetcher, geocoder, jobs.NewScrapeTracker(), observability.PipelineLogger)

	if cfg.Archive.Enabled {
		var sink export.Sink
		if cfg.Archive.Directory != "" {
			sink, err = export.NewDirSink(cfg.Archive.Directory)
		} else {
			sink, err = export.NewS3Sink(ctx, export.S3Config{
				Bucket:          cfg.Archive.Bucket,
				Prefix:          cfg.Archive.Prefix,
				Region:          cfg.Archive.Region,
				Endpoint:        cfg.Archive.Endpoint,
				Profile:         cfg.Archive.Profile,
				AccessKeyID:     cfg.Archive.AccessKeyID,
				SecretAccessKey: cfg.Archive.SecretAccessKey,
				ForcePathStyle:  cfg.Archive.ForcePathStyle,
			})
		}
		if err != nil {
			_ = db.Close()
			return nil, exitError(foundry.ExitInvalidArgument, "Invalid archive configuration", err)
		}
		archiver := export.NewArchiver(db, sink, observability.PipelineLogger)
		orchestrator.OnComplete = archiver.Hook()
	}

	engine := cluster.NewEngine(cluster.Config{
		CellSizeDegrees:   cfg.Cluster.CellSizeDegrees,
		AttachThresholdKm: cfg.Cluster.AttachThresholdKm,
	}, db, jobs.NewClusterTracker(), observability.PipelineLogger)

	populations, err := loadPopulations(cfg)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &pipeline{
		db:           db,
		feeds:        feeds,
		orchestrator: orchestrator,
		engine:       engine,
		populations:  populations,
	}, nil
}

func loadPopulations(cfg *config.Config) (map[string]int64, error) {
	if cfg.Coverage.PopulationFile != "" {
		populations, err := coverage.LoadPopulations(cfg.Coverage.PopulationFile)
		if err != nil {
			return nil, exitError(foundry.ExitFileReadError, "Failed to load population table", err)
		}
		return populations, nil
	}
	populations, err := coverage.DefaultPopulations()
	if err != nil {
		return nil, fmt.Errorf("embedded population table: %w", err)
	}
	return populations, nil
}

func feedStates(feeds []feed.Feed) map[string]bool {
	out := make(map[string]bool)
	for _, f := range feeds {
		if f.State != "" {
			out[f.State] = true
		}
	}
	return out
}
