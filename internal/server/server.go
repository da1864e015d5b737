// Package server exposes the pipeline's status and control surface
// over HTTP. Status reads are cheap snapshot polls; start/stop are the
// only mutating endpoints.
package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/sidekick2020/meeting-scraper-sub002/pkg/cluster"
	"github.com/sidekick2020/meeting-scraper-sub002/pkg/coverage"
	"github.com/sidekick2020/meeting-scraper-sub002/pkg/feed"
	"github.com/sidekick2020/meeting-scraper-sub002/pkg/jobs"
	"github.com/sidekick2020/meeting-scraper-sub002/pkg/meetingstore"
	"github.com/sidekick2020/meeting-scraper-sub002/pkg/scrape"
)

// Version is stamped at build time.
var Version = "dev"

// Server wires the HTTP surface over the pipeline components.
type Server struct {
	host string
	port int

	db           *sql.DB
	orchestrator *scrape.Orchestrator
	engine       *cluster.Engine
	feeds        []feed.Feed
	populations  map[string]int64
	logger       *zap.Logger

	httpServer *http.Server
}

// Options carries the server's collaborators.
type Options struct {
	Host         string
	Port         int
	DB           *sql.DB
	Orchestrator *scrape.Orchestrator
	Engine       *cluster.Engine
	Feeds        []feed.Feed
	Populations  map[string]int64
	Logger       *zap.Logger

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	s := &Server{
		host:         opts.Host,
		port:         opts.Port,
		db:           opts.DB,
		orchestrator: opts.Orchestrator,
		engine:       opts.Engine,
		feeds:        opts.Feeds,
		populations:  opts.Populations,
		logger:       opts.Logger,
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", opts.Host, opts.Port),
		Handler:      s.Handler(),
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
		IdleTimeout:  opts.IdleTimeout,
	}
	return s
}

// Port returns the configured listen port.
func (s *Server) Port() int {
	return s.port
}

// Handler builds the route tree.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "no such route")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
	})

	r.Get("/health", s.handleHealth)
	r.Get("/version", s.handleVersion)

	r.Route("/api", func(r chi.Router) {
		r.Route("/scrape", func(r chi.Router) {
			r.Get("/status", s.handleScrapeStatus)
			r.Post("/start", s.handleScrapeStart)
			r.Post("/stop", s.handleScrapeStop)
		})
		r.Route("/cluster", func(r chi.Router) {
			r.Get("/status", s.handleClusterStatus)
			r.Post("/start", s.handleClusterStart)
		})
		r.Get("/coverage", s.handleCoverage)
		r.Get("/runs", s.handleRuns)
	})

	return r
}

// ListenAndServe blocks serving HTTP until the context is canceled,
// then drains with the given shutdown grace.
func (s *Server) ListenAndServe(ctx context.Context, shutdownTimeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.db.PingContext(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": Version})
}

func (s *Server) handleScrapeStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.orchestrator.Tracker().Snapshot())
}

type scrapeStartRequest struct {
	// Feeds optionally narrows the run to feed names matching these
	// glob patterns.
	Feeds []string `json:"feeds,omitempty"`
}

func (s *Server) handleScrapeStart(w http.ResponseWriter, r *http.Request) {
	var req scrapeStartRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON body")
			return
		}
	}

	selected := s.feeds
	if len(req.Feeds) > 0 {
		var err error
		selected, err = feed.Select(s.feeds, req.Feeds)
		if err != nil {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
			return
		}
	}
	if len(selected) == 0 {
		writeError(w, http.StatusBadRequest, "NO_FEEDS", "no feeds match the request")
		return
	}

	if err := s.orchestrator.Start(context.Background(), selected); err != nil {
		if jobs.IsAlreadyRunning(err) {
			writeError(w, http.StatusConflict, "ALREADY_RUNNING", "a scrape is already running")
			return
		}
		writeError(w, http.StatusInternalServerError, "START_FAILED", err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"started": true,
		"feeds":   len(selected),
	})
}

func (s *Server) handleScrapeStop(w http.ResponseWriter, _ *http.Request) {
	snap := s.orchestrator.Tracker().Snapshot()
	if !snap.IsRunning {
		writeError(w, http.StatusConflict, "NOT_RUNNING", "no scrape is running")
		return
	}
	s.orchestrator.Tracker().RequestStop()
	writeJSON(w, http.StatusAccepted, map[string]bool{"stopping": true})
}

func (s *Server) handleClusterStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Tracker().Snapshot())
}

type clusterStartRequest struct {
	Mode string `json:"mode,omitempty"`
}

func (s *Server) handleClusterStart(w http.ResponseWriter, r *http.Request) {
	var req clusterStartRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON body")
			return
		}
	}

	mode := jobs.ClusterModeIncremental
	switch req.Mode {
	case "", string(jobs.ClusterModeIncremental):
	case string(jobs.ClusterModeFull):
		mode = jobs.ClusterModeFull
	default:
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "mode must be full or incremental")
		return
	}

	if err := s.engine.Start(context.Background(), mode); err != nil {
		if jobs.IsAlreadyRunning(err) {
			writeError(w, http.StatusConflict, "ALREADY_RUNNING", "a cluster run is already running")
			return
		}
		writeError(w, http.StatusInternalServerError, "START_FAILED", err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"started": true,
		"mode":    string(mode),
	})
}

func (s *Server) handleCoverage(w http.ResponseWriter, r *http.Request) {
	counts, err := meetingstore.CountsByState(r.Context(), s.db)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}

	feedStates := make(map[string]bool)
	for _, f := range s.feeds {
		if f.State != "" {
			feedStates[f.State] = true
		}
	}

	writeJSON(w, http.StatusOK, coverage.Analyze(counts, s.populations, feedStates))
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := meetingstore.ListScrapeRuns(r.Context(), s.db, 50)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, runs)
}
