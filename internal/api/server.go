// Package api serves the read surface: event and history queries backed
// by the cache and repositories, scrape triggers, scheduler controls and
// the websocket upgrade.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yourusername/oddsradar/internal/cache"
	"github.com/yourusername/oddsradar/internal/config"
	"github.com/yourusername/oddsradar/internal/models"
	"github.com/yourusername/oddsradar/internal/repository"
)

// Scraper is the coordinator surface the API triggers.
type Scraper interface {
	RunCycle(ctx context.Context) (*models.ScrapeRun, error)
	ScrapeEvent(ctx context.Context, externalID int64) (*models.ScrapeRun, error)
	Running() bool
}

// SchedulerControl is the scheduler surface exposed over HTTP.
type SchedulerControl interface {
	Pause()
	Resume()
	Paused() bool
	Interval() time.Duration
	SetInterval(ctx context.Context, seconds int) error
}

// Server is the read API server.
type Server struct {
	cfg       *config.APIConfig
	logger    *logrus.Entry
	server    *http.Server
	repos     *repository.Repositories
	cache     *cache.Cache
	scraper   Scraper
	scheduler SchedulerControl
	ws        http.HandlerFunc
}

// NewServer wires the API over its collaborators. ws handles the
// websocket upgrade for /ws.
func NewServer(cfg *config.APIConfig, repos *repository.Repositories, c *cache.Cache, scraper Scraper, scheduler SchedulerControl, ws http.HandlerFunc, logger *logrus.Logger) *Server {
	return &Server{
		cfg:       cfg,
		logger:    logger.WithField("component", "api"),
		repos:     repos,
		cache:     c,
		scraper:   scraper,
		scheduler: scheduler,
		ws:        ws,
	}
}

// Routes builds the request multiplexer. Split out so tests can drive
// handlers without a listening socket.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /events", s.handleListEvents)
	mux.HandleFunc("GET /events/{id}", s.handleGetEvent)
	mux.HandleFunc("GET /history/odds", s.handleOddsHistory)
	mux.HandleFunc("GET /history/margin", s.handleMarginHistory)

	mux.HandleFunc("POST /scrape", s.handleTriggerCycle)
	mux.HandleFunc("POST /scrape/event/{extID}", s.handleScrapeEvent)
	// Historical streaming endpoint, superseded by the push channel.
	mux.HandleFunc("GET /scrape/stream", s.handleStreamGone)
	mux.HandleFunc("GET /scrape/{runID}", s.handleGetRun)

	mux.HandleFunc("GET /scheduler", s.handleSchedulerStatus)
	mux.HandleFunc("POST /scheduler/pause", s.handleSchedulerPause)
	mux.HandleFunc("POST /scheduler/resume", s.handleSchedulerResume)
	mux.HandleFunc("PUT /scheduler/interval", s.handleSetInterval)

	mux.HandleFunc("GET /ws", s.ws)

	return s.logRequests(mux)
}

// Start serves in the background until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Port),
		Handler:      s.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		s.logger.WithField("port", s.cfg.Port).Info("API server starting")
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("API server error")
		}
	}()

	go func() {
		<-ctx.Done()
		s.Shutdown()
	}()
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown() error {
	if s.server == nil {
		return nil
	}
	s.logger.Info("API server shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// logRequests is the access-log middleware. Websocket upgrades are
// logged on the way in only; their duration is the connection lifetime.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"duration": time.Since(start).Round(time.Microsecond),
		}).Debug("Request handled")
	})
}
