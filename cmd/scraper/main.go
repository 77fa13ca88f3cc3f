// Package main provides the entry point for the odds scraper service.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/yourusername/oddsradar/internal/api"
	"github.com/yourusername/oddsradar/internal/cache"
	"github.com/yourusername/oddsradar/internal/config"
	"github.com/yourusername/oddsradar/internal/coordinator"
	"github.com/yourusername/oddsradar/internal/database"
	"github.com/yourusername/oddsradar/internal/fetcher"
	"github.com/yourusername/oddsradar/internal/health"
	applogger "github.com/yourusername/oddsradar/internal/logger"
	"github.com/yourusername/oddsradar/internal/mapping"
	"github.com/yourusername/oddsradar/internal/metrics"
	"github.com/yourusername/oddsradar/internal/pipeline"
	"github.com/yourusername/oddsradar/internal/push"
	"github.com/yourusername/oddsradar/internal/repository"
	"github.com/yourusername/oddsradar/internal/scheduler"
)

// Build information - set via ldflags
var (
	Version = "dev"
)

var (
	configFile string
	cfg        *config.Config
	appLog     *logrus.Logger
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "./config/config.yaml", "Path to configuration file")
	rootCmd.AddCommand(serveCmd, scrapeCmd, initDBCmd)
}

var rootCmd = &cobra.Command{
	Use:   "oddsradar",
	Short: "Football odds scraper",
	Long:  `Scrapes football betting markets from Betpawa, SportyBet and Bet9ja, reconciles them into a canonical taxonomy and serves current state and history.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configFile)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		if os.Getenv("AWS_SECRETS_ENABLED") == "true" {
			region := os.Getenv("AWS_REGION")
			secretName := os.Getenv("AWS_SECRET_NAME")
			if region == "" || secretName == "" {
				return fmt.Errorf("AWS_REGION and AWS_SECRET_NAME must be set when AWS_SECRETS_ENABLED is true")
			}
			if err := config.LoadSecretsFromAWS(cfg, region, secretName); err != nil {
				return fmt.Errorf("failed to load secrets: %w", err)
			}
		}

		if err := config.Validate(cfg); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		appLog = applogger.NewLogger(cfg.App.LogLevel)
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scraper service",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

var scrapeCmd = &cobra.Command{
	Use:   "scrape [external-id]",
	Short: "Run one scrape cycle, or refresh a single event, and exit",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return scrapeOnce(args)
	},
}

var initDBCmd = &cobra.Command{
	Use:   "init-db",
	Short: "Create the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		db, err := database.NewDB(ctx, &cfg.Database)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer db.Close()

		if err := db.InitSchema(ctx); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
		appLog.Info("Database schema initialized")
		return nil
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

// stack holds the wired service components.
type stack struct {
	db          *database.DB
	repos       *repository.Repositories
	cache       *cache.Cache
	pipe        *pipeline.Pipeline
	hub         *push.Hub
	coordinator *coordinator.Coordinator
}

func buildStack(ctx context.Context) (*stack, error) {
	db, err := database.Initialize(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	appLog.Info("Database connection established")

	repos, err := repository.NewRepositories(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize repositories: %w", err)
	}

	engine := mapping.NewEngine(mapping.NewTables())
	oddsCache := cache.New()
	pipe := pipeline.New(&cfg.Pipeline, repos.Market, appLog)
	hub := push.NewHub(&cfg.Push, appLog)

	timeout := cfg.FetchTimeout()
	retries := cfg.Scraper.FetchRetries
	fetchers := []fetcher.Fetcher{
		fetcher.NewBetpawaFetcher(&cfg.Bookmaker.Betpawa, timeout, retries, appLog),
		fetcher.NewSportyBetFetcher(&cfg.Bookmaker.SportyBet, timeout, retries, appLog),
		fetcher.NewBet9jaFetcher(&cfg.Bookmaker.Bet9ja, timeout, retries, appLog),
	}

	coord := coordinator.New(cfg, fetchers, engine, oddsCache, pipe, hub, repos, appLog)

	return &stack{
		db:          db,
		repos:       repos,
		cache:       oddsCache,
		pipe:        pipe,
		hub:         hub,
		coordinator: coord,
	}, nil
}

func serve() error {
	metrics.InitRegistry()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := buildStack(ctx)
	if err != nil {
		return err
	}
	defer st.db.Close()

	st.pipe.Start(ctx)
	go st.hub.Run(ctx)

	sched := scheduler.New(cfg, st.coordinator, st.repos, appLog)
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	apiServer := api.NewServer(&cfg.API, st.repos, st.cache, st.coordinator, sched, st.hub.ServeWS, appLog)
	if err := apiServer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start API server: %w", err)
	}

	healthServer := health.NewServer(health.Config{
		ServiceName: cfg.App.Name,
		Version:     Version,
		Port:        cfg.API.HealthPort,
		Logger:      appLog,
		DB:          st.db,
		Scheduler:   sched,
		Cache:       st.cache,
	})
	if err := healthServer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start health server: %w", err)
	}
	healthServer.SetReady(true)

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, metrics.Handler())
		metricsServer = &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Metrics.Port),
			Handler: mux,
		}
		go func() {
			appLog.WithField("port", cfg.Metrics.Port).Info("Metrics server starting")
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				appLog.WithError(err).Error("Metrics server error")
			}
		}()
	}

	appLog.WithFields(logrus.Fields{
		"environment":      cfg.App.Environment,
		"interval_seconds": int(sched.Interval().Seconds()),
		"api_port":         cfg.API.Port,
	}).Info("OddsRadar scraper started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	appLog.WithField("signal", sig).Info("Shutdown signal received")

	healthServer.SetReady(false)

	// Stop intake first: no new cycles, then drain pending writes before
	// the servers and the database go away.
	if err := sched.Stop(); err != nil {
		appLog.WithError(err).Error("Scheduler shutdown error")
	}

	drainCtx, drainCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := st.pipe.Stop(drainCtx); err != nil {
		appLog.WithError(err).Error("Pipeline drain incomplete")
	}
	drainCancel()

	if metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			appLog.WithError(err).Error("Metrics server shutdown error")
		}
		shutdownCancel()
	}

	// Cancelling the root context closes the hub, the API server and the
	// health server.
	cancel()
	time.Sleep(time.Second)

	appLog.Info("OddsRadar scraper shut down")
	return nil
}

func scrapeOnce(args []string) error {
	metrics.InitRegistry()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := buildStack(ctx)
	if err != nil {
		return err
	}
	defer st.db.Close()

	st.pipe.Start(ctx)
	go st.hub.Run(ctx)

	if len(args) == 1 {
		extID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("external id must be numeric: %w", err)
		}
		result, err := st.coordinator.ScrapeEvent(ctx, extID)
		if err != nil {
			return fmt.Errorf("event scrape failed: %w", err)
		}
		fmt.Printf("Run %d finished: %s, %d inserted, %d updated\n",
			result.ID, result.Status, result.Counts.Inserted, result.Counts.Updated)
	} else {
		result, err := st.coordinator.RunCycle(ctx)
		if err != nil {
			return fmt.Errorf("cycle failed: %w", err)
		}
		fmt.Printf("Run %d finished: %s, %d events, %d inserted, %d updated, %d unavailable\n",
			result.ID, result.Status, result.EventsSeen,
			result.Counts.Inserted, result.Counts.Updated, result.Counts.Unavailable)
	}

	drainCtx, drainCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer drainCancel()
	return st.pipe.Stop(drainCtx)
}
