// Package scheduler owns the timing surface: the recurring scrape
// cycle, the daily retention cleanup, and the watchdog that fails
// abandoned runs.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/yourusername/oddsradar/internal/config"
	"github.com/yourusername/oddsradar/internal/coordinator"
	"github.com/yourusername/oddsradar/internal/metrics"
	"github.com/yourusername/oddsradar/internal/models"
	"github.com/yourusername/oddsradar/internal/repository"
)

// minIntervalSeconds is the floor for the configurable cycle interval.
const minIntervalSeconds = 30

// CycleRunner is the coordinator surface the scheduler drives.
type CycleRunner interface {
	RunCycle(ctx context.Context) (*models.ScrapeRun, error)
}

// Scheduler manages the recurring jobs. All cron entries run in UTC.
type Scheduler struct {
	cfg    *config.Config
	runner CycleRunner
	repos  *repository.Repositories
	logger *logrus.Entry

	mu              sync.RWMutex
	cron            *cron.Cron
	running         bool
	paused          bool
	interval        time.Duration
	cycleJobID      cron.EntryID
	gracefulTimeout time.Duration
}

// New creates a scheduler. Start must be called to arm the jobs.
func New(cfg *config.Config, runner CycleRunner, repos *repository.Repositories, logger *logrus.Logger) *Scheduler {
	return &Scheduler{
		cfg:             cfg,
		runner:          runner,
		repos:           repos,
		logger:          logger.WithField("component", "scheduler"),
		cron:            cron.New(cron.WithLocation(time.UTC)),
		interval:        cfg.ScrapeInterval(),
		gracefulTimeout: 30 * time.Second,
	}
}

// Start arms the cycle, cleanup and watchdog jobs and starts the cron
// runner. Any RUNNING run left over from a previous process is rewritten
// to FAILED first, and a persisted interval overrides the configured one.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("scheduler is already running")
	}

	if n, err := s.repos.ScrapeRun.FailStale(ctx, time.Now()); err != nil {
		s.logger.WithError(err).Warn("Failed to rewrite stale runs on startup")
	} else if n > 0 {
		s.logger.WithField("runs", n).Warn("Rewrote RUNNING runs from a previous process to FAILED")
	}

	if v, err := s.repos.Settings.Get(ctx, repository.SettingScrapeInterval); err == nil {
		if seconds, err := strconv.Atoi(v); err == nil && seconds >= minIntervalSeconds {
			s.interval = time.Duration(seconds) * time.Second
		}
	}

	id, err := s.cron.AddFunc(fmt.Sprintf("@every %ds", int(s.interval.Seconds())), s.cycleJob)
	if err != nil {
		return fmt.Errorf("scheduling cycle job: %w", err)
	}
	s.cycleJobID = id

	hour, minute, err := parseCleanupTime(s.cfg.Retention.CleanupTime)
	if err != nil {
		return fmt.Errorf("invalid cleanup time: %w", err)
	}
	if _, err := s.cron.AddFunc(fmt.Sprintf("%d %d * * *", minute, hour), s.cleanupJob); err != nil {
		return fmt.Errorf("scheduling cleanup job: %w", err)
	}

	watchdogEvery := time.Duration(s.cfg.Scraper.WatchdogIntervalMins) * time.Minute
	if _, err := s.cron.AddFunc(fmt.Sprintf("@every %ds", int(watchdogEvery.Seconds())), s.watchdogJob); err != nil {
		return fmt.Errorf("scheduling watchdog job: %w", err)
	}

	s.cron.Start()
	s.running = true
	s.logger.WithFields(logrus.Fields{
		"interval":     s.interval,
		"cleanup_time": s.cfg.Retention.CleanupTime,
	}).Info("Scheduler started")
	return nil
}

// Stop halts the cron runner and waits for in-flight jobs up to the
// graceful timeout.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	select {
	case <-s.cron.Stop().Done():
	case <-time.After(s.gracefulTimeout):
		s.logger.Warn("Scheduler stop timed out waiting for jobs")
	}
	s.running = false
	s.logger.Info("Scheduler stopped")
	return nil
}

// Pause suspends cycle runs without unscheduling them. Cleanup and the
// watchdog keep running.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = true
	s.logger.Info("Scrape cycles paused")
}

// Resume re-enables cycle runs.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = false
	s.logger.Info("Scrape cycles resumed")
}

// Paused reports whether cycle runs are suspended.
func (s *Scheduler) Paused() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.paused
}

// IsRunning reports whether the cron runner is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Interval returns the current cycle interval.
func (s *Scheduler) Interval() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.interval
}

// TriggerNow runs one cycle immediately, outside the schedule. A cycle
// already in flight surfaces as coordinator.ErrCycleInProgress.
func (s *Scheduler) TriggerNow(ctx context.Context) (*models.ScrapeRun, error) {
	return s.runner.RunCycle(ctx)
}

// SetInterval reschedules the cycle job and persists the new interval so
// a restart resumes with it.
func (s *Scheduler) SetInterval(ctx context.Context, seconds int) error {
	if seconds < minIntervalSeconds {
		return fmt.Errorf("%w: interval must be at least %ds", models.ErrInvalidInput, minIntervalSeconds)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.repos.Settings.Set(ctx, repository.SettingScrapeInterval, strconv.Itoa(seconds)); err != nil {
		return fmt.Errorf("persisting interval: %w", err)
	}

	s.interval = time.Duration(seconds) * time.Second
	if s.running {
		s.cron.Remove(s.cycleJobID)
		id, err := s.cron.AddFunc(fmt.Sprintf("@every %ds", seconds), s.cycleJob)
		if err != nil {
			return fmt.Errorf("rescheduling cycle job: %w", err)
		}
		s.cycleJobID = id
	}

	s.logger.WithField("interval_seconds", seconds).Info("Scrape interval updated")
	return nil
}

// cycleJob runs one scheduled scrape cycle. Overlap is impossible: the
// coordinator rejects a second cycle and the overrun slot is skipped.
func (s *Scheduler) cycleJob() {
	if s.Paused() {
		s.logger.Debug("Cycle skipped, scheduler paused")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.CycleDeadline()+time.Minute)
	defer cancel()

	if _, err := s.runner.RunCycle(ctx); err != nil {
		if errors.Is(err, coordinator.ErrCycleInProgress) {
			s.logger.Info("Cycle skipped, previous cycle still running")
			return
		}
		s.logger.WithError(err).Error("Scheduled cycle failed")
	}
}

// cleanupJob trims history and events older than the retention window.
func (s *Scheduler) cleanupJob() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	days := s.retentionDays(ctx)
	cutoff := models.NaiveUTC(time.Now()).AddDate(0, 0, -days)

	history, err := s.repos.Market.DeleteHistoryBefore(ctx, cutoff)
	if err != nil {
		s.logger.WithError(err).Error("History cleanup failed")
		return
	}
	events, err := s.repos.Event.DeleteKickedOffBefore(ctx, cutoff)
	if err != nil {
		s.logger.WithError(err).Error("Event cleanup failed")
		return
	}
	s.logger.WithFields(logrus.Fields{
		"retention_days": days,
		"history_rows":   history,
		"events":         events,
	}).Info("Retention cleanup complete")
}

// watchdogJob fails runs that have been RUNNING longer than the
// threshold. It catches crashed or wedged cycles.
func (s *Scheduler) watchdogJob() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	threshold := time.Duration(s.cfg.Scraper.WatchdogThresholdMins) * time.Minute
	n, err := s.repos.ScrapeRun.FailStale(ctx, time.Now().Add(-threshold))
	if err != nil {
		s.logger.WithError(err).Error("Watchdog scan failed")
		return
	}
	for i := int64(0); i < n; i++ {
		metrics.RecordWatchdogRestart()
	}
	if n > 0 {
		s.logger.WithField("runs", n).Warn("Watchdog failed stale runs")
	}
}

// retentionDays resolves the retention window: persisted setting first,
// configuration fallback, clamped to the 1-90 day bounds.
func (s *Scheduler) retentionDays(ctx context.Context) int {
	days := s.cfg.Retention.Days
	if v, err := s.repos.Settings.Get(ctx, repository.SettingRetentionDays); err == nil {
		if parsed, err := strconv.Atoi(v); err == nil {
			days = parsed
		}
	}
	if days < 1 {
		days = 1
	}
	if days > 90 {
		days = 90
	}
	return days
}

// parseCleanupTime parses a "HH:MM" wall-clock time.
func parseCleanupTime(v string) (hour, minute int, err error) {
	parts := strings.SplitN(v, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("expected HH:MM, got %q", v)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("bad hour in %q", v)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("bad minute in %q", v)
	}
	return hour, minute, nil
}
