// Package scheduler provides a daily scheduler for fuel price ingests.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/andygrunwald/fuel-price-scraper/internal/api"
	"github.com/andygrunwald/fuel-price-scraper/internal/models"
	"github.com/andygrunwald/fuel-price-scraper/internal/scraper"
)

// Runner runs a backfill.
type Runner interface {
	Backfill(ctx context.Context, cfg scraper.RunConfig) (scraper.Summary, error)
}

// PriceCounter reports how many prices are stored for a date.
type PriceCounter interface {
	CountPricesForDate(ctx context.Context, date time.Time) (int64, error)
}

// Config configures the daily run.
type Config struct {
	// ScrapeHour is the hour of day (0-23) in Location at which the daily run starts.
	ScrapeHour int
	// Location is the time zone of ScrapeHour and of "yesterday". Defaults to UTC.
	Location *time.Location
	// Lookback is the number of days before yesterday that are ingested again.
	Lookback int
	Workers  int
	Locality api.Locality
	// DispatchInterval paces dispatch of the dates of one run.
	DispatchInterval time.Duration
}

// Scheduler manages the daily ingest schedule.
type Scheduler struct {
	runner  Runner
	counter PriceCounter
	cfg     Config
	now     func() time.Time
	logger  zerolog.Logger

	mu        sync.RWMutex
	nextRunAt time.Time
	lastRunAt *time.Time
	running   bool
}

// New creates a new Scheduler.
func New(runner Runner, counter PriceCounter, cfg Config, logger zerolog.Logger) *Scheduler {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Scheduler{
		runner:  runner,
		counter: counter,
		cfg:     cfg,
		now:     time.Now,
		logger:  logger.With().Str("component", "scheduler").Logger(),
	}
}

// Start starts the scheduler and blocks until the context is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	s.logger.Info().
		Int("scrape_hour", s.cfg.ScrapeHour).
		Str("timezone", s.cfg.Location.String()).
		Int("lookback", s.cfg.Lookback).
		Msg("starting scheduler")

	// Catch up right away when yesterday is not stored yet
	s.runIfNeeded(ctx)

	nextRun := s.calculateNextRunTime()
	s.setNextRun(nextRun)

	timer := time.NewTimer(s.until(nextRun))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("scheduler stopped")
			return ctx.Err()
		case <-timer.C:
			s.run(ctx)

			nextRun = s.calculateNextRunTime()
			s.setNextRun(nextRun)
			timer.Reset(s.until(nextRun))
		}
	}
}

func (s *Scheduler) setNextRun(next time.Time) {
	s.mu.Lock()
	s.nextRunAt = next
	s.mu.Unlock()

	s.logger.Info().
		Time("next_run", next).
		Dur("duration", s.until(next)).
		Msg("next run scheduled")
}

func (s *Scheduler) until(t time.Time) time.Duration {
	return t.Sub(s.now())
}

// calculateNextRunTime returns the next occurrence of the scrape hour.
func (s *Scheduler) calculateNextRunTime() time.Time {
	now := s.now().In(s.cfg.Location)

	next := time.Date(now.Year(), now.Month(), now.Day(), s.cfg.ScrapeHour, 0, 0, 0, s.cfg.Location)
	if !now.Before(next) {
		next = time.Date(now.Year(), now.Month(), now.Day()+1, s.cfg.ScrapeHour, 0, 0, 0, s.cfg.Location)
	}
	return next
}

// yesterday returns the most recent complete calendar day in the configured location.
func (s *Scheduler) yesterday() time.Time {
	return models.Day(s.now().In(s.cfg.Location)).AddDate(0, 0, -1)
}

// runIfNeeded runs immediately when no prices are stored for yesterday.
func (s *Scheduler) runIfNeeded(ctx context.Context) {
	yesterday := s.yesterday()
	day := yesterday.Format(models.DateLayout)

	count, err := s.counter.CountPricesForDate(ctx, yesterday)
	if err != nil {
		s.logger.Error().Err(err).Str("date", day).Msg("failed to check stored prices")
		return
	}
	if count > 0 {
		s.logger.Info().
			Str("date", day).
			Int64("prices", count).
			Msg("already ingested, skipping initial run")
		return
	}

	s.logger.Info().Str("date", day).Msg("no prices for yesterday, running initial ingest")
	s.run(ctx)
}

// run ingests yesterday and the lookback days before it.
func (s *Scheduler) run(ctx context.Context) {
	now := s.now()
	s.mu.Lock()
	s.lastRunAt = &now
	s.mu.Unlock()

	cfg := scraper.RunConfig{
		EndDate:          s.yesterday(),
		Days:             s.cfg.Lookback,
		Workers:          s.cfg.Workers,
		Locality:         s.cfg.Locality,
		Store:            true,
		DispatchInterval: s.cfg.DispatchInterval,
	}

	s.logger.Info().
		Str("end_date", cfg.EndDate.Format(models.DateLayout)).
		Int("days", cfg.Days).
		Msg("running scheduled ingest")

	summary, err := s.runner.Backfill(ctx, cfg)
	if err != nil {
		s.logger.Error().Err(err).Msg("scheduled ingest failed")
		return
	}
	if summary.Failed > 0 {
		s.logger.Warn().
			Err(summary.Err).
			Int("failed", summary.Failed).
			Msg("scheduled ingest completed with failures")
		return
	}
	s.logger.Info().
		Str("run_id", summary.RunID).
		Int("completed", summary.Completed).
		Msg("scheduled ingest completed")
}

// NextRunAt returns the time of the next scheduled run.
func (s *Scheduler) NextRunAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextRunAt
}

// LastRunAt returns the start time of the last run.
func (s *Scheduler) LastRunAt() *time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastRunAt
}

// IsRunning returns whether the scheduler is currently running.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}
