// Package scraper orchestrates fetching, normalizing and storing daily fuel price snapshots.
package scraper

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/andygrunwald/fuel-price-scraper/internal/api"
	"github.com/andygrunwald/fuel-price-scraper/internal/api/minetur"
	"github.com/andygrunwald/fuel-price-scraper/internal/metrics"
	"github.com/andygrunwald/fuel-price-scraper/internal/models"
	"github.com/andygrunwald/fuel-price-scraper/internal/normalize"
	"github.com/andygrunwald/fuel-price-scraper/internal/workerpool"
)

// Source provides raw daily snapshots, typically the response cache.
type Source interface {
	GetOrFetch(ctx context.Context, date time.Time, locality api.Locality) ([]byte, error)
	Refresh(ctx context.Context, date time.Time, locality api.Locality) ([]byte, error)
	Exists(date time.Time, locality api.Locality) bool
}

// Store persists normalized snapshots.
type Store interface {
	UpsertStations(ctx context.Context, stations []models.Station) (int, error)
	UpsertPrices(ctx context.Context, date time.Time, observations []models.PriceObservation) (int, error)
}

// ErrNoStore is returned when storing is requested but no store is configured.
var ErrNoStore = errors.New("no store configured")

// DateResult is the outcome of ingesting one date.
type DateResult struct {
	Date             time.Time
	Records          int
	StationsInserted int
	PricesInserted   int
	Rejected         int
}

// Status is a thread-safe copy of the scraper's run history.
type Status struct {
	TotalRuns   int64
	FailedDates int64
	LastRun     *models.RunSummary
	LastError   *string
}

// Scraper runs ingests of daily snapshots.
type Scraper struct {
	source  Source
	store   Store
	metrics *metrics.Metrics
	logger  zerolog.Logger

	mu     sync.RWMutex
	status Status
}

// New creates a new Scraper. store may be nil when only downloading.
func New(source Source, store Store, m *metrics.Metrics, logger zerolog.Logger) *Scraper {
	return &Scraper{
		source:  source,
		store:   store,
		metrics: m,
		logger:  logger.With().Str("component", "scraper").Logger(),
	}
}

// Status returns a snapshot of the run history.
func (s *Scraper) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// IngestDate loads the snapshot of date, from the cache when present, and
// stores it when store is set.
func (s *Scraper) IngestDate(ctx context.Context, date time.Time, locality api.Locality, store bool) (DateResult, error) {
	return s.ingest(ctx, models.Day(date), locality, store, false, s.logger)
}

func (s *Scraper) ingest(ctx context.Context, date time.Time, locality api.Locality, store, refresh bool, logger zerolog.Logger) (DateResult, error) {
	result := DateResult{Date: date}
	day := date.Format(models.DateLayout)

	if store && s.store == nil {
		return result, ErrNoStore
	}

	var (
		body []byte
		err  error
	)
	if refresh {
		body, err = s.source.Refresh(ctx, date, locality)
	} else {
		body, err = s.source.GetOrFetch(ctx, date, locality)
	}
	if err != nil {
		return result, fmt.Errorf("loading snapshot: %w", err)
	}

	if !store {
		logger.Info().
			Str("date", day).
			Stringer("locality", locality).
			Int("bytes", len(body)).
			Msg("snapshot downloaded")
		return result, nil
	}

	snapshot, err := minetur.Decode(body)
	if err != nil {
		return result, fmt.Errorf("decoding snapshot: %w", err)
	}
	result.Records = len(snapshot.Stations)

	normalized := normalize.Snapshot(snapshot.Stations, date)
	result.Rejected = len(normalized.Rejected)
	s.metrics.RecordRejectedRecords(result.Rejected)
	for _, rerr := range normalized.Rejected {
		logger.Warn().Err(rerr).Str("date", day).Msg("rejected station record")
	}

	result.StationsInserted, err = s.store.UpsertStations(ctx, normalized.Stations)
	if err != nil {
		return result, fmt.Errorf("storing stations: %w", err)
	}
	result.PricesInserted, err = s.store.UpsertPrices(ctx, date, normalized.Observations)
	if err != nil {
		return result, fmt.Errorf("storing prices: %w", err)
	}
	s.metrics.RecordIngestedDate(date)

	logger.Info().
		Str("date", day).
		Stringer("locality", locality).
		Int("records", result.Records).
		Int("rejected", result.Rejected).
		Int("stations_inserted", result.StationsInserted).
		Int("prices_inserted", result.PricesInserted).
		Msg("snapshot stored")

	return result, nil
}

// Backfill ingests every date of cfg on a bounded worker pool. A failing date
// is counted and logged but never stops the others. When ctx is done no
// further dates are dispatched; the returned error is then the context error.
func (s *Scraper) Backfill(ctx context.Context, cfg RunConfig) (Summary, error) {
	if err := cfg.Validate(); err != nil {
		return Summary{}, err
	}
	if cfg.Store && s.store == nil {
		return Summary{}, ErrNoStore
	}

	dates := cfg.Dates()
	summary := Summary{
		RunID:     uuid.NewString(),
		StartedAt: time.Now(),
		Dates:     len(dates),
	}
	logger := s.logger.With().Str("run_id", summary.RunID).Logger()

	logger.Info().
		Str("from", dates[0].Format(models.DateLayout)).
		Str("to", dates[len(dates)-1].Format(models.DateLayout)).
		Stringer("locality", cfg.Locality).
		Int("workers", cfg.Workers).
		Bool("store", cfg.Store).
		Bool("refresh", cfg.Refresh).
		Msg("starting backfill")

	var limiter *rate.Limiter
	if cfg.DispatchInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(cfg.DispatchInterval), 1)
	}

	var (
		mu   sync.Mutex
		errs *multierror.Error
	)
	pool := workerpool.New(cfg.Workers)

	var stopErr error
	for i, date := range dates {
		day := date.Format(models.DateLayout)

		stopErr = ctx.Err()
		if stopErr == nil && limiter != nil {
			// Wait fails early when the next slot lies beyond the deadline of ctx.
			if err := limiter.Wait(ctx); err != nil {
				stopErr = cmp.Or(ctx.Err(), fmt.Errorf("waiting for dispatch: %w: %w", context.DeadlineExceeded, err))
			}
		}
		if stopErr != nil {
			remaining := len(dates) - i
			mu.Lock()
			summary.Canceled += remaining
			mu.Unlock()
			for range remaining {
				s.metrics.RecordDate(metrics.OutcomeCanceled)
			}
			logger.Warn().Str("date", day).Int("remaining", remaining).Msg("backfill canceled, stopping dispatch")
			break
		}

		if !cfg.Store && !cfg.Refresh && s.source.Exists(date, cfg.Locality) {
			mu.Lock()
			summary.Skipped++
			mu.Unlock()
			s.metrics.RecordDate(metrics.OutcomeSkipped)
			logger.Debug().Str("date", day).Msg("snapshot already cached, skipping")
			continue
		}

		pool.Submit(func() {
			result, err := s.ingest(ctx, date, cfg.Locality, cfg.Store, cfg.Refresh, logger)

			mu.Lock()
			defer mu.Unlock()
			summary.StationsInserted += result.StationsInserted
			summary.PricesInserted += result.PricesInserted
			summary.RecordErrors += result.Rejected

			switch {
			case err == nil:
				summary.Completed++
				s.metrics.RecordDate(metrics.OutcomeCompleted)
			case ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)):
				summary.Canceled++
				s.metrics.RecordDate(metrics.OutcomeCanceled)
				logger.Warn().Err(err).Str("date", day).Msg("date canceled")
			default:
				summary.Failed++
				errs = multierror.Append(errs, fmt.Errorf("%s: %w", day, err))
				s.metrics.RecordDate(metrics.OutcomeFailed)
				logger.Error().Err(err).Str("date", day).Msg("failed to ingest date")
			}
		})
	}
	pool.Wait()

	summary.Duration = time.Since(summary.StartedAt)
	summary.Err = errs.ErrorOrNil()
	s.recordRun(summary)

	logger.Info().
		Int("dates", summary.Dates).
		Int("completed", summary.Completed).
		Int("skipped", summary.Skipped).
		Int("failed", summary.Failed).
		Int("canceled", summary.Canceled).
		Int("stations_inserted", summary.StationsInserted).
		Int("prices_inserted", summary.PricesInserted).
		Int("record_errors", summary.RecordErrors).
		Dur("duration", summary.Duration).
		Msg("backfill completed")

	if summary.Canceled > 0 {
		return summary, cmp.Or(ctx.Err(), stopErr)
	}
	return summary, nil
}

func (s *Scraper) recordRun(summary Summary) {
	run := summary.Model()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.TotalRuns++
	s.status.FailedDates += int64(summary.Failed)
	s.status.LastRun = &run
	if summary.Err != nil {
		msg := summary.Err.Error()
		s.status.LastError = &msg
	} else {
		s.status.LastError = nil
	}
}
