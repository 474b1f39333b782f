package scraper

import (
	"fmt"
	"time"

	"github.com/andygrunwald/fuel-price-scraper/internal/api"
	"github.com/andygrunwald/fuel-price-scraper/internal/models"
)

// MaxDays bounds RunConfig.Days. The upstream history does not reach further back.
const MaxDays = 10000

// RunConfig describes one backfill run. It is passed by value and never
// modified during the run.
type RunConfig struct {
	// EndDate is the last date of the range.
	EndDate time.Time
	// Days is the number of days before EndDate to include. The range has Days+1 dates.
	Days int
	// Workers bounds the number of dates processed concurrently.
	Workers int
	// Locality restricts snapshots to one municipality. api.Nationwide fetches all stations.
	Locality api.Locality
	// Store normalizes and persists snapshots. Without it snapshots are only downloaded.
	Store bool
	// Refresh fetches snapshots even when they are cached.
	Refresh bool
	// DispatchInterval is the minimum time between two dispatched dates. 0 disables pacing.
	DispatchInterval time.Duration
}

// Validate checks that the configuration describes a runnable range.
func (c RunConfig) Validate() error {
	if c.EndDate.IsZero() {
		return fmt.Errorf("end date must be set")
	}
	if c.Days < 0 {
		return fmt.Errorf("days must not be negative, got %d", c.Days)
	}
	if c.Days > MaxDays {
		return fmt.Errorf("days must not exceed %d, got %d", MaxDays, c.Days)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.Locality < 0 {
		return fmt.Errorf("locality must not be negative, got %d", c.Locality)
	}
	if c.DispatchInterval < 0 {
		return fmt.Errorf("dispatch interval must not be negative, got %s", c.DispatchInterval)
	}
	return nil
}

// Dates returns every date from EndDate-Days to EndDate inclusive, ascending.
func (c RunConfig) Dates() []time.Time {
	end := models.Day(c.EndDate)
	dates := make([]time.Time, 0, c.Days+1)
	for i := c.Days; i >= 0; i-- {
		dates = append(dates, end.AddDate(0, 0, -i))
	}
	return dates
}

// Summary reports the outcome of a backfill run.
type Summary struct {
	RunID            string
	StartedAt        time.Time
	Duration         time.Duration
	Dates            int
	Completed        int
	Skipped          int
	Failed           int
	Canceled         int
	StationsInserted int
	PricesInserted   int
	RecordErrors     int
	// Err aggregates the errors of failed dates.
	Err error
}

// Model converts the summary to its status representation.
func (s Summary) Model() models.RunSummary {
	return models.RunSummary{
		RunID:            s.RunID,
		StartedAt:        s.StartedAt,
		Duration:         s.Duration,
		Dates:            s.Dates,
		Completed:        s.Completed,
		Skipped:          s.Skipped,
		Failed:           s.Failed,
		Canceled:         s.Canceled,
		StationsInserted: s.StationsInserted,
		PricesInserted:   s.PricesInserted,
		RecordErrors:     s.RecordErrors,
	}
}
