// Package models provides shared data types for the fuel price scraper.
package models

import (
	"strings"
	"time"
)

// DateLayout is the canonical calendar date format used for storage and cache keys.
const DateLayout = "2006-01-02"

// Day truncates t to its calendar date at midnight UTC.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// PriceState describes whether a fuel price was published for a station.
type PriceState string

const (
	// PriceAvailable indicates a published, parsed price.
	PriceAvailable PriceState = "available"
	// PriceUnavailable indicates the field was present but blank (fuel not sold or price omitted).
	PriceUnavailable PriceState = "unavailable"
	// PriceUnknown indicates the record did not carry the field at all.
	PriceUnknown PriceState = "unknown"
)

// Price is a single fuel price in EUR per liter.
type Price struct {
	Amount float64
	State  PriceState
}

// NewPrice returns an available price.
func NewPrice(amount float64) Price {
	return Price{Amount: amount, State: PriceAvailable}
}

// Available reports whether the price was published.
func (p Price) Available() bool {
	return p.State == PriceAvailable
}

// Float returns the amount, or 0.0 if the price is not available.
func (p Price) Float() float64 {
	if !p.Available() {
		return 0.0
	}
	return p.Amount
}

// Ptr returns a pointer to the amount, or nil if the price is not available.
// Used to persist non-available prices as NULL.
func (p Price) Ptr() *float64 {
	if !p.Available() {
		return nil
	}
	v := p.Amount
	return &v
}

// Station holds the static attributes of a service station.
type Station struct {
	// ID is the upstream IDEESS identifier.
	ID           string
	Brand        string
	PostalCode   string
	Address      string
	Latitude     string
	Longitude    string
	Municipality string
	Province     string
}

// String returns a short display name: the brand and the first two words of the address.
func (s Station) String() string {
	words := strings.Fields(s.Address)
	if len(words) > 2 {
		words = words[:2]
	}
	return strings.TrimSpace(s.Brand + " " + strings.Join(words, " "))
}

// PriceObservation holds the fuel prices of one station on one calendar date.
type PriceObservation struct {
	StationID  string
	Date       time.Time
	DieselA    Price
	DieselB    Price
	Gasoline95 Price
	Gasoline98 Price
	LPG        Price
}

// RunSummary is the outcome of one backfill run, as exposed on /status.
type RunSummary struct {
	RunID            string        `json:"run_id"`
	StartedAt        time.Time     `json:"started_at"`
	Duration         time.Duration `json:"duration_ns"`
	Dates            int           `json:"dates"`
	Completed        int           `json:"completed"`
	Skipped          int           `json:"skipped"`
	Failed           int           `json:"failed"`
	Canceled         int           `json:"canceled"`
	StationsInserted int           `json:"stations_inserted"`
	PricesInserted   int           `json:"prices_inserted"`
	RecordErrors     int           `json:"record_errors"`
}

// StatusResponse is the response for the /status endpoint.
type StatusResponse struct {
	Status           string         `json:"status"`
	UptimeSeconds    int64          `json:"uptime_seconds"`
	SchedulerRunning bool           `json:"scheduler_running"`
	NextRunAt        *time.Time     `json:"next_run_at,omitempty"`
	LastRunAt        *time.Time     `json:"last_run_at,omitempty"`
	LastRun          *RunSummary    `json:"last_run,omitempty"`
	LastError        *string        `json:"last_error,omitempty"`
	TotalRuns        int64          `json:"total_runs"`
	FailedDates      int64          `json:"failed_dates"`
	Database         DatabaseStatus `json:"database"`
}

// DatabaseStatus holds the database connection status.
type DatabaseStatus struct {
	Connected     bool  `json:"connected"`
	StationsTotal int64 `json:"stations_total"`
	PricesTotal   int64 `json:"prices_total"`
}
