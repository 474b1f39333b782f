package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/andygrunwald/fuel-price-scraper/internal/models"
	"github.com/andygrunwald/fuel-price-scraper/internal/scraper"
)

// RunHistory reports the scraper's past runs.
type RunHistory interface {
	Status() scraper.Status
}

// Schedule reports the state of the daily scheduler.
type Schedule interface {
	IsRunning() bool
	NextRunAt() time.Time
	LastRunAt() *time.Time
}

// Store reports the state of the database.
type Store interface {
	Ping(ctx context.Context) error
	CountStations(ctx context.Context) (int64, error)
	CountPrices(ctx context.Context) (int64, error)
}

// StatusHandler handles the /status endpoint.
type StatusHandler struct {
	runs      RunHistory
	schedule  Schedule
	store     Store
	startTime time.Time
}

// NewStatusHandler creates a new StatusHandler. schedule and store may be nil.
func NewStatusHandler(runs RunHistory, schedule Schedule, store Store) *StatusHandler {
	return &StatusHandler{
		runs:      runs,
		schedule:  schedule,
		store:     store,
		startTime: time.Now(),
	}
}

// ServeHTTP implements the http.Handler interface.
func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	response := models.StatusResponse{
		Status:        "healthy",
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
	}

	// Get scheduler status
	if h.schedule != nil {
		response.SchedulerRunning = h.schedule.IsRunning()
		response.LastRunAt = h.schedule.LastRunAt()
		nextRun := h.schedule.NextRunAt()
		if !nextRun.IsZero() {
			response.NextRunAt = &nextRun
		}
	}

	// Get run history
	if h.runs != nil {
		status := h.runs.Status()
		response.TotalRuns = status.TotalRuns
		response.FailedDates = status.FailedDates
		response.LastRun = status.LastRun
		response.LastError = status.LastError
	}

	// Get database status
	response.Database = h.getDatabaseStatus(ctx)
	if !response.Database.Connected {
		response.Status = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
		return
	}
}

func (h *StatusHandler) getDatabaseStatus(ctx context.Context) models.DatabaseStatus {
	status := models.DatabaseStatus{
		Connected: false,
	}

	if h.store == nil {
		return status
	}

	// Check database connection
	if err := h.store.Ping(ctx); err != nil {
		return status
	}
	status.Connected = true

	if count, err := h.store.CountStations(ctx); err == nil {
		status.StationsTotal = count
	}
	if count, err := h.store.CountPrices(ctx); err == nil {
		status.PricesTotal = count
	}

	return status
}
