package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/andygrunwald/fuel-price-scraper/internal/api/minetur"
	"github.com/andygrunwald/fuel-price-scraper/internal/cache"
	"github.com/andygrunwald/fuel-price-scraper/internal/database"
	"github.com/andygrunwald/fuel-price-scraper/internal/metrics"
	"github.com/andygrunwald/fuel-price-scraper/internal/retry"
	"github.com/andygrunwald/fuel-price-scraper/internal/scraper"
)

// app holds the components shared by all commands.
type app struct {
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	cache    *cache.Cache
	db       *database.DB
	scraper  *scraper.Scraper
}

// newApp wires fetcher, cache, database and scraper. The database is only
// opened when withDB is set.
func newApp(ctx context.Context, withDB bool, logger zerolog.Logger) (*app, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	client := minetur.New(logger, cfg.BaseURL, cfg.HTTPTimeout)
	c, err := cache.New(cfg.CacheDir, client, m, logger)
	if err != nil {
		return nil, fmt.Errorf("creating cache: %w", err)
	}

	a := &app{
		registry: registry,
		metrics:  m,
		cache:    c,
	}

	var store scraper.Store
	if withDB {
		policy := retry.DefaultPolicy()
		policy.Base = cfg.RetryBase
		policy.MaxAttempts = cfg.RetryMaxAttempts

		a.db, err = database.New(ctx, database.Options{
			Driver:      cfg.DBDriver,
			Path:        cfg.DBPath,
			DSN:         cfg.PostgresDSN,
			BusyTimeout: cfg.BusyTimeout,
			Retry:       policy,
		}, m, logger)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("connecting to database: %w", err)
		}
		store = a.db
	}

	a.scraper = scraper.New(c, store, m, logger)
	return a, nil
}

// Close releases the cache and the database connection.
func (a *app) Close() {
	if a.db != nil {
		a.db.Close()
	}
	a.cache.Close()
}
