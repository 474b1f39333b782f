package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/andygrunwald/fuel-price-scraper/internal/api"
	"github.com/andygrunwald/fuel-price-scraper/internal/http"
	"github.com/andygrunwald/fuel-price-scraper/internal/scheduler"
)

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the continuous scraper service",
		Long: `Starts the fuel price scraper with an internal scheduler that ingests
yesterday and the lookback days before it every day at the scrape hour.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger()

			loc, err := cfg.Location()
			if err != nil {
				return err
			}

			logger.Info().
				Str("version", Version).
				Str("commit", Commit).
				Str("buildDate", BuildDate).
				Str("httpAddr", cfg.HTTPAddr).
				Str("dbDriver", cfg.DBDriver).
				Int("scrapeHour", cfg.ScrapeHour).
				Str("timezone", loc.String()).
				Msg("starting fuel price scraper")

			// Setup signal handling
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			a, err := newApp(ctx, true, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			sched := scheduler.New(a.scraper, a.db, scheduler.Config{
				ScrapeHour:       cfg.ScrapeHour,
				Location:         loc,
				Lookback:         cfg.Lookback,
				Workers:          cfg.Workers,
				Locality:         api.Locality(cfg.Locality),
				DispatchInterval: cfg.DispatchInterval,
			}, logger)

			status := http.NewStatusHandler(a.scraper, sched, a.db)
			httpServer := http.NewServer(cfg.HTTPAddr, a.registry, status, logger)

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			// Start HTTP server in goroutine
			go func() {
				if err := httpServer.Start(); err != nil {
					logger.Error().Err(err).Msg("HTTP server error")
					cancel()
				}
			}()

			// Start scheduler in goroutine
			schedDone := make(chan struct{})
			go func() {
				defer close(schedDone)
				if err := sched.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error().Err(err).Msg("scheduler error")
					cancel()
				}
			}()

			// Wait for signal
			select {
			case sig := <-sigCh:
				logger.Info().Str("signal", sig.String()).Msg("received signal, shutting down")
			case <-ctx.Done():
			}

			// Graceful shutdown
			cancel()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer shutdownCancel()

			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Error().Err(err).Msg("HTTP server shutdown error")
			}

			select {
			case <-schedDone:
			case <-shutdownCtx.Done():
				logger.Warn().Msg("scheduler did not stop in time")
			}

			logger.Info().Msg("shutdown complete")
			return nil
		},
	}

	cmd.Flags().IntVar(&cfg.ScrapeHour, "scrape-hour", cfg.ScrapeHour, "Hour of day (0-23) to scrape")
	cmd.Flags().StringVar(&cfg.Timezone, "timezone", cfg.Timezone, "Time zone of the scrape hour")
	cmd.Flags().IntVar(&cfg.Lookback, "lookback", cfg.Lookback, "Days before yesterday ingested again on every run")
	cmd.Flags().IntVar(&cfg.Workers, "workers", cfg.Workers, "Number of dates processed concurrently")
	cmd.Flags().IntVar(&cfg.Locality, "locality", cfg.Locality, "Municipality id (0 = all stations)")
	cmd.Flags().DurationVar(&cfg.DispatchInterval, "dispatch-interval", cfg.DispatchInterval, "Minimum delay between two dispatched dates")

	return cmd
}
