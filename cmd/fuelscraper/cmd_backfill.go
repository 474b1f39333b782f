package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/andygrunwald/fuel-price-scraper/internal/api"
	"github.com/andygrunwald/fuel-price-scraper/internal/models"
	"github.com/andygrunwald/fuel-price-scraper/internal/scraper"
)

func backfillCmd() *cobra.Command {
	var endDateStr string
	var days int
	var store, refresh bool

	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Download and optionally store a range of daily snapshots",
		Long: `Downloads the daily snapshots of the dates from --end-date minus --days up to
--end-date into the response cache. Cached dates are skipped unless --refresh
or --store is given. With --store every snapshot is normalized and written to
the database.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger()

			endDate, err := dayIn(time.Now(), 0)
			if err != nil {
				return err
			}
			if endDateStr != "" {
				if endDate, err = parseDate(endDateStr, "--end-date"); err != nil {
					return err
				}
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, store, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			runCfg := scraper.RunConfig{
				EndDate:          endDate,
				Days:             days,
				Workers:          cfg.Workers,
				Locality:         api.Locality(cfg.Locality),
				Store:            store,
				Refresh:          refresh,
				DispatchInterval: cfg.DispatchInterval,
			}

			logger.Info().
				Str("end_date", endDate.Format(models.DateLayout)).
				Int("days", days).
				Int("workers", runCfg.Workers).
				Str("locality", runCfg.Locality.String()).
				Bool("store", store).
				Bool("refresh", refresh).
				Msg("starting backfill")

			summary, err := a.scraper.Backfill(ctx, runCfg)
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("backfill: %w", err)
			}

			logger.Info().
				Str("run_id", summary.RunID).
				Int("completed", summary.Completed).
				Int("skipped", summary.Skipped).
				Int("failed", summary.Failed).
				Int("canceled", summary.Canceled).
				Int("stations_inserted", summary.StationsInserted).
				Int("prices_inserted", summary.PricesInserted).
				Int("record_errors", summary.RecordErrors).
				Dur("duration", summary.Duration).
				Msg("backfill finished")

			if summary.Failed > 0 {
				return fmt.Errorf("%d of %d dates failed: %w", summary.Failed, summary.Dates, summary.Err)
			}
			if err != nil {
				return fmt.Errorf("backfill interrupted, %d dates not processed", summary.Canceled)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&endDateStr, "end-date", "", "Last date of the range (YYYY-MM-DD, default today in the configured time zone)")
	cmd.Flags().IntVar(&days, "days", 15, "Number of days before the end date to include")
	cmd.Flags().IntVar(&cfg.Workers, "workers", cfg.Workers, "Number of dates processed concurrently")
	cmd.Flags().IntVar(&cfg.Locality, "locality", cfg.Locality, "Municipality id (0 = all stations)")
	cmd.Flags().DurationVar(&cfg.DispatchInterval, "dispatch-interval", cfg.DispatchInterval, "Minimum delay between two dispatched dates")
	cmd.Flags().BoolVar(&store, "store", false, "Normalize snapshots and store them in the database")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "Download snapshots again even when cached")

	return cmd
}

// dayIn returns the calendar day of now in the configured time zone,
// shifted by offset days.
func dayIn(now time.Time, offset int) (time.Time, error) {
	loc, err := cfg.Location()
	if err != nil {
		return time.Time{}, err
	}
	return models.Day(now.In(loc)).AddDate(0, 0, offset), nil
}

// parseDate parses a YYYY-MM-DD flag value.
func parseDate(value, flag string) (time.Time, error) {
	date, err := time.Parse(models.DateLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing %s date: %w", flag, err)
	}
	return date, nil
}
