package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/andygrunwald/fuel-price-scraper/internal/api"
	"github.com/andygrunwald/fuel-price-scraper/internal/models"
)

func scrapeCmd() *cobra.Command {
	var dateStr string
	var store bool

	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Ingest the snapshot of a single date",
		Long:  "Fetches the snapshot of one date (yesterday by default), using the response cache, and stores it.",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger()

			date, err := dayIn(time.Now(), -1)
			if err != nil {
				return err
			}
			if dateStr != "" {
				if date, err = parseDate(dateStr, "--date"); err != nil {
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

			result, err := a.scraper.IngestDate(ctx, date, api.Locality(cfg.Locality), store)
			if err != nil {
				return fmt.Errorf("scraping %s: %w", date.Format(models.DateLayout), err)
			}

			logger.Info().
				Str("date", result.Date.Format(models.DateLayout)).
				Int("records", result.Records).
				Int("stations_inserted", result.StationsInserted).
				Int("prices_inserted", result.PricesInserted).
				Int("rejected", result.Rejected).
				Msg("scrape completed")
			return nil
		},
	}

	cmd.Flags().StringVar(&dateStr, "date", "", "Date to scrape (YYYY-MM-DD, default yesterday in the configured time zone)")
	cmd.Flags().IntVar(&cfg.Locality, "locality", cfg.Locality, "Municipality id (0 = all stations)")
	cmd.Flags().BoolVar(&store, "store", true, "Normalize the snapshot and store it in the database")

	return cmd
}
