package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/andygrunwald/fuel-price-scraper/internal/models"
)

var priceColumns = []string{"station_id", "date", "diesel_a", "diesel_b", "gasoline_95", "gasoline_98", "lpg", "unknown_fuels"}

// fuelColumns lists the price columns in the order of priceFields.
var fuelColumns = []string{"diesel_a", "diesel_b", "gasoline_95", "gasoline_98", "lpg"}

func priceFields(o models.PriceObservation) []models.Price {
	return []models.Price{o.DieselA, o.DieselB, o.Gasoline95, o.Gasoline98, o.LPG}
}

// unknownFuels returns the comma separated columns whose price is unknown.
func unknownFuels(o models.PriceObservation) string {
	var unknown []string
	for i, p := range priceFields(o) {
		if p.State == models.PriceUnknown {
			unknown = append(unknown, fuelColumns[i])
		}
	}
	return strings.Join(unknown, ",")
}

// UpsertPrices stores the observations of one date in a single transaction
// and returns how many rows were inserted. Rows already stored for the
// same station and date are left untouched. Non-available prices are stored
// as NULL and unknown ones are additionally listed in unknown_fuels.
func (d *DB) UpsertPrices(ctx context.Context, date time.Time, observations []models.PriceObservation) (int, error) {
	if len(observations) == 0 {
		return 0, nil
	}
	day := date.Format(models.DateLayout)

	var inserted int
	err := d.withWriteTx(ctx, "upsert_prices", func(tx *sql.Tx) error {
		inserted = 0

		for start := 0; start < len(observations); start += batchSize {
			batch := observations[start:min(start+batchSize, len(observations))]

			args := make([]any, 0, len(batch)*len(priceColumns))
			for _, o := range batch {
				args = append(args, o.StationID, day,
					o.DieselA.Ptr(), o.DieselB.Ptr(), o.Gasoline95.Ptr(), o.Gasoline98.Ptr(), o.LPG.Ptr(), unknownFuels(o))
			}

			query := d.rebind(insertQuery("prices", priceColumns, len(batch), "station_id, date"))
			res, err := tx.ExecContext(ctx, query, args...)
			if err != nil {
				return fmt.Errorf("inserting prices: %w", err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("reading affected rows: %w", err)
			}
			inserted += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	d.logger.Debug().
		Str("date", day).
		Int("received", len(observations)).
		Int("inserted", inserted).
		Msg("upserted prices")

	return inserted, nil
}

// GetPrice returns the observation of a station on date, or ErrNotFound.
// Prices stored as NULL are returned as unknown when listed in unknown_fuels
// and as unavailable otherwise.
func (d *DB) GetPrice(ctx context.Context, stationID string, date time.Time) (models.PriceObservation, error) {
	query := d.rebind(`
		SELECT diesel_a, diesel_b, gasoline_95, gasoline_98, lpg, unknown_fuels
		FROM prices
		WHERE station_id = ? AND date = ?
	`)

	var dieselA, dieselB, gasoline95, gasoline98, lpg sql.NullFloat64
	var unknownList string
	err := d.db.QueryRowContext(ctx, query, stationID, date.Format(models.DateLayout)).
		Scan(&dieselA, &dieselB, &gasoline95, &gasoline98, &lpg, &unknownList)
	if errors.Is(err, sql.ErrNoRows) {
		return models.PriceObservation{}, fmt.Errorf("price for station %s on %s: %w", stationID, date.Format(models.DateLayout), ErrNotFound)
	}
	if err != nil {
		return models.PriceObservation{}, fmt.Errorf("querying price: %w", err)
	}

	var unknown []string
	if unknownList != "" {
		unknown = strings.Split(unknownList, ",")
	}
	fromNull := func(column string, v sql.NullFloat64) models.Price {
		switch {
		case v.Valid:
			return models.NewPrice(v.Float64)
		case slices.Contains(unknown, column):
			return models.Price{State: models.PriceUnknown}
		default:
			return models.Price{State: models.PriceUnavailable}
		}
	}

	return models.PriceObservation{
		StationID:  stationID,
		Date:       models.Day(date),
		DieselA:    fromNull("diesel_a", dieselA),
		DieselB:    fromNull("diesel_b", dieselB),
		Gasoline95: fromNull("gasoline_95", gasoline95),
		Gasoline98: fromNull("gasoline_98", gasoline98),
		LPG:        fromNull("lpg", lpg),
	}, nil
}

// CountPrices returns the total number of stored price observations.
func (d *DB) CountPrices(ctx context.Context) (int64, error) {
	var count int64
	err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM prices").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting prices: %w", err)
	}
	return count, nil
}

// CountPricesForDate returns the number of price observations stored for date.
func (d *DB) CountPricesForDate(ctx context.Context, date time.Time) (int64, error) {
	var count int64
	err := d.db.QueryRowContext(ctx, d.rebind("SELECT COUNT(*) FROM prices WHERE date = ?"),
		date.Format(models.DateLayout)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting prices for date: %w", err)
	}
	return count, nil
}
