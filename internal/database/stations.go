package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/andygrunwald/fuel-price-scraper/internal/models"
)

var stationColumns = []string{"id", "brand", "postal_code", "address", "latitude", "longitude", "municipality", "province"}

// UpsertStations inserts the stations whose id is not stored yet and returns
// how many were inserted. Existing stations are never updated.
func (d *DB) UpsertStations(ctx context.Context, stations []models.Station) (int, error) {
	if len(stations) == 0 {
		return 0, nil
	}

	var inserted int
	err := d.withWriteTx(ctx, "upsert_stations", func(tx *sql.Tx) error {
		inserted = 0

		existing, err := d.existingStationIDs(ctx, tx, stations)
		if err != nil {
			return err
		}

		unseen := make([]models.Station, 0, len(stations))
		for _, s := range stations {
			if _, ok := existing[s.ID]; ok {
				continue
			}
			existing[s.ID] = struct{}{}
			unseen = append(unseen, s)
		}

		for start := 0; start < len(unseen); start += batchSize {
			batch := unseen[start:min(start+batchSize, len(unseen))]

			args := make([]any, 0, len(batch)*len(stationColumns))
			for _, s := range batch {
				args = append(args, s.ID, s.Brand, s.PostalCode, s.Address, s.Latitude, s.Longitude, s.Municipality, s.Province)
			}

			query := d.rebind(insertQuery("stations", stationColumns, len(batch), "id"))
			res, err := tx.ExecContext(ctx, query, args...)
			if err != nil {
				return fmt.Errorf("inserting stations: %w", err)
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
		Int("received", len(stations)).
		Int("inserted", inserted).
		Msg("upserted stations")

	return inserted, nil
}

func (d *DB) existingStationIDs(ctx context.Context, tx *sql.Tx, stations []models.Station) (map[string]struct{}, error) {
	existing := make(map[string]struct{}, len(stations))

	for start := 0; start < len(stations); start += batchSize {
		batch := stations[start:min(start+batchSize, len(stations))]

		args := make([]any, len(batch))
		for i, s := range batch {
			args[i] = s.ID
		}
		query := d.rebind("SELECT id FROM stations WHERE id IN (" +
			strings.TrimSuffix(strings.Repeat("?, ", len(batch)), ", ") + ")")

		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("looking up stations: %w", err)
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scanning station id: %w", err)
			}
			existing[id] = struct{}{}
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("iterating station ids: %w", err)
		}
	}

	return existing, nil
}

// GetStations returns all stored stations ordered by id.
func (d *DB) GetStations(ctx context.Context) ([]models.Station, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, brand, postal_code, address, latitude, longitude, municipality, province
		FROM stations
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("querying stations: %w", err)
	}
	defer rows.Close()

	var stations []models.Station
	for rows.Next() {
		var s models.Station
		if err := rows.Scan(&s.ID, &s.Brand, &s.PostalCode, &s.Address, &s.Latitude, &s.Longitude, &s.Municipality, &s.Province); err != nil {
			return nil, fmt.Errorf("scanning station: %w", err)
		}
		stations = append(stations, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating stations: %w", err)
	}
	return stations, nil
}

// CountStations returns the total number of stored stations.
func (d *DB) CountStations(ctx context.Context) (int64, error) {
	var count int64
	err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM stations").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting stations: %w", err)
	}
	return count, nil
}
