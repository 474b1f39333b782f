// Package api provides the interface and types for fuel price snapshot sources.
package api

import (
	"context"
	"strconv"
	"time"
)

// Locality is an upstream municipality id (IDMunicipio). Nationwide means no filter.
type Locality int

// Nationwide requests the unfiltered snapshot of every station in the country.
const Nationwide Locality = 0

// Filtered reports whether the locality restricts the snapshot to one municipality.
func (l Locality) Filtered() bool {
	return l > 0
}

// String returns the locality id, or "all" for nationwide snapshots.
func (l Locality) String() string {
	if !l.Filtered() {
		return "all"
	}
	return strconv.Itoa(int(l))
}

// Fetcher retrieves the raw snapshot body for one calendar date.
type Fetcher interface {
	// Fetch returns the verbatim response body of the snapshot for date,
	// optionally filtered to a single locality.
	Fetch(ctx context.Context, date time.Time, locality Locality) ([]byte, error)
}
