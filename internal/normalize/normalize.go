// Package normalize converts raw upstream station records into canonical
// stations and price observations. It performs no I/O.
package normalize

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/andygrunwald/fuel-price-scraper/internal/api/minetur"
	"github.com/andygrunwald/fuel-price-scraper/internal/models"
)

// ErrMalformedRecord is returned when a single station record cannot be normalized.
var ErrMalformedRecord = errors.New("malformed station record")

// Folded upstream labels. Keys are compared after removing diacritics,
// lower-casing and collapsing whitespace, so "Rótulo" and "Rotulo" match.
const (
	keyID           = "ideess"
	keyBrand        = "rotulo"
	keyPostalCode   = "c.p."
	keyAddress      = "direccion"
	keyLatitude     = "latitud"
	keyLongitude    = "longitud (wgs84)"
	keyMunicipality = "municipio"
	keyProvince     = "provincia"
	keyDieselA      = "precio gasoleo a"
	keyDieselB      = "precio gasoleo b"
	keyGasoline95   = "precio gasolina 95 e5"
	keyGasoline98   = "precio gasolina 98 e5"
	keyLPG          = "precio gases licuados del petroleo"
)

// FoldKey removes diacritics, lower-cases and collapses whitespace in an upstream label.
func FoldKey(key string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, key)
	if err != nil {
		folded = key
	}
	return strings.Join(strings.Fields(strings.ToLower(folded)), " ")
}

// ParsePrice parses a localized decimal such as "1,459".
// A blank value is an unavailable price, which reads as 0.0 through Price.Float.
func ParsePrice(raw string) (models.Price, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return models.Price{State: models.PriceUnavailable}, nil
	}

	v, err := strconv.ParseFloat(strings.ReplaceAll(raw, ",", "."), 64)
	if err != nil {
		return models.Price{}, fmt.Errorf("parsing price %q: %w", raw, err)
	}
	if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return models.Price{}, fmt.Errorf("invalid price %q", raw)
	}
	return models.NewPrice(v), nil
}

// fields is a record indexed by folded label.
type fields map[string]string

func fold(raw map[string]any) fields {
	f := make(fields, len(raw))
	for k, v := range raw {
		f[FoldKey(k)] = stringValue(v)
	}
	return f
}

func stringValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

func (f fields) require(keys ...string) error {
	for _, k := range keys {
		if _, ok := f[k]; !ok {
			return fmt.Errorf("missing field %q", k)
		}
	}
	return nil
}

func (f fields) price(key string) (models.Price, error) {
	raw, ok := f[key]
	if !ok {
		return models.Price{State: models.PriceUnknown}, nil
	}
	return ParsePrice(raw)
}

// Record normalizes one upstream station record observed on date.
// Errors wrap ErrMalformedRecord.
func Record(raw map[string]any, date time.Time) (models.Station, models.PriceObservation, error) {
	f := fold(raw)

	id := strings.TrimSpace(f[keyID])
	if id == "" {
		return models.Station{}, models.PriceObservation{}, fmt.Errorf("%w: missing station id", ErrMalformedRecord)
	}
	if err := f.require(keyBrand, keyPostalCode, keyAddress, keyLatitude, keyLongitude, keyMunicipality, keyProvince); err != nil {
		return models.Station{}, models.PriceObservation{}, fmt.Errorf("%w: station %s: %v", ErrMalformedRecord, id, err)
	}

	station := models.Station{
		ID:           id,
		Brand:        strings.TrimSpace(f[keyBrand]),
		PostalCode:   strings.TrimSpace(f[keyPostalCode]),
		Address:      strings.TrimSpace(f[keyAddress]),
		Latitude:     strings.TrimSpace(f[keyLatitude]),
		Longitude:    strings.TrimSpace(f[keyLongitude]),
		Municipality: strings.TrimSpace(f[keyMunicipality]),
		Province:     strings.TrimSpace(f[keyProvince]),
	}

	obs := models.PriceObservation{
		StationID: id,
		Date:      models.Day(date),
	}
	targets := []struct {
		key string
		dst *models.Price
	}{
		{keyDieselA, &obs.DieselA},
		{keyDieselB, &obs.DieselB},
		{keyGasoline95, &obs.Gasoline95},
		{keyGasoline98, &obs.Gasoline98},
		{keyLPG, &obs.LPG},
	}
	for _, t := range targets {
		p, err := f.price(t.key)
		if err != nil {
			return models.Station{}, models.PriceObservation{}, fmt.Errorf("%w: station %s: %v", ErrMalformedRecord, id, err)
		}
		*t.dst = p
	}

	return station, obs, nil
}

// Result holds a normalized snapshot.
type Result struct {
	Stations     []models.Station
	Observations []models.PriceObservation
	// Rejected holds one error per record that could not be normalized.
	Rejected []error
}

// Snapshot normalizes every record of a date. A malformed record is rejected
// on its own; the remaining records are still returned. Duplicate station ids
// within one snapshot keep the first occurrence; later ones are rejected.
func Snapshot(records []minetur.Record, date time.Time) Result {
	res := Result{
		Stations:     make([]models.Station, 0, len(records)),
		Observations: make([]models.PriceObservation, 0, len(records)),
	}
	seen := make(map[string]struct{}, len(records))

	for i, rec := range records {
		station, obs, err := Record(rec, date)
		if err != nil {
			res.Rejected = append(res.Rejected, fmt.Errorf("record %d: %w", i, err))
			continue
		}
		if _, dup := seen[station.ID]; dup {
			res.Rejected = append(res.Rejected, fmt.Errorf("record %d: %w: duplicate station id %s", i, ErrMalformedRecord, station.ID))
			continue
		}
		seen[station.ID] = struct{}{}
		res.Stations = append(res.Stations, station)
		res.Observations = append(res.Observations, obs)
	}

	return res
}
