// Package minetur provides an API client for the Spanish Ministry fuel price history service.
package minetur

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/andygrunwald/fuel-price-scraper/internal/api"
	"github.com/andygrunwald/fuel-price-scraper/internal/useragent"
)

const (
	// ProviderName is the identifier for this provider.
	ProviderName = "minetur"
	// DefaultBaseURL is the historical snapshot endpoint for land service stations.
	DefaultBaseURL = "https://sedeaplicaciones.minetur.gob.es/ServiciosRESTCarburantes/PreciosCarburantes/EstacionesTerrestresHist"
	// dateLayout is the date format expected in request paths (DD-MM-YYYY).
	dateLayout = "02-01-2006"
)

// ErrMissingStationList is returned when a response has no ListaEESSPrecio field.
var ErrMissingStationList = errors.New("response has no station list")

// Record is a single station entry keyed by the upstream display labels
// (e.g. "IDEESS", "Rótulo", "Precio Gasoleo A").
type Record map[string]any

// Snapshot is the decoded response envelope for one date.
type Snapshot struct {
	Date     string   `json:"Fecha"`
	Stations []Record `json:"ListaEESSPrecio"`
	Note     string   `json:"Nota"`
	Result   string   `json:"ResultadoConsulta"`
}

// Decode parses a response body into a Snapshot.
func Decode(body []byte) (*Snapshot, error) {
	var envelope struct {
		Snapshot
		Stations *[]Record `json:"ListaEESSPrecio"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("parsing response JSON: %w", err)
	}
	if envelope.Stations == nil {
		return nil, ErrMissingStationList
	}

	snapshot := envelope.Snapshot
	snapshot.Stations = *envelope.Stations
	return &snapshot, nil
}

// scanEnvelope checks that body is a JSON object with a ListaEESSPrecio array
// without decoding the station records. It returns the number of records and
// the ResultadoConsulta value.
func scanEnvelope(body []byte) (stations int, result string, err error) {
	dec := json.NewDecoder(bytes.NewReader(body))

	if err := expectDelim(dec, '{'); err != nil {
		return 0, "", err
	}

	found := false
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return 0, "", fmt.Errorf("parsing response JSON: %w", err)
		}
		key, _ := tok.(string)

		switch key {
		case "ListaEESSPrecio":
			tok, err := dec.Token()
			if err != nil {
				return 0, "", fmt.Errorf("parsing response JSON: %w", err)
			}
			if tok == nil {
				return 0, "", ErrMissingStationList
			}
			if delim, ok := tok.(json.Delim); !ok || delim != '[' {
				return 0, "", fmt.Errorf("parsing response JSON: ListaEESSPrecio is not an array")
			}
			for dec.More() {
				var record json.RawMessage
				if err := dec.Decode(&record); err != nil {
					return 0, "", fmt.Errorf("parsing response JSON: %w", err)
				}
				stations++
			}
			if err := expectDelim(dec, ']'); err != nil {
				return 0, "", err
			}
			found = true
		case "ResultadoConsulta":
			if err := dec.Decode(&result); err != nil {
				return 0, "", fmt.Errorf("parsing response JSON: %w", err)
			}
		default:
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return 0, "", fmt.Errorf("parsing response JSON: %w", err)
			}
		}
	}
	if err := expectDelim(dec, '}'); err != nil {
		return 0, "", err
	}

	if !found {
		return 0, "", ErrMissingStationList
	}
	return stations, result, nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("parsing response JSON: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != want {
		return fmt.Errorf("parsing response JSON: expected %q, got %v", want, tok)
	}
	return nil
}

// Client implements api.Fetcher for the MINETUR REST service.
type Client struct {
	client  *http.Client
	baseURL string
	logger  zerolog.Logger
}

// New creates a new MINETUR client. An empty baseURL selects DefaultBaseURL.
func New(logger zerolog.Logger, baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		client: &http.Client{
			Timeout: timeout,
		},
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger.With().Str("provider", ProviderName).Logger(),
	}
}

// URL returns the request URL for a date and locality.
func (c *Client) URL(date time.Time, locality api.Locality) string {
	dateStr := date.Format(dateLayout)
	if locality.Filtered() {
		return fmt.Sprintf("%s/FiltroMunicipio/%s/%s", c.baseURL, dateStr, strconv.Itoa(int(locality)))
	}
	return fmt.Sprintf("%s/%s", c.baseURL, dateStr)
}

// Fetch issues a single request for the snapshot of date and returns the verbatim body.
// It does not retry; callers decide how to handle failures.
func (c *Client) Fetch(ctx context.Context, date time.Time, locality api.Locality) ([]byte, error) {
	url := c.URL(date, locality)

	c.logger.Debug().
		Str("url", url).
		Str("date", date.Format("2006-01-02")).
		Stringer("locality", locality).
		Msg("fetching snapshot from MINETUR")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("User-Agent", useragent.Random())
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	stations, result, err := scanEnvelope(body)
	if err != nil {
		return nil, err
	}

	c.logger.Debug().
		Int("stationCount", stations).
		Str("date", date.Format("2006-01-02")).
		Str("result", result).
		Msg("fetched snapshot from MINETUR")

	return body, nil
}

var _ api.Fetcher = (*Client)(nil)
