// Package cache provides an on-disk, compressed cache of raw snapshot responses.
package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"

	"github.com/andygrunwald/fuel-price-scraper/internal/api"
	"github.com/andygrunwald/fuel-price-scraper/internal/metrics"
	"github.com/andygrunwald/fuel-price-scraper/internal/models"
)

// fileExt is the extension of cache entries.
const fileExt = ".json.zst"

// ErrCorrupt is returned when an existing cache entry cannot be decompressed.
// The entry is left in place.
var ErrCorrupt = errors.New("corrupt cache entry")

// Cache stores one compressed file per (date, locality) key.
// Different keys never share a file, so concurrent callers need no locking.
type Cache struct {
	dir     string
	fetcher api.Fetcher
	enc     *zstd.Encoder
	dec     *zstd.Decoder
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// New creates a Cache rooted at dir that delegates misses to fetcher.
func New(dir string, fetcher api.Fetcher, m *metrics.Metrics, logger zerolog.Logger) (*Cache, error) {
	if dir == "" {
		return nil, fmt.Errorf("cache directory must not be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}

	return &Cache{
		dir:     dir,
		fetcher: fetcher,
		enc:     enc,
		dec:     dec,
		metrics: m,
		logger:  logger.With().Str("component", "cache").Logger(),
	}, nil
}

// Close releases the decoder resources.
func (c *Cache) Close() error {
	c.dec.Close()
	return c.enc.Close()
}

// Path returns the file path of the entry for date and locality.
func (c *Cache) Path(date time.Time, locality api.Locality) string {
	name := date.Format(models.DateLayout) + fileExt
	if locality.Filtered() {
		return filepath.Join(c.dir, locality.String(), name)
	}
	return filepath.Join(c.dir, name)
}

// Exists reports whether an entry for date and locality is present.
func (c *Cache) Exists(date time.Time, locality api.Locality) bool {
	info, err := os.Stat(c.Path(date, locality))
	return err == nil && info.Mode().IsRegular()
}

// GetOrFetch returns the cached body for date and locality. On a miss it fetches
// the snapshot, stores it and returns it.
func (c *Cache) GetOrFetch(ctx context.Context, date time.Time, locality api.Locality) ([]byte, error) {
	path := c.Path(date, locality)

	compressed, err := os.ReadFile(path)
	switch {
	case err == nil:
		body, err := c.dec.DecodeAll(compressed, nil)
		if err != nil {
			c.metrics.RecordCacheLookup(metrics.CacheCorrupt)
			return nil, fmt.Errorf("%w %s: %v", ErrCorrupt, path, err)
		}
		c.metrics.RecordCacheLookup(metrics.CacheHit)
		c.logger.Debug().
			Str("date", date.Format(models.DateLayout)).
			Stringer("locality", locality).
			Msg("cache hit")
		return body, nil
	case errors.Is(err, os.ErrNotExist):
		c.metrics.RecordCacheLookup(metrics.CacheMiss)
		return c.Refresh(ctx, date, locality)
	default:
		return nil, fmt.Errorf("reading cache entry: %w", err)
	}
}

// Refresh fetches the snapshot regardless of any existing entry and overwrites it.
func (c *Cache) Refresh(ctx context.Context, date time.Time, locality api.Locality) ([]byte, error) {
	start := time.Now()
	body, err := c.fetcher.Fetch(ctx, date, locality)
	duration := time.Since(start)
	if err != nil {
		c.metrics.RecordAPIRequest("error", duration)
		return nil, fmt.Errorf("fetching snapshot: %w", err)
	}
	c.metrics.RecordAPIRequest("success", duration)

	if err := c.store(c.Path(date, locality), body); err != nil {
		return nil, err
	}

	c.logger.Debug().
		Str("date", date.Format(models.DateLayout)).
		Stringer("locality", locality).
		Int("bytes", len(body)).
		Dur("duration", duration).
		Msg("stored snapshot")

	return body, nil
}

// store writes body compressed to a temporary file and renames it into place.
func (c *Cache) store(path string, body []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating cache file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(c.enc.EncodeAll(body, nil)); err != nil {
		tmp.Close()
		return fmt.Errorf("writing cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing cache file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("renaming cache file: %w", err)
	}
	return nil
}
