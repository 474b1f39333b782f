package cache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andygrunwald/fuel-price-scraper/internal/api"
)

type countingFetcher struct {
	mu    sync.Mutex
	calls int
	body  []byte
	err   error
}

func (f *countingFetcher) Fetch(ctx context.Context, date time.Time, locality api.Locality) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.body, nil
}

func (f *countingFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestCache(t *testing.T, f api.Fetcher) *Cache {
	t.Helper()
	c, err := New(t.TempDir(), f, nil, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

var testDate = time.Date(2021, 3, 4, 0, 0, 0, 0, time.UTC)

func TestGetOrFetch_SecondCallServedFromCache(t *testing.T) {
	f := &countingFetcher{body: []byte(`{"ListaEESSPrecio":[]}`)}
	c := newTestCache(t, f)
	ctx := context.Background()

	first, err := c.GetOrFetch(ctx, testDate, api.Nationwide)
	require.NoError(t, err)
	second, err := c.GetOrFetch(ctx, testDate, api.Nationwide)
	require.NoError(t, err)

	assert.Equal(t, 1, f.Calls())
	assert.Equal(t, f.body, first)
	assert.Equal(t, f.body, second)
	assert.True(t, c.Exists(testDate, api.Nationwide))
}

func TestGetOrFetch_StoresCompressed(t *testing.T) {
	f := &countingFetcher{body: []byte(`{"ListaEESSPrecio":[{"IDEESS":"1"}]}`)}
	c := newTestCache(t, f)

	_, err := c.GetOrFetch(context.Background(), testDate, api.Nationwide)
	require.NoError(t, err)

	raw, err := os.ReadFile(c.Path(testDate, api.Nationwide))
	require.NoError(t, err)
	assert.NotEqual(t, f.body, raw)
	// zstd frame magic number
	assert.Equal(t, []byte{0x28, 0xb5, 0x2f, 0xfd}, raw[:4])
}

func TestPath_LocalitySubdirectory(t *testing.T) {
	c := newTestCache(t, &countingFetcher{})

	assert.Equal(t, filepath.Join(c.dir, "2021-03-04.json.zst"), c.Path(testDate, api.Nationwide))
	assert.Equal(t, filepath.Join(c.dir, "4276", "2021-03-04.json.zst"), c.Path(testDate, api.Locality(4276)))
}

func TestGetOrFetch_KeysAreIndependent(t *testing.T) {
	f := &countingFetcher{body: []byte(`{"ListaEESSPrecio":[]}`)}
	c := newTestCache(t, f)
	ctx := context.Background()

	_, err := c.GetOrFetch(ctx, testDate, api.Nationwide)
	require.NoError(t, err)
	_, err = c.GetOrFetch(ctx, testDate, api.Locality(4276))
	require.NoError(t, err)
	_, err = c.GetOrFetch(ctx, testDate.AddDate(0, 0, 1), api.Nationwide)
	require.NoError(t, err)

	assert.Equal(t, 3, f.Calls())
}

func TestGetOrFetch_CorruptEntryIsFatal(t *testing.T) {
	f := &countingFetcher{body: []byte(`{"ListaEESSPrecio":[]}`)}
	c := newTestCache(t, f)

	path := c.Path(testDate, api.Nationwide)
	garbage := []byte("this is not zstd")
	require.NoError(t, os.WriteFile(path, garbage, 0o644))

	_, err := c.GetOrFetch(context.Background(), testDate, api.Nationwide)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCorrupt)
	assert.Equal(t, 0, f.Calls(), "corrupt entry must not trigger a re-fetch")

	onDisk, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, garbage, onDisk, "corrupt entry must be preserved")
}

func TestRefresh_OverwritesEntry(t *testing.T) {
	f := &countingFetcher{body: []byte(`{"ListaEESSPrecio":[]}`)}
	c := newTestCache(t, f)
	ctx := context.Background()

	_, err := c.GetOrFetch(ctx, testDate, api.Nationwide)
	require.NoError(t, err)

	f.mu.Lock()
	f.body = []byte(`{"ListaEESSPrecio":[{"IDEESS":"2"}]}`)
	f.mu.Unlock()

	body, err := c.Refresh(ctx, testDate, api.Nationwide)
	require.NoError(t, err)
	assert.Equal(t, 2, f.Calls())

	cached, err := c.GetOrFetch(ctx, testDate, api.Nationwide)
	require.NoError(t, err)
	assert.Equal(t, body, cached)
	assert.Equal(t, 2, f.Calls())
}

func TestGetOrFetch_FetchErrorLeavesNoEntry(t *testing.T) {
	f := &countingFetcher{err: errors.New("connection reset")}
	c := newTestCache(t, f)

	_, err := c.GetOrFetch(context.Background(), testDate, api.Nationwide)
	require.Error(t, err)
	assert.False(t, c.Exists(testDate, api.Nationwide))

	entries, err := os.ReadDir(c.dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestNew_RequiresDirectory(t *testing.T) {
	_, err := New("", &countingFetcher{}, nil, zerolog.Nop())
	assert.Error(t, err)
}
