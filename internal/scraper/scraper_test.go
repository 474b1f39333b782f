package scraper

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andygrunwald/fuel-price-scraper/internal/api"
	"github.com/andygrunwald/fuel-price-scraper/internal/cache"
	"github.com/andygrunwald/fuel-price-scraper/internal/models"
)

const snapshotBody = `{
	"Fecha": "04/03/2021 0:00:00",
	"ListaEESSPrecio": [
		{"IDEESS": "4375", "Rótulo": "REPSOL", "C.P.": "28001", "Dirección": "CALLE SERRANO, 10", "Latitud": "40,424833", "Longitud (WGS84)": "-3,687806", "Municipio": "Madrid", "Provincia": "MADRID", "Precio Gasoleo A": "1,459", "Precio Gasoleo B": "", "Precio Gasolina 95 E5": "1,529", "Precio Gasolina 98 E5": "1,689", "Precio Gases licuados del petróleo": ""},
		{"IDEESS": "5122", "Rótulo": "CEPSA", "C.P.": "28002", "Dirección": "CALLE PRINCIPE DE VERGARA, 2", "Latitud": "40,4", "Longitud (WGS84)": "-3,6", "Municipio": "Madrid", "Provincia": "MADRID", "Precio Gasoleo A": "1,439", "Precio Gasoleo B": "0,989", "Precio Gasolina 95 E5": "1,509", "Precio Gasolina 98 E5": "", "Precio Gases licuados del petróleo": ""},
		{"Rótulo": "BROKEN", "C.P.": "28003"}
	],
	"Nota": "",
	"ResultadoConsulta": "OK"
}`

var endDate = time.Date(2021, 3, 6, 0, 0, 0, 0, time.UTC)

type fakeSource struct {
	mu        sync.Mutex
	cached    map[string]bool
	failDates map[string]error
	delay     time.Duration
	onFetch   func(ctx context.Context)

	fetches   int
	refreshes int
	running   atomic.Int32
	peak      atomic.Int32
}

func (f *fakeSource) load(ctx context.Context, date time.Time) ([]byte, error) {
	n := f.running.Add(1)
	defer f.running.Add(-1)
	for {
		old := f.peak.Load()
		if n <= old || f.peak.CompareAndSwap(old, n) {
			break
		}
	}

	if f.onFetch != nil {
		f.onFetch(ctx)
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failDates[date.Format(models.DateLayout)]; ok {
		return nil, err
	}
	return []byte(snapshotBody), nil
}

func (f *fakeSource) GetOrFetch(ctx context.Context, date time.Time, locality api.Locality) ([]byte, error) {
	f.mu.Lock()
	f.fetches++
	f.mu.Unlock()
	return f.load(ctx, date)
}

func (f *fakeSource) Refresh(ctx context.Context, date time.Time, locality api.Locality) ([]byte, error) {
	f.mu.Lock()
	f.refreshes++
	f.mu.Unlock()
	return f.load(ctx, date)
}

func (f *fakeSource) Exists(date time.Time, locality api.Locality) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cached[date.Format(models.DateLayout)]
}

func (f *fakeSource) calls() (fetches, refreshes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches, f.refreshes
}

type fakeStore struct {
	mu       sync.Mutex
	stations map[string]models.Station
	prices   map[string]int
}

func newFakeStore() *fakeStore {
	return &fakeStore{stations: make(map[string]models.Station), prices: make(map[string]int)}
}

func (s *fakeStore) UpsertStations(ctx context.Context, stations []models.Station) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inserted := 0
	for _, st := range stations {
		if _, ok := s.stations[st.ID]; !ok {
			s.stations[st.ID] = st
			inserted++
		}
	}
	return inserted, nil
}

func (s *fakeStore) UpsertPrices(ctx context.Context, date time.Time, observations []models.PriceObservation) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	day := date.Format(models.DateLayout)
	if s.prices[day] > 0 {
		return 0, nil
	}
	s.prices[day] = len(observations)
	return len(observations), nil
}

func runConfig(days, workers int, store bool) RunConfig {
	return RunConfig{EndDate: endDate, Days: days, Workers: workers, Store: store}
}

func TestBackfill_StoresEveryDate(t *testing.T) {
	source := &fakeSource{}
	store := newFakeStore()
	s := New(source, store, nil, zerolog.Nop())

	summary, err := s.Backfill(context.Background(), runConfig(2, 2, true))
	require.NoError(t, err)

	assert.NotEmpty(t, summary.RunID)
	assert.Equal(t, 3, summary.Dates)
	assert.Equal(t, 3, summary.Completed)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, 2, summary.StationsInserted)
	assert.Equal(t, 6, summary.PricesInserted)
	assert.Equal(t, 3, summary.RecordErrors)
	assert.NoError(t, summary.Err)

	assert.Equal(t, map[string]int{"2021-03-04": 2, "2021-03-05": 2, "2021-03-06": 2}, store.prices)
}

func TestBackfill_BoundedConcurrency(t *testing.T) {
	source := &fakeSource{delay: 50 * time.Millisecond}
	s := New(source, newFakeStore(), nil, zerolog.Nop())

	summary, err := s.Backfill(context.Background(), runConfig(2, 2, true))
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Completed)
	assert.Equal(t, int32(2), source.peak.Load())
}

func TestBackfill_FailureIsIsolated(t *testing.T) {
	upstream := errors.New("unexpected status code 503")
	source := &fakeSource{failDates: map[string]error{"2021-03-05": upstream}}
	s := New(source, newFakeStore(), nil, zerolog.Nop())

	summary, err := s.Backfill(context.Background(), runConfig(2, 3, true))
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Completed)
	assert.Equal(t, 1, summary.Failed)
	require.Error(t, summary.Err)
	assert.ErrorIs(t, summary.Err, upstream)
	assert.Contains(t, summary.Err.Error(), "2021-03-05")

	status := s.Status()
	assert.Equal(t, int64(1), status.TotalRuns)
	assert.Equal(t, int64(1), status.FailedDates)
	require.NotNil(t, status.LastError)
	require.NotNil(t, status.LastRun)
	assert.Equal(t, summary.RunID, status.LastRun.RunID)
}

func TestBackfill_CorruptCacheFailsDate(t *testing.T) {
	corrupt := fmt.Errorf("%w /tmp/x.json.zst: invalid header", cache.ErrCorrupt)
	source := &fakeSource{failDates: map[string]error{"2021-03-06": corrupt}}
	s := New(source, newFakeStore(), nil, zerolog.Nop())

	summary, err := s.Backfill(context.Background(), runConfig(0, 1, true))
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Failed)
	assert.ErrorIs(t, summary.Err, cache.ErrCorrupt)
}

func TestBackfill_DownloadOnlySkipsCachedDates(t *testing.T) {
	source := &fakeSource{cached: map[string]bool{"2021-03-05": true}}
	s := New(source, nil, nil, zerolog.Nop())

	summary, err := s.Backfill(context.Background(), runConfig(2, 2, false))
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 2, summary.Completed)
	fetches, refreshes := source.calls()
	assert.Equal(t, 2, fetches)
	assert.Equal(t, 0, refreshes)
}

func TestBackfill_StoreModeDoesNotSkipCachedDates(t *testing.T) {
	source := &fakeSource{cached: map[string]bool{"2021-03-05": true}}
	s := New(source, newFakeStore(), nil, zerolog.Nop())

	summary, err := s.Backfill(context.Background(), runConfig(2, 2, true))
	require.NoError(t, err)

	assert.Equal(t, 0, summary.Skipped)
	assert.Equal(t, 3, summary.Completed)
	fetches, _ := source.calls()
	assert.Equal(t, 3, fetches)
}

func TestBackfill_RefreshRefetchesCachedDates(t *testing.T) {
	source := &fakeSource{cached: map[string]bool{"2021-03-04": true, "2021-03-05": true, "2021-03-06": true}}
	s := New(source, nil, nil, zerolog.Nop())

	cfg := runConfig(2, 2, false)
	cfg.Refresh = true
	summary, err := s.Backfill(context.Background(), cfg)
	require.NoError(t, err)

	assert.Equal(t, 0, summary.Skipped)
	assert.Equal(t, 3, summary.Completed)
	fetches, refreshes := source.calls()
	assert.Equal(t, 0, fetches)
	assert.Equal(t, 3, refreshes)
}

func TestBackfill_CanceledBeforeStart(t *testing.T) {
	source := &fakeSource{}
	s := New(source, newFakeStore(), nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := s.Backfill(ctx, runConfig(4, 2, true))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 5, summary.Canceled)
	assert.Equal(t, 0, summary.Completed)
	fetches, _ := source.calls()
	assert.Equal(t, 0, fetches)
}

func TestBackfill_CancelStopsDispatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var once sync.Once
	source := &fakeSource{onFetch: func(context.Context) { once.Do(cancel) }}
	s := New(source, newFakeStore(), nil, zerolog.Nop())

	summary, err := s.Backfill(ctx, runConfig(4, 1, true))
	assert.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, 5, summary.Completed+summary.Canceled)
	assert.GreaterOrEqual(t, summary.Canceled, 3)
	fetches, _ := source.calls()
	assert.LessOrEqual(t, fetches, 2)
}

func TestBackfill_DispatchInterval(t *testing.T) {
	source := &fakeSource{}
	s := New(source, nil, nil, zerolog.Nop())

	cfg := runConfig(2, 3, false)
	cfg.DispatchInterval = 40 * time.Millisecond

	start := time.Now()
	summary, err := s.Backfill(context.Background(), cfg)
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Completed)
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestBackfill_DispatchBeyondDeadline(t *testing.T) {
	source := &fakeSource{}
	s := New(source, nil, nil, zerolog.Nop())

	cfg := runConfig(4, 1, false)
	cfg.DispatchInterval = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start := time.Now()
	summary, err := s.Backfill(ctx, cfg)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)

	assert.Equal(t, 1, summary.Completed)
	assert.Equal(t, 4, summary.Canceled)
	fetches, _ := source.calls()
	assert.Equal(t, 1, fetches)
}

func TestBackfill_RequiresStoreWhenStoring(t *testing.T) {
	s := New(&fakeSource{}, nil, nil, zerolog.Nop())

	_, err := s.Backfill(context.Background(), runConfig(0, 1, true))
	assert.ErrorIs(t, err, ErrNoStore)
}

func TestIngestDate(t *testing.T) {
	store := newFakeStore()
	s := New(&fakeSource{}, store, nil, zerolog.Nop())

	result, err := s.IngestDate(context.Background(), endDate.Add(13*time.Hour), api.Nationwide, true)
	require.NoError(t, err)

	assert.Equal(t, endDate, result.Date)
	assert.Equal(t, 3, result.Records)
	assert.Equal(t, 1, result.Rejected)
	assert.Equal(t, 2, result.StationsInserted)
	assert.Equal(t, 2, result.PricesInserted)
	assert.Equal(t, "REPSOL CALLE SERRANO,", store.stations["4375"].String())
}

func TestRunConfig_Validate(t *testing.T) {
	valid := runConfig(3, 2, true)
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*RunConfig)
	}{
		{name: "zero end date", mutate: func(c *RunConfig) { c.EndDate = time.Time{} }},
		{name: "negative days", mutate: func(c *RunConfig) { c.Days = -1 }},
		{name: "too many days", mutate: func(c *RunConfig) { c.Days = MaxDays + 1 }},
		{name: "max int days", mutate: func(c *RunConfig) { c.Days = math.MaxInt }},
		{name: "no workers", mutate: func(c *RunConfig) { c.Workers = 0 }},
		{name: "negative locality", mutate: func(c *RunConfig) { c.Locality = -5 }},
		{name: "negative interval", mutate: func(c *RunConfig) { c.DispatchInterval = -time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestRunConfig_MaxDays(t *testing.T) {
	cfg := runConfig(MaxDays, 1, false)
	require.NoError(t, cfg.Validate())
	assert.Len(t, cfg.Dates(), MaxDays+1)

	cfg.Days = math.MaxInt
	s := New(&fakeSource{}, nil, nil, zerolog.Nop())
	_, err := s.Backfill(context.Background(), cfg)
	assert.Error(t, err)
}

func TestRunConfig_Dates(t *testing.T) {
	cfg := RunConfig{EndDate: time.Date(2021, 3, 1, 18, 30, 0, 0, time.UTC), Days: 2}

	assert.Equal(t, []time.Time{
		time.Date(2021, 2, 27, 0, 0, 0, 0, time.UTC),
		time.Date(2021, 2, 28, 0, 0, 0, 0, time.UTC),
		time.Date(2021, 3, 1, 0, 0, 0, 0, time.UTC),
	}, cfg.Dates())

	cfg.Days = 0
	assert.Len(t, cfg.Dates(), 1)
}
