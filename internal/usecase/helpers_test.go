package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"ClarityPull/internal/domain/models"
	domrepo "ClarityPull/internal/domain/repository"
	"ClarityPull/internal/repository"
	"ClarityPull/pkg/cache"
	"ClarityPull/pkg/metrics"
	"ClarityPull/pkg/sqlite"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// fakeSource serves canned histories. Errors queued for a symbol are
// returned one per call before any data.
type fakeSource struct {
	mu    sync.Mutex
	data  map[string][]models.Observation
	errs  map[string][]error
	calls map[string]int

	started chan string
	release chan struct{}
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		data:  make(map[string][]models.Observation),
		errs:  make(map[string][]error),
		calls: make(map[string]int),
	}
}

func (f *fakeSource) set(symbol string, rows []models.Observation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[symbol] = rows
}

func (f *fakeSource) fail(symbol string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[symbol] = append(f.errs[symbol], errs...)
}

func (f *fakeSource) callCount(symbol string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[symbol]
}

func (f *fakeSource) Fetch(ctx context.Context, symbol string, opts models.FetchOptions) (*models.FetchResult, error) {
	f.mu.Lock()
	f.calls[symbol]++
	var err error
	if q := f.errs[symbol]; len(q) > 0 {
		err, f.errs[symbol] = q[0], q[1:]
	}
	rows := append([]models.Observation(nil), f.data[symbol]...)
	f.mu.Unlock()

	if f.started != nil {
		f.started <- symbol
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	switch {
	case opts.LatestOnly && len(rows) > 0:
		rows = rows[len(rows)-1:]
	case opts.FromDate != nil:
		var kept []models.Observation
		for _, o := range rows {
			if !o.PriceTimestamp.Before(*opts.FromDate) {
				kept = append(kept, o)
			}
		}
		rows = kept
	}
	return &models.FetchResult{Market: "crypto", Observations: rows}, nil
}

type recordingPublisher struct {
	mu       sync.Mutex
	alerts   []models.MomentumAlert
	statuses []models.PollingStatus
}

func (p *recordingPublisher) PublishAlerts(_ context.Context, _ models.Symbol, alerts []models.MomentumAlert) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.alerts = append(p.alerts, alerts...)
	return nil
}

func (p *recordingPublisher) PublishStatus(_ context.Context, s models.PollingStatus) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses = append(p.statuses, s)
	return nil
}

func (p *recordingPublisher) alertCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.alerts)
}

// conflictStore rejects the next failures upserts as store conflicts.
type conflictStore struct {
	domrepo.ObservationStore

	mu       sync.Mutex
	failures int
	calls    int
}

func (s *conflictStore) Upsert(ctx context.Context, symbolID int64, obs []models.Observation) (models.UpsertResult, error) {
	s.mu.Lock()
	s.calls++
	fail := s.failures > 0
	if fail {
		s.failures--
	}
	s.mu.Unlock()
	if fail {
		return models.UpsertResult{}, fmt.Errorf("%w: database is locked", domrepo.ErrStoreConflict)
	}
	return s.ObservationStore.Upsert(ctx, symbolID, obs)
}

// gatedStore pauses the first History call after it has loaded its rows.
type gatedStore struct {
	domrepo.ObservationStore

	once   sync.Once
	loaded chan struct{}
	resume chan struct{}
}

func newGatedStore(inner domrepo.ObservationStore) *gatedStore {
	return &gatedStore{ObservationStore: inner, loaded: make(chan struct{}), resume: make(chan struct{})}
}

func (s *gatedStore) History(ctx context.Context, symbolID int64) ([]models.Observation, error) {
	rows, err := s.ObservationStore.History(ctx, symbolID)
	first := false
	s.once.Do(func() { first = true })
	if first {
		close(s.loaded)
		<-s.resume
	}
	return rows, err
}

// failingStatusRepo refuses to store one state.
type failingStatusRepo struct {
	domrepo.StatusRepository
	state models.PollingState
}

func (r failingStatusRepo) SaveStatus(ctx context.Context, st models.PollingStatus) error {
	if st.State == r.state {
		return errors.New("disk I/O error")
	}
	return r.StatusRepository.SaveStatus(ctx, st)
}

type testEnv struct {
	store  *repository.Store
	source *fakeSource
	cache  *cache.MemoryCache
	pub    *recordingPublisher
	status *StatusTracker
	runs   *ZoneRunTracker
	alerts *AlertDetector
	orch   *Orchestrator
	polls  *PollService
	reader *MarketReader
}

var (
	btc  = models.Symbol{ID: 1, Name: "BTC", Label: "Bitcoin", Market: models.MarketCrypto}
	eth  = models.Symbol{ID: 2, Name: "ETH", Label: "Ether", Market: models.MarketCrypto}
	gold = models.Symbol{ID: 3, Name: "GOLD", Label: "Gold", Market: models.MarketPreciousMetals}
	spx  = models.Symbol{ID: 4, Name: "SPX", Label: "S&P 500", Market: models.MarketUSIndexes, CountryCode: "US"}
)

func testRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BackoffInitial: time.Millisecond, BackoffMax: 5 * time.Millisecond, StoreRetries: 1}
}

func newTestEnv(t *testing.T, workers int) *testEnv {
	t.Helper()
	client, err := sqlite.NewClient(sqlite.WithPath(sqlite.MemoryPath))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store := repository.NewStore(client.DB(), repository.SQLiteDialect{})
	ctx := context.Background()
	require.NoError(t, store.InitSchema(ctx))
	require.NoError(t, store.Seed(ctx, models.Reference{
		Regions:   []models.Region{{Code: "AMERICAS", Name: "Americas"}},
		Countries: []models.Country{{Code: "US", Name: "United States", RegionCode: "AMERICAS"}},
		Markets: []models.Market{
			{Name: models.MarketCrypto, Label: "Crypto"},
			{Name: models.MarketPreciousMetals, Label: "Precious Metals"},
			{Name: models.MarketUSIndexes, Label: "US Indexes"},
		},
		Symbols: []models.Symbol{btc, eth, gold, spx},
	}))

	mc := cache.NewMemoryCache()
	t.Cleanup(func() { _ = mc.Close() })

	e := &testEnv{store: store, source: newFakeSource(), cache: mc, pub: &recordingPublisher{}}
	e.status = NewStatusTracker(store, e.pub, mc, time.Minute, metrics.Nop{}, nil)
	e.runs = NewZoneRunTracker(store, mc, time.Hour, nil)
	e.alerts = NewAlertDetector(store, store, e.pub, metrics.Nop{}, nil)
	e.orch = NewOrchestrator(store, e.source, store, store, e.status, e.runs, e.alerts, metrics.Nop{}, workers, testRetry(), nil)
	e.polls = NewPollService(e.orch, e.status, store, store, nil)
	e.reader = NewMarketReader(store, store, store, e.status, e.runs, nil)
	t.Cleanup(func() { _ = e.polls.Shutdown(context.Background()) })
	return e
}

// rewire rebuilds the orchestrator and the services on top of it after a
// test swapped one of their dependencies.
func (e *testEnv) rewire(store domrepo.ObservationStore) {
	e.orch = NewOrchestrator(e.store, e.source, store, e.store, e.status, e.runs, e.alerts, metrics.Nop{}, 2, testRetry(), nil)
	e.polls = NewPollService(e.orch, e.status, e.store, e.store, nil)
	e.reader = NewMarketReader(e.store, e.store, e.store, e.status, e.runs, nil)
}

func day(n int) time.Time {
	return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, n)
}

// series builds one observation per day with the given scores; a negative
// score is stored as null.
func series(scores ...int) []models.Observation {
	out := make([]models.Observation, len(scores))
	for i, s := range scores {
		o := models.Observation{
			PriceTimestamp: day(i),
			Close:          decimal.NewNullDecimal(decimal.NewFromInt(int64(100 + i))),
		}
		if s >= 0 {
			v := s
			o.Score = &v
		}
		out[i] = o
	}
	return out
}
