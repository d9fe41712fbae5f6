package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"ClarityPull/internal/domain/models"
	domrepo "ClarityPull/internal/domain/repository"
	"ClarityPull/pkg/sqlite"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	client, err := sqlite.NewClient(sqlite.WithPath(sqlite.MemoryPath))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	s := NewStore(client.DB(), SQLiteDialect{})
	require.NoError(t, s.InitSchema(context.Background()))
	require.NoError(t, s.Seed(context.Background(), models.Reference{
		Markets: []models.Market{{Name: models.MarketCrypto, Label: "Crypto"}},
		Symbols: []models.Symbol{
			{ID: 1, Name: "BTC", Label: "Bitcoin", Market: models.MarketCrypto},
			{ID: 2, Name: "ETH", Label: "Ether", Market: models.MarketCrypto},
		},
	}))
	return s
}

func day(n int) time.Time {
	return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, n)
}

func dec(v string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(v))
}

func intp(v int) *int { return &v }

func obs(d int, close string, score int) models.Observation {
	lv := models.Leverage("2X")
	return models.Observation{
		PriceTimestamp:   day(d),
		Close:            dec(close),
		Open:             dec(close),
		Score:            intp(score),
		LeverageModerate: &lv,
	}
}

func TestUpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	batch := []models.Observation{obs(0, "100.5", 10), obs(1, "101", 20), obs(2, "99.25", 30)}

	res, err := s.Upsert(ctx, 1, batch)
	require.NoError(t, err)
	assert.Equal(t, models.UpsertResult{Inserted: 3}, res)

	res, err = s.Upsert(ctx, 1, batch)
	require.NoError(t, err)
	assert.Equal(t, models.UpsertResult{Unchanged: 3}, res)

	n, err := s.Count(ctx, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	hist, err := s.History(ctx, 1)
	require.NoError(t, err)
	require.Len(t, hist, 3)
	for i := range batch {
		assert.True(t, hist[i].PriceTimestamp.Equal(day(i)))
		assert.True(t, hist[i].Close.Decimal.Equal(batch[i].Close.Decimal))
		assert.Equal(t, *batch[i].Score, *hist[i].Score)
		assert.Equal(t, models.Leverage("2X"), *hist[i].LeverageModerate)
		assert.Nil(t, hist[i].LeverageAggressive)
		assert.False(t, hist[i].Volume.Valid)
	}
}

func TestUpsertOverwritesWithNull(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Upsert(ctx, 1, []models.Observation{obs(0, "100", 10)})
	require.NoError(t, err)

	cleared := models.Observation{PriceTimestamp: day(0), Close: dec("100")}
	res, err := s.Upsert(ctx, 1, []models.Observation{cleared})
	require.NoError(t, err)
	assert.Equal(t, models.UpsertResult{Updated: 1}, res)

	latest, err := s.Latest(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, latest.Score)
	assert.False(t, latest.Open.Valid)
	assert.Nil(t, latest.LeverageModerate)
}

func TestUpsertDuplicateKeyLastWins(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	res, err := s.Upsert(ctx, 1, []models.Observation{obs(0, "1", 10), obs(0, "2", 60)})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)

	latest, err := s.Latest(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 60, *latest.Score)
}

func TestResetIsScopedToSymbol(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	var full []models.Observation
	for i := 0; i < 100; i++ {
		full = append(full, obs(i, "10", i%100))
	}
	_, err := s.Upsert(ctx, 1, full)
	require.NoError(t, err)
	_, err = s.Upsert(ctx, 2, full[:5])
	require.NoError(t, err)

	deleted, err := s.Reset(ctx, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 100, deleted)

	_, err = s.Upsert(ctx, 1, full[:50])
	require.NoError(t, err)

	n, err := s.Count(ctx, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 50, n)
	n, err = s.Count(ctx, 2)
	require.NoError(t, err)
	assert.EqualValues(t, 5, n)
}

func TestLatestNotFound(t *testing.T) {
	_, err := newTestStore(t).Latest(context.Background(), 1)
	assert.True(t, errors.Is(err, domrepo.ErrNotFound))
}

func TestReplaceAlerts(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	first := []models.MomentumAlert{
		{SymbolID: 1, Date: day(1), FromScore: 50, ToScore: 80, ChangeType: models.ChangeBullish},
		{SymbolID: 1, Date: day(3), FromScore: 80, ToScore: 20, ChangeType: models.ChangeBearish, DaysSinceLastChange: intp(2)},
	}
	require.NoError(t, s.ReplaceAlerts(ctx, 1, first))
	require.NoError(t, s.ReplaceAlerts(ctx, 2, first[:1]))

	require.NoError(t, s.ReplaceAlerts(ctx, 1, first[1:]))
	got, err := s.ListAlerts(ctx, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 2, *got[0].DaysSinceLastChange)
	assert.Equal(t, models.ChangeBearish, got[0].ChangeType)

	recent, err := s.RecentAlerts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "BTC", recent[0].SymbolName)
	assert.Equal(t, "ETH", recent[1].SymbolName)
	assert.Nil(t, recent[1].DaysSinceLastChange)
}

func TestStatusAndLogs(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	st := models.PollingStatus{SymbolID: 1, Symbol: "BTC", Market: models.MarketCrypto, State: models.StateProcessing, LastUpdatedAt: day(0)}
	require.NoError(t, s.SaveStatus(ctx, st))
	st.State = models.StateFailed
	st.LastError = "boom"
	require.NoError(t, s.SaveStatus(ctx, st))

	got, err := s.GetStatus(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.StateFailed, got.State)
	assert.Equal(t, "boom", got.LastError)

	_, err = s.GetStatus(ctx, 2)
	assert.True(t, errors.Is(err, domrepo.ErrNotFound))

	for i := 0; i < 3; i++ {
		require.NoError(t, s.AppendLog(ctx, models.PollingLog{
			SymbolID: 1, Symbol: "BTC", Market: models.MarketCrypto,
			Mode: models.ModeLatest, Outcome: models.OutcomeSuccess,
			RowsInserted: i, Duration: 1500 * time.Millisecond, CreatedAt: day(i),
		}))
	}
	logs, err := s.RecentLogs(ctx, models.LogFilter{SymbolID: 1, Limit: 2})
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, 2, logs[0].RowsInserted)
	assert.Equal(t, 1500*time.Millisecond, logs[0].Duration)
	assert.NotEmpty(t, logs[0].ID)
}

func TestSeedRejectsUnknownMarket(t *testing.T) {
	s := newTestStore(t)
	err := s.Seed(context.Background(), models.Reference{
		Symbols: []models.Symbol{{ID: 9, Name: "X", Market: "moon"}},
	})
	var verr *domrepo.ValidationError
	assert.True(t, errors.As(err, &verr))
}

func TestSymbolLookups(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	sym, err := s.FindSymbol(ctx, models.MarketCrypto, "ETH")
	require.NoError(t, err)
	assert.EqualValues(t, 2, sym.ID)

	list, err := s.ListSymbolsByMarket(ctx, models.MarketCrypto, models.MarketPreciousMetals)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	_, err = s.GetSymbol(ctx, 42)
	assert.True(t, errors.Is(err, domrepo.ErrNotFound))
}

func TestClaimStatusGuardsFreshProcessing(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Now().UTC()
	cutoff := now.Add(-time.Minute)
	claim := models.PollingStatus{SymbolID: 1, Symbol: "BTC", Market: models.MarketCrypto, State: models.StateProcessing, LastUpdatedAt: now}

	ok, err := s.ClaimStatus(ctx, claim, cutoff)
	require.NoError(t, err)
	assert.True(t, ok, "first claim inserts the row")

	ok, err = s.ClaimStatus(ctx, claim, cutoff)
	require.NoError(t, err)
	assert.False(t, ok, "a fresh processing row cannot be claimed twice")

	ok, err = s.ClaimStatus(ctx, claim, now.Add(time.Second))
	require.NoError(t, err)
	assert.True(t, ok, "a stale processing row can be taken over")

	ready := claim
	ready.State = models.StateReady
	require.NoError(t, s.SaveStatus(ctx, ready))
	ok, err = s.ClaimStatus(ctx, claim, cutoff)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestExpireStatusOnlyTouchesStaleProcessing(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Now().UTC()
	failed := models.PollingStatus{SymbolID: 1, Symbol: "BTC", Market: models.MarketCrypto, State: models.StateFailed, LastUpdatedAt: now, LastError: "interrupted"}

	ok, err := s.ExpireStatus(ctx, failed, now)
	require.NoError(t, err)
	assert.False(t, ok, "no row, nothing to expire")

	require.NoError(t, s.SaveStatus(ctx, models.PollingStatus{SymbolID: 1, Symbol: "BTC", Market: models.MarketCrypto, State: models.StateProcessing, LastUpdatedAt: now}))
	ok, err = s.ExpireStatus(ctx, failed, now.Add(-time.Minute))
	require.NoError(t, err)
	assert.False(t, ok, "fresh row kept")

	ok, err = s.ExpireStatus(ctx, failed, now.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)
	got, err := s.GetStatus(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.StateFailed, got.State)
	assert.Equal(t, "interrupted", got.LastError)
}

func TestScoreOverrideSurvivesUpsert(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Upsert(ctx, 1, []models.Observation{obs(0, "100", 10), obs(1, "101", 20)})
	require.NoError(t, err)
	rev, err := s.Revision(ctx, 1)
	require.NoError(t, err)

	require.NoError(t, s.SetScoreOverride(ctx, 1, day(1).Add(9*time.Hour), intp(90)))
	next, err := s.Revision(ctx, 1)
	require.NoError(t, err)
	assert.NotEqual(t, rev, next, "an override is a history change")

	changed := obs(1, "102", 25)
	changed.ScoreOverride = intp(5)
	res, err := s.Upsert(ctx, 1, []models.Observation{obs(0, "100", 10), changed})
	require.NoError(t, err)
	assert.Equal(t, models.UpsertResult{Unchanged: 1, Updated: 1}, res)

	latest, err := s.Latest(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 25, *latest.Score)
	require.NotNil(t, latest.ScoreOverride)
	assert.Equal(t, 90, *latest.ScoreOverride, "upstream data never replaces the operator score")
	assert.Equal(t, 90, *latest.EffectiveScore())

	require.NoError(t, s.SetScoreOverride(ctx, 1, day(1), nil))
	latest, err = s.Latest(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, latest.ScoreOverride)

	err = s.SetScoreOverride(ctx, 1, day(5), intp(1))
	assert.True(t, errors.Is(err, domrepo.ErrNotFound))
}

func TestResetClearsAlerts(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Upsert(ctx, 1, []models.Observation{obs(0, "100", 10), obs(1, "101", 80)})
	require.NoError(t, err)
	require.NoError(t, s.ReplaceAlerts(ctx, 1, []models.MomentumAlert{
		{SymbolID: 1, Date: day(1), FromScore: 10, ToScore: 80, ChangeType: models.ChangeBullish},
	}))
	require.NoError(t, s.ReplaceAlerts(ctx, 2, []models.MomentumAlert{
		{SymbolID: 2, Date: day(1), FromScore: 10, ToScore: 80, ChangeType: models.ChangeBullish},
	}))

	_, err = s.Reset(ctx, 1)
	require.NoError(t, err)

	alerts, err := s.ListAlerts(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, alerts)
	alerts, err = s.ListAlerts(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, alerts, 1)
}
