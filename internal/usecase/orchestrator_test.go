package usecase

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"ClarityPull/internal/domain/models"
	domrepo "ClarityPull/internal/domain/repository"
	"ClarityPull/pkg/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func full() models.PollOptions { return models.PollOptions{Mode: models.ModeFull} }

func TestRunIngestsAndDerives(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t, 2)
	e.source.set("BTC", series(50, 80, 85, 20))

	summary, err := e.orch.Run(ctx, models.Selection{Symbols: []string{"btc"}}, full())
	require.NoError(t, err)
	assert.Equal(t, []string{"crypto/BTC"}, summary.Succeeded)
	assert.Empty(t, summary.Failed)

	n, err := e.store.Count(ctx, btc.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 4, n)

	st, err := e.status.Get(ctx, btc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateReady, st.State)

	run, err := e.runs.CurrentRun(ctx, btc.ID)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, models.ZoneRed, run.Zone)
	assert.True(t, run.SinceDate.Equal(day(3)))
	assert.Equal(t, 20, run.EntryValue)

	alerts, err := e.alerts.Detect(ctx, btc.ID)
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	assert.Equal(t, models.ChangeBearish, alerts[0].ChangeType)
	assert.Equal(t, 2, *alerts[0].DaysSinceLastChange)
	assert.Equal(t, models.ChangeBullish, alerts[1].ChangeType)
	assert.Nil(t, alerts[1].DaysSinceLastChange)
	assert.Equal(t, 2, e.pub.alertCount())

	logs, err := e.store.RecentLogs(ctx, models.LogFilter{SymbolID: btc.ID})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, models.OutcomeSuccess, logs[0].Outcome)
	assert.Equal(t, 4, logs[0].RowsInserted)
}

func TestRunTwiceChangesNothing(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t, 2)
	e.source.set("BTC", series(50, 80, 85, 20))

	_, err := e.orch.Run(ctx, models.Selection{Symbols: []string{"BTC"}}, full())
	require.NoError(t, err)
	_, err = e.orch.Run(ctx, models.Selection{Symbols: []string{"BTC"}}, full())
	require.NoError(t, err)

	assert.Equal(t, 2, e.pub.alertCount(), "no alert is new on the second run")
	logs, err := e.store.RecentLogs(ctx, models.LogFilter{SymbolID: btc.ID})
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, 0, logs[0].RowsInserted)
	assert.Equal(t, 0, logs[0].RowsUpdated)
}

func TestRunLatestAddsNewAlert(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t, 1)
	e.source.set("BTC", series(50, 80))
	_, err := e.orch.Run(ctx, models.Selection{Symbols: []string{"BTC"}}, full())
	require.NoError(t, err)
	require.Equal(t, 1, e.pub.alertCount())

	e.source.set("BTC", series(50, 80, 10))
	_, err = e.orch.Run(ctx, models.Selection{Symbols: []string{"BTC"}}, models.PollOptions{Mode: models.ModeLatest})
	require.NoError(t, err)

	n, err := e.store.Count(ctx, btc.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
	assert.Equal(t, 2, e.pub.alertCount())

	run, err := e.runs.CurrentRun(ctx, btc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ZoneRed, run.Zone)
}

func TestRunRetriesUnavailableUpstream(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t, 1)
	e.source.set("BTC", series(50))
	unavailable := fmt.Errorf("%w: status 503", domrepo.ErrUpstreamUnavailable)
	e.source.fail("BTC", unavailable, unavailable)

	summary, err := e.orch.Run(ctx, models.Selection{Symbols: []string{"BTC"}}, full())
	require.NoError(t, err)
	assert.Equal(t, []string{"crypto/BTC"}, summary.Succeeded)
	assert.Equal(t, 3, e.source.callCount("BTC"))
}

func TestRunGivesUpAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t, 1)
	unavailable := fmt.Errorf("%w: timeout", domrepo.ErrUpstreamUnavailable)
	e.source.fail("BTC", unavailable, unavailable, unavailable, unavailable)

	summary, err := e.orch.Run(ctx, models.Selection{Symbols: []string{"BTC"}}, full())
	require.NoError(t, err)
	assert.Equal(t, []string{"crypto/BTC"}, summary.Failed)
	assert.Equal(t, 3, e.source.callCount("BTC"))

	st, err := e.status.Get(ctx, btc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateFailed, st.State)
	assert.Contains(t, st.LastError, "upstream unavailable")

	state, stale := st.ConsumerState()
	assert.Equal(t, "ready", state)
	assert.True(t, stale)
}

func TestRunIsolatesFailures(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t, 2)
	e.source.fail("BTC", fmt.Errorf("%w: %w: BTC", domrepo.ErrNotFound, domrepo.ErrUnknownSymbol))
	e.source.set("ETH", series(40, 45))

	summary, err := e.orch.Run(ctx, models.Selection{Groups: []string{models.GroupCrypto}}, full())
	require.NoError(t, err)
	assert.Equal(t, []string{"crypto/BTC"}, summary.Failed)
	assert.Equal(t, []string{"crypto/ETH"}, summary.Succeeded)
	assert.Equal(t, 1, e.source.callCount("BTC"), "not found is not retried")

	st, err := e.status.Get(ctx, eth.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateReady, st.State)
}

func TestRunHaltsOnAuthError(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t, 1)
	e.source.fail("BTC", fmt.Errorf("%w: status 403", domrepo.ErrAuth))
	e.source.set("ETH", series(40))

	summary, err := e.orch.Run(ctx, models.Selection{Groups: []string{models.GroupCrypto}}, full())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domrepo.ErrAuth))
	assert.Equal(t, []string{"crypto/BTC"}, summary.Failed)
	assert.Equal(t, []string{"crypto/ETH"}, summary.Skipped)
	assert.Equal(t, 0, e.source.callCount("ETH"))
	assert.Equal(t, 1, e.source.callCount("BTC"))
}

func TestRunSkipsSymbolAlreadyProcessing(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t, 1)
	require.NoError(t, e.status.Begin(ctx, btc))

	summary, err := e.orch.Run(ctx, models.Selection{Symbols: []string{"BTC"}}, full())
	require.NoError(t, err)
	assert.Equal(t, []string{"crypto/BTC"}, summary.Skipped)
	assert.Equal(t, 0, e.source.callCount("BTC"))

	logs, err := e.store.RecentLogs(ctx, models.LogFilter{SymbolID: btc.ID})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, models.OutcomeSkipped, logs[0].Outcome)
	require.NoError(t, e.status.MarkReady(ctx, btc))
}

func TestRunReportsUnknownNames(t *testing.T) {
	e := newTestEnv(t, 1)
	e.source.set("BTC", series(50))

	summary, err := e.orch.Run(context.Background(), models.Selection{Symbols: []string{"NOPE", "BTC"}, Groups: []string{"moon"}}, full())
	require.NoError(t, err)
	assert.Equal(t, []string{"crypto/BTC"}, summary.Succeeded)
	assert.ElementsMatch(t, []string{"NOPE", "group:moon"}, summary.Skipped)
}

func TestRunRejectsBadOptions(t *testing.T) {
	e := newTestEnv(t, 1)
	_, err := e.orch.Run(context.Background(), models.Selection{Symbols: []string{"BTC"}}, models.PollOptions{Mode: models.ModeFromDate})
	assert.Error(t, err)
	_, err = e.orch.Run(context.Background(), models.Selection{}, full())
	assert.Error(t, err)
}

func TestResetReplacesHistoryWhileProcessing(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t, 1)

	scores := make([]int, 100)
	for i := range scores {
		scores[i] = 50
	}
	e.source.set("BTC", series(scores...))
	_, err := e.orch.Run(ctx, models.Selection{Symbols: []string{"BTC"}}, full())
	require.NoError(t, err)

	e.source.set("BTC", series(scores[:50]...))
	e.source.started = make(chan string, 1)
	e.source.release = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := e.orch.Run(ctx, models.Selection{Symbols: []string{"BTC"}}, models.PollOptions{Mode: models.ModeReset})
		done <- err
	}()

	select {
	case <-e.source.started:
	case <-time.After(5 * time.Second):
		t.Fatal("fetch never started")
	}
	st, err := e.status.Get(ctx, btc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateProcessing, st.State)
	n, err := e.store.Count(ctx, btc.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 0, n, "history is cleared before the refetch")

	close(e.source.release)
	require.NoError(t, <-done)

	n, err = e.store.Count(ctx, btc.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 50, n)
	st, err = e.status.Get(ctx, btc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateReady, st.State)
}

func TestResolveIsCaseInsensitiveAndDeduplicates(t *testing.T) {
	e := newTestEnv(t, 1)
	syms, unknown, err := e.orch.Resolve(context.Background(), models.Selection{
		Symbols: []string{"btc", "crypto/ETH", "metals/GOLD"},
		Groups:  []string{"crypto"},
	})
	require.NoError(t, err)
	assert.Len(t, syms, 2)
	assert.Equal(t, []string{"metals/GOLD"}, unknown)
}

func TestRunRetriesStoreConflictOnce(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t, 1)
	e.source.set("BTC", series(50, 80))

	store := &conflictStore{ObservationStore: e.store, failures: 1}
	e.rewire(store)

	summary, err := e.orch.Run(ctx, models.Selection{Symbols: []string{"BTC"}}, full())
	require.NoError(t, err)
	assert.Equal(t, []string{"crypto/BTC"}, summary.Succeeded)
	assert.Equal(t, 2, store.calls)
	assert.Equal(t, 1, e.source.callCount("BTC"), "a store conflict does not refetch")

	n, err := e.store.Count(ctx, btc.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestRunFailsAfterSecondStoreConflict(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t, 1)
	e.source.set("BTC", series(50, 80))

	store := &conflictStore{ObservationStore: e.store, failures: 2}
	e.rewire(store)

	summary, err := e.orch.Run(ctx, models.Selection{Symbols: []string{"BTC"}}, full())
	require.NoError(t, err)
	assert.Equal(t, []string{"crypto/BTC"}, summary.Failed)
	assert.Equal(t, 2, store.calls)

	st, err := e.status.Get(ctx, btc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateFailed, st.State)
	assert.Contains(t, st.LastError, "database is locked")

	logs, err := e.store.RecentLogs(ctx, models.LogFilter{SymbolID: btc.ID})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, models.OutcomeFailed, logs[0].Outcome)
}

func TestRunIsolatesExhaustedUpstream(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t, 2)
	unavailable := fmt.Errorf("%w: status 502", domrepo.ErrUpstreamUnavailable)
	e.source.fail("BTC", unavailable, unavailable, unavailable)
	e.source.set("ETH", series(40, 45, 80))

	summary, err := e.orch.Run(ctx, models.Selection{Groups: []string{models.GroupCrypto}}, full())
	require.NoError(t, err)
	assert.Equal(t, []string{"crypto/BTC"}, summary.Failed)
	assert.Equal(t, []string{"crypto/ETH"}, summary.Succeeded)
	assert.Equal(t, 3, e.source.callCount("BTC"))
	assert.Equal(t, 1, e.source.callCount("ETH"))

	st, err := e.status.Get(ctx, btc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateFailed, st.State)
	st, err = e.status.Get(ctx, eth.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateReady, st.State)

	run, err := e.runs.CurrentRun(ctx, eth.ID)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, models.ZoneGreen, run.Zone)
}

func TestRunFallsBackToFailedWhenReadyIsNotStored(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t, 1)
	e.source.set("BTC", series(50, 80))

	e.status = NewStatusTracker(failingStatusRepo{StatusRepository: e.store, state: models.StateReady}, e.pub, e.cache, time.Minute, metrics.Nop{}, nil)
	e.rewire(e.store)

	summary, err := e.orch.Run(ctx, models.Selection{Symbols: []string{"BTC"}}, full())
	require.NoError(t, err)
	assert.Equal(t, []string{"crypto/BTC"}, summary.Failed)

	st, err := e.status.Get(ctx, btc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateFailed, st.State, "the row never stays processing")
	assert.Contains(t, st.LastError, "disk I/O error")

	ok, err := e.cache.Exists(ctx, leaseKey(btc.ID))
	require.NoError(t, err)
	assert.False(t, ok, "lease released")
	require.NoError(t, e.status.Begin(ctx, btc), "symbol can be polled again")
}

func TestResetAndReloadKeepsAlertSet(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t, 1)
	e.source.set("BTC", series(50, 80, 85, 20, 90))

	_, err := e.orch.Run(ctx, models.Selection{Symbols: []string{"BTC"}}, full())
	require.NoError(t, err)
	before, err := e.store.ListAlerts(ctx, btc.ID)
	require.NoError(t, err)
	require.Len(t, before, 3)

	summary, err := e.orch.Run(ctx, models.Selection{Symbols: []string{"BTC"}}, models.PollOptions{Mode: models.ModeReset})
	require.NoError(t, err)
	assert.Equal(t, []string{"crypto/BTC"}, summary.Succeeded)

	after, err := e.store.ListAlerts(ctx, btc.ID)
	require.NoError(t, err)
	require.Len(t, after, len(before), "no duplicates")
	seen := make(map[int64]bool)
	for i := range after {
		assert.False(t, seen[after[i].Key()])
		seen[after[i].Key()] = true
		assert.True(t, before[i].Date.Equal(after[i].Date))
		assert.Equal(t, before[i].ChangeType, after[i].ChangeType)
		assert.Equal(t, before[i].FromScore, after[i].FromScore)
		assert.Equal(t, before[i].ToScore, after[i].ToScore)
	}
}

func TestResetWithFailedFetchClearsAlerts(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t, 1)
	e.source.set("BTC", series(50, 80, 20))

	_, err := e.orch.Run(ctx, models.Selection{Symbols: []string{"BTC"}}, full())
	require.NoError(t, err)
	alerts, err := e.store.ListAlerts(ctx, btc.ID)
	require.NoError(t, err)
	require.NotEmpty(t, alerts)

	e.source.fail("BTC", fmt.Errorf("%w: BTC", domrepo.ErrNotFound))
	summary, err := e.orch.Run(ctx, models.Selection{Symbols: []string{"BTC"}}, models.PollOptions{Mode: models.ModeReset})
	require.NoError(t, err)
	assert.Equal(t, []string{"crypto/BTC"}, summary.Failed)

	alerts, err = e.store.ListAlerts(ctx, btc.ID)
	require.NoError(t, err)
	assert.Empty(t, alerts, "alerts go with the history they came from")
	run, err := e.runs.CurrentRun(ctx, btc.ID)
	require.NoError(t, err)
	assert.Nil(t, run)
}

func TestOverrideScoreRederivesRunAndAlerts(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t, 1)
	e.source.set("BTC", series(50, 55, 60))

	_, err := e.orch.Run(ctx, models.Selection{Symbols: []string{"BTC"}}, full())
	require.NoError(t, err)
	run, err := e.runs.CurrentRun(ctx, btc.ID)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, models.ZoneGrey, run.Zone)

	score := 85
	run, err = e.orch.OverrideScore(ctx, btc, day(2).Add(15*time.Hour), &score)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, models.ZoneGreen, run.Zone)
	assert.Equal(t, 85, run.EntryValue)

	alerts, err := e.store.ListAlerts(ctx, btc.ID)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, models.ChangeBullish, alerts[0].ChangeType)

	// A later poll with the same upstream rows keeps the override.
	_, err = e.orch.Run(ctx, models.Selection{Symbols: []string{"BTC"}}, full())
	require.NoError(t, err)
	run, err = e.runs.CurrentRun(ctx, btc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ZoneGreen, run.Zone)

	run, err = e.orch.OverrideScore(ctx, btc, day(2), nil)
	require.NoError(t, err)
	assert.Equal(t, models.ZoneGrey, run.Zone)
	alerts, err = e.store.ListAlerts(ctx, btc.ID)
	require.NoError(t, err)
	assert.Empty(t, alerts)

	st, err := e.status.Get(ctx, btc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateReady, st.State)
}

func TestOverrideScoreRejectsBusyOrMissingDay(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t, 1)
	e.source.set("BTC", series(50))
	_, err := e.orch.Run(ctx, models.Selection{Symbols: []string{"BTC"}}, full())
	require.NoError(t, err)

	score := 90
	_, err = e.orch.OverrideScore(ctx, btc, day(7), &score)
	assert.True(t, errors.Is(err, domrepo.ErrNotFound))

	require.NoError(t, e.status.Begin(ctx, btc))
	_, err = e.orch.OverrideScore(ctx, btc, day(0), &score)
	assert.True(t, errors.Is(err, domrepo.ErrAlreadyProcessing))
	require.NoError(t, e.status.MarkReady(ctx, btc))
}
