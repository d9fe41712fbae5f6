package usecase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ClarityPull/internal/domain/models"
	domrepo "ClarityPull/internal/domain/repository"
	"ClarityPull/pkg/cache"
	"ClarityPull/pkg/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBeginIsCompareAndSet(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t, 1)

	var (
		wg      sync.WaitGroup
		won     atomic.Int32
		skipped atomic.Int32
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := e.status.Begin(ctx, btc)
			switch {
			case err == nil:
				won.Add(1)
			case errors.Is(err, domrepo.ErrAlreadyProcessing):
				skipped.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, won.Load())
	assert.EqualValues(t, 19, skipped.Load())
	require.NoError(t, e.status.MarkReady(ctx, btc))
	require.NoError(t, e.status.Begin(ctx, btc), "symbol can be polled again once ready")
}

func TestBeginRespectsForeignLease(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t, 1)

	token, ok, err := e.cache.TryLock(ctx, leaseKey(btc.ID), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	err = e.status.Begin(ctx, btc)
	assert.True(t, errors.Is(err, domrepo.ErrAlreadyProcessing))

	require.NoError(t, e.cache.Unlock(ctx, leaseKey(btc.ID), token))
	require.NoError(t, e.status.Begin(ctx, btc))
}

func TestFinishRequiresProcessing(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t, 1)

	assert.True(t, errors.Is(e.status.MarkReady(ctx, btc), domrepo.ErrInvalidTransition))
	assert.True(t, errors.Is(e.status.MarkFailed(ctx, btc, errors.New("x")), domrepo.ErrInvalidTransition))
}

func TestTransitionsArePersistedAndPublished(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t, 1)

	st, err := e.status.Get(ctx, btc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateIdle, st.State)

	require.NoError(t, e.status.Begin(ctx, btc))
	require.NoError(t, e.status.MarkFailed(ctx, btc, errors.New("upstream unavailable")))

	st, err = e.status.Get(ctx, btc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateFailed, st.State)
	assert.Equal(t, "upstream unavailable", st.LastError)

	require.Len(t, e.pub.statuses, 2)
	assert.Equal(t, models.StateProcessing, e.pub.statuses[0].State)
	assert.Equal(t, models.StateFailed, e.pub.statuses[1].State)

	ok, err := e.cache.Exists(ctx, leaseKey(btc.ID))
	require.NoError(t, err)
	assert.False(t, ok, "lease released")
}

func TestRecoverFailsInterruptedPolls(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t, 1)

	for _, sym := range []models.Symbol{btc, eth} {
		require.NoError(t, e.store.SaveStatus(ctx, models.PollingStatus{
			SymbolID: sym.ID, Symbol: sym.Name, Market: sym.Market,
			State: models.StateProcessing, LastUpdatedAt: day(0),
		}))
	}
	_, ok, err := e.cache.TryLock(ctx, leaseKey(eth.ID), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	n, err := e.status.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	st, err := e.status.Get(ctx, btc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateFailed, st.State)
	assert.Equal(t, "interrupted", st.LastError)

	st, err = e.status.Get(ctx, eth.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateProcessing, st.State, "a live lease means another process owns it")
}

func TestBeginRespectsFreshClaimOfAnotherProcess(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t, 1)

	// Another process claimed BTC a moment ago; its lease lives in a cache
	// this process cannot see.
	require.NoError(t, e.store.SaveStatus(ctx, models.PollingStatus{
		SymbolID: btc.ID, Symbol: btc.Name, Market: btc.Market,
		State: models.StateProcessing, LastUpdatedAt: time.Now().UTC(),
	}))

	err := e.status.Begin(ctx, btc)
	assert.True(t, errors.Is(err, domrepo.ErrAlreadyProcessing))
	ok, err := e.cache.Exists(ctx, leaseKey(btc.ID))
	require.NoError(t, err)
	assert.False(t, ok, "lease given back after the lost claim")

	n, err := e.status.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	st, err := e.status.Get(ctx, btc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateProcessing, st.State, "a live poll elsewhere is left alone")
}

func TestBeginTakesOverAbandonedClaim(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t, 1)

	require.NoError(t, e.store.SaveStatus(ctx, models.PollingStatus{
		SymbolID: btc.ID, Symbol: btc.Name, Market: btc.Market,
		State: models.StateProcessing, LastUpdatedAt: time.Now().UTC().Add(-2 * time.Minute),
	}))

	require.NoError(t, e.status.Begin(ctx, btc))
	require.NoError(t, e.status.MarkReady(ctx, btc))
	st, err := e.status.Get(ctx, btc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateReady, st.State)
}

func TestTrackersSharingOneDatabaseExcludeEachOther(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t, 1)

	other := cache.NewMemoryCache()
	t.Cleanup(func() { _ = other.Close() })
	cli := NewStatusTracker(e.store, e.pub, other, time.Minute, metrics.Nop{}, nil)

	require.NoError(t, e.status.Begin(ctx, btc))
	err := cli.Begin(ctx, btc)
	assert.True(t, errors.Is(err, domrepo.ErrAlreadyProcessing))

	require.NoError(t, e.status.MarkReady(ctx, btc))
	require.NoError(t, cli.Begin(ctx, btc))
	err = e.status.Begin(ctx, btc)
	assert.True(t, errors.Is(err, domrepo.ErrAlreadyProcessing))
	require.NoError(t, cli.MarkFailed(ctx, btc, errors.New("cancelled")))
}
