package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ClarityPull/internal/domain/models"
	domrepo "ClarityPull/internal/domain/repository"
	"ClarityPull/internal/services/zones"
	"ClarityPull/pkg/cache"
	applogger "ClarityPull/pkg/logger"
)

const zoneRunPrefix = "zone_run"

// cachedRun pins a run to the history revision it was derived from. A nil
// Run is cached as well.
type cachedRun struct {
	Revision string          `json:"revision"`
	Run      *models.ZoneRun `json:"run"`
}

// ZoneRunTracker serves each symbol's current zone run from cache, falling
// back to the observation history. Every read checks the store's revision,
// so an ingest made by any process retires the cached run.
type ZoneRunTracker struct {
	store domrepo.ObservationStore
	cache cache.Service
	ttl   time.Duration
	l     *applogger.Logger
}

func NewZoneRunTracker(store domrepo.ObservationStore, c cache.Service, ttl time.Duration, l *applogger.Logger) *ZoneRunTracker {
	if l == nil {
		l = applogger.Nop()
	}
	return &ZoneRunTracker{store: store, cache: c, ttl: ttl, l: l.With(applogger.String("component", "zone_runs"))}
}

func zoneRunKey(symbolID int64) string {
	return cache.Key(zoneRunPrefix, symbolID)
}

// CurrentRun returns the run or nil when the symbol has no scored observation.
func (t *ZoneRunTracker) CurrentRun(ctx context.Context, symbolID int64) (*models.ZoneRun, error) {
	rev, err := t.store.Revision(ctx, symbolID)
	if err != nil {
		return nil, fmt.Errorf("zone run %d: %w", symbolID, err)
	}

	var c cachedRun
	err = t.cache.Get(ctx, zoneRunKey(symbolID), &c)
	switch {
	case err == nil && c.Revision == rev:
		return c.Run, nil
	case err != nil && !errors.Is(err, cache.ErrCacheMiss):
		t.l.Warn("zone run cache read failed", applogger.Int64("symbol_id", symbolID), applogger.Error(err))
	}
	return t.compute(ctx, symbolID, rev)
}

// Recompute drops the cached run and derives it again from the store.
func (t *ZoneRunTracker) Recompute(ctx context.Context, symbolID int64) (*models.ZoneRun, error) {
	t.Invalidate(ctx, symbolID)
	rev, err := t.store.Revision(ctx, symbolID)
	if err != nil {
		return nil, fmt.Errorf("zone run %d: %w", symbolID, err)
	}
	return t.compute(ctx, symbolID, rev)
}

// Invalidate removes the cached run. Cache failures are logged only.
func (t *ZoneRunTracker) Invalidate(ctx context.Context, symbolID int64) {
	if err := t.cache.Delete(ctx, zoneRunKey(symbolID)); err != nil {
		t.l.Warn("zone run cache delete failed", applogger.Int64("symbol_id", symbolID), applogger.Error(err))
	}
}

// compute derives the run and caches it under rev, which must be read before
// the history. A writer that lands in between leaves a newer revision in the
// store, so the entry written here is never served.
func (t *ZoneRunTracker) compute(ctx context.Context, symbolID int64, rev string) (*models.ZoneRun, error) {
	history, err := t.store.History(ctx, symbolID)
	if err != nil {
		return nil, fmt.Errorf("zone run %d: %w", symbolID, err)
	}
	run := zones.CurrentRun(history)
	if err := t.cache.Set(ctx, zoneRunKey(symbolID), cachedRun{Revision: rev, Run: run}, t.ttl); err != nil {
		t.l.Warn("zone run cache write failed", applogger.Int64("symbol_id", symbolID), applogger.Error(err))
	}
	return run, nil
}
