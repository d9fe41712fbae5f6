package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"ClarityPull/internal/domain/models"
	domrepo "ClarityPull/internal/domain/repository"
	"ClarityPull/pkg/cache"
	applogger "ClarityPull/pkg/logger"
)

const (
	leasePrefix       = "poll_lease"
	interruptedReason = "interrupted"
)

// StatusTracker owns the per-symbol state machine
// idle|ready|failed -> processing -> ready|failed.
// Begin is a compare-and-set on the persisted row, so processes sharing the
// database exclude each other. The in-process map spares a store round trip
// for local contenders and the cache lease covers backends whose writes
// cannot be guarded. A processing row untouched for longer than the lease
// TTL is treated as abandoned.
type StatusTracker struct {
	repo      domrepo.StatusRepository
	publisher domrepo.EventPublisher
	leases    cache.Store
	leaseTTL  time.Duration
	metrics   domrepo.Metrics
	l         *applogger.Logger
	now       func() time.Time

	mu sync.Mutex
	// inflight maps a symbol to its lease token; empty without a lease.
	inflight map[int64]string
}

func NewStatusTracker(repo domrepo.StatusRepository, publisher domrepo.EventPublisher, leases cache.Store, leaseTTL time.Duration, metrics domrepo.Metrics, l *applogger.Logger) *StatusTracker {
	if l == nil {
		l = applogger.Nop()
	}
	return &StatusTracker{
		repo:      repo,
		publisher: publisher,
		leases:    leases,
		leaseTTL:  leaseTTL,
		metrics:   metrics,
		l:         l.With(applogger.String("component", "status")),
		now:       time.Now,
		inflight:  make(map[int64]string),
	}
}

func leaseKey(symbolID int64) string {
	return cache.Key(leasePrefix, symbolID)
}

func (t *StatusTracker) staleBefore() time.Time {
	return t.now().UTC().Add(-t.leaseTTL)
}

// Begin moves the symbol to processing. It returns ErrAlreadyProcessing when
// this or another process is polling the symbol.
func (t *StatusTracker) Begin(ctx context.Context, sym models.Symbol) error {
	t.mu.Lock()
	if _, busy := t.inflight[sym.ID]; busy {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", domrepo.ErrAlreadyProcessing, sym.Name)
	}
	t.inflight[sym.ID] = ""
	t.mu.Unlock()

	var token string
	if t.leases != nil {
		tok, ok, err := t.leases.TryLock(ctx, leaseKey(sym.ID), t.leaseTTL)
		if err != nil {
			t.release(sym.ID)
			return fmt.Errorf("acquire lease %s: %w", sym.Name, err)
		}
		if !ok {
			t.release(sym.ID)
			return fmt.Errorf("%w: %s leased elsewhere", domrepo.ErrAlreadyProcessing, sym.Name)
		}
		token = tok
	}

	st := t.status(sym, models.StateProcessing, "")
	claimed, err := t.repo.ClaimStatus(ctx, st, t.staleBefore())
	if err == nil && !claimed {
		err = fmt.Errorf("%w: %s claimed by another process", domrepo.ErrAlreadyProcessing, sym.Name)
	}
	if err != nil {
		t.unlease(ctx, sym.ID, token)
		t.release(sym.ID)
		if errors.Is(err, domrepo.ErrAlreadyProcessing) {
			return err
		}
		return fmt.Errorf("claim status %s: %w", sym.Name, err)
	}

	t.mu.Lock()
	t.inflight[sym.ID] = token
	t.mu.Unlock()
	t.publish(ctx, st)
	t.metrics.SetProcessing(1)
	return nil
}

func (t *StatusTracker) MarkReady(ctx context.Context, sym models.Symbol) error {
	return t.finish(ctx, sym, models.StateReady, "")
}

func (t *StatusTracker) MarkFailed(ctx context.Context, sym models.Symbol, cause error) error {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	return t.finish(ctx, sym, models.StateFailed, msg)
}

// finish persists the outcome before the symbol is released. When a ready
// outcome cannot be stored, failed is tried so the row does not stay
// processing; if that fails too the row ages into a stale claim.
func (t *StatusTracker) finish(ctx context.Context, sym models.Symbol, state models.PollingState, msg string) error {
	t.mu.Lock()
	token, held := t.inflight[sym.ID]
	t.mu.Unlock()
	if !held {
		return fmt.Errorf("%w: %s is not processing", domrepo.ErrInvalidTransition, sym.Name)
	}

	// The outcome must land even when the run is being cancelled.
	ctx = context.WithoutCancel(ctx)
	err := t.transition(ctx, sym, state, msg)
	if err != nil && state != models.StateFailed {
		if ferr := t.transition(ctx, sym, models.StateFailed, err.Error()); ferr != nil {
			t.l.Error("status left processing", applogger.Symbol(sym.Market, sym.Name), applogger.Error(ferr))
		}
	}

	t.release(sym.ID)
	t.metrics.SetProcessing(-1)
	t.unlease(ctx, sym.ID, token)
	return err
}

// Get returns the persisted status, or an idle one for a never-polled symbol.
func (t *StatusTracker) Get(ctx context.Context, symbolID int64) (*models.PollingStatus, error) {
	st, err := t.repo.GetStatus(ctx, symbolID)
	if errors.Is(err, domrepo.ErrNotFound) {
		return &models.PollingStatus{SymbolID: symbolID, State: models.StateIdle}, nil
	}
	return st, err
}

func (t *StatusTracker) List(ctx context.Context) ([]models.PollingStatus, error) {
	return t.repo.ListStatuses(ctx)
}

// Recover fails every persisted processing row that is older than the lease
// TTL and not held by a live lease. It runs at startup, before any poll is
// dispatched; a fresh row may belong to a poller in another process.
func (t *StatusTracker) Recover(ctx context.Context) (int, error) {
	statuses, err := t.repo.ListStatuses(ctx)
	if err != nil {
		return 0, fmt.Errorf("recover statuses: %w", err)
	}
	cutoff := t.staleBefore()
	n := 0
	for _, st := range statuses {
		if st.State != models.StateProcessing || !st.LastUpdatedAt.Before(cutoff) {
			continue
		}
		if t.leases != nil {
			held, err := t.leases.Exists(ctx, leaseKey(st.SymbolID))
			if err != nil {
				return n, fmt.Errorf("recover %s: %w", st.Symbol, err)
			}
			if held {
				continue
			}
		}
		sym := models.Symbol{ID: st.SymbolID, Name: st.Symbol, Market: st.Market}
		failed := t.status(sym, models.StateFailed, interruptedReason)
		ok, err := t.repo.ExpireStatus(ctx, failed, cutoff)
		if err != nil {
			return n, fmt.Errorf("recover %s: %w", st.Symbol, err)
		}
		if ok {
			t.publish(ctx, failed)
			n++
		}
	}
	if n > 0 {
		t.l.Warn("recovered interrupted polls", applogger.Int("count", n))
	}
	return n, nil
}

func (t *StatusTracker) status(sym models.Symbol, state models.PollingState, msg string) models.PollingStatus {
	return models.PollingStatus{
		SymbolID:      sym.ID,
		Symbol:        sym.Name,
		Market:        sym.Market,
		State:         state,
		LastUpdatedAt: t.now().UTC(),
		LastError:     msg,
	}
}

func (t *StatusTracker) transition(ctx context.Context, sym models.Symbol, state models.PollingState, msg string) error {
	st := t.status(sym, state, msg)
	if err := t.repo.SaveStatus(ctx, st); err != nil {
		return fmt.Errorf("save status %s: %w", sym.Name, err)
	}
	t.publish(ctx, st)
	return nil
}

func (t *StatusTracker) publish(ctx context.Context, st models.PollingStatus) {
	if err := t.publisher.PublishStatus(ctx, st); err != nil {
		t.metrics.RecordError("publish_status")
		t.l.Warn("publish status failed", applogger.Symbol(st.Market, st.Symbol), applogger.Error(err))
	}
}

func (t *StatusTracker) release(symbolID int64) {
	t.mu.Lock()
	delete(t.inflight, symbolID)
	t.mu.Unlock()
}

func (t *StatusTracker) unlease(ctx context.Context, symbolID int64, token string) {
	if t.leases == nil || token == "" {
		return
	}
	if err := t.leases.Unlock(ctx, leaseKey(symbolID), token); err != nil {
		t.l.Warn("release lease failed", applogger.Int64("symbol_id", symbolID), applogger.Error(err))
	}
}
