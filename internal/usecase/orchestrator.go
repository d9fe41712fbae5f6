package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"ClarityPull/internal/domain/models"
	domrepo "ClarityPull/internal/domain/repository"
	applogger "ClarityPull/pkg/logger"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"
)

// RetryPolicy bounds upstream and store retries for one symbol.
type RetryPolicy struct {
	MaxAttempts    int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	StoreRetries   int
}

// DefaultRetryPolicy mirrors the configuration defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BackoffInitial: time.Second, BackoffMax: 30 * time.Second, StoreRetries: 1}
}

// Orchestrator runs ingestion for a selection of symbols on a bounded pool.
type Orchestrator struct {
	symbols domrepo.SymbolRepository
	source  domrepo.MarketDataSource
	store   domrepo.ObservationStore
	logs    domrepo.PollingLogRepository
	status  *StatusTracker
	runs    *ZoneRunTracker
	alerts  *AlertDetector
	metrics domrepo.Metrics
	workers int
	retry   RetryPolicy
	l       *applogger.Logger
}

func NewOrchestrator(
	symbols domrepo.SymbolRepository,
	source domrepo.MarketDataSource,
	store domrepo.ObservationStore,
	logs domrepo.PollingLogRepository,
	status *StatusTracker,
	runs *ZoneRunTracker,
	alerts *AlertDetector,
	metrics domrepo.Metrics,
	workers int,
	retry RetryPolicy,
	l *applogger.Logger,
) *Orchestrator {
	if workers < 1 {
		workers = 1
	}
	if retry.MaxAttempts < 1 {
		retry.MaxAttempts = 1
	}
	if l == nil {
		l = applogger.Nop()
	}
	return &Orchestrator{
		symbols: symbols,
		source:  source,
		store:   store,
		logs:    logs,
		status:  status,
		runs:    runs,
		alerts:  alerts,
		metrics: metrics,
		workers: workers,
		retry:   retry,
		l:       l.With(applogger.String("component", "orchestrator")),
	}
}

// Resolve maps names (case-insensitive, optionally "market/name") and groups
// to symbols. Names and groups that match nothing are returned as unknown.
func (o *Orchestrator) Resolve(ctx context.Context, sel models.Selection) ([]models.Symbol, []string, error) {
	if sel.Empty() {
		return nil, nil, errors.New("empty selection")
	}

	var (
		out     []models.Symbol
		unknown []string
		seen    = make(map[int64]bool)
	)
	add := func(s models.Symbol) {
		if !seen[s.ID] {
			seen[s.ID] = true
			out = append(out, s)
		}
	}

	for _, g := range sel.Groups {
		markets, ok := models.GroupMarkets(g)
		if !ok {
			unknown = append(unknown, "group:"+g)
			continue
		}
		syms, err := o.symbols.ListSymbolsByMarket(ctx, markets...)
		if err != nil {
			return nil, nil, fmt.Errorf("resolve group %s: %w", g, err)
		}
		for _, s := range syms {
			add(s)
		}
	}

	if len(sel.Symbols) > 0 {
		all, err := o.symbols.ListSymbols(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("resolve symbols: %w", err)
		}
		for _, raw := range sel.Symbols {
			name := strings.TrimSpace(raw)
			if name == "" {
				continue
			}
			market := ""
			if i := strings.Index(name, "/"); i > 0 {
				market, name = name[:i], name[i+1:]
			}
			found := false
			for _, s := range all {
				if strings.EqualFold(s.Name, name) && (market == "" || strings.EqualFold(s.Market, market)) {
					add(s)
					found = true
				}
			}
			if !found {
				unknown = append(unknown, raw)
			}
		}
	}
	return out, unknown, nil
}

// Run polls every selected symbol. Per-symbol failures are reported in the
// summary; the returned error is reserved for selection errors, a rejected
// credential (wrapping ErrAuth) and cancellation.
func (o *Orchestrator) Run(ctx context.Context, sel models.Selection, opts models.PollOptions) (models.PollSummary, error) {
	summary := models.PollSummary{Succeeded: []string{}, Failed: []string{}, Skipped: []string{}}
	if err := opts.Validate(); err != nil {
		return summary, err
	}
	targets, unknown, err := o.Resolve(ctx, sel)
	if err != nil {
		return summary, err
	}
	for _, name := range unknown {
		o.l.Warn("unknown symbol skipped", applogger.String("name", name))
		summary.Skipped = append(summary.Skipped, name)
	}

	start := time.Now()
	o.l.Info("poll run started",
		applogger.String("mode", string(opts.Mode)),
		applogger.Int("symbols", len(targets)),
		applogger.Int("workers", o.workers),
	)

	var (
		mu      sync.Mutex
		halted  atomic.Bool
		authErr error
	)
	record := func(sym models.Symbol, outcome models.PollOutcome) {
		label := sym.Market + "/" + sym.Name
		mu.Lock()
		defer mu.Unlock()
		switch outcome {
		case models.OutcomeSuccess:
			summary.Succeeded = append(summary.Succeeded, label)
		case models.OutcomeFailed:
			summary.Failed = append(summary.Failed, label)
		default:
			summary.Skipped = append(summary.Skipped, label)
		}
	}

	var g errgroup.Group
	g.SetLimit(o.workers)
	for i, sym := range targets {
		if halted.Load() || ctx.Err() != nil {
			for _, rest := range targets[i:] {
				o.skip(ctx, rest, opts.Mode, "not dispatched")
				record(rest, models.OutcomeSkipped)
			}
			break
		}
		g.Go(func() error {
			if halted.Load() {
				o.skip(ctx, sym, opts.Mode, "not dispatched")
				record(sym, models.OutcomeSkipped)
				return nil
			}
			outcome, err := o.pollSymbol(ctx, sym, opts)
			if errors.Is(err, domrepo.ErrAuth) && halted.CompareAndSwap(false, true) {
				mu.Lock()
				authErr = err
				mu.Unlock()
				o.l.Error("upstream rejected credential, halting run", applogger.Error(err))
			}
			record(sym, outcome)
			return nil
		})
	}
	_ = g.Wait()

	sort.Strings(summary.Succeeded)
	sort.Strings(summary.Failed)
	sort.Strings(summary.Skipped)
	o.metrics.RecordLatency("poll_run", time.Since(start).Seconds())
	o.l.Info("poll run finished",
		applogger.String("mode", string(opts.Mode)),
		applogger.Int("succeeded", len(summary.Succeeded)),
		applogger.Int("failed", len(summary.Failed)),
		applogger.Int("skipped", len(summary.Skipped)),
		applogger.Duration("took", time.Since(start)),
	)

	if authErr != nil {
		return summary, fmt.Errorf("poll halted: %w", authErr)
	}
	if err := ctx.Err(); err != nil {
		return summary, err
	}
	return summary, nil
}

// pollSymbol owns one symbol end to end. The returned error is the cause of
// a failed outcome.
func (o *Orchestrator) pollSymbol(ctx context.Context, sym models.Symbol, opts models.PollOptions) (models.PollOutcome, error) {
	start := time.Now()
	entry := models.PollingLog{SymbolID: sym.ID, Symbol: sym.Name, Market: sym.Market, Mode: opts.Mode}
	log := o.l.With(applogger.Symbol(sym.Market, sym.Name), applogger.String("mode", string(opts.Mode)))

	if err := o.status.Begin(ctx, sym); err != nil {
		if errors.Is(err, domrepo.ErrAlreadyProcessing) {
			log.Info("symbol already processing, skipped")
			o.skip(ctx, sym, opts.Mode, err.Error())
			return models.OutcomeSkipped, nil
		}
		entry.Outcome = models.OutcomeFailed
		entry.ErrorMessage = err.Error()
		entry.Duration = time.Since(start)
		o.appendLog(ctx, entry)
		o.metrics.RecordPoll(string(opts.Mode), string(models.OutcomeFailed))
		return models.OutcomeFailed, err
	}

	res, rejected, err := o.ingest(ctx, sym, opts, log)
	entry.RowsInserted = res.Inserted
	entry.RowsUpdated = res.Updated
	entry.RowsRejected = rejected

	if err == nil {
		err = o.status.MarkReady(ctx, sym)
	} else if ferr := o.status.MarkFailed(ctx, sym, err); ferr != nil {
		log.Error("mark failed", applogger.Error(ferr))
	}

	entry.Duration = time.Since(start)
	entry.Outcome = models.OutcomeSuccess
	if err != nil {
		entry.Outcome = models.OutcomeFailed
		entry.ErrorMessage = err.Error()
		o.metrics.RecordError(errorKind(err))
		log.Error("poll failed", applogger.Error(err), applogger.Duration("took", entry.Duration))
	} else {
		log.Info("poll succeeded",
			applogger.Int("inserted", res.Inserted),
			applogger.Int("updated", res.Updated),
			applogger.Int("unchanged", res.Unchanged),
			applogger.Int("rejected", rejected),
			applogger.Duration("took", entry.Duration),
		)
	}
	o.appendLog(ctx, entry)
	o.metrics.RecordPoll(string(opts.Mode), string(entry.Outcome))
	o.metrics.RecordLatency("poll_symbol", entry.Duration.Seconds())
	return entry.Outcome, err
}

func (o *Orchestrator) ingest(ctx context.Context, sym models.Symbol, opts models.PollOptions, log *applogger.Logger) (models.UpsertResult, int, error) {
	var res models.UpsertResult

	if opts.Mode == models.ModeReset {
		n, err := o.store.Reset(ctx, sym.ID)
		if err != nil {
			return res, 0, fmt.Errorf("reset: %w", err)
		}
		o.runs.Invalidate(ctx, sym.ID)
		log.Info("history and alerts reset", applogger.Int64("deleted", n))
	}

	batch, err := o.fetch(ctx, sym, opts.FetchOptions(), log)
	if err != nil {
		return res, 0, err
	}
	if batch.Market != "" && batch.Market != sym.Market {
		log.Warn("upstream reported a different market", applogger.String("upstream_market", batch.Market))
	}
	for i := range batch.Observations {
		batch.Observations[i] = batch.Observations[i].ForMarket(sym.Market)
	}
	for _, r := range batch.Rejected {
		log.Debug("row rejected", applogger.Int("index", r.Index), applogger.String("reason", r.Reason))
	}
	rejected := len(batch.Rejected)
	o.metrics.RecordRows("rejected", rejected)

	res, err = o.upsert(ctx, sym, batch.Observations, log)
	if err != nil {
		return res, rejected, err
	}
	o.metrics.RecordRows("inserted", res.Inserted)
	o.metrics.RecordRows("updated", res.Updated)
	o.metrics.RecordRows("unchanged", res.Unchanged)

	if _, err := o.runs.Recompute(ctx, sym.ID); err != nil {
		return res, rejected, err
	}
	if _, err := o.alerts.Recompute(ctx, sym); err != nil {
		return res, rejected, err
	}
	return res, rejected, nil
}

// OverrideScore stores an operator score on one observation and rederives
// the symbol's run and alerts. It holds the symbol like a poll does, so it
// fails with ErrAlreadyProcessing while the symbol is being polled.
func (o *Orchestrator) OverrideScore(ctx context.Context, sym models.Symbol, day time.Time, score *int) (*models.ZoneRun, error) {
	if err := o.status.Begin(ctx, sym); err != nil {
		return nil, err
	}
	run, err := o.applyOverride(ctx, sym, day, score)
	if err == nil {
		err = o.status.MarkReady(ctx, sym)
	} else if ferr := o.status.MarkFailed(ctx, sym, err); ferr != nil {
		o.l.Error("mark failed", applogger.Symbol(sym.Market, sym.Name), applogger.Error(ferr))
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

func (o *Orchestrator) applyOverride(ctx context.Context, sym models.Symbol, day time.Time, score *int) (*models.ZoneRun, error) {
	if err := o.store.SetScoreOverride(ctx, sym.ID, day, score); err != nil {
		return nil, fmt.Errorf("override: %w", err)
	}
	run, err := o.runs.Recompute(ctx, sym.ID)
	if err != nil {
		return nil, err
	}
	if _, err := o.alerts.Recompute(ctx, sym); err != nil {
		return nil, err
	}
	o.l.Info("score override applied", applogger.Symbol(sym.Market, sym.Name), applogger.Time("day", day))
	return run, nil
}

// fetch retries only ErrUpstreamUnavailable; every other error is final.
func (o *Orchestrator) fetch(ctx context.Context, sym models.Symbol, fo models.FetchOptions, log *applogger.Logger) (*models.FetchResult, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.retry.BackoffInitial
	b.MaxInterval = o.retry.BackoffMax

	start := time.Now()
	res, err := backoff.Retry(ctx, func() (*models.FetchResult, error) {
		res, err := o.source.Fetch(ctx, sym.Name, fo)
		if err == nil {
			return res, nil
		}
		if errors.Is(err, domrepo.ErrUpstreamUnavailable) {
			return nil, err
		}
		return nil, backoff.Permanent(err)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(o.retry.MaxAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			o.metrics.RecordError("upstream_retry")
			log.Warn("upstream fetch retry", applogger.Error(err), applogger.Duration("next", next))
		}),
	)
	o.metrics.RecordLatency("upstream_fetch", time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	return res, nil
}

func (o *Orchestrator) upsert(ctx context.Context, sym models.Symbol, obs []models.Observation, log *applogger.Logger) (models.UpsertResult, error) {
	start := time.Now()
	defer func() { o.metrics.RecordLatency("store_upsert", time.Since(start).Seconds()) }()

	for attempt := 0; ; attempt++ {
		res, err := o.store.Upsert(ctx, sym.ID, obs)
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, domrepo.ErrStoreConflict) || attempt >= o.retry.StoreRetries {
			return res, fmt.Errorf("upsert: %w", err)
		}
		log.Warn("store write rejected, retrying", applogger.Error(err))
	}
}

func (o *Orchestrator) skip(ctx context.Context, sym models.Symbol, mode models.PollMode, reason string) {
	o.appendLog(ctx, models.PollingLog{
		SymbolID:     sym.ID,
		Symbol:       sym.Name,
		Market:       sym.Market,
		Mode:         mode,
		Outcome:      models.OutcomeSkipped,
		ErrorMessage: reason,
	})
	o.metrics.RecordPoll(string(mode), string(models.OutcomeSkipped))
}

func (o *Orchestrator) appendLog(ctx context.Context, entry models.PollingLog) {
	if err := o.logs.AppendLog(context.WithoutCancel(ctx), entry); err != nil {
		o.metrics.RecordError("polling_log")
		o.l.Warn("append polling log failed", applogger.Symbol(entry.Market, entry.Symbol), applogger.Error(err))
	}
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, domrepo.ErrAuth):
		return "upstream_auth"
	case errors.Is(err, domrepo.ErrUnknownSymbol), errors.Is(err, domrepo.ErrNotFound):
		return "upstream_not_found"
	case errors.Is(err, domrepo.ErrUpstreamUnavailable):
		return "upstream_unavailable"
	case errors.Is(err, domrepo.ErrStoreConflict):
		return "store"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "other"
	}
}
