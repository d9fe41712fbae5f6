package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"ClarityPull/internal/domain/models"
	domrepo "ClarityPull/internal/domain/repository"
	xhttp "ClarityPull/pkg/http"
	applogger "ClarityPull/pkg/logger"
	"ClarityPull/pkg/util"

	"github.com/creasty/defaults"
)

// StatusView is a persisted status plus the state readers should see.
type StatusView struct {
	models.PollingStatus
	ConsumerState string `json:"consumer_state"`
	Stale         bool   `json:"stale"`
}

// PollService is the operational entry point shared by the HTTP ops
// endpoints, the Kafka poll-request consumer and the scheduler.
type PollService struct {
	orch    *Orchestrator
	status  *StatusTracker
	logs    domrepo.PollingLogRepository
	symbols domrepo.SymbolRepository
	l       *applogger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewPollService(orch *Orchestrator, status *StatusTracker, logs domrepo.PollingLogRepository, symbols domrepo.SymbolRepository, l *applogger.Logger) *PollService {
	if l == nil {
		l = applogger.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &PollService{
		orch:    orch,
		status:  status,
		logs:    logs,
		symbols: symbols,
		l:       l.With(applogger.String("component", "poll_service")),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// ParseRequest applies defaults, validates and converts a poll request.
func ParseRequest(ctx context.Context, req *models.PollRequest) (models.Selection, models.PollOptions, error) {
	var (
		sel  models.Selection
		opts models.PollOptions
	)
	if err := defaults.Set(req); err != nil {
		return sel, opts, err
	}
	if err := xhttp.ValidateStruct(ctx, req); err != nil {
		return sel, opts, &domrepo.ValidationError{Field: "request", Reason: xhttp.FieldMessage(err)}
	}

	sel = models.Selection{Symbols: req.Symbols, Groups: req.Groups}
	if sel.Empty() {
		return sel, opts, &domrepo.ValidationError{Field: "request", Reason: "symbols or groups is required"}
	}
	opts.Mode = models.PollMode(req.Mode)
	if req.FromDate != "" {
		d, err := util.ParseDate(req.FromDate)
		if err != nil {
			return sel, opts, &domrepo.ValidationError{Field: "from_date", Reason: err.Error()}
		}
		opts.FromDate = &d
	}
	if err := opts.Validate(); err != nil {
		return sel, opts, &domrepo.ValidationError{Field: "mode", Reason: err.Error()}
	}
	return sel, opts, nil
}

// Execute runs the request and waits for the summary.
func (s *PollService) Execute(ctx context.Context, req models.PollRequest) (models.PollSummary, error) {
	sel, opts, err := ParseRequest(ctx, &req)
	if err != nil {
		return models.PollSummary{}, err
	}
	return s.orch.Run(ctx, sel, opts)
}

// Submit validates the request and runs it in the background. The returned
// request carries the applied defaults.
func (s *PollService) Submit(ctx context.Context, req models.PollRequest) (models.PollRequest, error) {
	sel, opts, err := ParseRequest(ctx, &req)
	if err != nil {
		return req, err
	}
	if s.ctx.Err() != nil {
		return req, errors.New("poll service is shutting down")
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		summary, err := s.orch.Run(s.ctx, sel, opts)
		if err != nil {
			s.l.Error("submitted poll failed", applogger.Error(err))
			return
		}
		s.l.Info("submitted poll finished",
			applogger.Strings("succeeded", summary.Succeeded),
			applogger.Strings("failed", summary.Failed),
			applogger.Strings("skipped", summary.Skipped),
		)
	}()
	return req, nil
}

// Shutdown cancels background runs and waits for them until ctx expires.
func (s *PollService) Shutdown(ctx context.Context) error {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *PollService) Statuses(ctx context.Context) ([]StatusView, error) {
	statuses, err := s.status.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]StatusView, len(statuses))
	for i, st := range statuses {
		state, stale := st.ConsumerState()
		out[i] = StatusView{PollingStatus: st, ConsumerState: state, Stale: stale}
	}
	return out, nil
}

// Logs returns recent polling logs, optionally for one symbol.
func (s *PollService) Logs(ctx context.Context, req models.LogsRequest) ([]models.PollingLog, error) {
	f := models.LogFilter{Limit: req.Limit}
	if req.Symbol != "" {
		all, err := s.symbols.ListSymbols(ctx)
		if err != nil {
			return nil, err
		}
		for _, sym := range all {
			if strings.EqualFold(sym.Name, req.Symbol) && (req.Market == "" || sym.Market == req.Market) {
				f.SymbolID = sym.ID
				break
			}
		}
		if f.SymbolID == 0 {
			return nil, fmt.Errorf("%w: symbol %s", domrepo.ErrNotFound, req.Symbol)
		}
	}
	return s.logs.RecentLogs(ctx, f)
}

// OverrideScore applies an operator score to one stored day of a symbol.
func (s *PollService) OverrideScore(ctx context.Context, req models.ScoreOverrideRequest) (*models.ZoneRun, error) {
	if err := xhttp.ValidateStruct(ctx, &req); err != nil {
		return nil, &domrepo.ValidationError{Field: "request", Reason: xhttp.FieldMessage(err)}
	}
	day, err := util.ParseDate(req.Date)
	if err != nil {
		return nil, &domrepo.ValidationError{Field: "date", Reason: err.Error()}
	}
	syms, err := s.symbols.ListSymbolsByMarket(ctx, req.Market)
	if err != nil {
		return nil, err
	}
	for _, sym := range syms {
		if strings.EqualFold(sym.Name, req.Symbol) {
			return s.orch.OverrideScore(ctx, sym, day, req.Score)
		}
	}
	return nil, fmt.Errorf("%w: symbol %s in %s", domrepo.ErrNotFound, req.Symbol, req.Market)
}
