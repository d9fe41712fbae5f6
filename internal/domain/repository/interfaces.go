package repository

import (
	"context"
	"time"

	"ClarityPull/internal/domain/models"
)

// MarketDataSource fetches raw observation batches from the upstream feed.
type MarketDataSource interface {
	Fetch(ctx context.Context, symbol string, opts models.FetchOptions) (*models.FetchResult, error)
}

// ObservationStore is the durable keyed table of observations.
type ObservationStore interface {
	Upsert(ctx context.Context, symbolID int64, obs []models.Observation) (models.UpsertResult, error)
	Reset(ctx context.Context, symbolID int64) (int64, error)
	History(ctx context.Context, symbolID int64) ([]models.Observation, error)
	Latest(ctx context.Context, symbolID int64) (*models.Observation, error)
	Count(ctx context.Context, symbolID int64) (int64, error)
	// Revision changes whenever the symbol's stored history changes.
	Revision(ctx context.Context, symbolID int64) (string, error)
	// SetScoreOverride sets or clears the operator score of one UTC day.
	SetScoreOverride(ctx context.Context, symbolID int64, day time.Time, score *int) error
}

type SymbolRepository interface {
	ListSymbols(ctx context.Context) ([]models.Symbol, error)
	GetSymbol(ctx context.Context, id int64) (*models.Symbol, error)
	FindSymbol(ctx context.Context, market, name string) (*models.Symbol, error)
	FindSymbolsByName(ctx context.Context, name string) ([]models.Symbol, error)
	ListSymbolsByMarket(ctx context.Context, markets ...string) ([]models.Symbol, error)
	ListMarkets(ctx context.Context) ([]models.Market, error)
	ListRegions(ctx context.Context) ([]models.Region, error)
	ListCountries(ctx context.Context) ([]models.Country, error)
	Seed(ctx context.Context, ref models.Reference) error
}

type AlertRepository interface {
	ListAlerts(ctx context.Context, symbolID int64) ([]models.MomentumAlert, error)
	ReplaceAlerts(ctx context.Context, symbolID int64, alerts []models.MomentumAlert) error
	RecentAlerts(ctx context.Context, limit int) ([]models.AlertView, error)
}

type StatusRepository interface {
	SaveStatus(ctx context.Context, s models.PollingStatus) error
	// ClaimStatus stores s unless the row is processing and not older than
	// staleBefore. The check and the write are one step.
	ClaimStatus(ctx context.Context, s models.PollingStatus, staleBefore time.Time) (bool, error)
	// ExpireStatus stores s only over a processing row older than staleBefore.
	ExpireStatus(ctx context.Context, s models.PollingStatus, staleBefore time.Time) (bool, error)
	GetStatus(ctx context.Context, symbolID int64) (*models.PollingStatus, error)
	ListStatuses(ctx context.Context) ([]models.PollingStatus, error)
}

type PollingLogRepository interface {
	AppendLog(ctx context.Context, l models.PollingLog) error
	RecentLogs(ctx context.Context, f models.LogFilter) ([]models.PollingLog, error)
}

// EventPublisher fans derived events out to downstream listeners.
type EventPublisher interface {
	PublishAlerts(ctx context.Context, sym models.Symbol, alerts []models.MomentumAlert) error
	PublishStatus(ctx context.Context, s models.PollingStatus) error
}

type Metrics interface {
	RecordPoll(mode, outcome string)
	RecordRows(kind string, n int)
	RecordAlerts(market string, n int)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
	SetProcessing(delta float64)
}
