package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"ClarityPull/internal/domain/models"
	domrepo "ClarityPull/internal/domain/repository"
	applogger "ClarityPull/pkg/logger"
	"ClarityPull/pkg/util"

	"github.com/shopspring/decimal"
)

// IndexSummary is one symbol's line on the market summary.
type IndexSummary struct {
	ID                 int64            `json:"id"`
	Name               string           `json:"name"`
	Label              string           `json:"label"`
	Market             string           `json:"market"`
	Score              *int             `json:"score"`
	Status             string           `json:"status"`
	Stale              bool             `json:"stale"`
	LastError          string           `json:"last_error,omitempty"`
	LastUpdatedAt      *time.Time       `json:"last_updated_at"`
	ActiveZone         *models.Zone     `json:"active_zone"`
	ZoneSinceDate      *string          `json:"zone_since_date"`
	ZoneEntryValue     *int             `json:"zone_entry_value"`
	LeverageModerate   *models.Leverage `json:"aes_leverage_moderate,omitempty"`
	LeverageAggressive *models.Leverage `json:"aes_leverage_aggressive,omitempty"`
}

type CountrySummary struct {
	Code    string         `json:"code"`
	Name    string         `json:"name"`
	Indexes []IndexSummary `json:"indexes"`
}

type RegionSummary struct {
	Code      string           `json:"code"`
	Name      string           `json:"name"`
	Countries []CountrySummary `json:"countries"`
}

type MarketSummary struct {
	Regions []RegionSummary `json:"regions"`
}

// ChartPoint is one day of a symbol's chart.
type ChartPoint struct {
	Date               string              `json:"date"`
	Open               decimal.NullDecimal `json:"open"`
	High               decimal.NullDecimal `json:"high"`
	Low                decimal.NullDecimal `json:"low"`
	Close              decimal.NullDecimal `json:"close_price"`
	Volume             decimal.NullDecimal `json:"volume"`
	VolumeUSD          decimal.NullDecimal `json:"volume_usd,omitzero"`
	FundingRate        decimal.NullDecimal `json:"bitmex_funding_rate,omitzero"`
	Region             *string             `json:"region,omitempty"`
	Score              *int                `json:"smart_index"`
	LeverageModerate   *models.Leverage    `json:"aes_leverage_moderate"`
	LeverageAggressive *models.Leverage    `json:"aes_leverage_aggressive"`
}

type SymbolMeta struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Label string `json:"label"`
}

type MarketMeta struct {
	Name        string       `json:"name"`
	Label       string       `json:"label"`
	Description string       `json:"description,omitempty"`
	Symbols     []SymbolMeta `json:"symbols"`
}

// pseudoRegions are markets shown as their own region on the summary.
var pseudoRegions = []struct{ market, label string }{
	{models.MarketCrypto, "Crypto"},
	{models.MarketPreciousMetals, "Precious Metals"},
}

// MarketReader serves the dashboard's read endpoints.
type MarketReader struct {
	symbols domrepo.SymbolRepository
	store   domrepo.ObservationStore
	alerts  domrepo.AlertRepository
	status  *StatusTracker
	runs    *ZoneRunTracker
	l       *applogger.Logger
}

func NewMarketReader(symbols domrepo.SymbolRepository, store domrepo.ObservationStore, alerts domrepo.AlertRepository, status *StatusTracker, runs *ZoneRunTracker, l *applogger.Logger) *MarketReader {
	if l == nil {
		l = applogger.Nop()
	}
	return &MarketReader{symbols: symbols, store: store, alerts: alerts, status: status, runs: runs, l: l}
}

// Summary groups stock indexes by region and country, followed by the
// crypto and metals pseudo-regions. Empty groups are omitted.
func (r *MarketReader) Summary(ctx context.Context) (*MarketSummary, error) {
	regions, err := r.symbols.ListRegions(ctx)
	if err != nil {
		return nil, err
	}
	countries, err := r.symbols.ListCountries(ctx)
	if err != nil {
		return nil, err
	}
	symbols, err := r.symbols.ListSymbols(ctx)
	if err != nil {
		return nil, err
	}
	statuses, err := r.status.List(ctx)
	if err != nil {
		return nil, err
	}
	byStatus := make(map[int64]models.PollingStatus, len(statuses))
	for _, st := range statuses {
		byStatus[st.SymbolID] = st
	}

	byCountry := make(map[string][]models.Symbol)
	byMarket := make(map[string][]models.Symbol)
	for _, s := range symbols {
		byMarket[s.Market] = append(byMarket[s.Market], s)
		if s.CountryCode != "" {
			byCountry[s.CountryCode] = append(byCountry[s.CountryCode], s)
		}
	}

	out := &MarketSummary{Regions: []RegionSummary{}}
	for _, region := range regions {
		rs := RegionSummary{Code: region.Code, Name: region.Name}
		for _, c := range countries {
			if c.RegionCode != region.Code {
				continue
			}
			var indexes []IndexSummary
			for _, s := range byCountry[c.Code] {
				if !isIndexMarket(s.Market) {
					continue
				}
				idx, err := r.indexSummary(ctx, s, byStatus)
				if err != nil {
					return nil, err
				}
				indexes = append(indexes, idx)
			}
			if len(indexes) > 0 {
				rs.Countries = append(rs.Countries, CountrySummary{Code: c.Code, Name: c.Name, Indexes: indexes})
			}
		}
		if len(rs.Countries) > 0 {
			out.Regions = append(out.Regions, rs)
		}
	}

	for _, pr := range pseudoRegions {
		syms := byMarket[pr.market]
		if len(syms) == 0 {
			continue
		}
		indexes := make([]IndexSummary, 0, len(syms))
		for _, s := range syms {
			idx, err := r.indexSummary(ctx, s, byStatus)
			if err != nil {
				return nil, err
			}
			indexes = append(indexes, idx)
		}
		code := strings.ToUpper(pr.market)
		out.Regions = append(out.Regions, RegionSummary{
			Code:      code,
			Name:      pr.label,
			Countries: []CountrySummary{{Code: code, Name: pr.label, Indexes: indexes}},
		})
	}
	return out, nil
}

func isIndexMarket(market string) bool {
	indexes, _ := models.GroupMarkets(models.GroupIndexes)
	for _, m := range indexes {
		if m == market {
			return true
		}
	}
	return false
}

func (r *MarketReader) indexSummary(ctx context.Context, s models.Symbol, statuses map[int64]models.PollingStatus) (IndexSummary, error) {
	idx := IndexSummary{ID: s.ID, Name: s.Name, Label: s.Label, Market: s.Market, Status: "ready"}

	if st, ok := statuses[s.ID]; ok {
		idx.Status, idx.Stale = st.ConsumerState()
		idx.LastError = st.LastError
		ts := st.LastUpdatedAt
		idx.LastUpdatedAt = &ts
	}

	latest, err := r.store.Latest(ctx, s.ID)
	switch {
	case err == nil:
		idx.Score = latest.EffectiveScore()
	case !errors.Is(err, domrepo.ErrNotFound):
		return idx, fmt.Errorf("latest %s: %w", s.Name, err)
	}

	run, err := r.runs.CurrentRun(ctx, s.ID)
	if err != nil {
		return idx, err
	}
	if run != nil {
		zone := run.Zone
		since := run.SinceDate.UTC().Format(util.DateLayout)
		entry := run.EntryValue
		idx.ActiveZone = &zone
		idx.ZoneSinceDate = &since
		idx.ZoneEntryValue = &entry
		idx.LeverageModerate = run.LatestLeverageModerate
		idx.LeverageAggressive = run.LatestLeverageAggressive
	}
	return idx, nil
}

// Chart returns the symbol's full ascending history. The name matches
// case-insensitively within the market.
func (r *MarketReader) Chart(ctx context.Context, market, name string) ([]ChartPoint, error) {
	if !models.KnownMarket(market) {
		return nil, fmt.Errorf("%w: %s", domrepo.ErrUnknownMarket, market)
	}
	syms, err := r.symbols.ListSymbolsByMarket(ctx, market)
	if err != nil {
		return nil, err
	}
	var sym *models.Symbol
	for i := range syms {
		if strings.EqualFold(syms[i].Name, name) {
			sym = &syms[i]
			break
		}
	}
	if sym == nil {
		return nil, fmt.Errorf("%w: symbol %s in %s", domrepo.ErrNotFound, name, market)
	}

	history, err := r.store.History(ctx, sym.ID)
	if err != nil {
		return nil, err
	}
	points := make([]ChartPoint, len(history))
	for i, o := range history {
		points[i] = ChartPoint{
			Date:               o.PriceTimestamp.UTC().Format(util.DateLayout),
			Open:               o.Open,
			High:               o.High,
			Low:                o.Low,
			Close:              o.Close,
			Volume:             o.Volume,
			VolumeUSD:          o.VolumeUSD,
			FundingRate:        o.FundingRate,
			Region:             o.Region,
			Score:              o.EffectiveScore(),
			LeverageModerate:   o.LeverageModerate,
			LeverageAggressive: o.LeverageAggressive,
		}
	}
	return points, nil
}

// Alerts lists stored alerts across symbols, date descending.
func (r *MarketReader) Alerts(ctx context.Context, limit int) ([]models.AlertView, error) {
	alerts, err := r.alerts.RecentAlerts(ctx, limit)
	if err != nil {
		return nil, err
	}
	if alerts == nil {
		alerts = []models.AlertView{}
	}
	return alerts, nil
}

// Metadata lists every market with its symbols.
func (r *MarketReader) Metadata(ctx context.Context) ([]MarketMeta, error) {
	markets, err := r.symbols.ListMarkets(ctx)
	if err != nil {
		return nil, err
	}
	symbols, err := r.symbols.ListSymbols(ctx)
	if err != nil {
		return nil, err
	}
	byMarket := make(map[string][]SymbolMeta)
	for _, s := range symbols {
		byMarket[s.Market] = append(byMarket[s.Market], SymbolMeta{ID: s.ID, Name: s.Name, Label: s.Label})
	}

	out := make([]MarketMeta, 0, len(markets))
	for _, m := range markets {
		syms := byMarket[m.Name]
		if syms == nil {
			syms = []SymbolMeta{}
		}
		sort.Slice(syms, func(i, j int) bool { return syms[i].Name < syms[j].Name })
		out = append(out, MarketMeta{Name: m.Name, Label: m.Label, Description: m.Description, Symbols: syms})
	}
	return out, nil
}
