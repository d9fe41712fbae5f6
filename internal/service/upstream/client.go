// Package upstream fetches observation batches from the market data feed.
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"ClarityPull/internal/domain/models"
	drepo "ClarityPull/internal/domain/repository"
	xhttp "ClarityPull/pkg/http"
	applogger "ClarityPull/pkg/logger"
	"ClarityPull/pkg/util"

	"github.com/shopspring/decimal"
)

// HeaderAPIKey carries the shared secret expected by the feed.
const HeaderAPIKey = "X-Internal-API-Key"

// Client implements MarketDataSource over the feed's REST API.
type Client struct {
	http       *xhttp.Client
	pathPrefix string
	l          *applogger.Logger
}

// New creates an upstream client. timeout bounds each request.
func New(host, pathPrefix, apiKey string, timeout time.Duration, l *applogger.Logger) *Client {
	if l == nil {
		l = applogger.Nop()
	}
	return &Client{
		http: xhttp.NewClient(
			xhttp.WithBaseURL(strings.TrimRight(host, "/")),
			xhttp.WithTimeout(timeout),
			xhttp.WithHeader(HeaderAPIKey, apiKey),
		),
		pathPrefix: "/" + strings.Trim(pathPrefix, "/"),
		l:          l.With(applogger.String("component", "upstream")),
	}
}

type envelope struct {
	Market  string            `json:"market"`
	Count   int               `json:"count"`
	Results []json.RawMessage `json:"results"`
}

type rawRow struct {
	PriceTimestamp     string              `json:"price_timestamp"`
	Open               decimal.NullDecimal `json:"open"`
	High               decimal.NullDecimal `json:"high"`
	Low                decimal.NullDecimal `json:"low"`
	Close              decimal.NullDecimal `json:"close"`
	Volume             decimal.NullDecimal `json:"volume_number"`
	VolumeUSD          decimal.NullDecimal `json:"volume_usd"`
	FundingRate        decimal.NullDecimal `json:"bitmex_funding_rate"`
	Region             *string             `json:"region"`
	Score              json.RawMessage     `json:"smart_index_st"`
	LeverageModerate   json.RawMessage     `json:"aes_leverage_moderate"`
	LeverageAggressive json.RawMessage     `json:"aes_leverage_aggressive"`
}

// checkedRow holds the fields that carry range rules.
type checkedRow struct {
	PriceTimestamp string `validate:"required"`
	Score          *int   `validate:"omitempty,gte=0,lte=100"`
}

// Fetch returns the symbol's observations in ascending order. Rows that fail
// validation are reported in Rejected and do not fail the call.
func (c *Client) Fetch(ctx context.Context, symbol string, opts models.FetchOptions) (*models.FetchResult, error) {
	if opts.LatestOnly && opts.FromDate != nil {
		return nil, fmt.Errorf("fetch %s: latest-only and from-date are exclusive", symbol)
	}
	query := map[string]string{}
	switch {
	case opts.LatestOnly:
		query["latest_only"] = "true"
	case opts.FromDate != nil:
		query["from_date"] = opts.FromDate.UTC().Format(util.DateLayout)
	}

	path := fmt.Sprintf("%s/market-data/%s/", c.pathPrefix, url.PathEscape(symbol))
	start := time.Now()
	resp, err := c.http.Get(ctx, path, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", drepo.ErrUpstreamUnavailable, symbol, err)
	}

	switch {
	case resp.Status == http.StatusForbidden || resp.Status == http.StatusUnauthorized:
		return nil, fmt.Errorf("%w: status %d", drepo.ErrAuth, resp.Status)
	case resp.Status == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %w: %s", drepo.ErrNotFound, drepo.ErrUnknownSymbol, symbol)
	case !resp.OK():
		return nil, fmt.Errorf("%w: %s: status %d", drepo.ErrUpstreamUnavailable, symbol, resp.Status)
	}

	var env envelope
	if err := json.Unmarshal(resp.Body, &env); err != nil {
		return nil, fmt.Errorf("%w: %s: decode body: %w", drepo.ErrUpstreamUnavailable, symbol, err)
	}
	if env.Count != len(env.Results) {
		c.l.Warn("upstream count mismatch",
			applogger.String("symbol", symbol),
			applogger.Int("count", env.Count),
			applogger.Int("results", len(env.Results)),
		)
	}

	out := &models.FetchResult{Market: env.Market, Observations: make([]models.Observation, 0, len(env.Results))}
	for i, raw := range env.Results {
		o, err := parseRow(ctx, raw)
		if err != nil {
			out.Rejected = append(out.Rejected, models.RowError{Index: i, Reason: err.Error()})
			continue
		}
		out.Observations = append(out.Observations, o)
	}
	sort.SliceStable(out.Observations, func(i, j int) bool {
		return out.Observations[i].PriceTimestamp.Before(out.Observations[j].PriceTimestamp)
	})

	c.l.Debug("upstream fetch",
		applogger.String("symbol", symbol),
		applogger.Int("rows", len(out.Observations)),
		applogger.Int("rejected", len(out.Rejected)),
		applogger.Duration("took", time.Since(start)),
	)
	return out, nil
}

func parseRow(ctx context.Context, raw json.RawMessage) (models.Observation, error) {
	var r rawRow
	if err := json.Unmarshal(raw, &r); err != nil {
		return models.Observation{}, &drepo.ValidationError{Field: "row", Reason: err.Error()}
	}

	score, err := parseScore(r.Score)
	if err != nil {
		return models.Observation{}, err
	}
	if err := xhttp.ValidateStruct(ctx, checkedRow{PriceTimestamp: r.PriceTimestamp, Score: score}); err != nil {
		return models.Observation{}, &drepo.ValidationError{Field: "row", Reason: xhttp.FieldMessage(err)}
	}

	ts, ok := util.ParseTime(r.PriceTimestamp)
	if !ok {
		return models.Observation{}, &drepo.ValidationError{Field: "price_timestamp", Reason: fmt.Sprintf("unparseable %q", r.PriceTimestamp)}
	}
	moderate, err := parseLeverage("aes_leverage_moderate", r.LeverageModerate)
	if err != nil {
		return models.Observation{}, err
	}
	aggressive, err := parseLeverage("aes_leverage_aggressive", r.LeverageAggressive)
	if err != nil {
		return models.Observation{}, err
	}

	return models.Observation{
		PriceTimestamp:     ts,
		Open:               r.Open,
		High:               r.High,
		Low:                r.Low,
		Close:              r.Close,
		Volume:             r.Volume,
		VolumeUSD:          r.VolumeUSD,
		FundingRate:        r.FundingRate,
		Region:             region(r.Region),
		Score:              score,
		LeverageModerate:   moderate,
		LeverageAggressive: aggressive,
	}, nil
}

func region(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

// parseScore accepts an integral JSON number or numeric string.
func parseScore(raw json.RawMessage) (*int, error) {
	s, null := scalar(raw)
	if null {
		return nil, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) {
		return nil, &drepo.ValidationError{Field: "smart_index_st", Reason: fmt.Sprintf("not an integer: %s", s)}
	}
	n := int(f)
	return &n, nil
}

func parseLeverage(field string, raw json.RawMessage) (*models.Leverage, error) {
	s, null := scalar(raw)
	if null {
		return nil, nil
	}
	lv, err := models.ParseLeverage(s)
	if err != nil {
		return nil, &drepo.ValidationError{Field: field, Reason: err.Error()}
	}
	return &lv, nil
}

// scalar unquotes a JSON scalar; null, absent and empty strings read as null.
func scalar(raw json.RawMessage) (string, bool) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return "", true
	}
	if unq, err := strconv.Unquote(s); err == nil {
		s = strings.TrimSpace(unq)
		if s == "" {
			return "", true
		}
	}
	return s, false
}
