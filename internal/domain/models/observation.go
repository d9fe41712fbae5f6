package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Leverage is a suggested leverage multiple such as "2X".
type Leverage string

const (
	minLeverage = 1
	maxLeverage = 3
)

// ParseLeverage accepts "2", "2X" or "2x".
func ParseLeverage(s string) (Leverage, error) {
	raw := strings.TrimSuffix(strings.ToUpper(strings.TrimSpace(s)), "X")
	n, err := strconv.Atoi(raw)
	if err != nil {
		return "", fmt.Errorf("leverage %q: not a multiple", s)
	}
	if n < minLeverage || n > maxLeverage {
		return "", fmt.Errorf("leverage %q: out of range %d..%d", s, minLeverage, maxLeverage)
	}
	return Leverage(strconv.Itoa(n) + "X"), nil
}

// Observation is one daily row keyed by (SymbolID, PriceTimestamp).
//
// VolumeUSD and FundingRate are only carried for crypto, Region only for
// international indexes. ScoreOverride is set by operators and never by
// ingestion; when present it replaces Score for every derived view.
type Observation struct {
	SymbolID           int64               `json:"symbol_id"`
	PriceTimestamp     time.Time           `json:"price_timestamp"`
	Open               decimal.NullDecimal `json:"open"`
	High               decimal.NullDecimal `json:"high"`
	Low                decimal.NullDecimal `json:"low"`
	Close              decimal.NullDecimal `json:"close"`
	Volume             decimal.NullDecimal `json:"volume"`
	VolumeUSD          decimal.NullDecimal `json:"volume_usd"`
	FundingRate        decimal.NullDecimal `json:"funding_rate"`
	Region             *string             `json:"region,omitempty"`
	Score              *int                `json:"score"`
	ScoreOverride      *int                `json:"score_override,omitempty"`
	LeverageModerate   *Leverage           `json:"leverage_moderate"`
	LeverageAggressive *Leverage           `json:"leverage_aggressive"`
}

// EffectiveScore is the override when set, else the upstream score.
func (o Observation) EffectiveScore() *int {
	if o.ScoreOverride != nil {
		return o.ScoreOverride
	}
	return o.Score
}

// SameContent reports whether two rows carry identical upstream values.
// ScoreOverride is not upstream data and is ignored.
func (o Observation) SameContent(other Observation) bool {
	return o.SymbolID == other.SymbolID &&
		o.PriceTimestamp.Equal(other.PriceTimestamp) &&
		sameDecimal(o.Open, other.Open) &&
		sameDecimal(o.High, other.High) &&
		sameDecimal(o.Low, other.Low) &&
		sameDecimal(o.Close, other.Close) &&
		sameDecimal(o.Volume, other.Volume) &&
		sameDecimal(o.VolumeUSD, other.VolumeUSD) &&
		sameDecimal(o.FundingRate, other.FundingRate) &&
		sameString(o.Region, other.Region) &&
		sameInt(o.Score, other.Score) &&
		sameLeverage(o.LeverageModerate, other.LeverageModerate) &&
		sameLeverage(o.LeverageAggressive, other.LeverageAggressive)
}

// ForMarket clears the fields the market does not carry.
func (o Observation) ForMarket(market string) Observation {
	if market != MarketCrypto {
		o.VolumeUSD = decimal.NullDecimal{}
		o.FundingRate = decimal.NullDecimal{}
	}
	if market != MarketInternationalIndexes {
		o.Region = nil
	}
	return o
}

func sameDecimal(a, b decimal.NullDecimal) bool {
	if a.Valid != b.Valid {
		return false
	}
	return !a.Valid || a.Decimal.Equal(b.Decimal)
}

func sameInt(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func sameString(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func sameLeverage(a, b *Leverage) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// UpsertResult counts what a batch upsert did to the store.
type UpsertResult struct {
	Inserted  int `json:"inserted"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
}

// Changed is the number of rows actually written.
func (r UpsertResult) Changed() int { return r.Inserted + r.Updated }

// FetchOptions selects the upstream window. Both zero means full history.
type FetchOptions struct {
	FromDate   *time.Time
	LatestOnly bool
}

// RowError describes one upstream record that was dropped.
type RowError struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

// FetchResult is an ascending batch of observations plus dropped rows.
type FetchResult struct {
	Market       string
	Observations []Observation
	Rejected     []RowError
}
