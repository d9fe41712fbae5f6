package models

import "time"

type Zone string

const (
	ZoneGreen     Zone = "GREEN"
	ZoneGrey      Zone = "GREY"
	ZoneRed       Zone = "RED"
	ZoneUndefined Zone = "UNDEFINED"
)

type ChangeType string

const (
	ChangeBullish ChangeType = "BULLISH"
	ChangeBearish ChangeType = "BEARISH"
	ChangeNeutral ChangeType = "NEUTRAL"
)

// ZoneRun is the trailing stretch of same-zone observations for a symbol.
type ZoneRun struct {
	SymbolID                 int64     `json:"symbol_id"`
	Zone                     Zone      `json:"zone"`
	SinceDate                time.Time `json:"since_date"`
	EntryValue               int       `json:"entry_value"`
	LatestLeverageModerate   *Leverage `json:"latest_leverage_moderate,omitempty"`
	LatestLeverageAggressive *Leverage `json:"latest_leverage_aggressive,omitempty"`
}

// MomentumAlert marks a zone-boundary crossing, keyed by (SymbolID, Date).
type MomentumAlert struct {
	SymbolID            int64      `json:"symbol_id"`
	Date                time.Time  `json:"date"`
	FromScore           int        `json:"from_score"`
	ToScore             int        `json:"to_score"`
	ChangeType          ChangeType `json:"change_type"`
	DaysSinceLastChange *int       `json:"days_since_last_change,omitempty"`
}

// Key identifies the alert within its symbol.
func (a MomentumAlert) Key() int64 { return a.Date.UnixMicro() }

// AlertView joins an alert with its symbol for the read surface.
type AlertView struct {
	MomentumAlert
	SymbolName  string `json:"symbol_name"`
	SymbolLabel string `json:"symbol_label"`
	Market      string `json:"market"`
}
