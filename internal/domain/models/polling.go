package models

import (
	"fmt"
	"time"
)

type PollingState string

const (
	StateIdle       PollingState = "idle"
	StateProcessing PollingState = "processing"
	StateReady      PollingState = "ready"
	StateFailed     PollingState = "failed"
)

// PollingStatus is the per-symbol ingestion state.
type PollingStatus struct {
	SymbolID      int64        `json:"symbol_id"`
	Symbol        string       `json:"symbol"`
	Market        string       `json:"market"`
	State         PollingState `json:"state"`
	LastUpdatedAt time.Time    `json:"last_updated_at"`
	LastError     string       `json:"last_error,omitempty"`
}

// ConsumerState maps the state machine onto what readers see. A failed
// symbol keeps serving its last good data and is flagged stale.
func (s PollingStatus) ConsumerState() (state string, stale bool) {
	switch s.State {
	case StateProcessing:
		return "processing", false
	case StateFailed:
		return "ready", true
	default:
		return "ready", false
	}
}

type PollMode string

const (
	ModeFull     PollMode = "full"
	ModeLatest   PollMode = "latest"
	ModeFromDate PollMode = "from-date"
	ModeReset    PollMode = "reset"
)

// PollOptions is a mode plus its from-date argument.
type PollOptions struct {
	Mode     PollMode
	FromDate *time.Time
}

// Validate checks the mode and its argument.
func (o PollOptions) Validate() error {
	switch o.Mode {
	case ModeFull, ModeLatest, ModeReset:
		return nil
	case ModeFromDate:
		if o.FromDate == nil {
			return fmt.Errorf("mode %s requires a from date", o.Mode)
		}
		return nil
	default:
		return fmt.Errorf("unknown poll mode %q", o.Mode)
	}
}

// FetchOptions derives the upstream window for the mode.
func (o PollOptions) FetchOptions() FetchOptions {
	switch o.Mode {
	case ModeLatest:
		return FetchOptions{LatestOnly: true}
	case ModeFromDate:
		return FetchOptions{FromDate: o.FromDate}
	default:
		return FetchOptions{}
	}
}

// Selection names symbols explicitly or by group.
type Selection struct {
	Symbols []string `json:"symbols,omitempty"`
	Groups  []string `json:"groups,omitempty"`
}

func (s Selection) Empty() bool { return len(s.Symbols) == 0 && len(s.Groups) == 0 }

type PollOutcome string

const (
	OutcomeSuccess PollOutcome = "success"
	OutcomeFailed  PollOutcome = "failed"
	OutcomeSkipped PollOutcome = "skipped"
)

// PollingLog is a write-once audit entry for one poll attempt.
type PollingLog struct {
	ID           string        `json:"id"`
	SymbolID     int64         `json:"symbol_id"`
	Symbol       string        `json:"symbol"`
	Market       string        `json:"market"`
	Mode         PollMode      `json:"mode"`
	Outcome      PollOutcome   `json:"outcome"`
	RowsInserted int           `json:"rows_inserted"`
	RowsUpdated  int           `json:"rows_updated"`
	RowsRejected int           `json:"rows_rejected"`
	Duration     time.Duration `json:"duration"`
	ErrorMessage string        `json:"error_message,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
}

// LogFilter narrows a recent-logs query.
type LogFilter struct {
	SymbolID int64
	Limit    int
}

// PollSummary lists symbols by outcome for one run.
type PollSummary struct {
	Succeeded []string `json:"succeeded"`
	Failed    []string `json:"failed"`
	Skipped   []string `json:"skipped"`
}
