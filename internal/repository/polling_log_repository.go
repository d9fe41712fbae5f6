package repository

import (
	"context"
	"fmt"
	"time"

	"ClarityPull/internal/domain/models"

	"github.com/google/uuid"
)

var pollingLogCols = []string{
	"id", "symbol_id", "symbol", "market", "mode", "outcome",
	"rows_inserted", "rows_updated", "rows_rejected", "duration_ms", "error_message", "created_at",
}

const (
	pollingLogSelect = "id, symbol_id, symbol, market, mode, outcome, rows_inserted, rows_updated, rows_rejected, duration_ms, error_message, created_at"
	defaultLogLimit  = 100
)

// AppendLog stores one audit entry. Entries are never updated.
func (s *Store) AppendLog(ctx context.Context, l models.PollingLog) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = s.now()
	}
	row := []any{
		l.ID, l.SymbolID, l.Symbol, l.Market, l.Mode, l.Outcome,
		int64(l.RowsInserted), int64(l.RowsUpdated), int64(l.RowsRejected),
		l.Duration.Milliseconds(), l.ErrorMessage, l.CreatedAt.UTC().Truncate(time.Microsecond),
	}
	if err := s.write(ctx, nil, insertSQL("polling_logs", pollingLogCols), [][]any{row}); err != nil {
		return storeConflict("append polling log", err)
	}
	return nil
}

// RecentLogs returns the newest entries first.
func (s *Store) RecentLogs(ctx context.Context, f models.LogFilter) ([]models.PollingLog, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultLogLimit
	}

	var (
		where string
		args  []any
	)
	if f.SymbolID != 0 {
		where = " WHERE symbol_id = ?"
		args = append(args, f.SymbolID)
	}
	args = append(args, limit)
	query := fmt.Sprintf("SELECT %s FROM %s%s ORDER BY created_at DESC LIMIT ?", pollingLogSelect, s.d.From("polling_logs"), where)

	rows, err := s.db.QueryContext(ctx, query, s.args(args...)...)
	if err != nil {
		return nil, fmt.Errorf("query polling logs: %w", err)
	}
	defer rows.Close()

	out := []models.PollingLog{}
	for rows.Next() {
		var (
			l                      models.PollingLog
			mode, outcome          string
			inserted, updated, rej int64
			durationMS             int64
		)
		if err := rows.Scan(&l.ID, &l.SymbolID, &l.Symbol, &l.Market, &mode, &outcome,
			&inserted, &updated, &rej, &durationMS, &l.ErrorMessage, timeScan{&l.CreatedAt}); err != nil {
			return nil, fmt.Errorf("scan polling log: %w", err)
		}
		l.Mode = models.PollMode(mode)
		l.Outcome = models.PollOutcome(outcome)
		l.RowsInserted = int(inserted)
		l.RowsUpdated = int(updated)
		l.RowsRejected = int(rej)
		l.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, l)
	}
	return out, rows.Err()
}
