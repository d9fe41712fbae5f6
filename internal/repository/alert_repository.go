package repository

import (
	"context"
	"fmt"
	"time"

	"ClarityPull/internal/domain/models"
)

var alertCols = []string{"symbol_id", "alert_date", "from_score", "to_score", "change_type", "days_since_last_change", "version"}

const alertSelect = "symbol_id, alert_date, from_score, to_score, change_type, days_since_last_change"

// ListAlerts returns the stored alerts of one symbol, oldest first.
func (s *Store) ListAlerts(ctx context.Context, symbolID int64) ([]models.MomentumAlert, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE symbol_id = ? ORDER BY alert_date ASC", alertSelect, s.d.From("momentum_alerts"))
	return s.queryAlerts(ctx, query, symbolID)
}

// ReplaceAlerts swaps the full alert set of a symbol for a freshly derived one.
func (s *Store) ReplaceAlerts(ctx context.Context, symbolID int64, alerts []models.MomentumAlert) error {
	version := s.version()
	rows := make([][]any, 0, len(alerts))
	for _, a := range alerts {
		rows = append(rows, []any{
			symbolID, a.Date.UTC().Truncate(time.Microsecond), int64(a.FromScore), int64(a.ToScore),
			a.ChangeType, a.DaysSinceLastChange, version,
		})
	}
	del := &deleteStmt{query: "DELETE FROM momentum_alerts WHERE symbol_id = ?", args: []any{symbolID}}
	if err := s.write(ctx, del, insertSQL("momentum_alerts", alertCols), rows); err != nil {
		return storeConflict("replace alerts", err)
	}
	return nil
}

// RecentAlerts returns the newest alerts across all symbols joined with symbol metadata.
func (s *Store) RecentAlerts(ctx context.Context, limit int) ([]models.AlertView, error) {
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY alert_date DESC, symbol_id ASC LIMIT ?", alertSelect, s.d.From("momentum_alerts"))
	alerts, err := s.queryAlerts(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	if len(alerts) == 0 {
		return []models.AlertView{}, nil
	}

	symbols, err := s.ListSymbols(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]models.Symbol, len(symbols))
	for _, sym := range symbols {
		byID[sym.ID] = sym
	}

	out := make([]models.AlertView, 0, len(alerts))
	for _, a := range alerts {
		sym, ok := byID[a.SymbolID]
		if !ok {
			continue
		}
		out = append(out, models.AlertView{
			MomentumAlert: a,
			SymbolName:    sym.Name,
			SymbolLabel:   sym.Label,
			Market:        sym.Market,
		})
	}
	return out, nil
}

func (s *Store) queryAlerts(ctx context.Context, query string, args ...any) ([]models.MomentumAlert, error) {
	rows, err := s.db.QueryContext(ctx, query, s.args(args...)...)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var out []models.MomentumAlert
	for rows.Next() {
		var (
			a          models.MomentumAlert
			from, to   int64
			changeType string
		)
		if err := rows.Scan(&a.SymbolID, timeScan{&a.Date}, &from, &to, &changeType, intScan{&a.DaysSinceLastChange}); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		a.FromScore = int(from)
		a.ToScore = int(to)
		a.ChangeType = models.ChangeType(changeType)
		out = append(out, a)
	}
	return out, rows.Err()
}
