package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ClarityPull/internal/domain/models"
	domrepo "ClarityPull/internal/domain/repository"
)

var statusCols = []string{"symbol_id", "symbol", "market", "state", "last_updated_at", "last_error", "version"}

const statusSelect = "symbol_id, symbol, market, state, last_updated_at, last_error"

func (s *Store) statusRow(st models.PollingStatus) []any {
	return []any{
		st.SymbolID, st.Symbol, st.Market, st.State,
		st.LastUpdatedAt.UTC().Truncate(time.Microsecond), st.LastError, s.version(),
	}
}

func (s *Store) SaveStatus(ctx context.Context, st models.PollingStatus) error {
	query := insertSQL("polling_status", statusCols) + s.d.OnConflict([]string{"symbol_id"}, statusCols[1:])
	if err := s.write(ctx, nil, query, [][]any{s.statusRow(st)}); err != nil {
		return storeConflict("save status", err)
	}
	return nil
}

// ClaimStatus stores st unless the row is processing and was touched at or
// after staleBefore. It reports whether st was stored.
func (s *Store) ClaimStatus(ctx context.Context, st models.PollingStatus, staleBefore time.Time) (bool, error) {
	if !s.d.GuardedUpdates() {
		return s.claimUnguarded(ctx, st, func(cur *models.PollingStatus) bool {
			return cur.State != models.StateProcessing || cur.LastUpdatedAt.Before(staleBefore)
		})
	}
	query := insertSQL("polling_status", statusCols) +
		s.d.OnConflict([]string{"symbol_id"}, statusCols[1:]) +
		" WHERE polling_status.state <> ? OR polling_status.last_updated_at < ?"
	args := append(s.statusRow(st), models.StateProcessing, staleBefore.UTC())
	return s.execGuarded(ctx, "claim status", query, args)
}

// ExpireStatus stores st only over a processing row last touched before
// staleBefore. It reports whether st was stored.
func (s *Store) ExpireStatus(ctx context.Context, st models.PollingStatus, staleBefore time.Time) (bool, error) {
	if !s.d.GuardedUpdates() {
		return s.claimUnguarded(ctx, st, func(cur *models.PollingStatus) bool {
			return cur.State == models.StateProcessing && cur.LastUpdatedAt.Before(staleBefore)
		})
	}
	query := "UPDATE polling_status SET state = ?, last_updated_at = ?, last_error = ?, version = ?" +
		" WHERE symbol_id = ? AND state = ? AND last_updated_at < ?"
	args := []any{
		st.State, st.LastUpdatedAt.UTC().Truncate(time.Microsecond), st.LastError, s.version(),
		st.SymbolID, models.StateProcessing, staleBefore.UTC(),
	}
	return s.execGuarded(ctx, "expire status", query, args)
}

func (s *Store) execGuarded(ctx context.Context, op, query string, args []any) (bool, error) {
	res, err := s.db.ExecContext(ctx, query, s.args(args...)...)
	if err != nil {
		return false, storeConflict(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storeConflict(op, err)
	}
	return n > 0, nil
}

// claimUnguarded is the read-then-write fallback for backends without
// guarded updates. It is not atomic across processes; the shared cache
// lease covers that case.
func (s *Store) claimUnguarded(ctx context.Context, st models.PollingStatus, allowed func(*models.PollingStatus) bool) (bool, error) {
	cur, err := s.GetStatus(ctx, st.SymbolID)
	switch {
	case errors.Is(err, domrepo.ErrNotFound):
		if st.State != models.StateProcessing {
			return false, nil
		}
	case err != nil:
		return false, err
	case !allowed(cur):
		return false, nil
	}
	if err := s.SaveStatus(ctx, st); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) GetStatus(ctx context.Context, symbolID int64) (*models.PollingStatus, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE symbol_id = ?", statusSelect, s.d.From("polling_status"))
	list, err := s.queryStatuses(ctx, query, symbolID)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, domrepo.ErrNotFound
	}
	return &list[0], nil
}

func (s *Store) ListStatuses(ctx context.Context) ([]models.PollingStatus, error) {
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY market, symbol", statusSelect, s.d.From("polling_status"))
	return s.queryStatuses(ctx, query)
}

func (s *Store) queryStatuses(ctx context.Context, query string, args ...any) ([]models.PollingStatus, error) {
	rows, err := s.db.QueryContext(ctx, query, s.args(args...)...)
	if err != nil {
		return nil, fmt.Errorf("query statuses: %w", err)
	}
	defer rows.Close()

	var out []models.PollingStatus
	for rows.Next() {
		var (
			st    models.PollingStatus
			state string
		)
		if err := rows.Scan(&st.SymbolID, &st.Symbol, &st.Market, &state, timeScan{&st.LastUpdatedAt}, &st.LastError); err != nil {
			return nil, fmt.Errorf("scan status: %w", err)
		}
		st.State = models.PollingState(state)
		out = append(out, st)
	}
	return out, rows.Err()
}
