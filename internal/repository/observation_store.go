package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"ClarityPull/internal/domain/models"
	domrepo "ClarityPull/internal/domain/repository"
	applogger "ClarityPull/pkg/logger"
	"ClarityPull/pkg/util"
)

var observationCols = []string{
	"symbol_id", "price_ts", "open", "high", "low", "close", "volume",
	"volume_usd", "funding_rate", "region", "score", "score_override",
	"leverage_moderate", "leverage_aggressive", "version",
}

// upstreamCols are rewritten by ingestion; score_override is left alone.
var upstreamCols = []string{
	"open", "high", "low", "close", "volume", "volume_usd", "funding_rate",
	"region", "score", "leverage_moderate", "leverage_aggressive", "version",
}

const observationSelect = "symbol_id, price_ts, open, high, low, close, volume, volume_usd, funding_rate, region, score, score_override, leverage_moderate, leverage_aggressive"

func observationRow(o models.Observation, version uint64) []any {
	return []any{
		o.SymbolID, o.PriceTimestamp, o.Open, o.High, o.Low, o.Close, o.Volume,
		o.VolumeUSD, o.FundingRate, o.Region, o.Score, o.ScoreOverride,
		o.LeverageModerate, o.LeverageAggressive, version,
	}
}

// Upsert writes a batch keyed by (symbol, price timestamp). Rows whose stored
// content is identical are left untouched, so replaying a batch is a no-op.
// A stored score override survives the write.
func (s *Store) Upsert(ctx context.Context, symbolID int64, obs []models.Observation) (models.UpsertResult, error) {
	var res models.UpsertResult
	batch := normalizeBatch(symbolID, obs)
	if len(batch) == 0 {
		return res, nil
	}

	// Read before opening the write transaction: SQLite runs on one connection.
	existing, err := s.observationRange(ctx, symbolID, batch[0].PriceTimestamp, batch[len(batch)-1].PriceTimestamp)
	if err != nil {
		return res, storeConflict("load existing observations", err)
	}

	version := s.version()
	rows := make([][]any, 0, len(batch))
	for _, o := range batch {
		o.ScoreOverride = nil
		prev, ok := existing[o.PriceTimestamp.UnixMicro()]
		switch {
		case !ok:
			res.Inserted++
		case prev.SameContent(o):
			res.Unchanged++
			continue
		default:
			res.Updated++
			// ReplacingMergeTree rewrites whole rows.
			o.ScoreOverride = prev.ScoreOverride
		}
		rows = append(rows, observationRow(o, version))
	}
	if len(rows) == 0 {
		return res, nil
	}

	query := insertSQL("observations", observationCols) +
		s.d.OnConflict([]string{"symbol_id", "price_ts"}, upstreamCols)
	if err := s.write(ctx, nil, query, rows); err != nil {
		return models.UpsertResult{}, storeConflict("upsert observations", err)
	}

	s.l.Debug("observations upserted",
		applogger.Int64("symbol_id", symbolID),
		applogger.Int("inserted", res.Inserted),
		applogger.Int("updated", res.Updated),
		applogger.Int("unchanged", res.Unchanged),
	)
	return res, nil
}

// SetScoreOverride sets or, with a nil score, clears the operator score of
// the observations stored for the UTC calendar day of day.
func (s *Store) SetScoreOverride(ctx context.Context, symbolID int64, day time.Time, score *int) error {
	from := util.StartOfDay(day)
	existing, err := s.observationRange(ctx, symbolID, from, from.AddDate(0, 0, 1).Add(-time.Microsecond))
	if err != nil {
		return err
	}
	if len(existing) == 0 {
		return fmt.Errorf("%w: no observation of %d on %s", domrepo.ErrNotFound, symbolID, from.Format(util.DateLayout))
	}

	version := s.version()
	rows := make([][]any, 0, len(existing))
	for _, o := range existing {
		o.ScoreOverride = score
		rows = append(rows, observationRow(o, version))
	}
	query := insertSQL("observations", observationCols) +
		s.d.OnConflict([]string{"symbol_id", "price_ts"}, []string{"score_override", "version"})
	if err := s.write(ctx, nil, query, rows); err != nil {
		return storeConflict("set score override", err)
	}
	s.l.Info("score override set", applogger.Int64("symbol_id", symbolID), applogger.Time("day", from))
	return nil
}

// normalizeBatch pins the symbol, truncates timestamps to the stored
// precision, keeps the last occurrence of a duplicated key and sorts ascending.
func normalizeBatch(symbolID int64, obs []models.Observation) []models.Observation {
	byKey := make(map[int64]models.Observation, len(obs))
	for _, o := range obs {
		o.SymbolID = symbolID
		o.PriceTimestamp = o.PriceTimestamp.UTC().Truncate(time.Microsecond)
		byKey[o.PriceTimestamp.UnixMicro()] = o
	}
	out := make([]models.Observation, 0, len(byKey))
	for _, o := range byKey {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PriceTimestamp.Before(out[j].PriceTimestamp) })
	return out
}

func (s *Store) observationRange(ctx context.Context, symbolID int64, from, to time.Time) (map[int64]models.Observation, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE symbol_id = ? AND price_ts >= ? AND price_ts <= ?",
		observationSelect, s.d.From("observations"))
	list, err := s.queryObservations(ctx, query, symbolID, from, to)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]models.Observation, len(list))
	for _, o := range list {
		out[o.PriceTimestamp.UnixMicro()] = o
	}
	return out, nil
}

// Reset deletes every observation and alert of the symbol and returns how
// many observations went.
func (s *Store) Reset(ctx context.Context, symbolID int64) (int64, error) {
	n, err := s.Count(ctx, symbolID)
	if err != nil {
		return 0, err
	}
	del := &deleteStmt{query: "DELETE FROM observations WHERE symbol_id = ?", args: []any{symbolID}}
	if err := s.write(ctx, del, "", nil); err != nil {
		return 0, storeConflict("reset observations", err)
	}
	if err := s.ReplaceAlerts(ctx, symbolID, nil); err != nil {
		return n, err
	}
	s.l.Info("observations reset", applogger.Int64("symbol_id", symbolID), applogger.Int64("deleted", n))
	return n, nil
}

// History returns the full series for a symbol in ascending order.
func (s *Store) History(ctx context.Context, symbolID int64) ([]models.Observation, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE symbol_id = ? ORDER BY price_ts ASC",
		observationSelect, s.d.From("observations"))
	return s.queryObservations(ctx, query, symbolID)
}

// Latest returns the newest observation or ErrNotFound.
func (s *Store) Latest(ctx context.Context, symbolID int64) (*models.Observation, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE symbol_id = ? ORDER BY price_ts DESC LIMIT 1",
		observationSelect, s.d.From("observations"))
	list, err := s.queryObservations(ctx, query, symbolID)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, domrepo.ErrNotFound
	}
	return &list[0], nil
}

func (s *Store) Count(ctx context.Context, symbolID int64) (int64, error) {
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE symbol_id = ?", s.d.From("observations"))
	var n int64
	err := s.db.QueryRowContext(ctx, query, s.args(symbolID)...).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("count observations: %w", err)
	}
	return n, nil
}

// Revision fingerprints the stored history of a symbol. Any write that
// changes a row bumps its version, and a reset changes the count, so two
// equal revisions mean an unchanged history.
func (s *Store) Revision(ctx context.Context, symbolID int64) (string, error) {
	query := fmt.Sprintf("SELECT COUNT(*), COALESCE(MAX(version), 0) FROM %s WHERE symbol_id = ?", s.d.From("observations"))
	var n, v int64
	if err := s.db.QueryRowContext(ctx, query, s.args(symbolID)...).Scan(&n, &v); err != nil {
		return "", fmt.Errorf("observation revision: %w", err)
	}
	return fmt.Sprintf("%d:%d", n, v), nil
}

func (s *Store) queryObservations(ctx context.Context, query string, args ...any) ([]models.Observation, error) {
	rows, err := s.db.QueryContext(ctx, query, s.args(args...)...)
	if err != nil {
		return nil, fmt.Errorf("query observations: %w", err)
	}
	defer rows.Close()

	var out []models.Observation
	for rows.Next() {
		var o models.Observation
		if err := rows.Scan(
			&o.SymbolID,
			timeScan{&o.PriceTimestamp},
			decimalScan{&o.Open},
			decimalScan{&o.High},
			decimalScan{&o.Low},
			decimalScan{&o.Close},
			decimalScan{&o.Volume},
			decimalScan{&o.VolumeUSD},
			decimalScan{&o.FundingRate},
			stringScan{&o.Region},
			intScan{&o.Score},
			intScan{&o.ScoreOverride},
			leverageScan{&o.LeverageModerate},
			leverageScan{&o.LeverageAggressive},
		); err != nil {
			return nil, fmt.Errorf("scan observation: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
