package repository

import (
	"context"
	"fmt"
	"strings"

	"ClarityPull/internal/domain/models"
	domrepo "ClarityPull/internal/domain/repository"
	applogger "ClarityPull/pkg/logger"
)

const symbolSelect = "id, name, label, market, country_code"

func (s *Store) ListSymbols(ctx context.Context) ([]models.Symbol, error) {
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY market, name", symbolSelect, s.d.From("symbols"))
	return s.querySymbols(ctx, query)
}

func (s *Store) GetSymbol(ctx context.Context, id int64) (*models.Symbol, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = ?", symbolSelect, s.d.From("symbols"))
	return s.firstSymbol(ctx, query, id)
}

func (s *Store) FindSymbol(ctx context.Context, market, name string) (*models.Symbol, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE market = ? AND name = ?", symbolSelect, s.d.From("symbols"))
	return s.firstSymbol(ctx, query, market, name)
}

// FindSymbolsByName returns every market listing of a symbol name.
func (s *Store) FindSymbolsByName(ctx context.Context, name string) ([]models.Symbol, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE name = ? ORDER BY market", symbolSelect, s.d.From("symbols"))
	return s.querySymbols(ctx, query, name)
}

func (s *Store) ListSymbolsByMarket(ctx context.Context, markets ...string) ([]models.Symbol, error) {
	if len(markets) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE market IN (%s) ORDER BY market, name",
		symbolSelect, s.d.From("symbols"), placeholders(len(markets)))
	args := make([]any, len(markets))
	for i, m := range markets {
		args[i] = m
	}
	return s.querySymbols(ctx, query, args...)
}

func (s *Store) ListMarkets(ctx context.Context) ([]models.Market, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT name, label, description FROM %s ORDER BY name", s.d.From("markets")))
	if err != nil {
		return nil, fmt.Errorf("query markets: %w", err)
	}
	defer rows.Close()

	var out []models.Market
	for rows.Next() {
		var m models.Market
		if err := rows.Scan(&m.Name, &m.Label, &m.Description); err != nil {
			return nil, fmt.Errorf("scan market: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) ListRegions(ctx context.Context) ([]models.Region, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT code, name FROM %s ORDER BY code", s.d.From("regions")))
	if err != nil {
		return nil, fmt.Errorf("query regions: %w", err)
	}
	defer rows.Close()

	var out []models.Region
	for rows.Next() {
		var r models.Region
		if err := rows.Scan(&r.Code, &r.Name); err != nil {
			return nil, fmt.Errorf("scan region: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) ListCountries(ctx context.Context) ([]models.Country, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT code, name, region_code FROM %s ORDER BY code", s.d.From("countries")))
	if err != nil {
		return nil, fmt.Errorf("query countries: %w", err)
	}
	defer rows.Close()

	var out []models.Country
	for rows.Next() {
		var c models.Country
		if err := rows.Scan(&c.Code, &c.Name, &c.RegionCode); err != nil {
			return nil, fmt.Errorf("scan country: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Seed loads reference data. Existing rows with the same key are overwritten.
func (s *Store) Seed(ctx context.Context, ref models.Reference) error {
	if err := validateReference(ref); err != nil {
		return err
	}

	type table struct {
		name string
		cols []string
		key  []string
		rows [][]any
	}
	tables := []table{
		{name: "regions", cols: []string{"code", "name"}, key: []string{"code"}},
		{name: "countries", cols: []string{"code", "name", "region_code"}, key: []string{"code"}},
		{name: "markets", cols: []string{"name", "label", "description"}, key: []string{"name"}},
		{name: "symbols", cols: []string{"id", "name", "label", "market", "country_code"}, key: []string{"id"}},
	}
	for _, r := range ref.Regions {
		tables[0].rows = append(tables[0].rows, []any{r.Code, r.Name})
	}
	for _, c := range ref.Countries {
		tables[1].rows = append(tables[1].rows, []any{c.Code, c.Name, c.RegionCode})
	}
	for _, m := range ref.Markets {
		tables[2].rows = append(tables[2].rows, []any{m.Name, m.Label, m.Description})
	}
	for _, sym := range ref.Symbols {
		tables[3].rows = append(tables[3].rows, []any{sym.ID, sym.Name, sym.Label, sym.Market, sym.CountryCode})
	}

	for _, t := range tables {
		query := insertSQL(t.name, t.cols) + s.d.OnConflict(t.key, t.cols[1:])
		if err := s.write(ctx, nil, query, t.rows); err != nil {
			return storeConflict("seed "+t.name, err)
		}
	}
	s.l.Info("reference data seeded",
		applogger.Int("regions", len(ref.Regions)),
		applogger.Int("countries", len(ref.Countries)),
		applogger.Int("markets", len(ref.Markets)),
		applogger.Int("symbols", len(ref.Symbols)),
	)
	return nil
}

func validateReference(ref models.Reference) error {
	seen := make(map[string]bool, len(ref.Symbols))
	ids := make(map[int64]bool, len(ref.Symbols))
	for _, sym := range ref.Symbols {
		if sym.ID <= 0 {
			return &domrepo.ValidationError{Field: "symbol.id", Reason: fmt.Sprintf("%s/%s has no id", sym.Market, sym.Name)}
		}
		if strings.TrimSpace(sym.Name) == "" {
			return &domrepo.ValidationError{Field: "symbol.name", Reason: fmt.Sprintf("id %d has no name", sym.ID)}
		}
		if !models.KnownMarket(sym.Market) {
			return &domrepo.ValidationError{Field: "symbol.market", Reason: fmt.Sprintf("unknown market %q", sym.Market)}
		}
		key := sym.Market + "/" + sym.Name
		if seen[key] {
			return &domrepo.ValidationError{Field: "symbol", Reason: "duplicate " + key}
		}
		if ids[sym.ID] {
			return &domrepo.ValidationError{Field: "symbol.id", Reason: fmt.Sprintf("duplicate id %d", sym.ID)}
		}
		seen[key] = true
		ids[sym.ID] = true
	}
	return nil
}

func (s *Store) firstSymbol(ctx context.Context, query string, args ...any) (*models.Symbol, error) {
	list, err := s.querySymbols(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, domrepo.ErrNotFound
	}
	return &list[0], nil
}

func (s *Store) querySymbols(ctx context.Context, query string, args ...any) ([]models.Symbol, error) {
	rows, err := s.db.QueryContext(ctx, query, s.args(args...)...)
	if err != nil {
		return nil, fmt.Errorf("query symbols: %w", err)
	}
	defer rows.Close()

	var out []models.Symbol
	for rows.Next() {
		var sym models.Symbol
		if err := rows.Scan(&sym.ID, &sym.Name, &sym.Label, &sym.Market, &sym.CountryCode); err != nil {
			return nil, fmt.Errorf("scan symbol: %w", err)
		}
		out = append(out, sym)
	}
	return out, rows.Err()
}
