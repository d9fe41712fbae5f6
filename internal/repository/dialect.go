package repository

import (
	"fmt"
	"strings"
	"time"

	"ClarityPull/internal/domain/models"

	"github.com/shopspring/decimal"
)

// Dialect isolates what differs between the SQL backends: DDL, how
// conflicting keys are reconciled, and how Go values travel to the driver.
type Dialect interface {
	Name() string
	Schema() []string
	// From renders a table reference for reads.
	From(table string) string
	// OnConflict renders the clause that turns an INSERT into an upsert.
	OnConflict(key []string, update []string) string
	// SeparateDeletes reports whether DELETE must run outside the insert transaction.
	SeparateDeletes() bool
	// GuardedUpdates reports whether a conditional UPDATE or upsert reports
	// its affected rows atomically, so it can serve as a compare-and-set.
	GuardedUpdates() bool
	Arg(v any) any
}

// NewDialect returns the dialect registered under name.
func NewDialect(name string) (Dialect, error) {
	switch name {
	case "sqlite":
		return SQLiteDialect{}, nil
	case "clickhouse":
		return ClickHouseDialect{}, nil
	default:
		return nil, fmt.Errorf("unknown dialect %q", name)
	}
}

// SQLiteDialect stores timestamps as unix microseconds and decimals as text.
type SQLiteDialect struct{}

func (SQLiteDialect) Name() string { return "sqlite" }

func (SQLiteDialect) From(table string) string { return table }

func (SQLiteDialect) OnConflict(key []string, update []string) string {
	sets := make([]string, len(update))
	for i, col := range update {
		sets[i] = fmt.Sprintf("%s = excluded.%s", col, col)
	}
	return fmt.Sprintf(" ON CONFLICT (%s) DO UPDATE SET %s", strings.Join(key, ", "), strings.Join(sets, ", "))
}

func (SQLiteDialect) SeparateDeletes() bool { return false }

func (SQLiteDialect) GuardedUpdates() bool { return true }

func (SQLiteDialect) Arg(v any) any {
	switch x := v.(type) {
	case time.Time:
		return x.UnixMicro()
	case decimal.NullDecimal:
		if !x.Valid {
			return nil
		}
		return x.Decimal.String()
	case *int:
		if x == nil {
			return nil
		}
		return int64(*x)
	case int:
		return int64(x)
	case uint64:
		return int64(x)
	case *models.Leverage:
		if x == nil {
			return nil
		}
		return string(*x)
	case *string:
		if x == nil {
			return nil
		}
		return *x
	case models.ChangeType:
		return string(x)
	case models.PollingState:
		return string(x)
	case models.PollMode:
		return string(x)
	case models.PollOutcome:
		return string(x)
	default:
		return v
	}
}

func (SQLiteDialect) Schema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS regions (
			code TEXT PRIMARY KEY,
			name TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS countries (
			code TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			region_code TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS markets (
			name TEXT PRIMARY KEY,
			label TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS symbols (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			label TEXT NOT NULL,
			market TEXT NOT NULL,
			country_code TEXT NOT NULL DEFAULT '',
			UNIQUE (market, name)
		)`,
		`CREATE TABLE IF NOT EXISTS observations (
			symbol_id INTEGER NOT NULL,
			price_ts INTEGER NOT NULL,
			open TEXT,
			high TEXT,
			low TEXT,
			close TEXT,
			volume TEXT,
			volume_usd TEXT,
			funding_rate TEXT,
			region TEXT,
			score INTEGER,
			score_override INTEGER,
			leverage_moderate TEXT,
			leverage_aggressive TEXT,
			version INTEGER NOT NULL,
			PRIMARY KEY (symbol_id, price_ts)
		)`,
		`CREATE TABLE IF NOT EXISTS momentum_alerts (
			symbol_id INTEGER NOT NULL,
			alert_date INTEGER NOT NULL,
			from_score INTEGER NOT NULL,
			to_score INTEGER NOT NULL,
			change_type TEXT NOT NULL,
			days_since_last_change INTEGER,
			version INTEGER NOT NULL,
			PRIMARY KEY (symbol_id, alert_date)
		)`,
		`CREATE TABLE IF NOT EXISTS polling_status (
			symbol_id INTEGER PRIMARY KEY,
			symbol TEXT NOT NULL,
			market TEXT NOT NULL,
			state TEXT NOT NULL,
			last_updated_at INTEGER NOT NULL,
			last_error TEXT NOT NULL DEFAULT '',
			version INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS polling_logs (
			id TEXT PRIMARY KEY,
			symbol_id INTEGER NOT NULL,
			symbol TEXT NOT NULL,
			market TEXT NOT NULL,
			mode TEXT NOT NULL,
			outcome TEXT NOT NULL,
			rows_inserted INTEGER NOT NULL,
			rows_updated INTEGER NOT NULL,
			rows_rejected INTEGER NOT NULL,
			duration_ms INTEGER NOT NULL,
			error_message TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_polling_logs_created ON polling_logs (created_at)`,
	}
}

// ClickHouseDialect keeps mutable tables as ReplacingMergeTree and reads them with FINAL.
type ClickHouseDialect struct{}

var replacingTables = map[string]bool{
	"regions":         true,
	"countries":       true,
	"markets":         true,
	"symbols":         true,
	"observations":    true,
	"momentum_alerts": true,
	"polling_status":  true,
}

func (ClickHouseDialect) Name() string { return "clickhouse" }

func (ClickHouseDialect) From(table string) string {
	if replacingTables[table] {
		return table + " FINAL"
	}
	return table
}

// OnConflict is empty: the newest version wins at merge time and under FINAL.
func (ClickHouseDialect) OnConflict([]string, []string) string { return "" }

func (ClickHouseDialect) SeparateDeletes() bool { return true }

// GuardedUpdates is false: mutations are asynchronous and report no rows.
func (ClickHouseDialect) GuardedUpdates() bool { return false }

func (ClickHouseDialect) Arg(v any) any {
	switch x := v.(type) {
	case time.Time:
		return x.UTC()
	case decimal.NullDecimal:
		if !x.Valid {
			return (*decimal.Decimal)(nil)
		}
		d := x.Decimal
		return &d
	case *int:
		if x == nil {
			return (*int32)(nil)
		}
		n := int32(*x)
		return &n
	case int:
		return int64(x)
	case *models.Leverage:
		if x == nil {
			return (*string)(nil)
		}
		s := string(*x)
		return &s
	case models.ChangeType:
		return string(x)
	case models.PollingState:
		return string(x)
	case models.PollMode:
		return string(x)
	case models.PollOutcome:
		return string(x)
	default:
		return v
	}
}

func (ClickHouseDialect) Schema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS regions (
			code String,
			name String
		) ENGINE = ReplacingMergeTree ORDER BY code`,
		`CREATE TABLE IF NOT EXISTS countries (
			code String,
			name String,
			region_code String
		) ENGINE = ReplacingMergeTree ORDER BY code`,
		`CREATE TABLE IF NOT EXISTS markets (
			name String,
			label String,
			description String
		) ENGINE = ReplacingMergeTree ORDER BY name`,
		`CREATE TABLE IF NOT EXISTS symbols (
			id Int64,
			name String,
			label String,
			market String,
			country_code String
		) ENGINE = ReplacingMergeTree ORDER BY id`,
		`CREATE TABLE IF NOT EXISTS observations (
			symbol_id Int64,
			price_ts DateTime64(6, 'UTC'),
			open Nullable(Decimal(38, 10)),
			high Nullable(Decimal(38, 10)),
			low Nullable(Decimal(38, 10)),
			close Nullable(Decimal(38, 10)),
			volume Nullable(Decimal(38, 10)),
			volume_usd Nullable(Decimal(38, 10)),
			funding_rate Nullable(Decimal(38, 10)),
			region Nullable(String),
			score Nullable(Int32),
			score_override Nullable(Int32),
			leverage_moderate Nullable(String),
			leverage_aggressive Nullable(String),
			version UInt64
		) ENGINE = ReplacingMergeTree(version) ORDER BY (symbol_id, price_ts)`,
		`CREATE TABLE IF NOT EXISTS momentum_alerts (
			symbol_id Int64,
			alert_date DateTime64(6, 'UTC'),
			from_score Int64,
			to_score Int64,
			change_type LowCardinality(String),
			days_since_last_change Nullable(Int32),
			version UInt64
		) ENGINE = ReplacingMergeTree(version) ORDER BY (symbol_id, alert_date)`,
		`CREATE TABLE IF NOT EXISTS polling_status (
			symbol_id Int64,
			symbol String,
			market String,
			state LowCardinality(String),
			last_updated_at DateTime64(6, 'UTC'),
			last_error String,
			version UInt64
		) ENGINE = ReplacingMergeTree(version) ORDER BY symbol_id`,
		`CREATE TABLE IF NOT EXISTS polling_logs (
			id String,
			symbol_id Int64,
			symbol String,
			market String,
			mode LowCardinality(String),
			outcome LowCardinality(String),
			rows_inserted Int64,
			rows_updated Int64,
			rows_rejected Int64,
			duration_ms Int64,
			error_message String,
			created_at DateTime64(6, 'UTC')
		) ENGINE = MergeTree ORDER BY (created_at, symbol_id)
		TTL toDateTime(created_at) + INTERVAL 180 DAY`,
	}
}
