package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"ClarityPull/internal/domain/models"
	domrepo "ClarityPull/internal/domain/repository"
	applogger "ClarityPull/pkg/logger"

	"github.com/shopspring/decimal"
)

// Store implements every domain repository on top of database/sql.
type Store struct {
	db  *sql.DB
	d   Dialect
	l   *applogger.Logger
	now func() time.Time

	lastVersion atomic.Uint64
}

func NewStore(db *sql.DB, d Dialect) *Store {
	return &Store{db: db, d: d, l: applogger.Nop(), now: time.Now}
}

// SetLogger injects a structured logger.
func (s *Store) SetLogger(l *applogger.Logger) {
	if l != nil {
		s.l = l.With(applogger.String("backend", s.d.Name()))
	}
}

// InitSchema ensures all tables exist.
func (s *Store) InitSchema(ctx context.Context) error {
	for _, stmt := range s.d.Schema() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (s *Store) args(vals ...any) []any {
	out := make([]any, len(vals))
	for i, v := range vals {
		out[i] = s.d.Arg(v)
	}
	return out
}

// version returns a row version that is strictly increasing within the process.
func (s *Store) version() uint64 {
	for {
		last := s.lastVersion.Load()
		v := uint64(s.now().UnixNano())
		if v <= last {
			v = last + 1
		}
		if s.lastVersion.CompareAndSwap(last, v) {
			return v
		}
	}
}

type deleteStmt struct {
	query string
	args  []any
}

// write applies an optional delete and then a batch of inserts. SQLite runs
// both inside one transaction. ClickHouse batch transactions only accept
// inserts, so its delete runs first and on its own.
func (s *Store) write(ctx context.Context, del *deleteStmt, insert string, rows [][]any) error {
	if del != nil && s.d.SeparateDeletes() {
		if _, err := s.db.ExecContext(ctx, del.query, s.args(del.args...)...); err != nil {
			return fmt.Errorf("delete: %w", err)
		}
		del = nil
	}
	if del == nil && len(rows) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if del != nil {
		if _, err := tx.ExecContext(ctx, del.query, s.args(del.args...)...); err != nil {
			return fmt.Errorf("delete: %w", err)
		}
	}
	if len(rows) > 0 {
		stmt, err := tx.PrepareContext(ctx, insert)
		if err != nil {
			return fmt.Errorf("prepare: %w", err)
		}
		for _, r := range rows {
			if _, err := stmt.ExecContext(ctx, s.args(r...)...); err != nil {
				_ = stmt.Close()
				return fmt.Errorf("insert: %w", err)
			}
		}
		if err := stmt.Close(); err != nil {
			return fmt.Errorf("close stmt: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func insertSQL(table string, cols []string) string {
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(cols, ", "), marks)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func storeConflict(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", domrepo.ErrStoreConflict, op, err)
}

// Scanners that accept both the SQLite and the ClickHouse driver representations.

type timeScan struct{ t *time.Time }

func (s timeScan) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*s.t = time.Time{}
	case int64:
		*s.t = time.UnixMicro(v).UTC()
	case time.Time:
		*s.t = v.UTC()
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return fmt.Errorf("scan time: %w", err)
		}
		*s.t = t.UTC()
	default:
		return fmt.Errorf("scan time: unsupported %T", src)
	}
	return nil
}

type decimalScan struct{ d *decimal.NullDecimal }

func (s decimalScan) Scan(src any) error {
	switch v := src.(type) {
	case decimal.Decimal:
		*s.d = decimal.NewNullDecimal(v)
		return nil
	case *decimal.Decimal:
		if v == nil {
			*s.d = decimal.NullDecimal{}
			return nil
		}
		*s.d = decimal.NewNullDecimal(*v)
		return nil
	default:
		return s.d.Scan(src)
	}
}

type intScan struct{ v **int }

func (s intScan) Scan(src any) error {
	var n int64
	switch v := src.(type) {
	case nil:
		*s.v = nil
		return nil
	case int64:
		n = v
	case int32:
		n = int64(v)
	case int16:
		n = int64(v)
	case int8:
		n = int64(v)
	case uint8:
		n = int64(v)
	case uint16:
		n = int64(v)
	case uint32:
		n = int64(v)
	case uint64:
		n = int64(v)
	case *int32:
		if v == nil {
			*s.v = nil
			return nil
		}
		n = int64(*v)
	default:
		return fmt.Errorf("scan int: unsupported %T", src)
	}
	i := int(n)
	*s.v = &i
	return nil
}

type leverageScan struct{ v **models.Leverage }

func (s leverageScan) Scan(src any) error {
	var str *string
	if err := (stringScan{&str}).Scan(src); err != nil {
		return fmt.Errorf("scan leverage: %w", err)
	}
	if str == nil {
		*s.v = nil
		return nil
	}
	lv := models.Leverage(*str)
	*s.v = &lv
	return nil
}

type stringScan struct{ v **string }

func (s stringScan) Scan(src any) error {
	var str string
	switch v := src.(type) {
	case nil:
		*s.v = nil
		return nil
	case string:
		str = v
	case []byte:
		str = string(v)
	case *string:
		if v == nil {
			*s.v = nil
			return nil
		}
		str = *v
	default:
		return fmt.Errorf("scan string: unsupported %T", src)
	}
	*s.v = &str
	return nil
}
