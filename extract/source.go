// Package extract pulls the requested document-metadata fields out of a
// relational source and moves datasets in and out of CSV.
package extract

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"docetl/types"
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Querier is the part of *sql.DB the source needs.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type Source struct {
	db     Querier
	closer func() error
	logger *slog.Logger
}

// Open connects to the tabular source. driver is "pgx" or "sqlite".
func Open(ctx context.Context, driver, dsn string) (*Source, error) {
	if dsn == "" {
		return nil, types.ConfigErrorf("open source", "SOURCE_DSN is empty")
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, types.NewError(types.ErrConnection, "open source", err)
	}
	if driver == "sqlite" {
		db.SetMaxOpenConns(1)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, types.NewError(types.ErrConnection, "ping source", err)
	}

	s := NewSource(db, nil)
	s.closer = db.Close
	return s, nil
}

// NewSource wraps an already open handle. The caller keeps ownership of db.
func NewSource(db Querier, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{db: db, logger: logger}
}

func (s *Source) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}

// Extract runs SELECT <fields> FROM <table> LIMIT <limit> and returns the rows
// in field order. Fields that are not plain identifiers are dropped with a
// warning. limit <= 0 means no limit.
func (s *Source) Extract(ctx context.Context, table string, fields []string, limit int) (*types.Dataset, error) {
	if !validTable(table) {
		return nil, types.ConfigErrorf("extract", "invalid source table name %q", table)
	}

	cols := make([]string, 0, len(fields))
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		f = types.NormalizeColumnName(f)
		if !identRe.MatchString(f) {
			s.logger.Warn("field is not a plain identifier, skipping", "field", f)
			continue
		}
		if seen[f] {
			continue
		}
		seen[f] = true
		cols = append(cols, f)
	}
	if len(cols) == 0 {
		return nil, types.ConfigErrorf("extract", "no usable fields requested")
	}

	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(cols, ", "), table)
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	s.logger.Info("extracting", "table", table, "fields", len(cols), "limit", limit)

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, &types.Error{Kind: types.ErrExtraction, Op: "query", Table: table, Err: err}
	}
	defer rows.Close()

	names, err := rows.Columns()
	if err != nil {
		return nil, &types.Error{Kind: types.ErrExtraction, Op: "columns", Table: table, Err: err}
	}
	out := &types.Dataset{Columns: make([]string, len(names))}
	for i, n := range names {
		out.Columns[i] = types.NormalizeColumnName(n)
	}

	for rows.Next() {
		vals := make([]any, len(names))
		ptrs := make([]any, len(names))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, &types.Error{Kind: types.ErrExtraction, Op: "scan", Table: table, Err: err}
		}
		for i, v := range vals {
			if b, ok := v.([]byte); ok {
				vals[i] = string(b)
			}
		}
		out.Rows = append(out.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, &types.Error{Kind: types.ErrExtraction, Op: "iterate", Table: table, Err: err}
	}

	s.logger.Info("extraction complete", "table", table, "rows", len(out.Rows))
	return out, nil
}

func validTable(name string) bool {
	parts := strings.Split(name, ".")
	if len(parts) > 2 {
		return false
	}
	for _, p := range parts {
		if !identRe.MatchString(p) {
			return false
		}
	}
	return true
}
