package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"docetl/transform"
	"docetl/types"
)

type LoadMode string

const (
	LoadAppend  LoadMode = "append"
	LoadReplace LoadMode = "replace"
)

type columnKind int

const (
	kindText columnKind = iota
	kindTimestamp
	kindBigint
	kindDouble
	kindBool
)

func (k columnKind) sqlType() string {
	switch k {
	case kindTimestamp:
		return "TIMESTAMPTZ"
	case kindBigint:
		return "BIGINT"
	case kindDouble:
		return "DOUBLE PRECISION"
	case kindBool:
		return "BOOLEAN"
	}
	return "TEXT"
}

// LoadDataset copies d into table inside one transaction. Replace drops and
// recreates the table with column types inferred from the values; append
// expects the table to exist with matching columns.
func (p *PostgresStore) LoadDataset(ctx context.Context, table string, d *types.Dataset, mode LoadMode) (int64, error) {
	if table == "" {
		return 0, types.ConfigErrorf("load", "DEST_TABLE is not set")
	}
	if len(d.Columns) == 0 {
		return 0, types.ConfigErrorf("load", "dataset has no columns")
	}
	kinds := inferKinds(d)

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return 0, types.NewError(types.ErrConnection, "begin load", err)
	}
	defer tx.Rollback(ctx)

	if mode == LoadReplace {
		if _, err := tx.Exec(ctx, "DROP TABLE IF EXISTS "+tableIdent(table)); err != nil {
			return 0, &types.Error{Kind: types.ErrSchema, Op: "drop table", Table: table, Err: err}
		}
		if _, err := tx.Exec(ctx, createTableSQL(table, d.Columns, kinds)); err != nil {
			return 0, &types.Error{Kind: types.ErrSchema, Op: "create table", Table: table, Err: err}
		}
	} else {
		if kinds, err = tableKinds(ctx, tx, table, d.Columns); err != nil {
			return 0, err
		}
	}

	schema, name := splitTable(table)
	ident := pgx.Identifier{name}
	if schema != "" {
		ident = pgx.Identifier{schema, name}
	}
	n, err := tx.CopyFrom(ctx, ident, d.Columns, pgx.CopyFromRows(copyRows(d, kinds)))
	if err != nil {
		return 0, &types.Error{Kind: types.ErrSchema, Op: "copy", Table: table, Err: err}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, &types.Error{Kind: types.ErrCommit, Op: "commit load", Table: table, Err: err}
	}
	p.logger.Info("dataset loaded", "table", table, "mode", mode, "rows", n)
	return n, nil
}

// tableKinds maps the existing table's column types onto the dataset columns.
func tableKinds(ctx context.Context, tx pgx.Tx, table string, cols []string) ([]columnKind, error) {
	schema, name := splitTable(table)
	rows, err := tx.Query(ctx, `
		SELECT column_name, data_type
		FROM information_schema.columns
		WHERE table_name = $1 AND ($2 = '' OR table_schema = $2)`, name, schema)
	if err != nil {
		return nil, &types.Error{Kind: types.ErrConnection, Op: "column catalog", Table: table, Err: err}
	}
	existing := map[string]string{}
	var col, typ string
	_, err = pgx.ForEachRow(rows, []any{&col, &typ}, func() error {
		existing[col] = typ
		return nil
	})
	if err != nil {
		return nil, &types.Error{Kind: types.ErrConnection, Op: "column catalog", Table: table, Err: err}
	}
	if len(existing) == 0 {
		return nil, types.SchemaErrorf("append", table, "table not found, load with replace first")
	}

	kinds := make([]columnKind, len(cols))
	for i, c := range cols {
		typ, ok := existing[c]
		if !ok {
			return nil, types.SchemaErrorf("append", table, "column %q not in table", c)
		}
		kinds[i] = kindOfSQL(typ)
	}
	return kinds, nil
}

func kindOfSQL(dataType string) columnKind {
	switch {
	case strings.HasPrefix(dataType, "timestamp"), dataType == "date":
		return kindTimestamp
	case dataType == "bigint", dataType == "integer", dataType == "smallint":
		return kindBigint
	case dataType == "double precision", dataType == "real":
		return kindDouble
	case dataType == "boolean":
		return kindBool
	}
	return kindText
}

func createTableSQL(table string, cols []string, kinds []columnKind) string {
	defs := make([]string, len(cols))
	for i, c := range cols {
		defs[i] = quoteIdent(c) + " " + kinds[i].sqlType()
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", tableIdent(table), strings.Join(defs, ", "))
}

// inferKinds picks one column type per column from its non-null values.
// Strings in transform.DateLayout count as timestamps; anything mixed is text.
func inferKinds(d *types.Dataset) []columnKind {
	kinds := make([]columnKind, len(d.Columns))
	for i := range d.Columns {
		var kind columnKind
		seen := false
		for _, v := range d.Column(i) {
			if v == nil {
				continue
			}
			k := kindOf(v)
			if !seen {
				kind, seen = k, true
			} else if k != kind {
				kind = kindText
				break
			}
		}
		kinds[i] = kind
	}
	return kinds
}

func kindOf(v any) columnKind {
	switch x := v.(type) {
	case time.Time:
		return kindTimestamp
	case string:
		if _, err := time.Parse(transform.DateLayout, x); err == nil {
			return kindTimestamp
		}
	case int, int32, int64:
		return kindBigint
	case float32, float64:
		return kindDouble
	case bool:
		return kindBool
	}
	return kindText
}

func copyRows(d *types.Dataset, kinds []columnKind) [][]any {
	out := make([][]any, len(d.Rows))
	for r, row := range d.Rows {
		rec := make([]any, len(d.Columns))
		for i := range rec {
			if i >= len(row) || row[i] == nil {
				continue
			}
			rec[i] = copyValue(row[i], kinds[i])
		}
		out[r] = rec
	}
	return out
}

// copyValue converts v to the Go type pgx encodes for kind. Values that do
// not convert are written as null.
func copyValue(v any, kind columnKind) any {
	switch kind {
	case kindTimestamp:
		if s, ok := v.(string); ok {
			if t, err := time.Parse(transform.DateLayout, s); err == nil {
				return t
			}
		}
		return transform.CoerceDate(v)
	case kindBigint:
		switch x := v.(type) {
		case int:
			return int64(x)
		case int32:
			return int64(x)
		case int64:
			return x
		}
		n, err := strconv.ParseInt(strings.TrimSpace(transform.FormatValue(v)), 10, 64)
		if err != nil {
			return nil
		}
		return n
	case kindDouble:
		switch x := v.(type) {
		case float32:
			return float64(x)
		case float64:
			return x
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(transform.FormatValue(v)), 64)
		if err != nil {
			return nil
		}
		return f
	case kindBool:
		if b, ok := v.(bool); ok {
			return b
		}
		b, err := strconv.ParseBool(strings.TrimSpace(transform.FormatValue(v)))
		if err != nil {
			return nil
		}
		return b
	}
	return transform.FormatValue(v)
}
