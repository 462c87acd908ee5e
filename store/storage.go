package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"docetl/types"
)

// PendingRow is a row whose embedding column is still null. Text is nil when
// the description cell is null.
type PendingRow struct {
	ID   string
	Text *string
}

// EmbeddingStorer is the sink side of the embedding synchronizers.
type EmbeddingStorer interface {
	Columns(ctx context.Context, table string) ([]string, error)
	AddVectorColumn(ctx context.Context, table, column string, dim int) error
	AddJSONColumn(ctx context.Context, table, column string) error
	BeginBatch(ctx context.Context) (EmbeddingBatch, error)
}

// EmbeddingBatch is one transaction of embedding writes. A failed
// UpdateEmbedding only undoes that row.
type EmbeddingBatch interface {
	SelectMissing(ctx context.Context, table, idCol, textCol, embCol string) ([]PendingRow, error)
	UpdateEmbedding(ctx context.Context, table, idCol, embCol, id string, vec []float32) error
	SetFirstMissingDocument(ctx context.Context, table, col string, doc []byte) (bool, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// TableSink bulk-loads a dataset into a table.
type TableSink interface {
	LoadDataset(ctx context.Context, table string, d *types.Dataset, mode LoadMode) (int64, error)
}

type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

var (
	_ EmbeddingStorer = (*PostgresStore)(nil)
	_ TableSink       = (*PostgresStore)(nil)
)

func NewPostgresStore(ctx context.Context, connStr string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, types.NewError(types.ErrConnection, "connect postgres", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, types.NewError(types.ErrConnection, "ping postgres", err)
	}

	return &PostgresStore{
		pool:   pool,
		logger: slog.Default(),
	}, nil
}

// Init makes sure the vector extension is installed.
func (p *PostgresStore) Init(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return types.NewError(types.ErrSchema, "create extension vector", err)
	}
	return nil
}

func (p *PostgresStore) Close() error {
	if p.pool != nil {
		p.pool.Close()
		p.logger.Info("postgres connection pool is closed")
	}
	return nil
}

// Columns lists the table's columns in ordinal order. A table that does not
// exist yields a SchemaError.
func (p *PostgresStore) Columns(ctx context.Context, table string) ([]string, error) {
	schema, name := splitTable(table)
	rows, err := p.pool.Query(ctx, `
		SELECT column_name
		FROM information_schema.columns
		WHERE table_name = $1 AND ($2 = '' OR table_schema = $2)
		ORDER BY ordinal_position`, name, schema)
	if err != nil {
		return nil, &types.Error{Kind: types.ErrConnection, Op: "column catalog", Table: table, Err: err}
	}
	cols, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, &types.Error{Kind: types.ErrConnection, Op: "column catalog", Table: table, Err: err}
	}
	if len(cols) == 0 {
		return nil, types.SchemaErrorf("column catalog", table, "table not found")
	}
	return cols, nil
}

func (p *PostgresStore) AddVectorColumn(ctx context.Context, table, column string, dim int) error {
	q := fmt.Sprintf(`ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s vector(%d)`, tableIdent(table), quoteIdent(column), dim)
	if _, err := p.pool.Exec(ctx, q); err != nil {
		return &types.Error{Kind: types.ErrSchema, Op: "add vector column", Table: table, Err: err}
	}
	p.logger.Info("vector column ensured", "table", table, "column", column, "dim", dim)
	return nil
}

func (p *PostgresStore) AddJSONColumn(ctx context.Context, table, column string) error {
	q := fmt.Sprintf(`ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s JSONB`, tableIdent(table), quoteIdent(column))
	if _, err := p.pool.Exec(ctx, q); err != nil {
		return &types.Error{Kind: types.ErrSchema, Op: "add json column", Table: table, Err: err}
	}
	p.logger.Info("json column ensured", "table", table, "column", column)
	return nil
}

func (p *PostgresStore) BeginBatch(ctx context.Context) (EmbeddingBatch, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, types.NewError(types.ErrConnection, "begin", err)
	}
	return &pgBatch{tx: tx}, nil
}

type pgBatch struct {
	tx pgx.Tx
}

func (b *pgBatch) SelectMissing(ctx context.Context, table, idCol, textCol, embCol string) ([]PendingRow, error) {
	q := fmt.Sprintf(`SELECT %s::text, %s::text FROM %s WHERE %s IS NULL`,
		quoteIdent(idCol), quoteIdent(textCol), tableIdent(table), quoteIdent(embCol))
	rows, err := b.tx.Query(ctx, q)
	if err != nil {
		return nil, &types.Error{Kind: types.ErrExtraction, Op: "select missing embeddings", Table: table, Err: err}
	}
	out, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (PendingRow, error) {
		var pr PendingRow
		var id *string
		if err := r.Scan(&id, &pr.Text); err != nil {
			return pr, err
		}
		if id != nil {
			pr.ID = *id
		}
		return pr, nil
	})
	if err != nil {
		return nil, &types.Error{Kind: types.ErrExtraction, Op: "select missing embeddings", Table: table, Err: err}
	}
	return out, nil
}

// UpdateEmbedding writes one vector inside a savepoint so a failure leaves the
// surrounding transaction usable. Matching no row is an error.
func (b *pgBatch) UpdateEmbedding(ctx context.Context, table, idCol, embCol, id string, vec []float32) error {
	sp, err := b.tx.Begin(ctx)
	if err != nil {
		return err
	}
	q := fmt.Sprintf(`UPDATE %s SET %s = $1::vector WHERE %s::text = $2`,
		tableIdent(table), quoteIdent(embCol), quoteIdent(idCol))
	tag, err := sp.Exec(ctx, q, FormatVector(vec), id)
	if err != nil {
		return errors.Join(err, sp.Rollback(ctx))
	}
	if tag.RowsAffected() == 0 {
		return errors.Join(fmt.Errorf("no row with %s = %q", idCol, id), sp.Rollback(ctx))
	}
	return sp.Commit(ctx)
}

// SetFirstMissingDocument stores doc in the first row whose col is null.
// Reports false when every row already has one.
func (b *pgBatch) SetFirstMissingDocument(ctx context.Context, table, col string, doc []byte) (bool, error) {
	q := fmt.Sprintf(`UPDATE %[1]s SET %[2]s = $1::jsonb
		WHERE ctid = (SELECT ctid FROM %[1]s WHERE %[2]s IS NULL LIMIT 1)`,
		tableIdent(table), quoteIdent(col))
	tag, err := b.tx.Exec(ctx, q, string(doc))
	if err != nil {
		return false, &types.Error{Kind: types.ErrRowEmbed, Op: "write document", Table: table, Err: err}
	}
	return tag.RowsAffected() > 0, nil
}

func (b *pgBatch) Commit(ctx context.Context) error {
	if err := b.tx.Commit(ctx); err != nil {
		return types.NewError(types.ErrCommit, "commit", err)
	}
	return nil
}

// Rollback is a no-op after Commit.
func (b *pgBatch) Rollback(ctx context.Context) error {
	err := b.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}

// FormatVector renders v as the bracketed list pgvector accepts, e.g. [0.1,0.2].
func FormatVector(v []float32) string {
	return pgvector.NewVector(v).String()
}

func splitTable(table string) (schema, name string) {
	if i := strings.IndexByte(table, '.'); i >= 0 {
		return table[:i], table[i+1:]
	}
	return "", table
}

func tableIdent(table string) string {
	schema, name := splitTable(table)
	if schema == "" {
		return pgx.Identifier{name}.Sanitize()
	}
	return pgx.Identifier{schema, name}.Sanitize()
}

func quoteIdent(name string) string {
	return pgx.Identifier{name}.Sanitize()
}
