package store

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docetl/types"
)

func TestFormatVector(t *testing.T) {
	assert.Equal(t, "[0.5,-1,0.25]", FormatVector([]float32{0.5, -1, 0.25}))
	assert.Equal(t, "[]", FormatVector(nil))
}

func TestIdentifiers(t *testing.T) {
	assert.Equal(t, `"Documents"`, tableIdent("Documents"))
	assert.Equal(t, `"etl"."docs"`, tableIdent("etl.docs"))
	assert.Equal(t, `"we""ird"`, quoteIdent(`we"ird`))
}

func TestInferKinds(t *testing.T) {
	ts := time.Date(2022, 1, 2, 3, 4, 5, 0, time.UTC)
	d := &types.Dataset{
		Columns: []string{"id", "scan", "scan_text", "pages", "score", "ok", "mixed", "empty"},
		Rows: [][]any{
			{"a", ts, "2022-01-02 03:04:05", int64(1), 1.5, true, int64(1), nil},
			{"b", nil, nil, int64(2), float64(2), false, "x", nil},
		},
	}
	kinds := inferKinds(d)
	assert.Equal(t, []columnKind{kindText, kindTimestamp, kindTimestamp, kindBigint, kindDouble, kindBool, kindText, kindText}, kinds)

	sql := createTableSQL("docs", d.Columns[:4], kinds[:4])
	assert.Equal(t, `CREATE TABLE "docs" ("id" TEXT, "scan" TIMESTAMPTZ, "scan_text" TIMESTAMPTZ, "pages" BIGINT)`, sql)
}

func TestCopyRows(t *testing.T) {
	d := &types.Dataset{
		Columns: []string{"id", "scan", "pages", "ok"},
		Rows: [][]any{
			{int64(7), "2022-01-02 03:04:05", "12", "true"},
			{"x", "garbage", "n/a", nil},
			{"short"},
		},
	}
	rows := copyRows(d, []columnKind{kindText, kindTimestamp, kindBigint, kindBool})

	assert.Equal(t, []any{"7", time.Date(2022, 1, 2, 3, 4, 5, 0, time.UTC), int64(12), true}, rows[0])
	assert.Equal(t, []any{"x", nil, nil, nil}, rows[1])
	assert.Equal(t, []any{"short", nil, nil, nil}, rows[2])
}

func TestKindOfSQL(t *testing.T) {
	assert.Equal(t, kindTimestamp, kindOfSQL("timestamp with time zone"))
	assert.Equal(t, kindBigint, kindOfSQL("integer"))
	assert.Equal(t, kindDouble, kindOfSQL("double precision"))
	assert.Equal(t, kindBool, kindOfSQL("boolean"))
	assert.Equal(t, kindText, kindOfSQL("USER-DEFINED"))
}

// TestPostgres_RoundTrip needs a database with pgvector, e.g.
// PG_TEST_DSN="host=localhost user=postgres password=postgres dbname=postgres sslmode=disable".
func TestPostgres_RoundTrip(t *testing.T) {
	dsn := os.Getenv("PG_TEST_DSN")
	if dsn == "" {
		t.Skip("PG_TEST_DSN not set")
	}
	ctx := context.Background()
	s, err := NewPostgresStore(ctx, dsn)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Init(ctx))

	table := "docetl_store_test"
	d := &types.Dataset{
		Columns: []string{"SourceDocumentID", "DataDescription"},
		Rows:    [][]any{{"d1", "first"}, {"d2", nil}},
	}
	n, err := s.LoadDataset(ctx, table, d, LoadReplace)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = s.LoadDataset(ctx, table, &types.Dataset{Columns: []string{"nope"}, Rows: [][]any{{"x"}}}, LoadAppend)
	assert.True(t, errors.Is(err, types.ErrSchema))

	require.NoError(t, s.AddVectorColumn(ctx, table, "embedding", 3))
	require.NoError(t, s.AddVectorColumn(ctx, table, "embedding", 3))
	cols, err := s.Columns(ctx, table)
	require.NoError(t, err)
	assert.Equal(t, []string{"SourceDocumentID", "DataDescription", "embedding"}, cols)

	b, err := s.BeginBatch(ctx)
	require.NoError(t, err)
	pending, err := b.SelectMissing(ctx, table, "SourceDocumentID", "DataDescription", "embedding")
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Error(t, b.UpdateEmbedding(ctx, table, "SourceDocumentID", "embedding", "d1", []float32{1, 0}))
	require.NoError(t, b.UpdateEmbedding(ctx, table, "SourceDocumentID", "embedding", "d1", []float32{1, 0, 0}))
	err = b.UpdateEmbedding(ctx, table, "SourceDocumentID", "embedding", "", []float32{0, 1, 0})
	require.Error(t, err, "an update matching no row must fail")
	assert.Contains(t, err.Error(), "no row")
	require.NoError(t, b.Commit(ctx))
	require.NoError(t, b.Rollback(ctx))

	b, err = s.BeginBatch(ctx)
	require.NoError(t, err)
	defer b.Rollback(ctx)
	pending, err = b.SelectMissing(ctx, table, "SourceDocumentID", "DataDescription", "embedding")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "d2", pending[0].ID)
	assert.Nil(t, pending[0].Text)
}
