package transform

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docetl/types"
)

func sampleDataset() *types.Dataset {
	return &types.Dataset{
		Columns: []string{"sourcedocumentid", "title", "scandate", "pages", "extra"},
		Rows: [][]any{
			{"doc-1", "Invoice", "2023-04-05", int64(3), "x"},
			{"doc-2", nil, "not a date", int64(7), nil},
			{"doc-3", "  ", nil, nil, "z"},
		},
	}
}

func TestTransform_FillCoerceRename(t *testing.T) {
	in := sampleDataset()
	mappings := []types.FieldMapping{
		{SourceField: "sourcedocumentid", TargetField: "SourceDocumentID", TargetType: types.TargetString},
		{SourceField: "title", TargetField: "Title", TargetType: types.TargetString, DefaultValue: "Untitled"},
		{SourceField: "scandate", TargetField: "ScanDate", TargetType: types.TargetDate},
		{SourceField: "pages", TargetField: "PageCount", TargetType: types.TargetString},
	}

	out, rep := New(nil).Transform(in, mappings)

	assert.Equal(t, []string{"SourceDocumentID", "Title", "ScanDate", "PageCount", "extra"}, out.Columns)
	assert.Equal(t, 4, rep.Applied)
	assert.Equal(t, 2, rep.DefaultsFilled)
	assert.Equal(t, 1, rep.CoercionFailures)

	assert.Equal(t, "Invoice", out.Rows[0][1])
	assert.Equal(t, "Untitled", out.Rows[1][1])
	assert.Equal(t, "Untitled", out.Rows[2][1])

	assert.Equal(t, time.Date(2023, 4, 5, 0, 0, 0, 0, time.UTC), out.Rows[0][2])
	assert.Nil(t, out.Rows[1][2], "unparseable date must become null")
	assert.Nil(t, out.Rows[2][2])

	assert.Equal(t, "3", out.Rows[0][3])
	assert.Nil(t, out.Rows[2][3], "null stays null under string coercion")

	assert.Equal(t, "x", out.Rows[0][4])
}

func TestTransform_DoesNotMutateInput(t *testing.T) {
	in := sampleDataset()
	_, _ = New(nil).Transform(in, []types.FieldMapping{
		{SourceField: "title", TargetField: "Title", TargetType: types.TargetString, DefaultValue: "Untitled"},
	})
	assert.Equal(t, "title", in.Columns[1])
	assert.Nil(t, in.Rows[1][1])
}

func TestTransform_MissingSourceIsSkipped(t *testing.T) {
	in := sampleDataset()
	var out *types.Dataset
	var rep Report
	require.NotPanics(t, func() {
		out, rep = New(nil).Transform(in, []types.FieldMapping{
			{SourceField: "batchreferenceid", TargetField: "BatchReferenceID", TargetType: types.TargetString, DefaultValue: "B"},
		})
	})
	assert.Equal(t, in.Columns, out.Columns)
	assert.Equal(t, []string{"batchreferenceid"}, rep.SkippedSources)
	assert.Equal(t, 0, rep.Applied)
}

func TestTransform_NoDefaultNoFill(t *testing.T) {
	in := &types.Dataset{Columns: []string{"title"}, Rows: [][]any{{nil}}}
	out, _ := New(nil).Transform(in, []types.FieldMapping{
		{SourceField: "title", TargetField: "Title", TargetType: types.TargetString},
	})
	assert.Equal(t, []string{"Title"}, out.Columns)
	assert.Nil(t, out.Rows[0][0])
}

func TestTransform_DefaultedColumnsNonNull(t *testing.T) {
	in := sampleDataset()
	mappings := []types.FieldMapping{
		{SourceField: "extra", TargetField: "Extra", TargetType: "text", DefaultValue: "n/a"},
		{SourceField: "scandate", TargetField: "ScanDate", TargetType: types.TargetDate, DefaultValue: "1970-01-01"},
	}
	out, _ := New(nil).Transform(in, mappings)

	for _, col := range []string{"Extra", "ScanDate"} {
		idx := out.Index(col)
		require.GreaterOrEqual(t, idx, 0)
		for r, row := range out.Rows {
			if col == "ScanDate" && r == 1 {
				// present but unparseable: coercion wins over the default
				continue
			}
			assert.NotNil(t, row[idx], "column %s row %d", col, r)
		}
	}
	assert.Equal(t, "n/a", out.Rows[1][out.Index("Extra")])
}

func TestTransform_PassThroughType(t *testing.T) {
	in := &types.Dataset{Columns: []string{"amount"}, Rows: [][]any{{int64(12)}}}
	out, _ := New(nil).Transform(in, []types.FieldMapping{
		{SourceField: "amount", TargetField: "Amount", TargetType: "decimal"},
	})
	assert.Equal(t, int64(12), out.Rows[0][0])
}

func TestTransform_DuplicateSourceFirstWins(t *testing.T) {
	in := &types.Dataset{Columns: []string{"title"}, Rows: [][]any{{"a"}}}
	out, rep := New(nil).Transform(in, []types.FieldMapping{
		{SourceField: "title", TargetField: "Title", TargetType: types.TargetString},
		{SourceField: "title", TargetField: "Heading", TargetType: types.TargetString},
	})
	assert.Equal(t, []string{"Title"}, out.Columns)
	assert.Equal(t, []string{"title"}, rep.SkippedSources)
}

func TestCoerceDate(t *testing.T) {
	ts := time.Date(2020, 12, 31, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		in   any
		want any
	}{
		{"iso", "2020-12-31", ts},
		{"us", "12/31/2020", ts},
		{"time value", ts, ts},
		{"nil", nil, nil},
		{"blank", "   ", nil},
		{"garbage", "not a date", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CoerceDate(tt.in))
		})
	}
}

func TestCoerceString(t *testing.T) {
	assert.Nil(t, CoerceString(nil))
	assert.Equal(t, "1.5", CoerceString(1.5))
	assert.Equal(t, "42", CoerceString(int64(42)))
	assert.Equal(t, "2020-12-31 10:00:00", CoerceString(time.Date(2020, 12, 31, 10, 0, 0, 0, time.UTC)))
}
