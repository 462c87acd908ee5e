package types

import (
	"strings"

	"github.com/google/uuid"
)

type TargetType string

const (
	TargetString TargetType = "string"
	TargetDate   TargetType = "date"
)

// FieldMapping is one normalized row of the field-mapping configuration.
// Any TargetType other than string or date is passed through untouched.
type FieldMapping struct {
	SourceField  string     `json:"source_field" validate:"required"`
	TargetField  string     `json:"target_field" validate:"required"`
	TargetType   TargetType `json:"target_type" validate:"required"`
	DefaultValue string     `json:"default_value"`
}

// Dataset is a column-ordered table of raw values. A nil cell is null.
type Dataset struct {
	Columns []string
	Rows    [][]any
}

// NormalizeColumnName trims and lower-cases a column name.
func NormalizeColumnName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Index returns the position of the first column named name, or -1.
func (d *Dataset) Index(name string) int {
	for i, c := range d.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// IndexFold is Index with a case-insensitive, whitespace-trimmed match.
func (d *Dataset) IndexFold(name string) int {
	name = NormalizeColumnName(name)
	for i, c := range d.Columns {
		if NormalizeColumnName(c) == name {
			return i
		}
	}
	return -1
}

// Clone deep-copies the column list and row slices; cell values are shared.
func (d *Dataset) Clone() *Dataset {
	out := &Dataset{
		Columns: append([]string(nil), d.Columns...),
		Rows:    make([][]any, len(d.Rows)),
	}
	for i, row := range d.Rows {
		out.Rows[i] = append([]any(nil), row...)
	}
	return out
}

// Column returns every value of column i in row order.
func (d *Dataset) Column(i int) []any {
	out := make([]any, len(d.Rows))
	for r, row := range d.Rows {
		if i < len(row) {
			out[r] = row[i]
		}
	}
	return out
}

type TextChunk struct {
	Page  int    // 1-based page number, 0 when the text is not paged
	Index int    // chunk position within the page
	Start int    // rune offset of Text inside the page
	Text  string
}

// End is the rune offset one past the last rune of the chunk.
func (c TextChunk) End() int {
	return c.Start + len([]rune(c.Text))
}

// BookChunk is one embedded chunk of a long-form document, serialized as
// {id, page, chunk_idx, text, embedding}.
type BookChunk struct {
	ID        uuid.UUID `json:"id"`
	Page      int       `json:"page"`
	ChunkIdx  int       `json:"chunk_idx"`
	Text      string    `json:"text"`
	Embedding []float32 `json:"embedding"`
}

// EmbeddingRecord ties a vector to the row (or page/chunk) it was computed for.
type EmbeddingRecord struct {
	ID     string
	Text   string
	Vector []float32
}
