package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"docetl/store"
	"docetl/types"
)

// Vectorizer turns one text into a unit vector of a fixed width.
type Vectorizer interface {
	Dimensions(ctx context.Context) (int, error)
	EmbedOne(ctx context.Context, text string) ([]float32, error)
}

type SyncReport struct {
	Selected int           `json:"selected"`
	Embedded int           `json:"embedded"`
	Failed   int           `json:"failed"`
	Duration time.Duration `json:"duration"`
}

// Synchronizer fills the embedding column of every row that lacks one. Rows
// that already carry an embedding are never selected.
type Synchronizer struct {
	store   store.EmbeddingStorer
	vec     Vectorizer
	cfg     types.SinkConfig
	aliases []string
	logger  *slog.Logger
}

func NewSynchronizer(s store.EmbeddingStorer, vec Vectorizer, cfg types.SinkConfig) *Synchronizer {
	return &Synchronizer{store: s, vec: vec, cfg: cfg, logger: slog.Default()}
}

// WithDescriptionAliases adds column names tried, in order, when the
// configured description column is not in the table. A load that renamed the
// description field leaves it under its mapped target name.
func (s *Synchronizer) WithDescriptionAliases(names ...string) *Synchronizer {
	s.aliases = append(s.aliases, names...)
	return s
}

type resolvedColumns struct {
	id, text, embedding string
}

// Run goes through schema check, row selection, per-row embedding and a
// single commit. Row failures are counted and skipped; everything else aborts.
func (s *Synchronizer) Run(ctx context.Context) (SyncReport, error) {
	start := time.Now()
	var rep SyncReport
	table := s.cfg.Table
	if table == "" {
		return rep, types.ConfigErrorf("embed", "DEST_TABLE is not set")
	}
	logger := s.logger.With("table", table)

	cols, err := s.schemaCheck(ctx, table)
	if err != nil {
		logger.Error("schema check failed", "error", err)
		return rep, err
	}

	batch, err := s.store.BeginBatch(ctx)
	if err != nil {
		return rep, err
	}
	defer batch.Rollback(ctx)

	rows, err := batch.SelectMissing(ctx, table, cols.id, cols.text, cols.embedding)
	if err != nil {
		return rep, err
	}
	rep.Selected = len(rows)
	logger.Info("rows without embedding", "count", len(rows), "id_column", cols.id)

	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		if err := s.embedRow(ctx, batch, table, cols, row); err != nil {
			rep.Failed++
			logger.Warn("row skipped", "row_id", row.ID, "error", err)
			continue
		}
		rep.Embedded++
	}

	if err := batch.Commit(ctx); err != nil {
		if !errors.Is(err, types.ErrCommit) {
			err = &types.Error{Kind: types.ErrCommit, Op: "commit embeddings", Table: table, Err: err}
		}
		logger.Error("commit failed, row updates lost", "updates", rep.Embedded, "error", err)
		return rep, err
	}

	rep.Duration = time.Since(start)
	logger.Info("embedding sync complete",
		"selected", rep.Selected, "embedded", rep.Embedded, "failed", rep.Failed, "took", rep.Duration)
	return rep, nil
}

// schemaCheck resolves the identity and description columns and adds the
// vector column when it is missing.
func (s *Synchronizer) schemaCheck(ctx context.Context, table string) (resolvedColumns, error) {
	var rc resolvedColumns
	cols, err := s.store.Columns(ctx, table)
	if err != nil {
		return rc, err
	}

	text, ok := findColumn(cols, s.cfg.DescriptionColumn)
	for _, alias := range s.aliases {
		if ok {
			break
		}
		if text, ok = findColumn(cols, alias); ok {
			s.logger.Info("description column resolved through mapping", "table", table, "configured", s.cfg.DescriptionColumn, "column", text)
		}
	}
	if !ok {
		if len(s.aliases) > 0 {
			return rc, types.SchemaErrorf("schema check", table, "description column %q not found (also tried %s)",
				s.cfg.DescriptionColumn, strings.Join(s.aliases, ", "))
		}
		return rc, types.SchemaErrorf("schema check", table, "description column %q not found", s.cfg.DescriptionColumn)
	}
	rc.text = text

	rc.id = cols[0]
	if id, ok := findColumn(cols, s.cfg.IDColumn); ok {
		rc.id = id
	}

	if emb, ok := findColumn(cols, s.cfg.EmbeddingColumn); ok {
		rc.embedding = emb
		return rc, nil
	}
	dim, err := s.vec.Dimensions(ctx)
	if err != nil {
		return rc, err
	}
	if err := s.store.AddVectorColumn(ctx, table, s.cfg.EmbeddingColumn, dim); err != nil {
		return rc, err
	}
	rc.embedding = s.cfg.EmbeddingColumn
	return rc, nil
}

func (s *Synchronizer) embedRow(ctx context.Context, batch store.EmbeddingBatch, table string, cols resolvedColumns, row store.PendingRow) error {
	if row.ID == "" {
		return &types.Error{Kind: types.ErrRowEmbed, Op: "embed row", Table: table, Err: errors.New("row has no identity value")}
	}
	text := ""
	if row.Text != nil {
		text = *row.Text
	}
	vec, err := s.vec.EmbedOne(ctx, text)
	if err == nil {
		err = batch.UpdateEmbedding(ctx, table, cols.id, cols.embedding, row.ID, vec)
	}
	if err != nil {
		return &types.Error{Kind: types.ErrRowEmbed, Op: "embed row", Table: table, Row: row.ID, Err: err}
	}
	return nil
}

// BookSynchronizer stores a whole book's chunk collection as one JSON
// document in the first row that does not have one yet.
type BookSynchronizer struct {
	store  store.EmbeddingStorer
	table  string
	column string
	logger *slog.Logger
}

func NewBookSynchronizer(s store.EmbeddingStorer, table, column string) *BookSynchronizer {
	return &BookSynchronizer{store: s, table: table, column: column, logger: slog.Default()}
}

// Run reports whether a row received the document.
func (b *BookSynchronizer) Run(ctx context.Context, chunks []types.BookChunk) (bool, error) {
	if b.table == "" {
		return false, types.ConfigErrorf("book sync", "DEST_TABLE is not set")
	}
	logger := b.logger.With("table", b.table, "column", b.column)

	cols, err := b.store.Columns(ctx, b.table)
	if err != nil {
		return false, err
	}
	col, ok := findColumn(cols, b.column)
	if !ok {
		if err := b.store.AddJSONColumn(ctx, b.table, b.column); err != nil {
			return false, err
		}
		col = b.column
	}

	doc, err := json.Marshal(chunks)
	if err != nil {
		return false, fmt.Errorf("marshal book chunks: %w", err)
	}

	batch, err := b.store.BeginBatch(ctx)
	if err != nil {
		return false, err
	}
	defer batch.Rollback(ctx)

	written, err := batch.SetFirstMissingDocument(ctx, b.table, col, doc)
	if err != nil {
		return false, err
	}
	if err := batch.Commit(ctx); err != nil {
		return false, err
	}
	if !written {
		logger.Info("every row already has book chunks, nothing written")
		return false, nil
	}
	logger.Info("book chunks stored", "chunks", len(chunks), "bytes", len(doc))
	return true, nil
}

func findColumn(cols []string, want string) (string, bool) {
	for _, c := range cols {
		if c == want {
			return c, true
		}
	}
	for _, c := range cols {
		if strings.EqualFold(c, want) {
			return c, true
		}
	}
	return "", false
}
