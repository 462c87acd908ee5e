package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"docetl/loader"
	"docetl/store"
	"docetl/types"
)

// PageLoader returns the text of every page of a document.
type PageLoader interface {
	Pages(ctx context.Context, path string) ([]loader.Page, error)
}

// RecordEmbedder embeds texts and keeps each vector paired with its id.
type RecordEmbedder interface {
	EmbedRecords(ctx context.Context, ids, texts []string) ([]types.EmbeddingRecord, error)
}

// BuildBook reads a PDF, chunks each page and embeds every chunk. Chunk ids
// are fresh random UUIDs.
func BuildBook(ctx context.Context, pages PageLoader, emb RecordEmbedder, path string, size, overlap int) ([]types.BookChunk, error) {
	pp, err := pages.Pages(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("read book %s: %w", path, err)
	}
	chunks, err := loader.ChunkPages(pp, size, overlap)
	if err != nil {
		return nil, fmt.Errorf("chunk book %s: %w", path, err)
	}
	if len(chunks) == 0 {
		return nil, nil
	}

	ids := make([]string, len(chunks))
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = uuid.NewString()
		texts[i] = c.Text
	}
	recs, err := emb.EmbedRecords(ctx, ids, texts)
	if err != nil {
		return nil, fmt.Errorf("embed book %s: %w", path, err)
	}

	out := make([]types.BookChunk, len(chunks))
	for i, c := range chunks {
		out[i] = types.BookChunk{
			ID:        uuid.MustParse(recs[i].ID),
			Page:      c.Page,
			ChunkIdx:  c.Index,
			Text:      c.Text,
			Embedding: recs[i].Vector,
		}
	}
	return out, nil
}

// BookDataset lays chunks out as rows of id, page, chunk_idx, text and the
// bracketed embedding.
func BookDataset(chunks []types.BookChunk) *types.Dataset {
	d := &types.Dataset{
		Columns: []string{"id", "page", "chunk_idx", "text", "embedding"},
		Rows:    make([][]any, len(chunks)),
	}
	for i, c := range chunks {
		d.Rows[i] = []any{c.ID.String(), int64(c.Page), int64(c.ChunkIdx), c.Text, store.FormatVector(c.Embedding)}
	}
	return d
}
