package model

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"docetl/types"
)

// Producer batches texts through the oracle and guarantees every returned
// vector is finite, unit length and exactly Dimensions wide.
type Producer struct {
	oracle    *Lazy
	batchSize int
	maxTokens int
	counter   TokenCounter
	logger    *slog.Logger
}

type ProducerOption func(*Producer)

func WithBatchSize(n int) ProducerOption { return func(p *Producer) { p.batchSize = n } }

// WithTokenLimit logs a warning for texts longer than limit tokens as counted by c.
func WithTokenLimit(c TokenCounter, limit int) ProducerOption {
	return func(p *Producer) { p.counter, p.maxTokens = c, limit }
}

func NewProducer(oracle *Lazy, opts ...ProducerOption) *Producer {
	p := &Producer{oracle: oracle, batchSize: 32, logger: slog.Default()}
	for _, o := range opts {
		o(p)
	}
	if p.batchSize <= 0 {
		p.batchSize = 1
	}
	return p
}

// Dimensions loads the oracle if needed and reports its vector width.
func (p *Producer) Dimensions(ctx context.Context) (int, error) {
	emb, err := p.oracle.Get(ctx)
	if err != nil {
		return 0, err
	}
	return emb.Dimensions(), nil
}

// Embed returns one unit vector per text, in order. Empty text is embedded as
// the empty string rather than skipped.
func (p *Producer) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	emb, err := p.oracle.Get(ctx)
	if err != nil {
		return nil, err
	}
	dim := emb.Dimensions()

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += p.batchSize {
		end := min(start+p.batchSize, len(texts))
		batch := texts[start:end]
		p.checkTokens(batch, start)

		vecs, err := emb.EmbedBatch(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("embed batch %d-%d: %w", start, end-1, err)
		}
		if len(vecs) != len(batch) {
			return nil, fmt.Errorf("embed batch %d-%d: oracle returned %d vectors for %d texts", start, end-1, len(vecs), len(batch))
		}
		for i, v := range vecs {
			if err := finalize(v, dim); err != nil {
				return nil, fmt.Errorf("text %d: %w", start+i, err)
			}
			out = append(out, v)
		}
	}
	return out, nil
}

// EmbedOne embeds a single text.
func (p *Producer) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedRecords pairs each vector with the identity it was computed for.
func (p *Producer) EmbedRecords(ctx context.Context, ids, texts []string) ([]types.EmbeddingRecord, error) {
	if len(ids) != len(texts) {
		return nil, fmt.Errorf("embed records: %d ids for %d texts", len(ids), len(texts))
	}
	vecs, err := p.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}
	out := make([]types.EmbeddingRecord, len(ids))
	for i := range ids {
		out[i] = types.EmbeddingRecord{ID: ids[i], Text: texts[i], Vector: vecs[i]}
	}
	return out, nil
}

func (p *Producer) checkTokens(batch []string, offset int) {
	if p.counter == nil || p.maxTokens <= 0 {
		return
	}
	for i, t := range batch {
		if n := p.counter.Count(t); n > p.maxTokens {
			p.logger.Warn("text exceeds model window, oracle may truncate", "index", offset+i, "tokens", n, "max_tokens", p.maxTokens)
		}
	}
}

// finalize checks width and finiteness, then L2-normalizes v in place.
func finalize(v []float32, dim int) error {
	if len(v) != dim {
		return fmt.Errorf("vector has %d dimensions, want %d", len(v), dim)
	}
	var sum float64
	for _, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("vector has non-finite component")
		}
		sum += f * f
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return fmt.Errorf("vector has zero norm")
	}
	for i, x := range v {
		v[i] = float32(float64(x) / norm)
	}
	return nil
}
