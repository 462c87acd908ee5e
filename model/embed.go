// Package model wraps the text-to-vector oracles and turns their raw output
// into unit-length vectors of a fixed width.
package model

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"docetl/types"
)

// Embedder is a text-to-vector oracle. EmbedBatch returns one vector per
// input, in input order.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	ModelName() string
}

// New builds the oracle selected by cfg.Provider.
func New(ctx context.Context, cfg types.EmbedConfig) (Embedder, error) {
	switch cfg.Provider {
	case "ollama", "":
		return NewOllamaEmbedder(OllamaConfig{
			URL:        cfg.OllamaURL,
			Model:      cfg.OllamaModel,
			Timeout:    cfg.Timeout,
			Dimensions: cfg.Dim,
			RPS:        cfg.RPS,
		}), nil
	case "gemini":
		return NewGeminiEmbedder(ctx, cfg.GeminiKey, cfg.GeminiModel, cfg.Dim)
	case "random":
		return NewRandomEmbedder(RandomDimensions, 0), nil
	default:
		return nil, types.ConfigErrorf("embedder", "unknown provider %q", cfg.Provider)
	}
}

// Lazy builds its Embedder on first use and hands the same instance out
// afterwards. A failed build is remembered and returned on every call.
type Lazy struct {
	build func(context.Context) (Embedder, error)

	once sync.Once
	emb  Embedder
	err  error
}

func NewLazy(build func(context.Context) (Embedder, error)) *Lazy {
	return &Lazy{build: build}
}

// LazyFromConfig defers New(ctx, cfg) until the first embedding is needed.
func LazyFromConfig(cfg types.EmbedConfig) *Lazy {
	return NewLazy(func(ctx context.Context) (Embedder, error) {
		return New(ctx, cfg)
	})
}

func (l *Lazy) Get(ctx context.Context) (Embedder, error) {
	l.once.Do(func() {
		l.emb, l.err = l.build(ctx)
		if l.err != nil {
			l.err = fmt.Errorf("load embedding model: %w", l.err)
			return
		}
		slog.Info("embedding model loaded", "model", l.emb.ModelName(), "dim", l.emb.Dimensions())
	})
	return l.emb, l.err
}

// Close releases the oracle if it was built and holds resources.
func (l *Lazy) Close() error {
	if l.emb == nil {
		return nil
	}
	if c, ok := l.emb.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
