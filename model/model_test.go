package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docetl/types"
)

// fakeEmbedder derives a deterministic vector from the text length.
type fakeEmbedder struct {
	dim     int
	batches [][]string
	zeroFor string
	short   bool
}

func (f *fakeEmbedder) Dimensions() int   { return f.dim }
func (f *fakeEmbedder) ModelName() string { return "fake" }

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	f.batches = append(f.batches, append([]string(nil), texts...))
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, f.dim)
		if t != f.zeroFor {
			for j := range v {
				v[j] = float32(len(t)+1) * float32(j+1)
			}
		}
		if f.short {
			v = v[:f.dim-1]
		}
		out[i] = v
	}
	return out, nil
}

func lazyOf(e Embedder) *Lazy {
	return NewLazy(func(context.Context) (Embedder, error) { return e, nil })
}

func norm(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

func TestProducer_UnitNormFixedLengthOrdered(t *testing.T) {
	fake := &fakeEmbedder{dim: 768}
	p := NewProducer(lazyOf(fake), WithBatchSize(2))

	texts := []string{"a", "", "three", "a much longer description", "x"}
	vecs, err := p.Embed(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vecs, len(texts))

	for i, v := range vecs {
		assert.Len(t, v, 768)
		assert.InDelta(t, 1.0, norm(v), 1e-5, "vector %d", i)
	}
	assert.Equal(t, [][]string{{"a", ""}, {"three", "a much longer description"}, {"x"}}, fake.batches)

	// identical texts give identical vectors, so order is observable
	assert.Equal(t, vecs[0], vecs[4])
	assert.NotEqual(t, vecs[0], vecs[2])
}

func TestProducer_Rejects(t *testing.T) {
	ctx := context.Background()

	_, err := NewProducer(lazyOf(&fakeEmbedder{dim: 4, short: true})).Embed(ctx, []string{"a"})
	assert.ErrorContains(t, err, "3 dimensions, want 4")

	_, err = NewProducer(lazyOf(&fakeEmbedder{dim: 4, zeroFor: "z"})).Embed(ctx, []string{"a", "z"})
	assert.ErrorContains(t, err, "zero norm")
	assert.ErrorContains(t, err, "text 1")
}

func TestFinalize_NonFinite(t *testing.T) {
	v := []float32{1, float32(math.NaN())}
	assert.Error(t, finalize(v, 2))
	v = []float32{float32(math.Inf(1)), 1}
	assert.Error(t, finalize(v, 2))

	v = []float32{3, 4}
	require.NoError(t, finalize(v, 2))
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)
}

func TestProducer_EmbedRecords(t *testing.T) {
	p := NewProducer(lazyOf(&fakeEmbedder{dim: 3}))

	recs, err := p.EmbedRecords(context.Background(), []string{"r1", "r2"}, []string{"one", "two"})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "r2", recs[1].ID)
	assert.Equal(t, "two", recs[1].Text)
	assert.Len(t, recs[1].Vector, 3)

	_, err = p.EmbedRecords(context.Background(), []string{"r1"}, nil)
	assert.Error(t, err)
}

type countingCounter struct{ calls int }

func (c *countingCounter) Count(text string) int {
	c.calls++
	return len(strings.Fields(text))
}

func TestProducer_TokenLimitOnlyWarns(t *testing.T) {
	c := &countingCounter{}
	p := NewProducer(lazyOf(&fakeEmbedder{dim: 2}), WithTokenLimit(c, 1))

	vecs, err := p.Embed(context.Background(), []string{"one two three", "four"})
	require.NoError(t, err)
	assert.Len(t, vecs, 2)
	assert.Equal(t, 2, c.calls)
}

func TestLazy_BuildsOnce(t *testing.T) {
	var builds int32
	l := NewLazy(func(context.Context) (Embedder, error) {
		atomic.AddInt32(&builds, 1)
		return &fakeEmbedder{dim: 2}, nil
	})
	assert.Equal(t, int32(0), atomic.LoadInt32(&builds))

	p := NewProducer(l)
	for range 3 {
		_, err := p.EmbedOne(context.Background(), "text")
		require.NoError(t, err)
	}
	dim, err := p.Dimensions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, dim)
	assert.Equal(t, int32(1), atomic.LoadInt32(&builds))
}

func TestLazy_RemembersFailure(t *testing.T) {
	var builds int
	l := NewLazy(func(context.Context) (Embedder, error) {
		builds++
		return nil, errors.New("no model")
	})
	_, err1 := l.Get(context.Background())
	_, err2 := l.Get(context.Background())
	assert.ErrorContains(t, err1, "no model")
	assert.Equal(t, err1, err2)
	assert.Equal(t, 1, builds)
	assert.NoError(t, l.Close())
}

func TestNew_Providers(t *testing.T) {
	e, err := New(context.Background(), types.EmbedConfig{Provider: "random"})
	require.NoError(t, err)
	assert.Equal(t, RandomDimensions, e.Dimensions())

	e, err = New(context.Background(), types.EmbedConfig{Provider: "ollama", Dim: 384})
	require.NoError(t, err)
	assert.Equal(t, 384, e.Dimensions())

	_, err = New(context.Background(), types.EmbedConfig{Provider: "word2vec"})
	assert.True(t, errors.Is(err, types.ErrConfig))
}

func TestRandomEmbedder_ThroughProducer(t *testing.T) {
	p := NewProducer(lazyOf(NewRandomEmbedder(0, 42)))
	vecs, err := p.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	for _, v := range vecs {
		assert.Len(t, v, 1536)
		assert.InDelta(t, 1.0, norm(v), 1e-5)
	}
	assert.NotEqual(t, vecs[0], vecs[1])
}

func TestOllamaEmbedder(t *testing.T) {
	var prompts []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var req OllamaEmbeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "nomic-embed-text", req.Model)
		prompts = append(prompts, req.Prompt)
		if req.Prompt == "boom" {
			http.Error(w, "model crashed", http.StatusInternalServerError)
			return
		}
		fmt.Fprintf(w, `{"embedding":[%d,0,0]}`, len(req.Prompt)+1)
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(OllamaConfig{URL: srv.URL, Dimensions: 3, RPS: 1000})
	vecs, err := e.EmbedBatch(context.Background(), []string{"ab", ""})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{3, 0, 0}, {1, 0, 0}}, vecs)
	assert.Equal(t, []string{"ab", ""}, prompts)

	_, err = e.EmbedBatch(context.Background(), []string{"ok", "boom"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "embed text 1")
	assert.Contains(t, err.Error(), "status 500")
}

func TestLLaVA_RecognizeStreams(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		var req LLaVARequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Images, 1)
		if n == 1 {
			fmt.Fprint(w, `{"response":"","done":true}`)
			return
		}
		fmt.Fprint(w, `{"response":"Chapter ","done":false}`+"\n"+`{"response":"One","done":true}`)
	}))
	defer srv.Close()

	v := NewLLaVA(srv.URL, "llava", time.Second)
	text, err := v.Recognize(context.Background(), []byte("png"))
	require.NoError(t, err)
	assert.Equal(t, "Chapter One", text)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}
