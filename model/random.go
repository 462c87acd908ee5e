package model

import (
	"context"
	"math/rand/v2"
	"sync"
)

// RandomDimensions is the width of the placeholder vectors.
const RandomDimensions = 1536

// RandomEmbedder returns uniformly random vectors. The output carries NO
// semantic information; it only exercises the storage path end to end.
type RandomEmbedder struct {
	dim int

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewRandomEmbedder seeds the generator with seed; 0 picks a random seed.
func NewRandomEmbedder(dim int, seed uint64) *RandomEmbedder {
	if dim <= 0 {
		dim = RandomDimensions
	}
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &RandomEmbedder{dim: dim, rnd: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (r *RandomEmbedder) Dimensions() int   { return r.dim }
func (r *RandomEmbedder) ModelName() string { return "random-nonsemantic" }

func (r *RandomEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([][]float32, len(texts))
	for i := range texts {
		v := make([]float32, r.dim)
		for j := range v {
			v[j] = r.rnd.Float32()
		}
		out[i] = v
	}
	return out, nil
}
