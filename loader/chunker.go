package loader

import (
	"fmt"

	"docetl/types"
)

// Chunk splits text into windows of size runes, each starting size-overlap
// runes after the previous one, until the text is exhausted. The last window
// may be shorter. Empty text yields no chunks.
func Chunk(text string, size, overlap int) ([]types.TextChunk, error) {
	if overlap < 0 || size <= overlap {
		return nil, fmt.Errorf("invalid chunk window: size %d, overlap %d", size, overlap)
	}
	runes := []rune(text)
	if len(runes) == 0 {
		return nil, nil
	}

	step := size - overlap
	chunks := make([]types.TextChunk, 0, len(runes)/step+1)
	for start := 0; start < len(runes); start += step {
		end := min(start+size, len(runes))
		chunks = append(chunks, types.TextChunk{
			Index: len(chunks),
			Start: start,
			Text:  string(runes[start:end]),
		})
	}
	return chunks, nil
}

// ChunkPages chunks every page separately. Chunk indexes restart on each page.
func ChunkPages(pages []Page, size, overlap int) ([]types.TextChunk, error) {
	var out []types.TextChunk
	for _, p := range pages {
		chunks, err := Chunk(p.Text, size, overlap)
		if err != nil {
			return nil, err
		}
		for i := range chunks {
			chunks[i].Page = p.Number
		}
		out = append(out, chunks...)
	}
	return out, nil
}
