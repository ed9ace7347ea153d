package service

import (
	"github.com/docsage/docsage/internal/model"
)

// ChunkText splits text into overlapping windows: chunk k starts at rune
// offset k*(size-overlap) and runs for at most size runes. Consecutive chunks
// share overlap runes so sentences cut at a boundary appear whole in one of
// the two. Empty text yields no chunks.
func ChunkText(text string, size, overlap int) []model.Chunk {
	if size <= 0 {
		size = 2000
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size - 1
	}

	runes := []rune(text)
	stride := size - overlap

	var chunks []model.Chunk
	for start := 0; start < len(runes); start += stride {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, model.Chunk{
			Index: len(chunks),
			Text:  string(runes[start:end]),
		})
		if end == len(runes) {
			break
		}
	}
	return chunks
}
