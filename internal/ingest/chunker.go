// Package ingest implements the document ingestion pipeline: modality-aware
// parsing, chunking, deduplication, embedding, and the synchronous
// persistence path with follow-up job scheduling.
package ingest

import (
	"strings"

	"github.com/plinthworks/plinth/pkg/models"
)

// Chunker defaults; overridable via CHUNK_SIZE_CHARS / CHUNK_OVERLAP_CHARS.
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 100
)

// Chunk holds a single chunk of text with its position.
type Chunk struct {
	Text  string `json:"text"`
	Index int    `json:"index"`
}

// ChunkerConfig configures the text chunkers.
type ChunkerConfig struct {
	ChunkSize    int
	ChunkOverlap int
}

func (c ChunkerConfig) normalized() ChunkerConfig {
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.ChunkOverlap < 0 {
		c.ChunkOverlap = 0
	}
	if c.ChunkOverlap >= c.ChunkSize {
		c.ChunkOverlap = c.ChunkSize - 1
	}
	return c
}

// ChunkText dispatches to the strategy implementation.
func ChunkText(text string, strategy models.ChunkStrategy, cfg ChunkerConfig) []Chunk {
	switch strategy {
	case models.ChunkSlidingWindow:
		return ChunkSlidingWindow(text, cfg.ChunkSize)
	case models.ChunkPerEntity:
		return ChunkPerEntity(text)
	case models.ChunkSemantic:
		return ChunkSemantic(text, cfg.ChunkSize)
	default:
		return ChunkFixed(text, cfg.ChunkSize, cfg.ChunkOverlap)
	}
}

// ChunkFixed slices text into deterministic character windows. Every input
// character appears in at least one chunk; adjacent chunks share exactly
// overlap characters; the last chunk is shorter iff the text length is not a
// multiple of (size − overlap).
func ChunkFixed(text string, size, overlap int) []Chunk {
	cfg := ChunkerConfig{ChunkSize: size, ChunkOverlap: overlap}.normalized()
	size, overlap = cfg.ChunkSize, cfg.ChunkOverlap

	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	step := size - overlap
	var chunks []Chunk
	for start := 0; ; start += step {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, Chunk{Text: string(runes[start:end]), Index: len(chunks)})
		if end == len(runes) {
			break
		}
	}
	return chunks
}

// ChunkSlidingWindow slices fixed-size windows advancing by 80% of the size.
func ChunkSlidingWindow(text string, size int) []Chunk {
	if size <= 0 {
		size = DefaultChunkSize
	}
	step := size * 4 / 5
	if step < 1 {
		step = 1
	}
	return ChunkFixed(text, size, size-step)
}

// ChunkPerEntity splits on newline and drops blank lines. Used for
// structured sources where each line is one record.
func ChunkPerEntity(text string) []Chunk {
	var chunks []Chunk
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		chunks = append(chunks, Chunk{Text: line, Index: len(chunks)})
	}
	return chunks
}

// semanticBoundary returns the index just past the best split point inside
// window, preferring markdown heading starts, then sentence-ending
// punctuation. Returns -1 when the window contains no boundary.
func semanticBoundary(window []rune) int {
	best := -1
	for i := 0; i < len(window)-1; i++ {
		// A heading boundary: cut before the '#' that follows a newline.
		if window[i] == '\n' && window[i+1] == '#' {
			best = i + 1
		}
	}
	if best > 0 {
		return best
	}
	for i := 0; i < len(window)-1; i++ {
		if (window[i] == '.' || window[i] == '!' || window[i] == '?') &&
			(window[i+1] == ' ' || window[i+1] == '\n') {
			best = i + 2
		}
	}
	return best
}

// ChunkSemantic splits preferring sentence endings and markdown heading
// boundaries, falling back to a fixed cut when no boundary exists inside the
// current window.
func ChunkSemantic(text string, size int) []Chunk {
	if size <= 0 {
		size = DefaultChunkSize
	}
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	var chunks []Chunk
	start := 0
	for start < len(runes) {
		end := start + size
		if end >= len(runes) {
			chunks = append(chunks, Chunk{Text: string(runes[start:]), Index: len(chunks)})
			break
		}
		window := runes[start:end]
		cut := semanticBoundary(window)
		if cut <= 0 {
			cut = size // no boundary in window: fixed fallback
		}
		chunks = append(chunks, Chunk{Text: string(runes[start : start+cut]), Index: len(chunks)})
		start += cut
	}
	return chunks
}
