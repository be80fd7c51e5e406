// Package chunking splits documents into overlapping windows with a
// prepended context header, producing the atomic retrieval units.
package chunking

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"unicode"

	"sage/pkg/types"
)

// HeaderGenerator produces a 1-3 sentence header situating a chunk in its
// document. Implementations are typically LLM backed.
type HeaderGenerator interface {
	GenerateHeader(ctx context.Context, doc *types.Document, window string, ordinal, total int) (string, error)
}

// Chunker splits documents for one collection. Chunk size and overlap come
// from the collection and are measured in characters, not tokens.
type Chunker struct {
	collection types.Collection
	headers    HeaderGenerator // nil selects the deterministic template strategy

	mu          sync.Mutex
	headerCache map[string]string // keyed by hash(documentID, ordinal)
}

// NewChunker creates a chunker for the given collection using the template
// header strategy.
func NewChunker(collection types.Collection) *Chunker {
	return &Chunker{
		collection:  collection,
		headerCache: make(map[string]string),
	}
}

// NewChunkerWithLLMHeaders creates a chunker that asks the generator for
// context headers, caching them per (document, ordinal).
func NewChunkerWithLLMHeaders(collection types.Collection, headers HeaderGenerator) *Chunker {
	c := NewChunker(collection)
	c.headers = headers
	return c
}

// Chunk splits the document body into windows and attaches context headers.
// A body shorter than the chunk size yields exactly one chunk.
func (c *Chunker) Chunk(ctx context.Context, doc *types.Document) ([]types.Chunk, error) {
	if doc.Body == "" {
		return nil, fmt.Errorf("document %s has an empty body", doc.ID)
	}
	if !doc.SourceKind.Valid() {
		return nil, fmt.Errorf("document %s has unknown source kind %q", doc.ID, doc.SourceKind)
	}

	windows := c.split(doc.Body)
	total := len(windows)
	hash := doc.Hash()

	chunks := make([]types.Chunk, 0, total)
	for i, window := range windows {
		header, usedLLM, err := c.header(ctx, doc, window, i, total)
		if err != nil {
			return nil, err
		}

		chunk := types.Chunk{
			ID:            types.ChunkID(doc.SourceKind, hash, i),
			DocumentID:    doc.ID,
			Ordinal:       i,
			Total:         total,
			Body:          window,
			ContextHeader: header,
			HasContext:    usedLLM,
			Metadata: types.ChunkMetadata{
				SourceKind: doc.SourceKind,
				DocumentID: doc.ID,
				Ordinal:    i,
				Total:      total,
				HasContext: usedLLM,
				OwnerID:    doc.OwnerID,
				URL:        doc.URI,
				Title:      doc.Title,
			},
		}
		if err := chunk.Validate(); err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}

// split windows the body, preferring boundaries at paragraph, then sentence,
// then word. Windows never end mid-word.
func (c *Chunker) split(body string) []string {
	size := c.collection.ChunkSize
	overlap := c.collection.ChunkOverlap
	if size <= 0 {
		size = 1000
	}
	if overlap >= size {
		overlap = size / 4
	}

	runes := []rune(body)
	if len(runes) <= size {
		return []string{body}
	}

	var windows []string
	start := 0
	for start < len(runes) {
		end := start + size
		if end >= len(runes) {
			windows = append(windows, strings.TrimSpace(string(runes[start:])))
			break
		}

		cut := findBoundary(runes, start, end)
		windows = append(windows, strings.TrimSpace(string(runes[start:cut])))

		next := cut - overlap
		// Overlap starts on a word boundary so no window opens mid-word.
		for next > 0 && next < len(runes) && !unicode.IsSpace(runes[next-1]) {
			next++
		}
		if next <= start {
			next = cut
		}
		start = next
	}

	// Drop empty windows produced by whitespace-only regions.
	out := windows[:0]
	for _, w := range windows {
		if w != "" {
			out = append(out, w)
		}
	}
	if len(out) == 0 {
		return []string{strings.TrimSpace(body)}
	}
	return out
}

// findBoundary walks back from end looking for a paragraph break, then a
// sentence end, then a word break. Falls back to the hard cut only when the
// window contains a single giant token.
func findBoundary(runes []rune, start, end int) int {
	// Search window: last 20% of the chunk.
	limit := end - (end-start)/5
	if limit <= start {
		limit = start + 1
	}

	for i := end; i > limit; i-- {
		if runes[i-1] == '\n' && i >= 2 && runes[i-2] == '\n' {
			return i
		}
	}
	for i := end; i > limit; i-- {
		r := runes[i-1]
		if (r == '.' || r == '!' || r == '?') && (i == len(runes) || unicode.IsSpace(runes[i])) {
			return i
		}
	}
	for i := end; i > limit; i-- {
		if unicode.IsSpace(runes[i-1]) {
			return i
		}
	}
	// Never cut mid-word: extend forward to the next space instead.
	for i := end; i < len(runes); i++ {
		if unicode.IsSpace(runes[i]) {
			return i
		}
	}
	return len(runes)
}

// header picks the template or LLM strategy. LLM headers are cached by
// (document, ordinal); a failed LLM call degrades to the template.
func (c *Chunker) header(ctx context.Context, doc *types.Document, window string, ordinal, total int) (header string, usedLLM bool, err error) {
	if c.headers == nil {
		return templateHeader(doc, ordinal, total), false, nil
	}

	key := headerCacheKey(doc.ID, ordinal)
	c.mu.Lock()
	cached, ok := c.headerCache[key]
	c.mu.Unlock()
	if ok {
		return cached, true, nil
	}

	generated, genErr := c.headers.GenerateHeader(ctx, doc, window, ordinal, total)
	if genErr != nil {
		if ctx.Err() != nil {
			return "", false, genErr
		}
		return templateHeader(doc, ordinal, total), false, nil
	}

	c.mu.Lock()
	c.headerCache[key] = generated
	c.mu.Unlock()
	return generated, true, nil
}

// templateHeader is the deterministic header strategy.
func templateHeader(doc *types.Document, ordinal, total int) string {
	title := doc.Title
	if title == "" {
		title = doc.URI
	}
	if total == 1 {
		return fmt.Sprintf("This chunk is from %q.", title)
	}
	return fmt.Sprintf("This chunk is from %q (part %d of %d).", title, ordinal+1, total)
}

func headerCacheKey(documentID string, ordinal int) string {
	sum := sha1.Sum([]byte(fmt.Sprintf("%s#%d", documentID, ordinal)))
	return hex.EncodeToString(sum[:])
}
