package chunking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sage/pkg/types"
)

func knowledgeCollection() types.Collection {
	c, _ := types.CollectionByName(types.CollectionKnowledge)
	return c
}

func testDocument(body string) *types.Document {
	return &types.Document{
		ID:         "doc-1",
		SourceKind: types.SourceKnowledge,
		URI:        "notes/design.md",
		Title:      "Design Notes",
		Body:       body,
	}
}

func TestChunkShortBodyYieldsSingleChunk(t *testing.T) {
	chunker := NewChunker(knowledgeCollection())

	chunks, err := chunker.Chunk(context.Background(), testDocument("a short note"))
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	assert.Equal(t, 0, chunks[0].Ordinal)
	assert.Equal(t, 1, chunks[0].Total)
	assert.Equal(t, "a short note", chunks[0].Body)
	assert.False(t, chunks[0].HasContext)
}

func TestChunkBodyEqualToChunkSizeYieldsSingleChunk(t *testing.T) {
	col := knowledgeCollection()
	body := strings.Repeat("a", col.ChunkSize)
	chunker := NewChunker(col)

	chunks, err := chunker.Chunk(context.Background(), testDocument(body))
	require.NoError(t, err)
	assert.Len(t, chunks, 1)
}

func TestChunkInvariants(t *testing.T) {
	col := knowledgeCollection()
	var sb strings.Builder
	for i := 0; i < 80; i++ {
		fmt.Fprintf(&sb, "Paragraph %d has a few sentences. It keeps going for a while. Then it stops.\n\n", i)
	}
	chunker := NewChunker(col)

	chunks, err := chunker.Chunk(context.Background(), testDocument(sb.String()))
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	for _, c := range chunks {
		assert.GreaterOrEqual(t, c.Ordinal, 0)
		assert.Less(t, c.Ordinal, c.Total)
		assert.True(t, strings.HasPrefix(c.ID, string(types.SourceKnowledge)+"::"),
			"chunk id %q must begin with its source kind", c.ID)
		assert.LessOrEqual(t, len(c.Body), col.ChunkSize+200, "window should respect the configured size")
		// Boundaries must not cut words in half.
		assert.False(t, strings.HasSuffix(c.Body, " "), "windows are trimmed")
	}
}

func TestChunkNeverSplitsMidWord(t *testing.T) {
	col := types.Collection{Name: "tiny", ChunkSize: 40, ChunkOverlap: 5, EmbeddingDim: types.EmbeddingDim}
	body := "alpha bravo charlie delta echo foxtrot golf hotel india juliett kilo lima mike november"
	chunker := NewChunker(col)

	chunks, err := chunker.Chunk(context.Background(), testDocument(body))
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	words := map[string]bool{}
	for _, w := range strings.Fields(body) {
		words[w] = true
	}
	for _, c := range chunks {
		for _, w := range strings.Fields(c.Body) {
			assert.True(t, words[w], "word %q was split across a boundary", w)
		}
	}
}

func TestChunkSerializationRoundTrip(t *testing.T) {
	chunker := NewChunker(knowledgeCollection())
	chunks, err := chunker.Chunk(context.Background(), testDocument("roundtrip body"))
	require.NoError(t, err)

	data, err := json.Marshal(chunks[0])
	require.NoError(t, err)

	var decoded types.Chunk
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, chunks[0].Ordinal, decoded.Ordinal)
	assert.Equal(t, chunks[0].Total, decoded.Total)
	assert.Equal(t, chunks[0].Body, decoded.Body)
	assert.Equal(t, chunks[0].Metadata, decoded.Metadata)
}

type stubHeaderGen struct {
	calls int
	err   error
}

func (s *stubHeaderGen) GenerateHeader(_ context.Context, doc *types.Document, _ string, ordinal, total int) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return fmt.Sprintf("Situates part %d/%d of %s.", ordinal+1, total, doc.Title), nil
}

func TestLLMHeadersAreCachedPerOrdinal(t *testing.T) {
	gen := &stubHeaderGen{}
	chunker := NewChunkerWithLLMHeaders(knowledgeCollection(), gen)
	doc := testDocument("cached header body")

	first, err := chunker.Chunk(context.Background(), doc)
	require.NoError(t, err)
	assert.True(t, first[0].HasContext)
	assert.Equal(t, 1, gen.calls)

	second, err := chunker.Chunk(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, first[0].ContextHeader, second[0].ContextHeader)
	assert.Equal(t, 1, gen.calls, "header must come from the cache on re-chunk")
}

func TestLLMHeaderFailureFallsBackToTemplate(t *testing.T) {
	gen := &stubHeaderGen{err: errors.New("model offline")}
	chunker := NewChunkerWithLLMHeaders(knowledgeCollection(), gen)

	chunks, err := chunker.Chunk(context.Background(), testDocument("fallback body"))
	require.NoError(t, err)
	assert.False(t, chunks[0].HasContext)
	assert.Contains(t, chunks[0].ContextHeader, "Design Notes")
}

func TestEmbeddableTextPrependsHeader(t *testing.T) {
	chunker := NewChunker(knowledgeCollection())
	chunks, err := chunker.Chunk(context.Background(), testDocument("body text"))
	require.NoError(t, err)

	text := chunks[0].EmbeddableText()
	assert.True(t, strings.HasPrefix(text, chunks[0].ContextHeader))
	assert.True(t, strings.HasSuffix(text, "body text"))
	assert.Contains(t, text, "\n\n")
}
