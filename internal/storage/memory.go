package storage

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"sage/internal/apperrors"
	"sage/internal/embeddings"
	"sage/internal/rerank"
	"sage/pkg/types"
)

// MemoryStore is an in-memory VectorStore used by tests and by local runs
// without a database. Behavior mirrors the persistent backends: cosine
// similarity for vector search, term overlap for keyword search, weighted
// RRF for hybrid.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]types.Chunk
	embedder    embeddings.Provider
	invalidator Invalidator
	rrfK        int
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(embedder embeddings.Provider) *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]map[string]types.Chunk),
		embedder:    embedder,
		invalidator: nopInvalidator{},
		rrfK:        rerank.DefaultRRFK,
	}
}

// SetInvalidator wires a query cache into the write path.
func (s *MemoryStore) SetInvalidator(inv Invalidator) { s.invalidator = inv }

// Initialize registers the collections.
func (s *MemoryStore) Initialize(_ context.Context, collections []types.Collection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range collections {
		if _, ok := s.collections[c.Name]; !ok {
			s.collections[c.Name] = make(map[string]types.Chunk)
		}
	}
	return nil
}

// Upsert stores chunks keyed by ID, embedding any that lack a vector.
func (s *MemoryStore) Upsert(ctx context.Context, collection string, chunks []types.Chunk) (*BatchResult, error) {
	start := time.Now()
	result := &BatchResult{}

	var texts []string
	var missing []int
	for i := range chunks {
		if len(chunks[i].Embedding) == 0 {
			texts = append(texts, chunks[i].EmbeddableText())
			missing = append(missing, i)
		}
	}
	if len(missing) > 0 {
		vectors, err := s.embedder.Embed(ctx, texts)
		if err != nil {
			return nil, err
		}
		for j, idx := range missing {
			chunks[idx].Embedding = vectors[j]
		}
	}

	s.mu.Lock()
	bucket, ok := s.collections[collection]
	if !ok {
		bucket = make(map[string]types.Chunk)
		s.collections[collection] = bucket
	}
	for i := range chunks {
		c := chunks[i]
		if err := c.Validate(); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, BatchError{Index: i, ID: c.ID, Error: err.Error()})
			continue
		}
		bucket[c.ID] = c
		result.Success++
		result.ProcessedIDs = append(result.ProcessedIDs, c.ID)
	}
	s.mu.Unlock()

	result.Duration = time.Since(start)
	if result.Success > 0 {
		s.invalidator.InvalidateCollection(collection)
	}
	return result, nil
}

// VectorSearch ranks by cosine similarity.
func (s *MemoryStore) VectorSearch(ctx context.Context, collection string, queryEmbedding []float32, k int, filter Filter) ([]types.SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.KindTimeout, err, "vector search canceled")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []types.SearchResult
	for _, c := range s.collections[collection] {
		if !matches(&c, filter) {
			continue
		}
		out = append(out, types.SearchResult{
			ID:       c.ID,
			Score:    cosine(queryEmbedding, c.Embedding),
			Body:     c.Body,
			Metadata: c.Metadata,
		})
	}
	sortResults(out)
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// KeywordSearch ranks by the fraction of query terms present in the body.
func (s *MemoryStore) KeywordSearch(ctx context.Context, collection, queryText string, k int, filter Filter) ([]types.SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.KindTimeout, err, "keyword search canceled")
	}

	terms := strings.Fields(strings.ToLower(queryText))
	if len(terms) == 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []types.SearchResult
	for _, c := range s.collections[collection] {
		if !matches(&c, filter) {
			continue
		}
		body := strings.ToLower(c.Body)
		hits := 0
		for _, t := range terms {
			if strings.Contains(body, t) {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		out = append(out, types.SearchResult{
			ID:       c.ID,
			Score:    float64(hits) / float64(len(terms)),
			Body:     c.Body,
			Metadata: c.Metadata,
		})
	}
	sortResults(out)
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// HybridSearch embeds the query and fuses both rankings with weighted RRF.
func (s *MemoryStore) HybridSearch(ctx context.Context, collection, queryText string, k int, vecWeight, kwWeight float64) ([]types.SearchResult, error) {
	vec, err := s.embedder.Embed(ctx, []string{queryText})
	if err != nil {
		return nil, err
	}
	dense, err := s.VectorSearch(ctx, collection, vec[0], k, Filter{})
	if err != nil {
		return nil, err
	}
	sparse, err := s.KeywordSearch(ctx, collection, queryText, k, Filter{})
	if err != nil {
		return nil, err
	}
	fused := rerank.WeightedRRF([][]types.SearchResult{dense, sparse}, []float64{vecWeight, kwWeight}, s.rrfK)
	if len(fused) > k {
		fused = fused[:k]
	}
	return fused, nil
}

// Delete removes matching chunks and reports the count.
func (s *MemoryStore) Delete(_ context.Context, collection string, filter Filter) (int, error) {
	s.mu.Lock()
	bucket := s.collections[collection]
	removed := 0
	for id, c := range bucket {
		if matches(&c, filter) {
			delete(bucket, id)
			removed++
		}
	}
	s.mu.Unlock()

	if removed > 0 {
		s.invalidator.InvalidateCollection(collection)
	}
	return removed, nil
}

// HealthCheck always succeeds.
func (s *MemoryStore) HealthCheck(context.Context) error { return nil }

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

// Len reports the chunk count in a collection. Test helper.
func (s *MemoryStore) Len(collection string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.collections[collection])
}

func matches(c *types.Chunk, f Filter) bool {
	if f.DocumentID != "" && c.DocumentID != f.DocumentID {
		return false
	}
	if f.OwnerID != "" && c.Metadata.OwnerID != f.OwnerID {
		return false
	}
	if f.SourceKind != "" && c.Metadata.SourceKind != f.SourceKind {
		return false
	}
	if f.ConversationID != "" && c.Metadata.ConversationID != f.ConversationID {
		return false
	}
	return true
}

func sortResults(out []types.SearchResult) {
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		ti, tj := out[i].Metadata.IndexedAt, out[j].Metadata.IndexedAt
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return out[i].ID < out[j].ID
	})
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
