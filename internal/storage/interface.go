// Package storage provides the multi-collection vector store contract and
// its pgvector and qdrant backends.
package storage

import (
	"context"
	"time"

	"sage/pkg/types"
)

// Filter narrows a search or delete to rows matching every set field.
// Multi-tenancy is exactly this: a per-user OwnerID filter on rows.
type Filter struct {
	DocumentID     string           `json:"document_id,omitempty"`
	OwnerID        string           `json:"owner_id,omitempty"`
	SourceKind     types.SourceKind `json:"source_kind,omitempty"`
	ConversationID string           `json:"conversation_id,omitempty"`
}

// Empty reports whether no field is set.
func (f Filter) Empty() bool {
	return f.DocumentID == "" && f.OwnerID == "" && f.SourceKind == "" && f.ConversationID == ""
}

// Map renders the filter for cache keying. Only set fields appear.
func (f Filter) Map() map[string]string {
	if f.Empty() {
		return nil
	}
	m := make(map[string]string, 4)
	if f.DocumentID != "" {
		m["document_id"] = f.DocumentID
	}
	if f.OwnerID != "" {
		m["owner_id"] = f.OwnerID
	}
	if f.SourceKind != "" {
		m["source_kind"] = string(f.SourceKind)
	}
	if f.ConversationID != "" {
		m["conversation_id"] = f.ConversationID
	}
	return m
}

// BatchResult reports the outcome of a batch upsert. Succeeded rows are
// durable even when others fail; the failing subset is itemized.
type BatchResult struct {
	Success      int          `json:"success"`
	Failed       int          `json:"failed"`
	Errors       []BatchError `json:"errors,omitempty"`
	ProcessedIDs []string     `json:"processed_ids,omitempty"`
	Duration     time.Duration `json:"duration"`
}

// BatchError identifies one failed row in a batch.
type BatchError struct {
	Index int    `json:"index"`
	ID    string `json:"id,omitempty"`
	Error string `json:"error"`
}

// VectorStore is the multi-collection persistent store of chunks. Every
// method is a suspension point honoring ctx cancellation and deadlines.
// Concurrent readers see either the pre-image or the post-image of a row,
// never a partial row.
type VectorStore interface {
	// Initialize connects and ensures every collection exists.
	Initialize(ctx context.Context, collections []types.Collection) error

	// Upsert writes chunks into the collection, generating embeddings for
	// chunks that lack one. Idempotent on chunk ID: re-ingesting updates
	// the row in place.
	Upsert(ctx context.Context, collection string, chunks []types.Chunk) (*BatchResult, error)

	// VectorSearch returns the k nearest chunks by cosine similarity.
	VectorSearch(ctx context.Context, collection string, queryEmbedding []float32, k int, filter Filter) ([]types.SearchResult, error)

	// KeywordSearch returns the k best full-text matches. When the keyword
	// index is unavailable it falls back to vector search, logging a single
	// warning per process.
	KeywordSearch(ctx context.Context, collection, queryText string, k int, filter Filter) ([]types.SearchResult, error)

	// HybridSearch fuses vector and keyword results with weighted RRF.
	HybridSearch(ctx context.Context, collection, queryText string, k int, vecWeight, kwWeight float64) ([]types.SearchResult, error)

	// Delete removes every chunk matching the filter and reports the count.
	Delete(ctx context.Context, collection string, filter Filter) (int, error)

	// HealthCheck verifies the backend is reachable.
	HealthCheck(ctx context.Context) error

	// Close releases backend connections.
	Close() error
}

// Invalidator receives write notifications so cached query results for a
// collection never outlive a mutation of it.
type Invalidator interface {
	InvalidateCollection(collection string) int
}

// nopInvalidator is used when no cache is wired.
type nopInvalidator struct{}

func (nopInvalidator) InvalidateCollection(string) int { return 0 }
