// Package types contains the shared domain records used across sage:
// documents, chunks, collections, tasks, meetings, graph entities and
// brainstorm reports.
package types

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// EmbeddingDim is the dimensionality of all stored embeddings.
const EmbeddingDim = 1536

// SourceKind identifies where a document originated.
type SourceKind string

const (
	SourceWebsite      SourceKind = "website"
	SourceConversation SourceKind = "conversation"
	SourceKnowledge    SourceKind = "knowledge"
	SourceMeetingNote  SourceKind = "meeting_note"
)

// Valid reports whether the source kind is one of the recognized values.
func (s SourceKind) Valid() bool {
	switch s {
	case SourceWebsite, SourceConversation, SourceKnowledge, SourceMeetingNote:
		return true
	}
	return false
}

// Collection groups chunks under fixed chunking parameters. Chunk size and
// overlap are fixed at creation and never change for the life of the
// collection.
type Collection struct {
	Name         string `json:"name"`
	ChunkSize    int    `json:"chunk_size"`
	ChunkOverlap int    `json:"chunk_overlap"`
	EmbeddingDim int    `json:"embedding_dim"`
}

// Recognized collection names.
const (
	CollectionWebsites      = "websites"
	CollectionConversations = "conversations"
	CollectionKnowledge     = "knowledge"
)

// DefaultCollections returns the built-in collections with their chunking
// parameters.
func DefaultCollections() []Collection {
	return []Collection{
		{Name: CollectionWebsites, ChunkSize: 1500, ChunkOverlap: 200, EmbeddingDim: EmbeddingDim},
		{Name: CollectionConversations, ChunkSize: 500, ChunkOverlap: 50, EmbeddingDim: EmbeddingDim},
		{Name: CollectionKnowledge, ChunkSize: 1000, ChunkOverlap: 100, EmbeddingDim: EmbeddingDim},
	}
}

// CollectionByName looks up a built-in collection.
func CollectionByName(name string) (Collection, bool) {
	for _, c := range DefaultCollections() {
		if c.Name == name {
			return c, true
		}
	}
	return Collection{}, false
}

// Document is an ingested source text. Documents are immutable once committed;
// deleting one cascades to all of its chunks.
type Document struct {
	ID         string     `json:"id"`
	SourceKind SourceKind `json:"source_kind"`
	URI        string     `json:"uri"`
	Title      string     `json:"title"`
	Body       string     `json:"body"`
	ModifiedAt time.Time  `json:"modified_at"`
	OwnerID    string     `json:"owner_id,omitempty"`
}

// Hash returns the stable content hash used in chunk IDs.
func (d *Document) Hash() string {
	sum := sha256.Sum256([]byte(d.URI + "\x00" + d.Body))
	return hex.EncodeToString(sum[:8])
}

// ChunkMetadata carries the interpreted metadata keys of a chunk. Freeform
// maps exist only in persistence payloads; this record is the boundary type.
type ChunkMetadata struct {
	SourceKind     SourceKind `json:"source_kind" mapstructure:"source_kind"`
	DocumentID     string     `json:"document_id" mapstructure:"document_id"`
	Ordinal        int        `json:"ordinal" mapstructure:"ordinal"`
	Total          int        `json:"total" mapstructure:"total"`
	HasContext     bool       `json:"has_context" mapstructure:"has_context"`
	OwnerID        string     `json:"owner_id,omitempty" mapstructure:"owner_id,omitempty"`
	IndexedAt      time.Time  `json:"indexed_at" mapstructure:"indexed_at"`
	URL            string     `json:"url,omitempty" mapstructure:"url,omitempty"`
	FilePath       string     `json:"file_path,omitempty" mapstructure:"file_path,omitempty"`
	ConversationID string     `json:"conversation_id,omitempty" mapstructure:"conversation_id,omitempty"`
	Title          string     `json:"title,omitempty" mapstructure:"title,omitempty"`
	Tags           []string   `json:"tags,omitempty" mapstructure:"tags,omitempty"`
	Verified       bool       `json:"verified,omitempty" mapstructure:"verified,omitempty"`
}

// Chunk is the atomic unit of retrieval: a window of a document plus a
// context header. The stored Body is the raw window; the embeddable text is
// ContextHeader + "\n\n" + Body.
type Chunk struct {
	ID            string        `json:"id"`
	DocumentID    string        `json:"document_id"`
	Ordinal       int           `json:"ordinal"`
	Total         int           `json:"total"`
	Body          string        `json:"body"`
	ContextHeader string        `json:"context_header"`
	HasContext    bool          `json:"has_context"`
	Embedding     []float32     `json:"embedding,omitempty"`
	Metadata      ChunkMetadata `json:"metadata"`
}

// ChunkID builds the canonical chunk identifier. The source-kind prefix keeps
// re-ingested conversation chunks from colliding with file chunks.
func ChunkID(kind SourceKind, documentHash string, ordinal int) string {
	return fmt.Sprintf("%s::%s::chunk_%d", kind, documentHash, ordinal)
}

// EmbeddableText returns the text handed to the embedding provider.
func (c *Chunk) EmbeddableText() string {
	if c.ContextHeader == "" {
		return c.Body
	}
	return c.ContextHeader + "\n\n" + c.Body
}

// Validate checks the chunk invariants.
func (c *Chunk) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("chunk ID is required")
	}
	if c.Body == "" {
		return fmt.Errorf("chunk body is required")
	}
	if c.Total <= 0 {
		return fmt.Errorf("chunk total must be positive, got %d", c.Total)
	}
	if c.Ordinal < 0 || c.Ordinal >= c.Total {
		return fmt.Errorf("chunk ordinal %d out of range [0,%d)", c.Ordinal, c.Total)
	}
	if !c.Metadata.SourceKind.Valid() {
		return fmt.Errorf("unknown source kind %q", c.Metadata.SourceKind)
	}
	return nil
}

// SearchResult is one scored hit from a vector, keyword or hybrid search.
type SearchResult struct {
	ID       string        `json:"id"`
	Score    float64       `json:"score"`
	Body     string        `json:"body"`
	Metadata ChunkMetadata `json:"metadata"`
}

// SearchResults is an ordered result list plus bookkeeping.
type SearchResults struct {
	Results    []SearchResult `json:"results"`
	Collection string         `json:"collection,omitempty"`
	QueryTime  time.Duration  `json:"query_time"`
	FromCache  bool           `json:"from_cache"`
}
