package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"sage/internal/apperrors"
	"sage/internal/embeddings"
	"sage/internal/logging"
	"sage/internal/rerank"
	"sage/pkg/types"
)

// PgVectorStore persists chunks in Postgres with pgvector for similarity
// search and a tsvector column for keyword search.
type PgVectorStore struct {
	pool        *pgxpool.Pool
	embedder    embeddings.Provider
	logger      logging.Logger
	invalidator Invalidator
	rrfK        int

	// keywordFallbackOnce gates the single warning emitted when keyword
	// search degrades to vector search.
	keywordFallbackOnce sync.Once
}

// NewPgVectorStore connects to Postgres and prepares the store. Schema is
// created lazily in Initialize.
func NewPgVectorStore(ctx context.Context, dsn string, embedder embeddings.Provider, logger logging.Logger, opts ...PgOption) (*PgVectorStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInput, err, "parse postgres URL")
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindStoreUnavailable, err, "connect postgres")
	}

	s := &PgVectorStore{
		pool:        pool,
		embedder:    embedder,
		logger:      logger.WithComponent("pgvector"),
		invalidator: nopInvalidator{},
		rrfK:        rerank.DefaultRRFK,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// PgOption configures a PgVectorStore.
type PgOption func(*PgVectorStore)

// WithInvalidator wires the query cache so writes invalidate cached results.
func WithInvalidator(inv Invalidator) PgOption {
	return func(s *PgVectorStore) { s.invalidator = inv }
}

// WithRRFK overrides the hybrid fusion constant.
func WithRRFK(k int) PgOption {
	return func(s *PgVectorStore) { s.rrfK = k }
}

// Initialize creates the chunk table and its indices. Idempotent.
func (s *PgVectorStore) Initialize(ctx context.Context, collections []types.Collection) error {
	schema := fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS chunks (
	id TEXT PRIMARY KEY,
	collection TEXT NOT NULL,
	document_id TEXT NOT NULL,
	body TEXT NOT NULL,
	context_header TEXT NOT NULL DEFAULT '',
	metadata JSONB NOT NULL DEFAULT '{}',
	embedding vector(%d) NOT NULL,
	tsv tsvector GENERATED ALWAYS AS (to_tsvector('english', body)) STORED,
	indexed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS chunks_collection_idx ON chunks (collection);
CREATE INDEX IF NOT EXISTS chunks_document_idx ON chunks (collection, document_id);
CREATE INDEX IF NOT EXISTS chunks_tsv_idx ON chunks USING gin (tsv);

DO $$
BEGIN
	IF NOT EXISTS (
		SELECT 1 FROM pg_indexes
		WHERE schemaname = current_schema() AND indexname = 'chunks_embedding_idx'
	) THEN
		EXECUTE 'CREATE INDEX chunks_embedding_idx ON chunks USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100);';
	END IF;
END
$$;
`, types.EmbeddingDim)

	_, err := s.pool.Exec(ctx, schema)
	if err != nil && strings.Contains(err.Error(), "ivfflat") {
		// The approximate index needs enough rows to build; exact scans
		// still work without it.
		err = nil
	}
	if err != nil {
		return apperrors.Wrap(apperrors.KindSchema, err, "ensure chunk schema")
	}

	for _, c := range collections {
		if c.EmbeddingDim != types.EmbeddingDim {
			return apperrors.New(apperrors.KindSchema,
				"collection %s declares dim %d, store is fixed at %d", c.Name, c.EmbeddingDim, types.EmbeddingDim)
		}
	}
	return nil
}

// Upsert writes chunks keyed by chunk ID. Each row commits independently so
// one bad chunk never poisons the batch.
func (s *PgVectorStore) Upsert(ctx context.Context, collection string, chunks []types.Chunk) (*BatchResult, error) {
	start := time.Now()
	result := &BatchResult{}

	if err := s.ensureEmbeddings(ctx, chunks); err != nil {
		return nil, err
	}

	for i := range chunks {
		c := &chunks[i]
		if err := s.upsertOne(ctx, collection, c); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, BatchError{Index: i, ID: c.ID, Error: err.Error()})
			s.logger.WarnContext(ctx, "chunk upsert failed", "chunk_id", c.ID, "error", err)
			continue
		}
		result.Success++
		result.ProcessedIDs = append(result.ProcessedIDs, c.ID)
	}

	result.Duration = time.Since(start)
	if result.Success > 0 {
		s.invalidator.InvalidateCollection(collection)
	}
	return result, nil
}

// ensureEmbeddings fills in missing embeddings with one batched provider call.
func (s *PgVectorStore) ensureEmbeddings(ctx context.Context, chunks []types.Chunk) error {
	var texts []string
	var missing []int
	for i := range chunks {
		if len(chunks[i].Embedding) == 0 {
			texts = append(texts, chunks[i].EmbeddableText())
			missing = append(missing, i)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return err
	}
	for j, idx := range missing {
		chunks[idx].Embedding = vectors[j]
	}
	return nil
}

func (s *PgVectorStore) upsertOne(ctx context.Context, collection string, c *types.Chunk) error {
	if err := c.Validate(); err != nil {
		return apperrors.Wrap(apperrors.KindInput, err, "invalid chunk")
	}
	if len(c.Embedding) != types.EmbeddingDim {
		return apperrors.New(apperrors.KindInput,
			"embedding dimension mismatch: expected %d got %d", types.EmbeddingDim, len(c.Embedding))
	}

	payload, err := toPayload(c.Metadata)
	if err != nil {
		return err
	}
	meta, err := json.Marshal(payload)
	if err != nil {
		return apperrors.Wrap(apperrors.KindInternal, err, "encode metadata")
	}

	indexedAt := c.Metadata.IndexedAt
	if indexedAt.IsZero() {
		indexedAt = time.Now().UTC()
	}

	_, err = s.pool.Exec(ctx, `
INSERT INTO chunks (id, collection, document_id, body, context_header, metadata, embedding, indexed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (id) DO UPDATE SET
	collection = EXCLUDED.collection,
	document_id = EXCLUDED.document_id,
	body = EXCLUDED.body,
	context_header = EXCLUDED.context_header,
	metadata = EXCLUDED.metadata,
	embedding = EXCLUDED.embedding,
	indexed_at = EXCLUDED.indexed_at`,
		c.ID, collection, c.DocumentID, c.Body, c.ContextHeader, meta,
		pgvector.NewVector(c.Embedding), indexedAt)
	if err != nil {
		return apperrors.Wrap(apperrors.KindStoreUnavailable, err, "upsert chunk")
	}
	return nil
}

// VectorSearch returns the k nearest chunks by cosine similarity, scored as
// 1 - distance so higher is better.
func (s *PgVectorStore) VectorSearch(ctx context.Context, collection string, queryEmbedding []float32, k int, filter Filter) ([]types.SearchResult, error) {
	if len(queryEmbedding) != types.EmbeddingDim {
		return nil, apperrors.New(apperrors.KindInput,
			"query embedding dimension mismatch: expected %d got %d", types.EmbeddingDim, len(queryEmbedding))
	}

	where, args := filterClauses(collection, filter, 2)
	args = append([]any{pgvector.NewVector(queryEmbedding)}, args...)
	args = append(args, k)

	query := fmt.Sprintf(`
SELECT id, body, metadata, 1 - (embedding <=> $1) AS score
FROM chunks
WHERE %s
ORDER BY embedding <=> $1
LIMIT $%d`, where, len(args))

	return s.runSearch(ctx, query, args)
}

// KeywordSearch ranks chunks by full-text match. When the text index cannot
// serve the query it degrades to vector search over the embedded query text,
// warning once per process.
func (s *PgVectorStore) KeywordSearch(ctx context.Context, collection, queryText string, k int, filter Filter) ([]types.SearchResult, error) {
	where, args := filterClauses(collection, filter, 2)
	args = append([]any{queryText}, args...)
	args = append(args, k)

	query := fmt.Sprintf(`
SELECT id, body, metadata, ts_rank_cd(tsv, plainto_tsquery('english', $1)) AS score
FROM chunks
WHERE tsv @@ plainto_tsquery('english', $1) AND %s
ORDER BY score DESC
LIMIT $%d`, where, len(args))

	results, err := s.runSearch(ctx, query, args)
	if err == nil {
		return results, nil
	}
	if !isMissingTextIndex(err) {
		return nil, err
	}

	s.keywordFallbackOnce.Do(func() {
		s.logger.Warn("keyword index unavailable, falling back to vector search", "error", err)
	})
	vec, embErr := s.embedder.Embed(ctx, []string{queryText})
	if embErr != nil {
		return nil, embErr
	}
	return s.VectorSearch(ctx, collection, vec[0], k, filter)
}

// HybridSearch embeds the query once, runs both searches and fuses them with
// weighted RRF.
func (s *PgVectorStore) HybridSearch(ctx context.Context, collection, queryText string, k int, vecWeight, kwWeight float64) ([]types.SearchResult, error) {
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

// Delete removes every matching chunk and invalidates the collection's
// cached queries.
func (s *PgVectorStore) Delete(ctx context.Context, collection string, filter Filter) (int, error) {
	where, args := filterClauses(collection, filter, 1)
	tag, err := s.pool.Exec(ctx, "DELETE FROM chunks WHERE "+where, args...)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.KindStoreUnavailable, err, "delete chunks")
	}
	n := int(tag.RowsAffected())
	if n > 0 {
		s.invalidator.InvalidateCollection(collection)
	}
	return n, nil
}

// HealthCheck pings the database.
func (s *PgVectorStore) HealthCheck(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return apperrors.Wrap(apperrors.KindStoreUnavailable, err, "postgres ping")
	}
	return nil
}

// Close releases the connection pool.
func (s *PgVectorStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PgVectorStore) runSearch(ctx context.Context, query string, args []any) ([]types.SearchResult, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindStoreUnavailable, err, "search chunks")
	}
	defer rows.Close()

	var out []types.SearchResult
	for rows.Next() {
		var (
			r    types.SearchResult
			meta []byte
		)
		if err := rows.Scan(&r.ID, &r.Body, &meta, &r.Score); err != nil {
			return nil, apperrors.Wrap(apperrors.KindInternal, err, "scan search row")
		}
		var payload map[string]any
		if err := json.Unmarshal(meta, &payload); err != nil {
			return nil, apperrors.Wrap(apperrors.KindSchema, err, "decode stored metadata")
		}
		if r.Metadata, err = fromPayload(payload); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.KindStoreUnavailable, err, "iterate search rows")
	}
	return out, nil
}

// filterClauses renders the WHERE conditions for a collection plus filter,
// with placeholders starting at argStart.
func filterClauses(collection string, filter Filter, argStart int) (string, []any) {
	clauses := []string{fmt.Sprintf("collection = $%d", argStart)}
	args := []any{collection}
	next := argStart + 1

	add := func(expr, value string) {
		clauses = append(clauses, fmt.Sprintf(expr, next))
		args = append(args, value)
		next++
	}
	if filter.DocumentID != "" {
		add("document_id = $%d", filter.DocumentID)
	}
	if filter.OwnerID != "" {
		add("metadata->>'owner_id' = $%d", filter.OwnerID)
	}
	if filter.SourceKind != "" {
		add("metadata->>'source_kind' = $%d", string(filter.SourceKind))
	}
	if filter.ConversationID != "" {
		add("metadata->>'conversation_id' = $%d", filter.ConversationID)
	}
	return strings.Join(clauses, " AND "), args
}

// isMissingTextIndex detects the errors produced when the tsvector column or
// its index is absent (older schema, restored dump).
func isMissingTextIndex(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "tsv") &&
		(strings.Contains(msg, "does not exist") || strings.Contains(msg, "undefined"))
}
