package storage

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"sage/internal/apperrors"
	"sage/internal/embeddings"
	"sage/internal/logging"
	"sage/internal/rerank"
	"sage/pkg/types"
)

// chunkIDNamespace derives stable point UUIDs from chunk IDs, which are not
// themselves UUID-shaped.
var chunkIDNamespace = uuid.MustParse("7a0f4e6e-9c1d-4d9b-8a44-3f1f6f1b2c90")

// QdrantStore is the alternate VectorStore backend. Qdrant has no server-side
// keyword index, so keyword search always takes the vector fallback path.
type QdrantStore struct {
	client      *qdrant.Client
	embedder    embeddings.Provider
	logger      logging.Logger
	invalidator Invalidator
	rrfK        int

	keywordFallbackOnce sync.Once
}

// QdrantOption configures a QdrantStore.
type QdrantOption func(*QdrantStore)

// WithQdrantInvalidator wires the query cache into the store's write path.
func WithQdrantInvalidator(inv Invalidator) QdrantOption {
	return func(s *QdrantStore) { s.invalidator = inv }
}

// WithQdrantRRFK overrides the hybrid fusion constant.
func WithQdrantRRFK(k int) QdrantOption {
	return func(s *QdrantStore) { s.rrfK = k }
}

// NewQdrantStore connects to Qdrant.
func NewQdrantStore(host string, port int, apiKey string, useTLS bool, embedder embeddings.Provider, logger logging.Logger, opts ...QdrantOption) (*QdrantStore, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: apiKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindStoreUnavailable, err, "create qdrant client")
	}
	s := &QdrantStore{
		client:      client,
		embedder:    embedder,
		logger:      logger.WithComponent("qdrant"),
		invalidator: nopInvalidator{},
		rrfK:        rerank.DefaultRRFK,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Initialize creates any missing collections with cosine distance.
func (s *QdrantStore) Initialize(ctx context.Context, collections []types.Collection) error {
	existing, err := s.client.ListCollections(ctx)
	if err != nil {
		return apperrors.Wrap(apperrors.KindStoreUnavailable, err, "list qdrant collections")
	}
	present := make(map[string]bool, len(existing))
	for _, name := range existing {
		present[name] = true
	}

	for _, c := range collections {
		if present[c.Name] {
			continue
		}
		err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: c.Name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(c.EmbeddingDim),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return apperrors.Wrap(apperrors.KindStoreUnavailable, err, "create collection %s", c.Name)
		}
		s.logger.Info("created qdrant collection", "collection", c.Name)
	}
	return nil
}

// Upsert writes chunks as points keyed by a UUID derived from the chunk ID,
// so re-ingesting a chunk overwrites it in place.
func (s *QdrantStore) Upsert(ctx context.Context, collection string, chunks []types.Chunk) (*BatchResult, error) {
	start := time.Now()
	result := &BatchResult{}

	if err := s.ensureEmbeddings(ctx, chunks); err != nil {
		return nil, err
	}

	for i := range chunks {
		c := &chunks[i]
		point, err := s.chunkToPoint(c)
		if err == nil {
			_, err = s.client.Upsert(ctx, &qdrant.UpsertPoints{
				CollectionName: collection,
				Points:         []*qdrant.PointStruct{point},
			})
			if err != nil {
				err = apperrors.Wrap(apperrors.KindStoreUnavailable, err, "upsert point")
			}
		}
		if err != nil {
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

func (s *QdrantStore) ensureEmbeddings(ctx context.Context, chunks []types.Chunk) error {
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

// VectorSearch runs cosine similarity search; qdrant scores are already
// similarities in [0,1].
func (s *QdrantStore) VectorSearch(ctx context.Context, collection string, queryEmbedding []float32, k int, filter Filter) ([]types.SearchResult, error) {
	if len(queryEmbedding) != types.EmbeddingDim {
		return nil, apperrors.New(apperrors.KindInput,
			"query embedding dimension mismatch: expected %d got %d", types.EmbeddingDim, len(queryEmbedding))
	}

	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(queryEmbedding...),
		Limit:          qdrant.PtrOf(uint64(k)),
		WithPayload:    qdrant.NewWithPayload(true),
		Filter:         buildQdrantFilter(filter),
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindStoreUnavailable, err, "qdrant query")
	}

	out := make([]types.SearchResult, 0, len(points))
	for _, p := range points {
		r, err := s.scoredPointToResult(p)
		if err != nil {
			s.logger.WarnContext(ctx, "skipping malformed point", "error", err)
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// KeywordSearch has no native index on this backend and always degrades to
// vector search over the embedded query, warning once per process.
func (s *QdrantStore) KeywordSearch(ctx context.Context, collection, queryText string, k int, filter Filter) ([]types.SearchResult, error) {
	s.keywordFallbackOnce.Do(func() {
		s.logger.Warn("keyword index unavailable, falling back to vector search", "backend", "qdrant")
	})
	vec, err := s.embedder.Embed(ctx, []string{queryText})
	if err != nil {
		return nil, err
	}
	return s.VectorSearch(ctx, collection, vec[0], k, filter)
}

// HybridSearch fuses the vector and keyword paths with weighted RRF. On this
// backend both paths are dense, so fusion mostly reorders by rank agreement.
func (s *QdrantStore) HybridSearch(ctx context.Context, collection, queryText string, k int, vecWeight, kwWeight float64) ([]types.SearchResult, error) {
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

// Delete removes every point matching the filter.
func (s *QdrantStore) Delete(ctx context.Context, collection string, filter Filter) (int, error) {
	qf := buildQdrantFilter(filter)

	count, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: collection,
		Filter:         qf,
	})
	if err != nil {
		return 0, apperrors.Wrap(apperrors.KindStoreUnavailable, err, "count points")
	}

	_, err = s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{Filter: orMatchAll(qf)},
		},
	})
	if err != nil {
		return 0, apperrors.Wrap(apperrors.KindStoreUnavailable, err, "delete points")
	}
	if count > 0 {
		s.invalidator.InvalidateCollection(collection)
	}
	return int(count), nil
}

// HealthCheck lists collections as a liveness probe.
func (s *QdrantStore) HealthCheck(ctx context.Context) error {
	if _, err := s.client.ListCollections(ctx); err != nil {
		return apperrors.Wrap(apperrors.KindStoreUnavailable, err, "qdrant health check")
	}
	return nil
}

// Close closes the grpc connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

func (s *QdrantStore) chunkToPoint(c *types.Chunk) (*qdrant.PointStruct, error) {
	if err := c.Validate(); err != nil {
		return nil, apperrors.Wrap(apperrors.KindInput, err, "invalid chunk")
	}
	if len(c.Embedding) != types.EmbeddingDim {
		return nil, apperrors.New(apperrors.KindInput,
			"embedding dimension mismatch: expected %d got %d", types.EmbeddingDim, len(c.Embedding))
	}

	meta, err := toPayload(c.Metadata)
	if err != nil {
		return nil, err
	}

	payload := map[string]*qdrant.Value{
		"chunk_id": stringValue(c.ID),
		"body":     stringValue(c.Body),
		"metadata": anyToValue(meta),
	}

	return &qdrant.PointStruct{
		Id: &qdrant.PointId{PointIdOptions: &qdrant.PointId_Uuid{
			Uuid: uuid.NewSHA1(chunkIDNamespace, []byte(c.ID)).String(),
		}},
		Vectors: &qdrant.Vectors{VectorsOptions: &qdrant.Vectors_Vector{
			Vector: &qdrant.Vector{Data: c.Embedding},
		}},
		Payload: payload,
	}, nil
}

func (s *QdrantStore) scoredPointToResult(p *qdrant.ScoredPoint) (types.SearchResult, error) {
	payload := p.GetPayload()

	r := types.SearchResult{
		ID:    payload["chunk_id"].GetStringValue(),
		Body:  payload["body"].GetStringValue(),
		Score: float64(p.GetScore()),
	}
	if r.ID == "" {
		return r, apperrors.New(apperrors.KindSchema, "point missing chunk_id payload")
	}

	metaMap := valueToAny(payload["metadata"])
	if m, ok := metaMap.(map[string]any); ok {
		md, err := fromPayload(m)
		if err != nil {
			return r, err
		}
		r.Metadata = md
	}
	return r, nil
}

// buildQdrantFilter renders the filter as payload match conditions. An empty
// filter returns nil, which qdrant treats as match-all.
func buildQdrantFilter(f Filter) *qdrant.Filter {
	var conditions []*qdrant.Condition
	add := func(key, value string) {
		conditions = append(conditions, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key:   key,
					Match: &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: value}},
				},
			},
		})
	}
	if f.DocumentID != "" {
		add("metadata.document_id", f.DocumentID)
	}
	if f.OwnerID != "" {
		add("metadata.owner_id", f.OwnerID)
	}
	if f.SourceKind != "" {
		add("metadata.source_kind", string(f.SourceKind))
	}
	if f.ConversationID != "" {
		add("metadata.conversation_id", f.ConversationID)
	}
	if len(conditions) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: conditions}
}

// orMatchAll substitutes an empty filter for a nil one; the delete selector
// requires a non-nil filter.
func orMatchAll(f *qdrant.Filter) *qdrant.Filter {
	if f == nil {
		return &qdrant.Filter{}
	}
	return f
}

func stringValue(s string) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: s}}
}

// anyToValue converts a JSON-shaped Go value into a qdrant payload value.
func anyToValue(v any) *qdrant.Value {
	switch t := v.(type) {
	case nil:
		return &qdrant.Value{Kind: &qdrant.Value_NullValue{}}
	case string:
		return stringValue(t)
	case bool:
		return &qdrant.Value{Kind: &qdrant.Value_BoolValue{BoolValue: t}}
	case float64:
		return &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: t}}
	case []any:
		values := make([]*qdrant.Value, len(t))
		for i, item := range t {
			values[i] = anyToValue(item)
		}
		return &qdrant.Value{Kind: &qdrant.Value_ListValue{ListValue: &qdrant.ListValue{Values: values}}}
	case map[string]any:
		fields := make(map[string]*qdrant.Value, len(t))
		for k, item := range t {
			fields[k] = anyToValue(item)
		}
		return &qdrant.Value{Kind: &qdrant.Value_StructValue{StructValue: &qdrant.Struct{Fields: fields}}}
	default:
		return &qdrant.Value{Kind: &qdrant.Value_NullValue{}}
	}
}

// valueToAny is the inverse of anyToValue.
func valueToAny(v *qdrant.Value) any {
	if v == nil {
		return nil
	}
	switch k := v.Kind.(type) {
	case *qdrant.Value_StringValue:
		return k.StringValue
	case *qdrant.Value_BoolValue:
		return k.BoolValue
	case *qdrant.Value_DoubleValue:
		return k.DoubleValue
	case *qdrant.Value_IntegerValue:
		return float64(k.IntegerValue)
	case *qdrant.Value_ListValue:
		items := make([]any, len(k.ListValue.GetValues()))
		for i, item := range k.ListValue.GetValues() {
			items[i] = valueToAny(item)
		}
		return items
	case *qdrant.Value_StructValue:
		m := make(map[string]any, len(k.StructValue.GetFields()))
		for key, item := range k.StructValue.GetFields() {
			m[key] = valueToAny(item)
		}
		return m
	default:
		return nil
	}
}
