package graph

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"sage/internal/apperrors"
	"sage/internal/embeddings"
	"sage/internal/logging"
	"sage/pkg/types"
)

const (
	entityIndexName = "entity_name_embedding_index"
	factIndexName   = "relationship_fact_embedding_index"

	// substringScore is the flat score assigned by the fallback matcher,
	// which has no similarity basis.
	substringScore = 0.5

	maxNeighborDepth = 3
)

// Store maintains the knowledge graph. Entity-name uniqueness is enforced by
// the ingest merge step, not by schema.
type Store struct {
	runner   Runner
	embedder embeddings.Provider
	llm      TextCompleter
	logger   logging.Logger
	now      func() time.Time

	// fallbackOnce gates the single per-session warning when vector search
	// degrades to substring matching.
	fallbackOnce sync.Once
}

// New creates a graph store over the given cypher runner.
func New(runner Runner, embedder embeddings.Provider, llm TextCompleter, logger logging.Logger) *Store {
	return &Store{
		runner:   runner,
		embedder: embedder,
		llm:      llm,
		logger:   logger.WithComponent("graph"),
		now:      time.Now,
	}
}

// Initialize creates the uuid constraint and the two vector indices. Vector
// index creation is best-effort: servers without vector support still work
// through the substring fallback.
func (s *Store) Initialize(ctx context.Context) error {
	_, err := s.runner.Run(ctx,
		"CREATE CONSTRAINT entity_uuid_unique IF NOT EXISTS FOR (e:Entity) REQUIRE e.uuid IS UNIQUE", nil)
	if err != nil {
		return apperrors.Wrap(apperrors.KindStoreUnavailable, err, "create entity constraint")
	}

	vectorIndexes := []string{
		fmt.Sprintf("CREATE VECTOR INDEX %s IF NOT EXISTS FOR (e:Entity) ON (e.name_embedding) "+
			"OPTIONS {indexConfig: {`vector.dimensions`: %d, `vector.similarity_function`: 'cosine'}}",
			entityIndexName, types.EmbeddingDim),
		fmt.Sprintf("CREATE VECTOR INDEX %s IF NOT EXISTS FOR ()-[r:RELATES]-() ON (r.fact_embedding) "+
			"OPTIONS {indexConfig: {`vector.dimensions`: %d, `vector.similarity_function`: 'cosine'}}",
			factIndexName, types.EmbeddingDim),
	}
	for _, stmt := range vectorIndexes {
		if _, err := s.runner.Run(ctx, stmt, nil); err != nil {
			s.logger.Warn("vector index creation failed, substring fallback will serve searches", "error", err)
		}
	}
	return nil
}

// IngestEpisode extracts entities and relationships from the text, merges
// them into the graph keyed by normalized entity name, and attaches the
// episode uuid to every relationship it produced.
func (s *Store) IngestEpisode(ctx context.Context, episodeUUID, text string) error {
	if strings.TrimSpace(text) == "" {
		return apperrors.New(apperrors.KindInput, "episode text is empty")
	}

	ext, err := extractGraph(ctx, s.llm, text)
	if err != nil {
		return err
	}
	if len(ext.Entities) == 0 {
		s.logger.DebugContext(ctx, "episode produced no entities", "episode", episodeUUID)
		return nil
	}

	// One provider call covers names and facts.
	texts := make([]string, 0, len(ext.Entities)+len(ext.Relationships))
	for _, e := range ext.Entities {
		texts = append(texts, e.Name)
	}
	for _, r := range ext.Relationships {
		texts = append(texts, r.Fact)
	}
	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return err
	}
	nameVectors := vectors[:len(ext.Entities)]
	factVectors := vectors[len(ext.Entities):]

	now := s.now().UTC()
	for i, e := range ext.Entities {
		_, err := s.runner.Run(ctx, `
MERGE (e:Entity {normalized_name: $norm})
ON CREATE SET e.uuid = $uuid, e.created_at = $created_at
SET e.name = $name, e.type = $type,
    e.summary = CASE WHEN $summary <> '' THEN $summary ELSE coalesce(e.summary, '') END,
    e.name_embedding = $embedding`,
			map[string]any{
				"norm":       NormalizeName(e.Name),
				"uuid":       uuid.NewString(),
				"name":       e.Name,
				"type":       e.Type,
				"summary":    e.Summary,
				"embedding":  nameVectors[i],
				"created_at": now,
			})
		if err != nil {
			return apperrors.Wrap(apperrors.KindStoreUnavailable, err, "merge entity %s", e.Name)
		}
	}

	for i, r := range ext.Relationships {
		_, err := s.runner.Run(ctx, `
MATCH (a:Entity {normalized_name: $source}), (b:Entity {normalized_name: $target})
MERGE (a)-[r:RELATES {kind: $kind}]->(b)
ON CREATE SET r.uuid = $uuid, r.valid_from = $valid_from
SET r.fact = $fact, r.fact_embedding = $embedding,
    r.episodes = [ep IN coalesce(r.episodes, []) WHERE ep <> $episode] + $episode`,
			map[string]any{
				"source":     NormalizeName(r.Source),
				"target":     NormalizeName(r.Target),
				"kind":       r.Kind,
				"uuid":       uuid.NewString(),
				"fact":       r.Fact,
				"embedding":  factVectors[i],
				"episode":    episodeUUID,
				"valid_from": now,
			})
		if err != nil {
			return apperrors.Wrap(apperrors.KindStoreUnavailable, err, "merge relationship %s-%s", r.Source, r.Target)
		}
	}

	s.logger.InfoContext(ctx, "episode ingested",
		"episode", episodeUUID,
		"entities", len(ext.Entities),
		"relationships", len(ext.Relationships))
	return nil
}

// EntitySearch finds entities by name-embedding similarity, degrading to a
// case-insensitive substring match over name and summary when the vector
// index cannot serve the query.
func (s *Store) EntitySearch(ctx context.Context, query string, k int) ([]types.EntityHit, error) {
	vec, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}

	rows, err := s.runner.Run(ctx, `
CALL db.index.vector.queryNodes($index, $k, $embedding)
YIELD node, score
RETURN node.uuid AS uuid, node.name AS name, node.type AS type,
       node.summary AS summary, node.created_at AS created_at, score`,
		map[string]any{"index": entityIndexName, "k": k, "embedding": vec[0]})
	if err != nil {
		if !indexUnavailable(err) {
			return nil, apperrors.Wrap(apperrors.KindStoreUnavailable, err, "entity vector search")
		}
		s.warnFallback(err)
		rows, err = s.runner.Run(ctx, `
MATCH (e:Entity)
WHERE toLower(e.name) CONTAINS $needle
   OR toLower(coalesce(e.summary, '')) CONTAINS $needle
RETURN e.uuid AS uuid, e.name AS name, e.type AS type,
       e.summary AS summary, e.created_at AS created_at, $score AS score
LIMIT $k`,
			map[string]any{"needle": strings.ToLower(query), "k": k, "score": substringScore})
		if err != nil {
			return nil, apperrors.Wrap(apperrors.KindStoreUnavailable, err, "entity substring search")
		}
	}

	hits := make([]types.EntityHit, 0, len(rows))
	for _, row := range rows {
		hits = append(hits, types.EntityHit{
			Entity: types.Entity{
				UUID:      rowString(row, "uuid"),
				Name:      rowString(row, "name"),
				Type:      types.EntityType(rowString(row, "type")),
				Summary:   rowString(row, "summary"),
				CreatedAt: rowTime(row, "created_at"),
			},
			Score: rowFloat(row, "score"),
		})
	}
	return hits, nil
}

// FactSearch finds relationships by fact-embedding similarity, with the same
// fallback discipline as EntitySearch. Relationships without a fact embedding
// are only reachable through the fallback.
func (s *Store) FactSearch(ctx context.Context, query string, k int) ([]types.FactHit, error) {
	vec, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}

	rows, err := s.runner.Run(ctx, `
CALL db.index.vector.queryRelationships($index, $k, $embedding)
YIELD relationship AS r, score
RETURN r.uuid AS uuid, r.kind AS kind, r.fact AS fact, r.episodes AS episodes,
       r.valid_from AS valid_from,
       startNode(r).uuid AS source_uuid, endNode(r).uuid AS target_uuid, score`,
		map[string]any{"index": factIndexName, "k": k, "embedding": vec[0]})
	if err != nil {
		if !indexUnavailable(err) {
			return nil, apperrors.Wrap(apperrors.KindStoreUnavailable, err, "fact vector search")
		}
		s.warnFallback(err)
		rows, err = s.runner.Run(ctx, `
MATCH (a:Entity)-[r:RELATES]->(b:Entity)
WHERE toLower(coalesce(r.fact, '')) CONTAINS $needle
RETURN r.uuid AS uuid, r.kind AS kind, r.fact AS fact, r.episodes AS episodes,
       r.valid_from AS valid_from,
       a.uuid AS source_uuid, b.uuid AS target_uuid, $score AS score
LIMIT $k`,
			map[string]any{"needle": strings.ToLower(query), "k": k, "score": substringScore})
		if err != nil {
			return nil, apperrors.Wrap(apperrors.KindStoreUnavailable, err, "fact substring search")
		}
	}

	hits := make([]types.FactHit, 0, len(rows))
	for _, row := range rows {
		hits = append(hits, types.FactHit{
			Relationship: types.Relationship{
				UUID:       rowString(row, "uuid"),
				SourceUUID: rowString(row, "source_uuid"),
				TargetUUID: rowString(row, "target_uuid"),
				Kind:       rowString(row, "kind"),
				Fact:       rowString(row, "fact"),
				Episodes:   rowStringSlice(row, "episodes"),
				ValidFrom:  rowTime(row, "valid_from"),
			},
			Score: rowFloat(row, "score"),
		})
	}
	return hits, nil
}

// Neighbors returns the subgraph within depth hops of the entity. Depth is
// clamped to [1,3].
func (s *Store) Neighbors(ctx context.Context, entityUUID string, depth int) (*types.Subgraph, error) {
	if depth < 1 {
		depth = 1
	}
	if depth > maxNeighborDepth {
		depth = maxNeighborDepth
	}

	rootRows, err := s.runner.Run(ctx,
		"MATCH (e:Entity {uuid: $uuid}) RETURN e.uuid AS uuid", map[string]any{"uuid": entityUUID})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindStoreUnavailable, err, "resolve root entity")
	}
	if len(rootRows) == 0 {
		return nil, apperrors.NotFound("entity", entityUUID)
	}

	// Depth bounds cannot be parameterized in cypher; depth is clamped above.
	nodeRows, err := s.runner.Run(ctx, fmt.Sprintf(`
MATCH (s:Entity {uuid: $uuid})-[:RELATES*1..%d]-(n:Entity)
RETURN DISTINCT n.uuid AS uuid, n.name AS name, n.type AS type,
       n.summary AS summary, n.created_at AS created_at`, depth),
		map[string]any{"uuid": entityUUID})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindStoreUnavailable, err, "traverse neighbors")
	}

	relRows, err := s.runner.Run(ctx, fmt.Sprintf(`
MATCH (s:Entity {uuid: $uuid})-[rs:RELATES*1..%d]-(:Entity)
UNWIND rs AS r
RETURN DISTINCT r.uuid AS uuid, r.kind AS kind, r.fact AS fact,
       r.episodes AS episodes, r.valid_from AS valid_from,
       startNode(r).uuid AS source_uuid, endNode(r).uuid AS target_uuid`, depth),
		map[string]any{"uuid": entityUUID})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindStoreUnavailable, err, "collect neighbor relationships")
	}

	sub := &types.Subgraph{Root: entityUUID, Depth: depth}
	for _, row := range nodeRows {
		sub.Entities = append(sub.Entities, types.Entity{
			UUID:      rowString(row, "uuid"),
			Name:      rowString(row, "name"),
			Type:      types.EntityType(rowString(row, "type")),
			Summary:   rowString(row, "summary"),
			CreatedAt: rowTime(row, "created_at"),
		})
	}
	for _, row := range relRows {
		sub.Relationships = append(sub.Relationships, types.Relationship{
			UUID:       rowString(row, "uuid"),
			SourceUUID: rowString(row, "source_uuid"),
			TargetUUID: rowString(row, "target_uuid"),
			Kind:       rowString(row, "kind"),
			Fact:       rowString(row, "fact"),
			Episodes:   rowStringSlice(row, "episodes"),
			ValidFrom:  rowTime(row, "valid_from"),
		})
	}
	return sub, nil
}

// HealthCheck reports node/edge counts, embedding coverage and whether the
// vector indices exist.
func (s *Store) HealthCheck(ctx context.Context) (*types.GraphHealth, error) {
	rows, err := s.runner.Run(ctx, `
MATCH (e:Entity)
WITH count(e) AS entities,
     count(CASE WHEN e.name_embedding IS NOT NULL THEN 1 END) AS embedded
OPTIONAL MATCH ()-[r:RELATES]->()
RETURN entities, embedded, count(r) AS relationships`, nil)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindStoreUnavailable, err, "graph health query")
	}

	health := &types.GraphHealth{}
	if len(rows) > 0 {
		health.EntityCount = rowInt(rows[0], "entities")
		health.RelationshipCount = rowInt(rows[0], "relationships")
		if health.EntityCount > 0 {
			health.EmbeddingCoverage = float64(rowInt(rows[0], "embedded")) / float64(health.EntityCount)
		}
	}

	idxRows, err := s.runner.Run(ctx,
		"SHOW INDEXES YIELD name WHERE name IN [$a, $b] RETURN name",
		map[string]any{"a": entityIndexName, "b": factIndexName})
	if err == nil && len(idxRows) == 2 {
		health.VectorIndices.Present = true
	}
	return health, nil
}

// Close releases the underlying driver.
func (s *Store) Close(ctx context.Context) error {
	return s.runner.Close(ctx)
}

func (s *Store) warnFallback(err error) {
	s.fallbackOnce.Do(func() {
		s.logger.Warn("graph vector index unavailable, using substring matching", "error", err)
	})
}

// indexUnavailable classifies the errors that mean the vector index or its
// backing property cannot serve a query, as opposed to the store being down.
func indexUnavailable(err error) bool {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "no such index"),
		strings.Contains(msg, "index does not exist"),
		strings.Contains(msg, "there is no such vector schema index"),
		strings.Contains(msg, "unknown procedure"),
		strings.Contains(msg, "unknown function"),
		strings.Contains(msg, "property"):
		return true
	}
	return false
}

// Row decoding helpers. The driver returns native Go values; absent or
// null columns decode to zero values.

func rowString(row map[string]any, key string) string {
	if v, ok := row[key].(string); ok {
		return v
	}
	return ""
}

func rowFloat(row map[string]any, key string) float64 {
	switch v := row[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int64:
		return float64(v)
	case int:
		return float64(v)
	}
	return 0
}

func rowInt(row map[string]any, key string) int64 {
	switch v := row[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

func rowTime(row map[string]any, key string) time.Time {
	switch v := row[key].(type) {
	case time.Time:
		return v
	case string:
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t
		}
	}
	return time.Time{}
}

func rowStringSlice(row map[string]any, key string) []string {
	switch v := row[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
