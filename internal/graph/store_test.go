package graph

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sage/internal/apperrors"
	"sage/internal/embeddings"
	"sage/internal/logging"
)

// fakeRunner records executed statements and answers them from a script.
type fakeRunner struct {
	calls []call
	// respond decides the result for each statement.
	respond func(cypher string, params map[string]any) ([]map[string]any, error)
}

type call struct {
	cypher string
	params map[string]any
}

func (f *fakeRunner) Run(_ context.Context, cypher string, params map[string]any) ([]map[string]any, error) {
	f.calls = append(f.calls, call{cypher: cypher, params: params})
	if f.respond == nil {
		return nil, nil
	}
	return f.respond(cypher, params)
}

func (f *fakeRunner) Close(context.Context) error { return nil }

type fixedCompleter struct {
	response string
	err      error
	calls    int
}

func (c *fixedCompleter) Complete(context.Context, string, string) (string, error) {
	c.calls++
	return c.response, c.err
}

const extractionResponse = `{
  "entities": [
    {"name": "Grace Hopper", "type": "Person", "summary": "Navy rear admiral and computer scientist"},
    {"name": "COBOL", "type": "Technology", "summary": "Business programming language"}
  ],
  "relationships": [
    {"source": "Grace Hopper", "target": "COBOL", "kind": "INFLUENCED", "fact": "Grace Hopper's FLOW-MATIC shaped COBOL."}
  ]
}`

func TestIngestEpisodeMergesOnNormalizedName(t *testing.T) {
	runner := &fakeRunner{}
	store := New(runner, embeddings.NewMockProvider(), &fixedCompleter{response: extractionResponse}, logging.Nop())

	err := store.IngestEpisode(context.Background(), "ep-1", "Some meeting transcript about COBOL.")
	require.NoError(t, err)

	// Two entity merges plus one relationship merge.
	require.Len(t, runner.calls, 3)

	assert.Contains(t, runner.calls[0].cypher, "MERGE (e:Entity {normalized_name: $norm})")
	assert.Equal(t, "grace hopper", runner.calls[0].params["norm"])
	assert.Equal(t, "Grace Hopper", runner.calls[0].params["name"])
	assert.NotEmpty(t, runner.calls[0].params["embedding"])

	rel := runner.calls[2]
	assert.Contains(t, rel.cypher, "MERGE (a)-[r:RELATES {kind: $kind}]->(b)")
	assert.Equal(t, "grace hopper", rel.params["source"])
	assert.Equal(t, "cobol", rel.params["target"])
	assert.Equal(t, "ep-1", rel.params["episode"])
}

func TestIngestEpisodeToleratesFencedJSON(t *testing.T) {
	runner := &fakeRunner{}
	fenced := "```json\n" + extractionResponse + "\n```"
	store := New(runner, embeddings.NewMockProvider(), &fixedCompleter{response: fenced}, logging.Nop())

	err := store.IngestEpisode(context.Background(), "ep-2", "transcript")
	require.NoError(t, err)
	assert.Len(t, runner.calls, 3)
}

func TestIngestEpisodeRejectsEmptyText(t *testing.T) {
	store := New(&fakeRunner{}, embeddings.NewMockProvider(), &fixedCompleter{}, logging.Nop())
	err := store.IngestEpisode(context.Background(), "ep-3", "   ")
	assert.True(t, apperrors.Is(err, apperrors.KindInput))
}

func TestEntitySearchFallsBackToSubstring(t *testing.T) {
	runner := &fakeRunner{
		respond: func(cypher string, params map[string]any) ([]map[string]any, error) {
			if strings.Contains(cypher, "db.index.vector.queryNodes") {
				return nil, errors.New("There is no such vector schema index: entity_name_embedding_index")
			}
			if strings.Contains(cypher, "CONTAINS $needle") {
				assert.Equal(t, "grace", params["needle"])
				return []map[string]any{{
					"uuid":       "e-1",
					"name":       "Grace Hopper",
					"type":       "Person",
					"summary":    "computer scientist",
					"created_at": time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
					"score":      substringScore,
				}}, nil
			}
			return nil, nil
		},
	}
	store := New(runner, embeddings.NewMockProvider(), &fixedCompleter{}, logging.Nop())

	hits, err := store.EntitySearch(context.Background(), "Grace", 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "Grace Hopper", hits[0].Entity.Name)
	assert.InDelta(t, substringScore, hits[0].Score, 1e-9)

	// A second search takes the fallback again without error.
	_, err = store.EntitySearch(context.Background(), "Grace", 5)
	require.NoError(t, err)
}

func TestEntitySearchSurfacesStoreErrors(t *testing.T) {
	runner := &fakeRunner{
		respond: func(string, map[string]any) ([]map[string]any, error) {
			return nil, errors.New("connection refused")
		},
	}
	store := New(runner, embeddings.NewMockProvider(), &fixedCompleter{}, logging.Nop())

	_, err := store.EntitySearch(context.Background(), "anything", 5)
	assert.True(t, apperrors.Is(err, apperrors.KindStoreUnavailable))
}

func TestFactSearchFallsBackToSubstring(t *testing.T) {
	runner := &fakeRunner{
		respond: func(cypher string, params map[string]any) ([]map[string]any, error) {
			if strings.Contains(cypher, "db.index.vector.queryRelationships") {
				return nil, errors.New("property fact_embedding does not exist")
			}
			return []map[string]any{{
				"uuid":        "r-1",
				"kind":        "INFLUENCED",
				"fact":        "Grace Hopper's FLOW-MATIC shaped COBOL.",
				"episodes":    []any{"ep-1"},
				"valid_from":  time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
				"source_uuid": "e-1",
				"target_uuid": "e-2",
				"score":       substringScore,
			}}, nil
		},
	}
	store := New(runner, embeddings.NewMockProvider(), &fixedCompleter{}, logging.Nop())

	hits, err := store.FactSearch(context.Background(), "COBOL", 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "e-1", hits[0].Relationship.SourceUUID)
	assert.Equal(t, []string{"ep-1"}, hits[0].Relationship.Episodes)
}

func TestNeighborsClampsDepthAndChecksRoot(t *testing.T) {
	runner := &fakeRunner{
		respond: func(cypher string, params map[string]any) ([]map[string]any, error) {
			if strings.Contains(cypher, "RETURN e.uuid AS uuid") {
				return []map[string]any{{"uuid": "e-1"}}, nil
			}
			return nil, nil
		},
	}
	store := New(runner, embeddings.NewMockProvider(), &fixedCompleter{}, logging.Nop())

	sub, err := store.Neighbors(context.Background(), "e-1", 9)
	require.NoError(t, err)
	assert.Equal(t, maxNeighborDepth, sub.Depth)

	// The traversal statement embeds the clamped bound.
	var sawTraversal bool
	for _, c := range runner.calls {
		if strings.Contains(c.cypher, "*1..3") {
			sawTraversal = true
		}
		assert.NotContains(t, c.cypher, "*1..9")
	}
	assert.True(t, sawTraversal)
}

func TestNeighborsUnknownEntity(t *testing.T) {
	runner := &fakeRunner{} // every query returns no rows
	store := New(runner, embeddings.NewMockProvider(), &fixedCompleter{}, logging.Nop())

	_, err := store.Neighbors(context.Background(), "missing", 2)
	assert.True(t, apperrors.Is(err, apperrors.KindNotFound))
}

func TestHealthCheckCoverage(t *testing.T) {
	runner := &fakeRunner{
		respond: func(cypher string, params map[string]any) ([]map[string]any, error) {
			if strings.Contains(cypher, "SHOW INDEXES") {
				return []map[string]any{{"name": entityIndexName}, {"name": factIndexName}}, nil
			}
			return []map[string]any{{
				"entities":      int64(10),
				"embedded":      int64(7),
				"relationships": int64(4),
			}}, nil
		},
	}
	store := New(runner, embeddings.NewMockProvider(), &fixedCompleter{}, logging.Nop())

	health, err := store.HealthCheck(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(10), health.EntityCount)
	assert.Equal(t, int64(4), health.RelationshipCount)
	assert.InDelta(t, 0.7, health.EmbeddingCoverage, 1e-9)
	assert.True(t, health.VectorIndices.Present)
}

func TestNormalizeName(t *testing.T) {
	assert.Equal(t, "grace hopper", NormalizeName("  Grace   HOPPER "))
	assert.Equal(t, "cobol", NormalizeName("COBOL"))
}
