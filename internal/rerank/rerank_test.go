package rerank

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sage/pkg/types"
)

func TestVerifiedRecentBeatsStaleHigherBase(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	r := New(DefaultWeights(), WithClock(func() time.Time { return now }))

	candidates := []types.SearchResult{
		{
			ID:    "stale-high-base",
			Score: 0.8,
			Metadata: types.ChunkMetadata{
				SourceKind: types.SourceKnowledge,
				IndexedAt:  now.Add(-90 * 24 * time.Hour),
			},
		},
		{
			ID:    "young-verified",
			Score: 0.7,
			Metadata: types.ChunkMetadata{
				SourceKind: types.SourceKnowledge,
				IndexedAt:  now.Add(-24 * time.Hour),
				Verified:   true,
			},
		},
	}

	out, err := r.Rerank(context.Background(), "query", candidates)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "young-verified", out[0].ID)
}

func TestRerankScoresMonotonicallyNonIncreasing(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	r := New(DefaultWeights(), WithClock(func() time.Time { return now }))

	candidates := []types.SearchResult{
		{ID: "a", Score: 0.4, Metadata: types.ChunkMetadata{SourceKind: types.SourceWebsite, IndexedAt: now}},
		{ID: "b", Score: 0.9, Metadata: types.ChunkMetadata{SourceKind: types.SourceKnowledge, IndexedAt: now}},
		{ID: "c", Score: 0.6, Metadata: types.ChunkMetadata{SourceKind: types.SourceConversation, IndexedAt: now}},
	}

	out, err := r.Rerank(context.Background(), "query", candidates)
	require.NoError(t, err)
	for i := 1; i < len(out); i++ {
		assert.GreaterOrEqual(t, out[i-1].Score, out[i].Score)
	}
}

func TestRerankTieBreaksOnIndexedAtThenID(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	r := New(DefaultWeights(), WithClock(func() time.Time { return now }))

	same := types.ChunkMetadata{SourceKind: types.SourceKnowledge, IndexedAt: now}
	older := same
	older.IndexedAt = now.Add(-time.Hour)

	out, err := r.Rerank(context.Background(), "q", []types.SearchResult{
		{ID: "b", Score: 0.5, Metadata: same},
		{ID: "z", Score: 0.5, Metadata: older},
		{ID: "a", Score: 0.5, Metadata: same},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "z"}, []string{out[0].ID, out[1].ID, out[2].ID})
}

type stubCross struct{ scores []float64 }

func (s *stubCross) Score(context.Context, string, []string) ([]float64, error) {
	return s.scores, nil
}

func TestCrossEncoderChangesOrderWhenPresent(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	md := types.ChunkMetadata{SourceKind: types.SourceKnowledge, IndexedAt: now}

	candidates := []types.SearchResult{
		{ID: "a", Score: 0.8, Metadata: md},
		{ID: "b", Score: 0.75, Metadata: md},
	}

	// Without the cross encoder, "a" wins on base score.
	r := New(DefaultWeights(), WithClock(func() time.Time { return now }))
	out, err := r.Rerank(context.Background(), "q", candidates)
	require.NoError(t, err)
	assert.Equal(t, "a", out[0].ID)

	// The cross encoder strongly prefers "b".
	r = New(DefaultWeights(),
		WithClock(func() time.Time { return now }),
		WithCrossEncoder(&stubCross{scores: []float64{0.1, 0.99}}))
	out, err = r.Rerank(context.Background(), "q", candidates)
	require.NoError(t, err)
	assert.Equal(t, "b", out[0].ID)
}

func TestRRFFusesAcrossLists(t *testing.T) {
	a := []types.SearchResult{{ID: "x"}, {ID: "y"}, {ID: "z"}}
	b := []types.SearchResult{{ID: "y"}, {ID: "w"}}

	out := RRF([][]types.SearchResult{a, b}, 60)
	require.Len(t, out, 4)
	// "y" appears in both lists and must rank first.
	assert.Equal(t, "y", out[0].ID)

	for i := 1; i < len(out); i++ {
		assert.GreaterOrEqual(t, out[i-1].Score, out[i].Score)
	}
}

func TestWeightedRRFRespectsListWeights(t *testing.T) {
	vec := []types.SearchResult{{ID: "vec-top"}}
	kw := []types.SearchResult{{ID: "kw-top"}}

	out := WeightedRRF([][]types.SearchResult{vec, kw}, []float64{0.7, 0.3}, 60)
	require.Len(t, out, 2)
	assert.Equal(t, "vec-top", out[0].ID)
	assert.InDelta(t, 0.7/61.0, out[0].Score, 1e-9)
	assert.InDelta(t, 0.3/61.0, out[1].Score, 1e-9)
}

func TestRerankEmptyInput(t *testing.T) {
	r := New(DefaultWeights())
	out, err := r.Rerank(context.Background(), "q", nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}
