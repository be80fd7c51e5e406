// Package rerank orders retrieval candidates by a weighted blend of base
// relevance, metadata-derived signals and optional model scores, and fuses
// ranked lists with Reciprocal Rank Fusion.
package rerank

import (
	"context"
	"math"
	"sort"
	"time"

	"sage/pkg/types"
)

// recencyHalfLife is the exponential-decay half-life applied to indexed_at.
const recencyHalfLife = 30 * 24 * time.Hour

// verifiedBonus is added to the metadata score for verified chunks.
const verifiedBonus = 0.1

// sourceQuality ranks source kinds by trustworthiness.
var sourceQuality = map[types.SourceKind]float64{
	types.SourceWebsite:      0.6,
	types.SourceConversation: 0.7,
	types.SourceKnowledge:    0.9,
	types.SourceMeetingNote:  0.8,
}

// maxMetaRaw is the largest attainable raw metadata score (full recency,
// best source, verified); the component is scaled by it into [0,1].
const maxMetaRaw = 1.0 + 0.9 + verifiedBonus

// CrossEncoder scores query/passage relevance with a cross-attention model.
// Optional; reranking proceeds without one.
type CrossEncoder interface {
	Score(ctx context.Context, query string, passages []string) ([]float64, error)
}

// LLMJudge scores relevance with an LLM. Optional and off by default; when
// enabled, reranking is permitted to vary across runs.
type LLMJudge interface {
	Judge(ctx context.Context, query string, passages []string) ([]float64, error)
}

// Weights holds the blend weights for base/meta/cross/llm. They must sum
// to 1; weights of unavailable components are redistributed proportionally.
type Weights struct {
	Base  float64
	Meta  float64
	Cross float64
	LLM   float64
}

// DefaultWeights returns the 0.5/0.2/0.3/0.0 default blend.
func DefaultWeights() Weights {
	return Weights{Base: 0.5, Meta: 0.2, Cross: 0.3, LLM: 0.0}
}

// WeightsFromSlice converts a config slice into Weights.
func WeightsFromSlice(w []float64) Weights {
	if len(w) != 4 {
		return DefaultWeights()
	}
	return Weights{Base: w[0], Meta: w[1], Cross: w[2], LLM: w[3]}
}

// Reranker reorders candidates for a query. Deterministic whenever the
// optional model components are absent.
type Reranker struct {
	weights Weights
	cross   CrossEncoder
	judge   LLMJudge
	now     func() time.Time
}

// Option configures a Reranker.
type Option func(*Reranker)

// WithCrossEncoder enables the cross-encoder component.
func WithCrossEncoder(ce CrossEncoder) Option { return func(r *Reranker) { r.cross = ce } }

// WithLLMJudge enables the LLM-as-judge component.
func WithLLMJudge(j LLMJudge) Option { return func(r *Reranker) { r.judge = j } }

// WithClock overrides the recency clock. Used by tests.
func WithClock(now func() time.Time) Option { return func(r *Reranker) { r.now = now } }

// New creates a reranker with the given weights.
func New(weights Weights, opts ...Option) *Reranker {
	r := &Reranker{weights: weights, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Rerank returns the candidates reordered by final score. Ties break on
// higher indexed_at, then lexicographic id. The input slice is not modified.
func (r *Reranker) Rerank(ctx context.Context, query string, candidates []types.SearchResult) ([]types.SearchResult, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	crossScores := r.crossScores(ctx, query, candidates)
	llmScores := r.llmScores(ctx, query, candidates)

	// Redistribute the weights of skipped components so active ones still
	// sum to 1.
	active := r.weights.Base + r.weights.Meta
	if crossScores != nil {
		active += r.weights.Cross
	}
	if llmScores != nil {
		active += r.weights.LLM
	}
	if active == 0 {
		active = 1
	}

	scored := make([]types.SearchResult, len(candidates))
	copy(scored, candidates)
	for i := range scored {
		score := r.weights.Base*clamp01(scored[i].Score) + r.weights.Meta*r.metaScore(&scored[i].Metadata)
		if crossScores != nil {
			score += r.weights.Cross * clamp01(crossScores[i])
		}
		if llmScores != nil {
			score += r.weights.LLM * clamp01(llmScores[i])
		}
		scored[i].Score = score / active
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		ti, tj := scored[i].Metadata.IndexedAt, scored[j].Metadata.IndexedAt
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return scored[i].ID < scored[j].ID
	})
	return scored, nil
}

// metaScore blends recency, source quality and the verified flag, scaled
// into [0,1].
func (r *Reranker) metaScore(md *types.ChunkMetadata) float64 {
	raw := 0.0
	if !md.IndexedAt.IsZero() {
		age := r.now().Sub(md.IndexedAt)
		if age < 0 {
			age = 0
		}
		raw += math.Pow(0.5, age.Hours()/recencyHalfLife.Hours())
	}
	if q, ok := sourceQuality[md.SourceKind]; ok {
		raw += q
	}
	if md.Verified {
		raw += verifiedBonus
	}
	return clamp01(raw / maxMetaRaw)
}

// crossScores returns nil when the cross encoder is absent or fails; the
// component is then simply skipped.
func (r *Reranker) crossScores(ctx context.Context, query string, candidates []types.SearchResult) []float64 {
	if r.cross == nil || r.weights.Cross == 0 {
		return nil
	}
	passages := make([]string, len(candidates))
	for i := range candidates {
		passages[i] = candidates[i].Body
	}
	scores, err := r.cross.Score(ctx, query, passages)
	if err != nil || len(scores) != len(candidates) {
		return nil
	}
	return scores
}

func (r *Reranker) llmScores(ctx context.Context, query string, candidates []types.SearchResult) []float64 {
	if r.judge == nil || r.weights.LLM == 0 {
		return nil
	}
	passages := make([]string, len(candidates))
	for i := range candidates {
		passages[i] = candidates[i].Body
	}
	scores, err := r.judge.Judge(ctx, query, passages)
	if err != nil || len(scores) != len(candidates) {
		return nil
	}
	return scores
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
