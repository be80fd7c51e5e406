package rerank

import (
	"sort"

	"sage/pkg/types"
)

// DefaultRRFK is the standard Reciprocal Rank Fusion constant.
const DefaultRRFK = 60

// RRF fuses ranked lists: each item scores sum(1/(k + rank_l)) over the
// lists it appears in, rank starting at 1. Ties break on higher indexed_at,
// then lexicographic id.
func RRF(lists [][]types.SearchResult, k int) []types.SearchResult {
	weights := make([]float64, len(lists))
	for i := range weights {
		weights[i] = 1
	}
	return WeightedRRF(lists, weights, k)
}

// WeightedRRF fuses ranked lists with per-list weights: each item scores
// sum(w_l/(k + rank_l)). Used for hybrid vector/keyword fusion where the
// two lists carry configurable weights.
func WeightedRRF(lists [][]types.SearchResult, weights []float64, k int) []types.SearchResult {
	if k <= 0 {
		k = DefaultRRFK
	}

	type fused struct {
		result types.SearchResult
		score  float64
	}
	byID := make(map[string]*fused)

	for li, list := range lists {
		w := 1.0
		if li < len(weights) {
			w = weights[li]
		}
		for rank, res := range list {
			contribution := w / float64(k+rank+1)
			if f, ok := byID[res.ID]; ok {
				f.score += contribution
				// Keep the richer payload in case one list lacks the body.
				if f.result.Body == "" && res.Body != "" {
					f.result.Body = res.Body
					f.result.Metadata = res.Metadata
				}
			} else {
				byID[res.ID] = &fused{result: res, score: contribution}
			}
		}
	}

	out := make([]types.SearchResult, 0, len(byID))
	for _, f := range byID {
		f.result.Score = f.score
		out = append(out, f.result)
	}

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
	return out
}
