package retrieval

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"sage/pkg/types"
)

// dedupThreshold is the sequence-matcher similarity above which two bodies
// count as duplicates.
const dedupThreshold = 0.7

// Dedup collapses near-duplicate results. Exact ID duplicates merge first,
// then bodies with word-level similarity >= dedupThreshold; in both cases the
// higher-scoring result survives. Input order is preserved for survivors.
func Dedup(results []types.SearchResult) []types.SearchResult {
	if len(results) < 2 {
		return results
	}

	byID := make(map[string]int, len(results))
	var unique []types.SearchResult
	for _, r := range results {
		if i, seen := byID[r.ID]; seen {
			if r.Score > unique[i].Score {
				unique[i] = r
			}
			continue
		}
		byID[r.ID] = len(unique)
		unique = append(unique, r)
	}

	words := make([][]string, len(unique))
	for i := range unique {
		words[i] = strings.Fields(strings.ToLower(unique[i].Body))
	}

	dropped := make([]bool, len(unique))
	for i := 0; i < len(unique); i++ {
		if dropped[i] {
			continue
		}
		for j := i + 1; j < len(unique); j++ {
			if dropped[j] {
				continue
			}
			if difflib.NewMatcher(words[i], words[j]).Ratio() < dedupThreshold {
				continue
			}
			if unique[j].Score > unique[i].Score {
				dropped[i] = true
				break
			}
			dropped[j] = true
		}
	}

	out := unique[:0]
	for i, r := range unique {
		if !dropped[i] {
			out = append(out, r)
		}
	}
	return out
}
