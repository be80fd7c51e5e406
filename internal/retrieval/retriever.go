// Package retrieval implements the hybrid retriever: deterministic query
// expansion, cached parallel search across collections, near-duplicate
// collapse, reranking and cross-collection rank fusion.
package retrieval

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"sage/internal/apperrors"
	"sage/internal/cache"
	"sage/internal/config"
	"sage/internal/embeddings"
	"sage/internal/logging"
	"sage/internal/rerank"
	"sage/internal/storage"
	"sage/pkg/types"
)

// Options shapes a single search call.
type Options struct {
	// Collections to query; defaults to every built-in collection.
	Collections []string
	// K caps the result count; defaults to 10.
	K int
	// Hybrid requests keyword search fused alongside vector search.
	Hybrid bool
	// Filter restricts candidates by metadata.
	Filter storage.Filter
	// Variants overrides query expansion, e.g. with ExpandTask output.
	Variants []string
}

// HybridRetriever orchestrates the retrieval pipeline. Safe for concurrent
// use; every search is independent.
type HybridRetriever struct {
	store    storage.VectorStore
	embedder embeddings.Provider
	cache    cache.Tier
	reranker *rerank.Reranker
	logger   logging.Logger

	maxConcurrency int64
	vectorWeight   float64
	keywordWeight  float64
	rrfK           int
}

// New builds a retriever from the retrieval configuration.
func New(
	cfg config.RetrievalConfig,
	store storage.VectorStore,
	embedder embeddings.Provider,
	tier cache.Tier,
	reranker *rerank.Reranker,
	logger logging.Logger,
) *HybridRetriever {
	maxConc := int64(cfg.MaxConcurrency)
	if maxConc <= 0 {
		maxConc = 8
	}
	return &HybridRetriever{
		store:          store,
		embedder:       embedder,
		cache:          tier,
		reranker:       reranker,
		logger:         logger.WithComponent("retriever"),
		maxConcurrency: maxConc,
		vectorWeight:   cfg.VectorWeight,
		keywordWeight:  cfg.KeywordWeight,
		rrfK:           cfg.RRFK,
	}
}

// probe is one (collection, variant) unit of work.
type probe struct {
	collection string
	variant    string
	key        string
}

// Search runs the full pipeline and returns up to K results. Cancelling ctx
// abandons in-flight probes and discards partial results.
func (r *HybridRetriever) Search(ctx context.Context, query string, opts Options) (*types.SearchResults, error) {
	start := time.Now()

	collections := opts.Collections
	if len(collections) == 0 {
		for _, c := range types.DefaultCollections() {
			collections = append(collections, c.Name)
		}
	}
	k := opts.K
	if k <= 0 {
		k = 10
	}
	variants := opts.Variants
	if len(variants) == 0 {
		variants = ExpandQuery(query)
	}
	if len(variants) == 0 {
		return nil, apperrors.New(apperrors.KindInput, "empty query")
	}

	hits := make(map[probe][]types.SearchResult)
	var misses []probe
	for _, collection := range collections {
		for _, variant := range variants {
			p := probe{
				collection: collection,
				variant:    variant,
				key:        cache.Key(collection, variant, opts.Filter.Map()),
			}
			if cached, ok := r.cache.Get(ctx, p.key); ok {
				hits[p] = cached
			} else {
				misses = append(misses, p)
			}
		}
	}

	searched, err := r.runProbes(ctx, misses, k, opts)
	if err != nil {
		return nil, err
	}

	// Merge per collection: concatenate variant lists, collapse duplicates,
	// rerank, then fuse the per-collection lists.
	var perCollection [][]types.SearchResult
	for _, collection := range collections {
		var candidates []types.SearchResult
		for _, variant := range variants {
			p := probe{collection: collection, variant: variant, key: cache.Key(collection, variant, opts.Filter.Map())}
			if list, ok := hits[p]; ok {
				candidates = append(candidates, list...)
			} else if list, ok := searched[p.key]; ok {
				candidates = append(candidates, list...)
			}
		}
		if len(candidates) == 0 {
			continue
		}
		reranked, err := r.reranker.Rerank(ctx, query, Dedup(candidates))
		if err != nil {
			return nil, err
		}
		perCollection = append(perCollection, reranked)
	}

	var final []types.SearchResult
	switch len(perCollection) {
	case 0:
	case 1:
		final = perCollection[0]
	default:
		final = rerank.RRF(perCollection, r.rrfK)
	}
	if len(final) > k {
		final = final[:k]
	}

	// Every missed variant key now owns the final list, so the identical
	// query becomes a pure cache hit within the TTL.
	for _, p := range misses {
		r.cache.Put(ctx, p.key, p.collection, final)
	}

	r.logger.DebugContext(ctx, "search complete",
		"variants", len(variants),
		"collections", len(collections),
		"cache_hits", len(hits),
		"results", len(final),
		"elapsed", time.Since(start).String(),
	)

	return &types.SearchResults{
		Results:   final,
		QueryTime: time.Since(start),
		FromCache: len(misses) == 0,
	}, nil
}

// runProbes fans the cache misses out across a bounded worker pool. A probe
// that times out contributes nothing; a cancelled context fails the call.
func (r *HybridRetriever) runProbes(ctx context.Context, misses []probe, k int, opts Options) (map[string][]types.SearchResult, error) {
	results := make(map[string][]types.SearchResult, len(misses))
	if len(misses) == 0 {
		return results, nil
	}

	var mu sync.Mutex
	sem := semaphore.NewWeighted(r.maxConcurrency)
	g, gctx := errgroup.WithContext(ctx)

	for _, p := range misses {
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			list, err := r.searchOne(gctx, p, k, opts)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				// This variant contributes no candidates; the others
				// still count.
				r.logger.WarnContext(gctx, "probe failed",
					"collection", p.collection, "variant", p.variant, "error", err)
				return nil
			}

			mu.Lock()
			results[p.key] = list
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.KindTimeout, err, "retrieval cancelled")
	}
	return results, nil
}

func (r *HybridRetriever) searchOne(ctx context.Context, p probe, k int, opts Options) ([]types.SearchResult, error) {
	if opts.Hybrid {
		return r.store.HybridSearch(ctx, p.collection, p.variant, k, r.vectorWeight, r.keywordWeight)
	}
	vectors, err := r.embedder.Embed(ctx, []string{p.variant})
	if err != nil {
		return nil, err
	}
	return r.store.VectorSearch(ctx, p.collection, vectors[0], k, opts.Filter)
}

// TopBodies returns the bodies of the first n results, a convenience for
// prompt assembly.
func TopBodies(results []types.SearchResult, n int) []string {
	if len(results) < n {
		n = len(results)
	}
	out := make([]string, 0, n)
	for _, r := range results[:n] {
		out = append(out, r.Body)
	}
	return out
}

// SortByScore orders results by score descending with the standard
// tie-break. Exposed for callers that post-filter.
func SortByScore(results []types.SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		ti, tj := results[i].Metadata.IndexedAt, results[j].Metadata.IndexedAt
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return results[i].ID < results[j].ID
	})
}
