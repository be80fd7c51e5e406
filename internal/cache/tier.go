package cache

import (
	"context"

	"sage/pkg/types"
)

// Tier is one read/write layer of query results. The in-process LRU is the
// baseline tier; RedisTier layers cross-process sharing over it. The
// retriever talks to whichever tier the deployment configured.
type Tier interface {
	Get(ctx context.Context, key string) ([]types.SearchResult, bool)
	Put(ctx context.Context, key, collection string, results []types.SearchResult)
}

// localTier adapts the in-process cache to the tier interface.
type localTier struct {
	qc *QueryCache
}

// NewLocalTier exposes the in-process cache as the only tier.
func NewLocalTier(qc *QueryCache) Tier { return localTier{qc: qc} }

func (t localTier) Get(_ context.Context, key string) ([]types.SearchResult, bool) {
	return t.qc.Get(key)
}

func (t localTier) Put(_ context.Context, key, collection string, results []types.SearchResult) {
	t.qc.Put(key, collection, results)
}
