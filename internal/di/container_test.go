package di

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sage/internal/cache"
	"sage/internal/config"
	"sage/internal/retrieval"
	"sage/internal/storage"
	"sage/pkg/types"
)

func retrievalOptions() retrieval.Options {
	return retrieval.Options{Collections: []string{types.CollectionKnowledge}, K: 3}
}

// devConfig is a self-contained configuration: in-memory vector store, mock
// providers, tempdir documents, graph disabled.
func devConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Vector.Provider = "memory"
	cfg.Graph.Enabled = false
	cfg.LLM.Provider = "mock"
	cfg.Documents = config.DocumentsConfig{
		TasksPath:       filepath.Join(dir, "tasks.yaml"),
		LogsPath:        filepath.Join(dir, "daily_logs.yaml"),
		MeetingsPath:    filepath.Join(dir, "meetings.yaml"),
		MeetingNotesDir: filepath.Join(dir, "meeting_notes"),
		BrainstormsDir:  filepath.Join(dir, "brainstorms"),
		HistoryDBPath:   filepath.Join(dir, "history.db"),
		TaskDetailsPath: filepath.Join(dir, "task_details.yaml"),
	}
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestNewServicesWiresFullGraph(t *testing.T) {
	ctx := context.Background()
	svc, err := NewServices(ctx, devConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Shutdown(ctx) })

	assert.NotNil(t, svc.Embedder)
	assert.NotNil(t, svc.VectorStore)
	assert.NotNil(t, svc.QueryCache)
	assert.Nil(t, svc.RedisTier, "no redis address configured")
	assert.Nil(t, svc.Graph, "graph disabled")
	assert.NotNil(t, svc.LLM)
	assert.NotNil(t, svc.Documents)
	assert.NotNil(t, svc.Retriever)
	assert.NotNil(t, svc.Brainstorm)
	assert.NotNil(t, svc.Planner)
	assert.NotNil(t, svc.Parser)
	assert.NotNil(t, svc.Router)
}

func TestNewServicesRejectsUnknownVectorProvider(t *testing.T) {
	cfg := devConfig(t)
	cfg.Vector.Provider = "chroma"
	_, err := NewServices(context.Background(), cfg)
	assert.Error(t, err)
}

func TestHealthCheckPassesWithMockProviders(t *testing.T) {
	ctx := context.Background()
	svc, err := NewServices(ctx, devConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Shutdown(ctx) })

	assert.NoError(t, svc.HealthCheck(ctx))
}

func TestWritesThroughContainerInvalidateQueryCache(t *testing.T) {
	ctx := context.Background()
	svc, err := NewServices(ctx, devConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Shutdown(ctx) })

	mem, ok := svc.VectorStore.(*storage.MemoryStore)
	require.True(t, ok)

	res, err := svc.Retriever.Search(ctx, "anything at all", retrievalOptions())
	require.NoError(t, err)
	assert.False(t, res.FromCache)

	res, err = svc.Retriever.Search(ctx, "anything at all", retrievalOptions())
	require.NoError(t, err)
	assert.True(t, res.FromCache)

	// A write drops the cached entries for the collection.
	_, err = mem.Upsert(ctx, types.CollectionKnowledge, []types.Chunk{{
		ID:         "k1",
		DocumentID: "doc-k1",
		Total:      1,
		Body:       "fresh content",
		Metadata:   types.ChunkMetadata{SourceKind: types.SourceKnowledge, DocumentID: "doc-k1", Total: 1},
	}})
	require.NoError(t, err)

	res, err = svc.Retriever.Search(ctx, "anything at all", retrievalOptions())
	require.NoError(t, err)
	assert.False(t, res.FromCache)
}

type recordingRedis struct {
	collections []string
}

func (r *recordingRedis) InvalidateCollection(_ context.Context, collection string) {
	r.collections = append(r.collections, collection)
}

func TestCacheInvalidatorClearsLocalTierWithRedisConfigured(t *testing.T) {
	qc := cache.NewQueryCache(10, time.Minute)
	qc.Put("stale-key", types.CollectionKnowledge, nil)

	redis := &recordingRedis{}
	inv := &cacheInvalidator{local: qc, redis: redis}

	dropped := inv.InvalidateCollection(types.CollectionKnowledge)
	assert.Equal(t, 1, dropped)
	_, ok := qc.Get("stale-key")
	assert.False(t, ok, "local entry gone after the store mutation")
	assert.Equal(t, []string{types.CollectionKnowledge}, redis.collections)
}

func TestShutdownIsIdempotentPerResource(t *testing.T) {
	ctx := context.Background()
	svc, err := NewServices(ctx, devConfig(t))
	require.NoError(t, err)

	assert.NoError(t, svc.Shutdown(ctx))
}
