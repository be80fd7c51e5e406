// Package di wires the application object graph. Construction happens once,
// in dependency order; everything downstream receives its collaborators
// explicitly and no package reaches for globals.
package di

import (
	"context"

	"sage/internal/ai"
	"sage/internal/apperrors"
	"sage/internal/brainstorm"
	"sage/internal/cache"
	"sage/internal/config"
	"sage/internal/documents"
	"sage/internal/embeddings"
	"sage/internal/graph"
	"sage/internal/ingest"
	"sage/internal/intent"
	"sage/internal/logging"
	"sage/internal/planner"
	"sage/internal/rerank"
	"sage/internal/retrieval"
	"sage/internal/router"
	"sage/internal/storage"
	"sage/pkg/types"
)

// Services holds the fully wired application.
type Services struct {
	Config *config.Config
	Logger logging.Logger

	Embedder    embeddings.Provider
	VectorStore storage.VectorStore
	QueryCache  *cache.QueryCache
	RedisTier   *cache.RedisTier
	Graph       *graph.Store
	LLM         ai.Client
	Documents   *documents.Store

	Ingest     *ingest.Pipeline
	Reranker   *rerank.Reranker
	Retriever  *retrieval.HybridRetriever
	Brainstorm *brainstorm.Engine
	Planner    *planner.Planner
	Parser     *intent.Parser
	Router     *router.Router
}

// NewServices builds the object graph from the configuration. Missing API
// keys degrade the affected provider to its mock rather than failing startup;
// an unreachable vector store is a hard error.
func NewServices(ctx context.Context, cfg *config.Config) (*Services, error) {
	s := &Services{
		Config: cfg,
		Logger: logging.New(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.JSON),
	}

	s.initializeEmbeddings()
	if err := s.initializeStorage(ctx); err != nil {
		return nil, err
	}
	s.initializeLLM()
	if err := s.initializeGraph(ctx); err != nil {
		return nil, err
	}
	if err := s.initializeDocuments(); err != nil {
		return nil, err
	}
	s.initializeAgents()

	return s, nil
}

func (s *Services) initializeEmbeddings() {
	var base embeddings.Provider
	if s.Config.Embedding.APIKey == "" {
		s.Logger.Warn("no embedding API key configured, using deterministic mock embeddings")
		base = embeddings.NewMockProvider()
	} else {
		base = embeddings.NewOpenAIProvider(&s.Config.Embedding)
	}
	retrying := embeddings.NewRetryingProvider(base, nil)
	s.Embedder = embeddings.NewCachingProvider(retrying, s.Config.Embedding.CacheSize)
}

// redisInvalidator is the slice of the Redis tier the invalidator needs.
type redisInvalidator interface {
	InvalidateCollection(ctx context.Context, collection string)
}

// cacheInvalidator fans a store mutation out to every cache tier. The local
// tier clears first: it is the one serving reads in-process, so it must
// never outlive a mutation even when the Redis call fails.
type cacheInvalidator struct {
	local *cache.QueryCache
	redis redisInvalidator
}

func (i *cacheInvalidator) InvalidateCollection(collection string) int {
	dropped := i.local.InvalidateCollection(collection)
	if i.redis != nil {
		i.redis.InvalidateCollection(context.Background(), collection)
	}
	return dropped
}

func (s *Services) initializeStorage(ctx context.Context) error {
	s.QueryCache = cache.NewQueryCache(s.Config.Cache.Size, s.Config.Cache.TTL())
	inv := &cacheInvalidator{local: s.QueryCache}
	if addr := s.Config.Cache.RedisAddr; addr != "" {
		s.RedisTier = cache.NewRedisTier(addr, s.QueryCache, s.Config.Cache.TTL(), s.Logger)
		inv.redis = s.RedisTier
	}

	switch s.Config.Vector.Provider {
	case "pgvector":
		store, err := storage.NewPgVectorStore(ctx, s.Config.Vector.URL, s.Embedder, s.Logger,
			storage.WithInvalidator(inv),
			storage.WithRRFK(s.Config.Retrieval.RRFK))
		if err != nil {
			return err
		}
		s.VectorStore = store
	case "qdrant":
		store, err := storage.NewQdrantStore(
			s.Config.Vector.QdrantHost, s.Config.Vector.QdrantPort,
			s.Config.Vector.Key, s.Config.Vector.UseTLS,
			s.Embedder, s.Logger,
			storage.WithQdrantInvalidator(inv),
			storage.WithQdrantRRFK(s.Config.Retrieval.RRFK))
		if err != nil {
			return err
		}
		s.VectorStore = store
	case "memory":
		store := storage.NewMemoryStore(s.Embedder)
		store.SetInvalidator(inv)
		s.VectorStore = store
	default:
		return apperrors.New(apperrors.KindInput, "unknown vector store provider %q", s.Config.Vector.Provider)
	}

	return s.VectorStore.Initialize(ctx, types.DefaultCollections())
}

func (s *Services) initializeGraph(ctx context.Context) error {
	if !s.Config.Graph.Enabled {
		s.Logger.Info("graph store disabled")
		return nil
	}
	runner, err := graph.NewNeo4jRunner(s.Config.Graph.URI, s.Config.Graph.User, s.Config.Graph.Password)
	if err != nil {
		return err
	}
	s.Graph = graph.New(runner, s.Embedder, s.LLM, s.Logger)
	return s.Graph.Initialize(ctx)
}

func (s *Services) initializeLLM() {
	cfg := s.Config.LLM
	switch cfg.Provider {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			s.Logger.Warn("no OpenAI API key configured, using mock chat model")
			s.LLM = ai.NewMockClient()
			return
		}
		s.LLM = ai.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.Model)
	case "anthropic":
		if cfg.AnthropicAPIKey == "" {
			s.Logger.Warn("no Anthropic API key configured, using mock chat model")
			s.LLM = ai.NewMockClient()
			return
		}
		s.LLM = ai.NewAnthropicClient(cfg.AnthropicAPIKey, cfg.Model)
	default:
		s.LLM = ai.NewMockClient()
	}
}

func (s *Services) initializeDocuments() error {
	docs, err := documents.New(s.Config.Documents, s.Logger)
	if err != nil {
		return err
	}
	s.Documents = docs
	return nil
}

func (s *Services) initializeAgents() {
	s.Ingest = ingest.New(s.VectorStore, s.Graph, s.Logger)
	s.Reranker = rerank.New(rerank.WeightsFromSlice(s.Config.Retrieval.RerankWeights))

	// The retriever reads through whichever tier is outermost.
	tier := cache.NewLocalTier(s.QueryCache)
	if s.RedisTier != nil {
		tier = s.RedisTier
	}
	s.Retriever = retrieval.New(s.Config.Retrieval, s.VectorStore, s.Embedder,
		tier, s.Reranker, s.Logger)
	s.Brainstorm = brainstorm.NewEngine(s.Documents, s.Retriever, s.LLM, s.Logger)
	s.Planner = planner.New(s.Documents, s.LLM, s.Config.Planner, s.Logger)
	s.Parser = intent.NewParser(s.LLM, s.Logger)
	s.Router = router.New(s.Parser, s.Retriever, s.Brainstorm, s.Planner,
		s.Documents, s.LLM, s.Logger)
}

// HealthCheck probes every external dependency.
func (s *Services) HealthCheck(ctx context.Context) error {
	if err := s.VectorStore.HealthCheck(ctx); err != nil {
		return apperrors.Wrap(apperrors.KindStoreUnavailable, err, "vector store")
	}
	if err := s.Embedder.HealthCheck(ctx); err != nil {
		return apperrors.Wrap(apperrors.KindProviderUnavailable, err, "embedding provider")
	}
	if err := s.LLM.HealthCheck(ctx); err != nil {
		return apperrors.Wrap(apperrors.KindProviderUnavailable, err, "chat model")
	}
	return nil
}

// Shutdown releases resources in reverse dependency order. The first error
// is returned; later closers still run.
func (s *Services) Shutdown(ctx context.Context) error {
	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}

	if s.Documents != nil {
		keep(s.Documents.Close())
	}
	if s.Graph != nil {
		keep(s.Graph.Close(ctx))
	}
	if s.RedisTier != nil {
		keep(s.RedisTier.Close())
	}
	if s.VectorStore != nil {
		keep(s.VectorStore.Close())
	}
	return first
}
