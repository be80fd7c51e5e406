// Package config loads the immutable application settings. Configuration is
// read once at startup from the environment (with optional .env support) and
// never mutated afterwards.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the application configuration.
type Config struct {
	Server    ServerConfig    `json:"server"`
	LLM       LLMConfig       `json:"llm"`
	Embedding EmbeddingConfig `json:"embedding"`
	Vector    VectorConfig    `json:"vector"`
	Graph     GraphConfig     `json:"graph"`
	Cache     CacheConfig     `json:"cache"`
	Retrieval RetrievalConfig `json:"retrieval"`
	Planner   PlannerConfig   `json:"planner"`
	Documents DocumentsConfig `json:"documents"`
	Logging   LoggingConfig   `json:"logging"`
}

// ServerConfig configures the session endpoint.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"read_timeout_seconds"`
	WriteTimeout int    `json:"write_timeout_seconds"`
}

// LLMConfig configures the chat model providers.
type LLMConfig struct {
	Model           string `json:"model"`
	Provider        string `json:"provider"` // "openai", "anthropic", "mock"
	OpenAIAPIKey    string `json:"-"`
	AnthropicAPIKey string `json:"-"`
	RequestTimeout  int    `json:"request_timeout_seconds"`
}

// EmbeddingConfig configures the embedding provider.
type EmbeddingConfig struct {
	Model        string `json:"model"`
	APIKey       string `json:"-"`
	MaxBatchSize int    `json:"max_batch_size"`
	CacheSize    int    `json:"cache_size"`
}

// VectorConfig configures the vector store backend.
type VectorConfig struct {
	Provider string `json:"provider"` // "pgvector", "qdrant" or "memory"
	URL      string `json:"url"`
	Key      string `json:"-"`
	// Qdrant-specific settings, used when Provider is "qdrant".
	QdrantHost string `json:"qdrant_host"`
	QdrantPort int    `json:"qdrant_port"`
	UseTLS     bool   `json:"use_tls"`
}

// GraphConfig configures the Neo4j graph store.
type GraphConfig struct {
	URI      string `json:"uri"`
	User     string `json:"user"`
	Password string `json:"-"`
	Enabled  bool   `json:"enabled"`
}

// CacheConfig configures the query cache.
type CacheConfig struct {
	Size       int    `json:"size"`
	TTLSeconds int    `json:"ttl_seconds"`
	RedisAddr  string `json:"redis_addr,omitempty"` // empty disables the Redis tier
}

// TTL returns the configured entry lifetime.
func (c CacheConfig) TTL() time.Duration { return time.Duration(c.TTLSeconds) * time.Second }

// RetrievalConfig configures the hybrid retriever and reranker.
type RetrievalConfig struct {
	RRFK                 int       `json:"rrf_k"`
	RerankWeights        []float64 `json:"rerank_weights"` // base, meta, cross, llm
	MaxBrainstormQueries int       `json:"max_brainstorm_queries"`
	MaxConcurrency       int       `json:"max_concurrency"`
	VectorWeight         float64   `json:"vector_weight"`
	KeywordWeight        float64   `json:"keyword_weight"`
}

// PlannerConfig configures working hours for the day planner.
type PlannerConfig struct {
	WorkHoursStart string `json:"work_hours_start"` // HH:MM
	WorkHoursEnd   string `json:"work_hours_end"`   // HH:MM
}

// DocumentsConfig points the document store at its on-disk sources.
type DocumentsConfig struct {
	TasksPath        string `json:"tasks_path"`
	LogsPath         string `json:"logs_path"`
	MeetingsPath     string `json:"meetings_path"`
	MeetingNotesDir  string `json:"meeting_notes_dir"`
	BrainstormsDir   string `json:"brainstorms_dir"`
	HistoryDBPath    string `json:"history_db_path"`
	TaskDetailsPath  string `json:"task_details_path"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level string `json:"level"`
	JSON  bool   `json:"json"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "localhost",
			Port:         8420,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		LLM: LLMConfig{
			Model:          "gpt-4o-mini",
			Provider:       "openai",
			RequestTimeout: 60,
		},
		Embedding: EmbeddingConfig{
			Model:        "text-embedding-3-small",
			MaxBatchSize: 64,
			CacheSize:    2048,
		},
		Vector: VectorConfig{
			Provider:   "pgvector",
			QdrantHost: "localhost",
			QdrantPort: 6334,
		},
		Graph: GraphConfig{
			URI:     "bolt://localhost:7687",
			User:    "neo4j",
			Enabled: true,
		},
		Cache: CacheConfig{
			Size:       200,
			TTLSeconds: 600,
		},
		Retrieval: RetrievalConfig{
			RRFK:                 60,
			RerankWeights:        []float64{0.5, 0.2, 0.3, 0.0},
			MaxBrainstormQueries: 5,
			MaxConcurrency:       8,
			VectorWeight:         0.7,
			KeywordWeight:        0.3,
		},
		Planner: PlannerConfig{
			WorkHoursStart: "09:00",
			WorkHoursEnd:   "17:00",
		},
		Documents: DocumentsConfig{
			TasksPath:       "./data/tasks.yaml",
			LogsPath:        "./data/daily_logs.yaml",
			MeetingsPath:    "./data/meetings.yaml",
			MeetingNotesDir: "./data/meeting_notes",
			BrainstormsDir:  "./data/brainstorms",
			HistoryDBPath:   "./data/history.db",
			TaskDetailsPath: "./data/task_details.yaml",
		},
		Logging: LoggingConfig{
			Level: "info",
			JSON:  true,
		},
	}
}

// Load builds the configuration from the environment. A .env file in the
// working directory is honored when present.
func Load() (*Config, error) {
	_ = godotenv.Load() // missing .env is not an error

	cfg := Default()

	cfg.Server.Host = getEnv("SAGE_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnvInt("SAGE_PORT", cfg.Server.Port)

	cfg.LLM.Model = getEnv("LLM_MODEL", cfg.LLM.Model)
	cfg.LLM.Provider = getEnv("LLM_PROVIDER", cfg.LLM.Provider)
	cfg.LLM.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	cfg.LLM.AnthropicAPIKey = os.Getenv("ANTHROPIC_API_KEY")

	cfg.Embedding.Model = getEnv("EMBEDDING_MODEL", cfg.Embedding.Model)
	cfg.Embedding.APIKey = getEnv("EMBEDDING_API_KEY", os.Getenv("OPENAI_API_KEY"))

	cfg.Vector.Provider = getEnv("VECTOR_STORE_PROVIDER", cfg.Vector.Provider)
	cfg.Vector.URL = getEnv("VECTOR_STORE_URL", cfg.Vector.URL)
	cfg.Vector.Key = os.Getenv("VECTOR_STORE_KEY")
	cfg.Vector.QdrantHost = getEnv("QDRANT_HOST", cfg.Vector.QdrantHost)
	cfg.Vector.QdrantPort = getEnvInt("QDRANT_PORT", cfg.Vector.QdrantPort)

	cfg.Graph.URI = getEnv("GRAPH_URI", cfg.Graph.URI)
	cfg.Graph.User = getEnv("GRAPH_USER", cfg.Graph.User)
	cfg.Graph.Password = os.Getenv("GRAPH_PASSWORD")
	cfg.Graph.Enabled = getEnvBool("GRAPH_ENABLED", cfg.Graph.Enabled)

	cfg.Cache.Size = getEnvInt("CACHE_SIZE", cfg.Cache.Size)
	cfg.Cache.TTLSeconds = getEnvInt("CACHE_TTL_SECONDS", cfg.Cache.TTLSeconds)
	cfg.Cache.RedisAddr = getEnv("CACHE_REDIS_ADDR", cfg.Cache.RedisAddr)

	cfg.Retrieval.RRFK = getEnvInt("RRF_K", cfg.Retrieval.RRFK)
	cfg.Retrieval.MaxBrainstormQueries = getEnvInt("MAX_BRAINSTORM_QUERIES", cfg.Retrieval.MaxBrainstormQueries)
	cfg.Retrieval.MaxConcurrency = getEnvInt("MAX_RETRIEVAL_CONCURRENCY", cfg.Retrieval.MaxConcurrency)
	if w := os.Getenv("RERANK_WEIGHTS"); w != "" {
		weights, err := parseWeights(w)
		if err != nil {
			return nil, fmt.Errorf("invalid RERANK_WEIGHTS: %w", err)
		}
		cfg.Retrieval.RerankWeights = weights
	}

	cfg.Planner.WorkHoursStart = getEnv("WORK_HOURS_START", cfg.Planner.WorkHoursStart)
	cfg.Planner.WorkHoursEnd = getEnv("WORK_HOURS_END", cfg.Planner.WorkHoursEnd)

	cfg.Documents.TasksPath = getEnv("SAGE_TASKS_PATH", cfg.Documents.TasksPath)
	cfg.Documents.LogsPath = getEnv("SAGE_LOGS_PATH", cfg.Documents.LogsPath)
	cfg.Documents.MeetingsPath = getEnv("SAGE_MEETINGS_PATH", cfg.Documents.MeetingsPath)
	cfg.Documents.MeetingNotesDir = getEnv("SAGE_MEETING_NOTES_DIR", cfg.Documents.MeetingNotesDir)
	cfg.Documents.BrainstormsDir = getEnv("SAGE_BRAINSTORMS_DIR", cfg.Documents.BrainstormsDir)
	cfg.Documents.HistoryDBPath = getEnv("SAGE_HISTORY_DB", cfg.Documents.HistoryDBPath)
	cfg.Documents.TaskDetailsPath = getEnv("SAGE_TASK_DETAILS_PATH", cfg.Documents.TaskDetailsPath)

	cfg.Logging.Level = getEnv("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.JSON = getEnvBool("LOG_JSON", cfg.Logging.JSON)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	switch c.Vector.Provider {
	case "pgvector":
		if c.Vector.URL == "" {
			return fmt.Errorf("VECTOR_STORE_URL is required for the pgvector provider")
		}
	case "qdrant":
	case "memory": // in-process store for development and tests
	default:
		return fmt.Errorf("unknown vector store provider %q", c.Vector.Provider)
	}

	if _, err := parseClock(c.Planner.WorkHoursStart); err != nil {
		return fmt.Errorf("invalid WORK_HOURS_START: %w", err)
	}
	if _, err := parseClock(c.Planner.WorkHoursEnd); err != nil {
		return fmt.Errorf("invalid WORK_HOURS_END: %w", err)
	}

	if len(c.Retrieval.RerankWeights) != 4 {
		return fmt.Errorf("RERANK_WEIGHTS must have 4 components, got %d", len(c.Retrieval.RerankWeights))
	}
	var sum float64
	for _, w := range c.Retrieval.RerankWeights {
		if w < 0 {
			return fmt.Errorf("rerank weights must be non-negative")
		}
		sum += w
	}
	if sum < 0.999 || sum > 1.001 {
		return fmt.Errorf("rerank weights must sum to 1, got %.3f", sum)
	}

	if c.Cache.Size <= 0 {
		return fmt.Errorf("CACHE_SIZE must be positive")
	}
	if c.Retrieval.MaxConcurrency <= 0 {
		return fmt.Errorf("MAX_RETRIEVAL_CONCURRENCY must be positive")
	}
	return nil
}

func parseWeights(s string) ([]float64, error) {
	parts := strings.Split(s, ",")
	weights := make([]float64, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, err
		}
		weights = append(weights, f)
	}
	return weights, nil
}

func parseClock(s string) (time.Duration, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("expected HH:MM, got %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("bad hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("bad minute in %q", s)
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute, nil
}

// ParseClock exposes HH:MM parsing for the planner.
func ParseClock(s string) (time.Duration, error) { return parseClock(s) }

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1"
	}
	return fallback
}
