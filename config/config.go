package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"ragserver/types"
)

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// EmbeddingConfig selects and configures the embedding provider.
type EmbeddingConfig struct {
	Provider    string `yaml:"provider"` // ollama or openai
	URL         string `yaml:"url"`
	Model       string `yaml:"model"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Dimension   int    `yaml:"dimension"`
	BatchSize   int    `yaml:"batch_size"`
	MaxAttempts int    `yaml:"max_attempts"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// StoreConfig selects the vector store backend.
type StoreConfig struct {
	Provider  string `yaml:"provider"` // memory or postgres
	IndexName string `yaml:"index_name"`
}

// ChunkerConfig holds the default chunking parameters. Per-request overrides
// may replace them within the allowed ranges.
type ChunkerConfig struct {
	Method       string `yaml:"method"` // recursive, simple or sentence
	ChunkSize    int    `yaml:"chunk_size"`
	ChunkOverlap int    `yaml:"chunk_overlap"`
	MinChunkSize int    `yaml:"min_chunk_size"`
}

type RetrievalConfig struct {
	TopK                int     `yaml:"top_k"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	UseReranking        bool    `yaml:"use_reranking"`
	RerankMultiplier    int     `yaml:"rerank_multiplier"`
}

type GenerationConfig struct {
	URL              string `yaml:"url"`
	Model            string `yaml:"model"`
	SystemPrompt     string `yaml:"system_prompt"`
	MaxContextTokens int    `yaml:"max_context_tokens"`
	TimeoutSecs      int    `yaml:"timeout_secs"`
}

// IngestConfig tunes the ingestion orchestrator.
type IngestConfig struct {
	Workers                int   `yaml:"workers"`
	QueueSize              int   `yaml:"queue_size"`
	DuplicateSizeTolerance int64 `yaml:"duplicate_size_tolerance"`
	PollIntervalMillis     int   `yaml:"poll_interval_millis"`
	PollMaxAttempts        int   `yaml:"poll_max_attempts"`
	ExtractMetadata        bool  `yaml:"extract_metadata"`
	DetectLanguage         bool  `yaml:"detect_language"`
}

// DataConfig is the persisted directory layout: raw uploads, processed-text
// snapshots and per-document status records.
type DataConfig struct {
	RawDir       string `yaml:"raw_dir"`
	ProcessedDir string `yaml:"processed_dir"`
	StatusDir    string `yaml:"status_dir"`
}

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Store      StoreConfig      `yaml:"store"`
	Chunker    ChunkerConfig    `yaml:"chunker"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Generation GenerationConfig `yaml:"generation"`
	Ingest     IngestConfig     `yaml:"ingest"`
	Data       DataConfig       `yaml:"data"`
}

// Load reads a config from path. A missing file yields the defaults; an
// invalid one is a startup error, not a per-document one. Defaults are
// applied before the file is decoded, so keys absent from the YAML keep
// their defaults while an explicit zero stays zero.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, cfg.Validate()
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = getenvDefault("SERVER_ADDR", ":8080")
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "ollama"
	}
	if cfg.Embedding.URL == "" {
		cfg.Embedding.URL = getenvDefault("OLLAMA_EMBEDDING_URL", "http://localhost:11434/api/embeddings")
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = getenvDefault("OLLAMA_EMBEDDING_MODEL", "nomic-embed-text")
	}
	if cfg.Embedding.APIKeyEnv == "" {
		cfg.Embedding.APIKeyEnv = "OPENAI_API_KEY"
	}
	if cfg.Embedding.Dimension == 0 {
		cfg.Embedding.Dimension = 768
	}
	if cfg.Embedding.BatchSize == 0 {
		cfg.Embedding.BatchSize = 16
	}
	if cfg.Embedding.MaxAttempts == 0 {
		cfg.Embedding.MaxAttempts = 3
	}
	if cfg.Embedding.TimeoutSecs == 0 {
		cfg.Embedding.TimeoutSecs = 30
	}
	if cfg.Store.Provider == "" {
		cfg.Store.Provider = "postgres"
	}
	if cfg.Store.IndexName == "" {
		cfg.Store.IndexName = "documents"
	}
	if cfg.Chunker.Method == "" {
		cfg.Chunker.Method = "recursive"
	}
	if cfg.Chunker.ChunkSize == 0 {
		cfg.Chunker.ChunkSize = 1000
	}
	if cfg.Chunker.ChunkOverlap == 0 {
		cfg.Chunker.ChunkOverlap = 200
	}
	if cfg.Chunker.MinChunkSize == 0 {
		cfg.Chunker.MinChunkSize = 100
	}
	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 5
	}
	if cfg.Retrieval.SimilarityThreshold == 0 {
		cfg.Retrieval.SimilarityThreshold = 0.3
	}
	if cfg.Retrieval.RerankMultiplier == 0 {
		cfg.Retrieval.RerankMultiplier = 3
	}
	if cfg.Generation.URL == "" {
		cfg.Generation.URL = getenvDefault("LLM_URL", "http://localhost:11434/api/generate")
	}
	if cfg.Generation.Model == "" {
		cfg.Generation.Model = getenvDefault("LLM_MODEL", "llama3.1")
	}
	if cfg.Generation.SystemPrompt == "" {
		cfg.Generation.SystemPrompt = "You are an assistant that answers strictly from the provided sources. " +
			"Cite sources as [Source N]. If the sources do not contain the answer, say so plainly."
	}
	if cfg.Generation.MaxContextTokens == 0 {
		cfg.Generation.MaxContextTokens = 3000
	}
	if cfg.Generation.TimeoutSecs == 0 {
		cfg.Generation.TimeoutSecs = 120
	}
	if cfg.Ingest.Workers == 0 {
		cfg.Ingest.Workers = 4
	}
	if cfg.Ingest.QueueSize == 0 {
		cfg.Ingest.QueueSize = 64
	}
	if cfg.Ingest.DuplicateSizeTolerance == 0 {
		cfg.Ingest.DuplicateSizeTolerance = 100
	}
	if cfg.Ingest.PollIntervalMillis == 0 {
		cfg.Ingest.PollIntervalMillis = 500
	}
	if cfg.Ingest.PollMaxAttempts == 0 {
		cfg.Ingest.PollMaxAttempts = 120
	}
	if cfg.Data.RawDir == "" {
		cfg.Data.RawDir = "data/raw"
	}
	if cfg.Data.ProcessedDir == "" {
		cfg.Data.ProcessedDir = "data/processed"
	}
	if cfg.Data.StatusDir == "" {
		cfg.Data.StatusDir = "data/status"
	}
}

// Validate rejects configurations the pipeline cannot run with. Chunker
// constraints are enforced here, once, instead of per document.
func (cfg *Config) Validate() error {
	if cfg.Chunker.ChunkOverlap < 0 || cfg.Chunker.ChunkOverlap >= cfg.Chunker.ChunkSize {
		return &types.ChunkingError{Reason: fmt.Sprintf(
			"overlap %d must satisfy 0 <= overlap < chunk_size %d",
			cfg.Chunker.ChunkOverlap, cfg.Chunker.ChunkSize)}
	}
	switch cfg.Chunker.Method {
	case "recursive", "simple", "sentence":
	default:
		return &types.ChunkingError{Reason: "unknown chunker method " + cfg.Chunker.Method}
	}
	if cfg.Embedding.Dimension <= 0 {
		return fmt.Errorf("embedding dimension must be positive, got %d", cfg.Embedding.Dimension)
	}
	if cfg.Retrieval.TopK <= 0 {
		return fmt.Errorf("retrieval top_k must be positive, got %d", cfg.Retrieval.TopK)
	}
	return nil
}

// PostgresDSN assembles the connection string from the environment.
func PostgresDSN() string {
	port, _ := strconv.Atoi(getenvDefault("PG_PORT", "5432"))
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		getenvDefault("PG_HOST", "localhost"), port,
		os.Getenv("PG_USER"), os.Getenv("PG_PASS"), os.Getenv("PG_DB_NAME"))
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
