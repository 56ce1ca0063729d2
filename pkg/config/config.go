package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	Logging    LoggingConfig
	Chunker    ChunkerConfig
	Embedding  EmbeddingConfig
	Redis      RedisConfig
	Vector     VectorConfig
	Query      QueryConfig
	Ingestion  IngestionConfig
	Generation GenerationConfig
	Policy     PolicyConfig
	RateLimit  RateLimitConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
	AllowOrigins string
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

type ChunkerConfig struct {
	ChunkSize    int
	Overlap      int
	MinChunkSize int
	UseSegmenter bool
}

type EmbeddingConfig struct {
	Provider   string
	Model      string
	Dimension  int
	BatchSize  int
	Workers    int
	TimeoutSec int
	CacheSize  int
	OpenAI     OpenAIConfig
	Ollama     OllamaConfig
}

type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

type OllamaConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

type RedisConfig struct {
	Enabled         bool
	Host            string
	Port            int
	Password        string
	DB              int
	EmbeddingTTLSec int
	QueryTTLSec     int
}

type VectorConfig struct {
	Backend  string
	MaxTopK  int
	Postgres PostgresConfig
	SQLite   SQLiteConfig
	Milvus   MilvusConfig
}

type PostgresConfig struct {
	DSN          string
	Table        string
	MaxOpenConns int
}

type SQLiteConfig struct {
	Path string
}

type MilvusConfig struct {
	Endpoint       string
	APIKey         string
	CollectionName string
}

type QueryConfig struct {
	TopK            int
	SimilarityFloor float64
	MaxContextChars int
	CacheEnabled    bool
}

type IngestionConfig struct {
	BatchSize int
	CleanHTML bool
	RedactPII bool
}

type GenerationConfig struct {
	DefaultModel string
	TimeoutSec   int
	Temperature  float32
	MaxTokens    int
	Ollama       OllamaConfig
	OpenAI       OpenAIConfig
	Compatible   OpenAIConfig
}

type PolicyConfig struct {
	MinCitations int
	Threshold    float64
}

type RateLimitConfig struct {
	Enabled           bool
	RequestsPerMinute int
	Burst             int
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/ttm-rag")

	return load(v)
}

// LoadFile reads an explicit config file instead of searching the default paths.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix("TTM_RAG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	bindSecrets(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Chunker.ChunkSize <= 0 {
		return fmt.Errorf("chunker.chunkSize must be positive, got %d", c.Chunker.ChunkSize)
	}
	if c.Chunker.Overlap < 0 || c.Chunker.Overlap >= c.Chunker.ChunkSize {
		return fmt.Errorf("chunker.overlap must be in [0, chunkSize), got %d", c.Chunker.Overlap)
	}
	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("embedding.dimension must be positive, got %d", c.Embedding.Dimension)
	}
	if c.Embedding.BatchSize <= 0 {
		return fmt.Errorf("embedding.batchSize must be positive, got %d", c.Embedding.BatchSize)
	}
	switch c.Vector.Backend {
	case "pgvector", "sqlite", "milvus", "zilliz":
	default:
		return fmt.Errorf("unknown vector.backend %q", c.Vector.Backend)
	}
	if c.Vector.Backend == "pgvector" && c.Vector.Postgres.DSN == "" {
		return fmt.Errorf("vector.postgres.dsn is required for the pgvector backend")
	}
	if c.Query.TopK < 1 || c.Query.TopK > c.Vector.MaxTopK {
		return fmt.Errorf("query.topK must be in [1, %d], got %d", c.Vector.MaxTopK, c.Query.TopK)
	}
	if c.Policy.MinCitations < 0 {
		return fmt.Errorf("policy.minCitations must not be negative")
	}
	if c.Policy.Threshold < 0 || c.Policy.Threshold > 1 {
		return fmt.Errorf("policy.threshold must be in [0, 1], got %v", c.Policy.Threshold)
	}
	return nil
}

// bindSecrets maps the conventional provider variables onto config keys.
func bindSecrets(v *viper.Viper) {
	_ = v.BindEnv("embedding.openai.apiKey", "TTM_RAG_EMBEDDING_OPENAI_APIKEY", "OPENAI_API_KEY")
	_ = v.BindEnv("generation.openai.apiKey", "TTM_RAG_GENERATION_OPENAI_APIKEY", "OPENAI_API_KEY")
	_ = v.BindEnv("generation.compatible.apiKey", "TTM_RAG_GENERATION_COMPATIBLE_APIKEY", "QWEN_API_KEY")
	_ = v.BindEnv("generation.compatible.baseURL", "TTM_RAG_GENERATION_COMPATIBLE_BASEURL", "QWEN_BASE_URL")
	_ = v.BindEnv("vector.postgres.dsn", "TTM_RAG_VECTOR_POSTGRES_DSN", "DATABASE_URL")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 120)
	v.SetDefault("server.bodyLimit", 10485760)
	v.SetDefault("server.allowOrigins", "*")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")

	v.SetDefault("chunker.chunkSize", 512)
	v.SetDefault("chunker.overlap", 50)
	v.SetDefault("chunker.minChunkSize", 100)
	v.SetDefault("chunker.useSegmenter", true)

	v.SetDefault("embedding.provider", "ollama")
	v.SetDefault("embedding.model", "nomic-embed-text")
	v.SetDefault("embedding.dimension", 768)
	v.SetDefault("embedding.batchSize", 32)
	v.SetDefault("embedding.workers", 4)
	v.SetDefault("embedding.timeoutSec", 30)
	v.SetDefault("embedding.cacheSize", 10000)
	v.SetDefault("embedding.openai.model", "text-embedding-3-small")
	v.SetDefault("embedding.ollama.baseURL", "http://localhost:11434")
	v.SetDefault("embedding.ollama.model", "nomic-embed-text")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.embeddingTTLSec", 604800)
	v.SetDefault("redis.queryTTLSec", 3600)

	v.SetDefault("vector.backend", "sqlite")
	v.SetDefault("vector.maxTopK", 100)
	v.SetDefault("vector.postgres.table", "chunk_embeddings")
	v.SetDefault("vector.postgres.maxOpenConns", 10)
	v.SetDefault("vector.sqlite.path", "./data/ttm_rag.db")
	v.SetDefault("vector.milvus.endpoint", "localhost:19530")
	v.SetDefault("vector.milvus.collectionName", "ttm_chunks")

	v.SetDefault("query.topK", 5)
	v.SetDefault("query.similarityFloor", 0.3)
	v.SetDefault("query.maxContextChars", 4000)
	v.SetDefault("query.cacheEnabled", true)

	v.SetDefault("ingestion.batchSize", 32)
	v.SetDefault("ingestion.cleanHTML", true)
	v.SetDefault("ingestion.redactPII", false)

	v.SetDefault("generation.defaultModel", "hf-typhoon-7b")
	v.SetDefault("generation.timeoutSec", 60)
	v.SetDefault("generation.temperature", 0.2)
	v.SetDefault("generation.maxTokens", 1024)
	v.SetDefault("generation.ollama.baseURL", "http://localhost:11434")
	v.SetDefault("generation.ollama.model", "scb10x/llama3.1-typhoon2-8b-instruct")
	v.SetDefault("generation.openai.model", "gpt-4o-mini")
	v.SetDefault("generation.compatible.model", "qwen3-coder")

	v.SetDefault("policy.minCitations", 3)
	v.SetDefault("policy.threshold", 0.6)

	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("ratelimit.requestsPerMinute", 120)
	v.SetDefault("ratelimit.burst", 20)
}
