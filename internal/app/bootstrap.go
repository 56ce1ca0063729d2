// Package app assembles the retrieval pipeline from configuration. The API
// server and ragctl share it.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/thfmn/ttm-rag/internal/audit"
	"github.com/thfmn/ttm-rag/internal/cache/redis"
	"github.com/thfmn/ttm-rag/internal/chunker"
	"github.com/thfmn/ttm-rag/internal/embedding"
	"github.com/thfmn/ttm-rag/internal/generation"
	"github.com/thfmn/ttm-rag/internal/ingestion"
	"github.com/thfmn/ttm-rag/internal/llm"
	"github.com/thfmn/ttm-rag/internal/models"
	"github.com/thfmn/ttm-rag/internal/ollama"
	"github.com/thfmn/ttm-rag/internal/pipeline"
	"github.com/thfmn/ttm-rag/internal/policy"
	"github.com/thfmn/ttm-rag/internal/preprocess"
	"github.com/thfmn/ttm-rag/internal/query"
	"github.com/thfmn/ttm-rag/internal/vector"
	"github.com/thfmn/ttm-rag/internal/vector/pgvector"
	"github.com/thfmn/ttm-rag/internal/vector/sqlite"
	"github.com/thfmn/ttm-rag/internal/vector/zilliz"
	"github.com/thfmn/ttm-rag/pkg/config"
	"github.com/thfmn/ttm-rag/pkg/logger"
)

type App struct {
	Config   *config.Config
	Pipeline *pipeline.Pipeline
	Registry *generation.Registry
	Store    vector.Store
	Embedder *embedding.Embedder

	cache *redis.Client
}

// Build connects to the configured backends. A Redis outage is logged and
// the pipeline runs without caching; every other failure is returned.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	store, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var cache *redis.Client
	if cfg.Redis.Enabled {
		cache, err = redis.NewClient(ctx, redis.Options{
			Host:         cfg.Redis.Host,
			Port:         cfg.Redis.Port,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			EmbeddingTTL: time.Duration(cfg.Redis.EmbeddingTTLSec) * time.Second,
			QueryTTL:     time.Duration(cfg.Redis.QueryTTLSec) * time.Second,
		})
		if err != nil {
			logger.Warn("Redis unavailable, continuing without cache", zap.Error(err))
			cache = nil
		}
	}

	app, err := assemble(cfg, store, cache)
	if err != nil {
		_ = store.Close()
		if cache != nil {
			_ = cache.Close()
		}
		return nil, err
	}
	return app, nil
}

func assemble(cfg *config.Config, store vector.Store, cache *redis.Client) (*App, error) {
	backend, err := NewEmbeddingBackend(cfg)
	if err != nil {
		return nil, err
	}

	var shared embedding.SharedCache
	if cache != nil {
		shared = cache
	}
	embedder, err := embedding.New(backend, embedding.Config{
		BatchSize: cfg.Embedding.BatchSize,
		Workers:   cfg.Embedding.Workers,
		Timeout:   time.Duration(cfg.Embedding.TimeoutSec) * time.Second,
		CacheSize: cfg.Embedding.CacheSize,
	}, shared)
	if err != nil {
		return nil, err
	}

	chunkCfg := chunker.Config{
		ChunkSize:    cfg.Chunker.ChunkSize,
		Overlap:      cfg.Chunker.Overlap,
		MinChunkSize: cfg.Chunker.MinChunkSize,
		UseSegmenter: cfg.Chunker.UseSegmenter,
	}
	ch, err := chunker.New(chunkCfg)
	if err != nil {
		return nil, err
	}

	processor, err := ingestion.NewProcessor(ch, embedder, store, NewPreprocessChain(cfg), ingestion.Config{
		BatchSize: cfg.Ingestion.BatchSize,
	})
	if err != nil {
		return nil, err
	}

	registry, err := NewRegistry(cfg)
	if err != nil {
		return nil, err
	}

	gate, err := policy.NewGate(cfg.Policy.MinCitations, cfg.Policy.Threshold)
	if err != nil {
		return nil, err
	}

	engine, err := query.NewEngine(embedder, store, registry, gate, query.Config{
		TopK:            cfg.Query.TopK,
		SimilarityFloor: cfg.Query.SimilarityFloor,
		MaxContextChars: cfg.Query.MaxContextChars,
	})
	if err != nil {
		return nil, err
	}

	var queryCache pipeline.QueryCache
	if cache != nil && cfg.Query.CacheEnabled {
		queryCache = cache
	}

	p, err := pipeline.New(pipeline.Options{
		Processor: processor,
		Engine:    engine,
		Store:     store,
		Registry:  registry,
		Gate:      gate,
		Embedder:  embedder,
		Chunker:   chunkCfg,
		Recorder:  audit.NewLogRecorder(logger.GetLogger()),
		Cache:     queryCache,
	})
	if err != nil {
		return nil, err
	}

	logger.Info("Pipeline assembled",
		zap.String("vector_backend", store.Kind().String()),
		zap.String("embedding_backend", backend.Name()),
		zap.String("default_model", registry.Default().ID),
		zap.Bool("query_cache", queryCache != nil),
	)

	return &App{
		Config:   cfg,
		Pipeline: p,
		Registry: registry,
		Store:    store,
		Embedder: embedder,
		cache:    cache,
	}, nil
}

// Close releases the store and the cache connection.
func (a *App) Close() error {
	var errs []error
	if err := a.Pipeline.Close(); err != nil {
		errs = append(errs, err)
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func OpenStore(ctx context.Context, cfg *config.Config) (vector.Store, error) {
	kind, err := vector.ParseKind(cfg.Vector.Backend)
	if err != nil {
		return nil, err
	}

	switch kind {
	case vector.KindNative:
		return pgvector.Open(ctx, pgvector.Options{
			DSN:          cfg.Vector.Postgres.DSN,
			Table:        cfg.Vector.Postgres.Table,
			Dimension:    cfg.Embedding.Dimension,
			MaxTopK:      cfg.Vector.MaxTopK,
			MaxOpenConns: cfg.Vector.Postgres.MaxOpenConns,
		})
	case vector.KindMilvus:
		return zilliz.NewClient(ctx, zilliz.Options{
			Endpoint:       cfg.Vector.Milvus.Endpoint,
			APIKey:         cfg.Vector.Milvus.APIKey,
			CollectionName: cfg.Vector.Milvus.CollectionName,
			Dimension:      cfg.Embedding.Dimension,
			MaxTopK:        cfg.Vector.MaxTopK,
		})
	default:
		return sqlite.Open(ctx, sqlite.Options{
			Path:      cfg.Vector.SQLite.Path,
			Dimension: cfg.Embedding.Dimension,
			MaxTopK:   cfg.Vector.MaxTopK,
		})
	}
}

func NewEmbeddingBackend(cfg *config.Config) (embedding.Backend, error) {
	ec := cfg.Embedding
	timeout := time.Duration(ec.TimeoutSec) * time.Second

	switch strings.ToLower(ec.Provider) {
	case "openai":
		if ec.OpenAI.APIKey == "" {
			return nil, fmt.Errorf("%w: embedding.openai.apiKey is not set", models.ErrEmbedderUnavailable)
		}
		model := ec.OpenAI.Model
		if model == "" {
			model = ec.Model
		}
		client := llm.NewClient(llm.Config{
			Name:           "embedding",
			APIKey:         ec.OpenAI.APIKey,
			BaseURL:        ec.OpenAI.BaseURL,
			EmbeddingModel: model,
			Timeout:        timeout,
		})
		return embedding.NewOpenAIBackend(client, model, ec.Dimension)
	case "ollama":
		model := ec.Ollama.Model
		if model == "" {
			model = ec.Model
		}
		client := ollama.NewClient(ollama.Endpoint{
			BaseURL: ec.Ollama.BaseURL,
			Model:   model,
			Token:   ec.Ollama.APIKey,
		}, &http.Client{Timeout: timeout})
		return embedding.NewOllamaBackend(client, ec.Dimension)
	case "hash":
		return embedding.NewHashBackend(ec.Dimension), nil
	default:
		return nil, fmt.Errorf("%w: unknown embedding provider %q", models.ErrConfiguration, ec.Provider)
	}
}

// NewRegistry binds the catalog models to their backends. Adapters are
// built on first use, so unreachable backends do not block startup.
func NewRegistry(cfg *config.Config) (*generation.Registry, error) {
	gc := cfg.Generation
	timeout := time.Duration(gc.TimeoutSec) * time.Second

	factories := map[string]generation.Factory{
		generation.ModelTyphoon: generation.NewLocalFactory(generation.LocalConfig{
			Endpoint: ollama.Endpoint{
				BaseURL: gc.Ollama.BaseURL,
				Model:   gc.Ollama.Model,
				Token:   gc.Ollama.APIKey,
			},
			HTTPClient:  &http.Client{Timeout: timeout},
			Timeout:     timeout,
			Temperature: gc.Temperature,
			MaxTokens:   gc.MaxTokens,
		}),
		generation.ModelGPT4oMini: generation.NewHostedFactory(llm.Config{
			Name:        generation.ModelGPT4oMini,
			APIKey:      gc.OpenAI.APIKey,
			BaseURL:     gc.OpenAI.BaseURL,
			Model:       gc.OpenAI.Model,
			Temperature: gc.Temperature,
			MaxTokens:   gc.MaxTokens,
			Timeout:     timeout,
		}),
		generation.ModelQwen3Code: generation.NewCompatibleFactory(llm.Config{
			Name:        generation.ModelQwen3Code,
			APIKey:      gc.Compatible.APIKey,
			BaseURL:     gc.Compatible.BaseURL,
			Model:       gc.Compatible.Model,
			Temperature: gc.Temperature,
			MaxTokens:   gc.MaxTokens,
			Timeout:     timeout,
		}),
	}

	return generation.NewRegistry(generation.DefaultCatalog(gc.DefaultModel), factories)
}

func NewPreprocessChain(cfg *config.Config) *preprocess.Chain {
	var steps []preprocess.Preprocessor
	if cfg.Ingestion.CleanHTML {
		steps = append(steps, preprocess.HTMLCleaner{})
	}
	steps = append(steps, preprocess.ControlCharNormalizer{})
	if cfg.Ingestion.RedactPII {
		steps = append(steps, preprocess.PIIRedactor{})
	}
	return preprocess.NewChain(steps...)
}
