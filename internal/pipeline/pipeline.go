package pipeline

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/thfmn/ttm-rag/internal/audit"
	"github.com/thfmn/ttm-rag/internal/chunker"
	"github.com/thfmn/ttm-rag/internal/generation"
	"github.com/thfmn/ttm-rag/internal/ingestion"
	"github.com/thfmn/ttm-rag/internal/metrics"
	"github.com/thfmn/ttm-rag/internal/models"
	"github.com/thfmn/ttm-rag/internal/policy"
	"github.com/thfmn/ttm-rag/internal/query"
	"github.com/thfmn/ttm-rag/internal/vector"
	"github.com/thfmn/ttm-rag/pkg/logger"
)

const (
	ToolIngest      = "ingest"
	ToolIngestBatch = "ingest_batch"
	ToolQuery       = "query"
	ToolDelete      = "delete"
)

// QueryCache stores finished query results. The redis cache client
// satisfies it.
type QueryCache interface {
	GetQuery(ctx context.Context, queryHash string, response any) (bool, error)
	SetQuery(ctx context.Context, queryHash string, response any) error
	InvalidateQueries(ctx context.Context) error
}

// EmbedderInfo describes the embedder for Stats.
type EmbedderInfo interface {
	BackendName() string
	Dimension() int
	BatchSize() int
}

type Options struct {
	Processor *ingestion.Processor
	Engine    *query.Engine
	Store     vector.Store
	Registry  *generation.Registry
	Gate      *policy.Gate
	Embedder  EmbedderInfo
	Chunker   chunker.Config
	Recorder  audit.Recorder
	Cache     QueryCache
}

// Pipeline is the entry point used by the HTTP API and the CLI. It adds
// auditing, metrics and result caching around ingestion and queries.
type Pipeline struct {
	processor *ingestion.Processor
	engine    *query.Engine
	store     vector.Store
	registry  *generation.Registry
	gate      *policy.Gate
	embedder  EmbedderInfo
	chunker   chunker.Config
	recorder  audit.Recorder
	cache     QueryCache
}

func New(opts Options) (*Pipeline, error) {
	if opts.Processor == nil || opts.Engine == nil || opts.Store == nil {
		return nil, fmt.Errorf("%w: pipeline needs a processor, an engine and a store", models.ErrConfiguration)
	}
	if opts.Recorder == nil {
		opts.Recorder = audit.Nop()
	}

	return &Pipeline{
		processor: opts.Processor,
		engine:    opts.Engine,
		store:     opts.Store,
		registry:  opts.Registry,
		gate:      opts.Gate,
		embedder:  opts.Embedder,
		chunker:   opts.Chunker,
		recorder:  opts.Recorder,
		cache:     opts.Cache,
	}, nil
}

func (p *Pipeline) Ingest(ctx context.Context, doc models.Document) (int, error) {
	started := time.Now()

	n, err := p.processor.Ingest(ctx, doc)
	if err == nil {
		p.invalidate(ctx)
	}

	p.recorder.Record(ctx, audit.New(ToolIngest, doc, map[string]any{"document_id": doc.ID, "chunks": n}, started, err))
	return n, err
}

func (p *Pipeline) IngestBatch(ctx context.Context, docs []models.Document) (models.IngestStats, error) {
	started := time.Now()

	stats, err := p.processor.IngestBatch(ctx, docs)
	if stats.DocumentsProcessed > 0 {
		p.invalidate(ctx)
	}

	output := map[string]any{
		"documents_processed": stats.DocumentsProcessed,
		"documents_failed":    stats.DocumentsFailed,
		"chunks_stored":       stats.ChunksStored,
	}
	p.recorder.Record(ctx, audit.New(ToolIngestBatch, docs, output, started, err))
	return stats, err
}

func (p *Pipeline) Delete(ctx context.Context, documentID string) (int, error) {
	started := time.Now()

	n, err := p.processor.Delete(ctx, documentID)
	if err == nil && n > 0 {
		p.invalidate(ctx)
	}

	p.recorder.Record(ctx, audit.New(ToolDelete,
		map[string]any{"document_id": documentID},
		map[string]any{"deleted": n},
		started, err))
	return n, err
}

func (p *Pipeline) Query(ctx context.Context, req models.QueryRequest) (*models.QueryResult, error) {
	started := time.Now()
	mode := "retrieval"
	if req.Model != "" {
		mode = "generation"
	}

	key := p.cacheKey(req)
	if cached := p.cached(ctx, key); cached != nil {
		metrics.QueryTotal.WithLabelValues("cached").Inc()
		p.recorder.Record(ctx, audit.New(ToolQuery, req, auditOutput(cached), started, nil))
		return cached, nil
	}

	result, err := p.engine.Query(ctx, req)

	metrics.QueryDuration.WithLabelValues(mode).Observe(time.Since(started).Seconds())
	if err != nil {
		metrics.QueryTotal.WithLabelValues("error").Inc()
		p.recorder.Record(ctx, audit.New(ToolQuery, req, nil, started, err))
		return nil, err
	}
	metrics.QueryTotal.WithLabelValues("ok").Inc()

	if key != "" && !result.Degraded {
		if err := p.cache.SetQuery(ctx, key, result); err != nil {
			logger.Warn("Failed to cache query result", zap.Error(err))
		}
	}

	p.recorder.Record(ctx, audit.New(ToolQuery, req, auditOutput(result), started, nil))
	return result, nil
}

// auditOutput drops the per-call query id so equal results hash equally.
func auditOutput(result *models.QueryResult) models.QueryResult {
	out := *result
	out.QueryID = ""
	return out
}

func (p *Pipeline) cacheKey(req models.QueryRequest) string {
	if p.cache == nil {
		return ""
	}
	h, err := audit.Hash(req)
	if err != nil {
		return ""
	}
	return hex.EncodeToString(h)
}

func (p *Pipeline) cached(ctx context.Context, key string) *models.QueryResult {
	if key == "" {
		return nil
	}

	var result models.QueryResult
	found, err := p.cache.GetQuery(ctx, key, &result)
	if err != nil {
		logger.Warn("Query cache lookup failed", zap.Error(err))
		return nil
	}
	if !found {
		metrics.CacheMisses.WithLabelValues("query").Inc()
		return nil
	}

	metrics.CacheHits.WithLabelValues("query").Inc()
	return &result
}

func (p *Pipeline) invalidate(ctx context.Context) {
	if p.cache == nil {
		return
	}
	if err := p.cache.InvalidateQueries(ctx); err != nil {
		logger.Warn("Failed to invalidate query cache", zap.Error(err))
	}
}

// Models returns the model catalog, or nil when generation is not configured.
func (p *Pipeline) Models() []models.ModelDescriptor {
	if p.registry == nil {
		return nil
	}
	return p.registry.Models()
}

// ValidateModel reports whether id can be used in a query.
func (p *Pipeline) ValidateModel(id string) error {
	if id == "" {
		return nil
	}
	if p.registry == nil {
		return fmt.Errorf("%w: no models are configured", models.ErrAdapterLookup)
	}
	return p.registry.Validate(id)
}

func (p *Pipeline) Close() error {
	return p.store.Close()
}
