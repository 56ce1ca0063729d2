package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thfmn/ttm-rag/internal/audit"
	"github.com/thfmn/ttm-rag/internal/cache/redis"
	"github.com/thfmn/ttm-rag/internal/chunker"
	"github.com/thfmn/ttm-rag/internal/embedding"
	"github.com/thfmn/ttm-rag/internal/generation"
	"github.com/thfmn/ttm-rag/internal/ingestion"
	"github.com/thfmn/ttm-rag/internal/models"
	"github.com/thfmn/ttm-rag/internal/policy"
	"github.com/thfmn/ttm-rag/internal/preprocess"
	"github.com/thfmn/ttm-rag/internal/query"
	"github.com/thfmn/ttm-rag/internal/vector"
	"github.com/thfmn/ttm-rag/internal/vector/sqlite"
)

const dim = 256

type searchCounter struct {
	vector.Store
	searches atomic.Int32
}

func (s *searchCounter) Search(ctx context.Context, q []float32, topK int, filters map[string]any) ([]models.RetrievalHit, error) {
	s.searches.Add(1)
	return s.Store.Search(ctx, q, topK, filters)
}

type fixture struct {
	pipeline *Pipeline
	store    *searchCounter
	recorder *audit.MemoryRecorder
	redis    *miniredis.Miniredis
}

func newFixture(t *testing.T, complete func(context.Context, string, *int) (string, error)) *fixture {
	t.Helper()
	ctx := context.Background()

	s, err := sqlite.Open(ctx, sqlite.Options{Path: filepath.Join(t.TempDir(), "vectors.db"), Dimension: dim, MaxTopK: 50})
	require.NoError(t, err)
	store := &searchCounter{Store: s}

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	cache := redis.NewFromClient(rdb, time.Hour, time.Minute)

	emb, err := embedding.New(embedding.NewHashBackend(dim), embedding.Config{BatchSize: 4}, cache)
	require.NoError(t, err)

	chunkCfg := chunker.Config{ChunkSize: 120, Overlap: 10, MinChunkSize: 30}
	ch, err := chunker.New(chunkCfg)
	require.NoError(t, err)

	proc, err := ingestion.NewProcessor(ch, emb, store, preprocess.NewChain(preprocess.HTMLCleaner{}), ingestion.Config{BatchSize: 4})
	require.NoError(t, err)

	catalog := generation.DefaultCatalog(generation.ModelTyphoon)
	factories := map[string]generation.Factory{}
	if complete != nil {
		factories[generation.ModelTyphoon] = generation.StaticFactory(generation.NewFuncAdapter(catalog[0], time.Second, complete))
	}
	registry, err := generation.NewRegistry(catalog, factories)
	require.NoError(t, err)

	gate, err := policy.NewGate(1, 0)
	require.NoError(t, err)

	engine, err := query.NewEngine(emb, store, registry, gate, query.Config{TopK: 5, MaxContextChars: 2000})
	require.NoError(t, err)

	rec := &audit.MemoryRecorder{}
	p, err := New(Options{
		Processor: proc,
		Engine:    engine,
		Store:     store,
		Registry:  registry,
		Gate:      gate,
		Embedder:  emb,
		Chunker:   chunkCfg,
		Recorder:  rec,
		Cache:     cache,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	return &fixture{pipeline: p, store: store, recorder: rec, redis: mr}
}

func herbDoc(id, herb string) models.Document {
	var b strings.Builder
	for i := 0; i < 6; i++ {
		fmt.Fprintf(&b, "%s is used in Thai traditional medicine for fever and sore throat, remark %d. ", herb, i)
	}
	return models.Document{ID: id, Content: b.String(), Metadata: map[string]any{"title": herb}}
}

func tools(recs []audit.Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.Tool
	}
	return out
}

func TestNewRequiresComponents(t *testing.T) {
	_, err := New(Options{})
	assert.True(t, errors.Is(err, models.ErrConfiguration))
}

func TestIngestQueryDeleteAreAudited(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	n, err := f.pipeline.Ingest(ctx, herbDoc("doc-1", "Andrographis paniculata"))
	require.NoError(t, err)
	assert.Greater(t, n, 0)

	res, err := f.pipeline.Query(ctx, models.QueryRequest{Query: "Andrographis paniculata fever"})
	require.NoError(t, err)
	assert.Equal(t, models.DecisionRetrieval, res.Decision)
	require.NotEmpty(t, res.Context)
	assert.Equal(t, "doc-1", res.Context[0].DocumentID)

	deleted, err := f.pipeline.Delete(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, n, deleted)

	recs := f.recorder.Records()
	assert.Equal(t, []string{ToolIngest, ToolQuery, ToolDelete}, tools(recs))
	for _, r := range recs {
		assert.Equal(t, audit.StatusOK, r.Status)
		assert.NotEmpty(t, r.InputHash)
		assert.NotEmpty(t, r.OutputHash)
	}

	seed, err := audit.InputSeed(models.QueryRequest{Query: "Andrographis paniculata fever"})
	require.NoError(t, err)
	assert.Equal(t, seed, recs[1].Seed)
}

func TestFailedCallsAreAudited(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.pipeline.Query(ctx, models.QueryRequest{Query: "   "})
	assert.True(t, errors.Is(err, models.ErrValidation))

	_, err = f.pipeline.Ingest(ctx, models.Document{ID: "", Content: "x"})
	assert.Error(t, err)

	recs := f.recorder.Records()
	require.Len(t, recs, 2)
	for _, r := range recs {
		assert.Equal(t, audit.StatusError, r.Status)
		assert.NotEmpty(t, r.Error)
	}
}

func TestQueryResultsAreCachedUntilIngest(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.pipeline.Ingest(ctx, herbDoc("doc-1", "Andrographis paniculata"))
	require.NoError(t, err)

	req := models.QueryRequest{Query: "Andrographis fever", TopK: 3}
	first, err := f.pipeline.Query(ctx, req)
	require.NoError(t, err)
	second, err := f.pipeline.Query(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, int32(1), f.store.searches.Load())
	assert.Equal(t, first.Sources, second.Sources)
	assert.Equal(t, first.CombinedContext, second.CombinedContext)

	_, err = f.pipeline.Ingest(ctx, herbDoc("doc-2", "Zingiber officinale"))
	require.NoError(t, err)

	_, err = f.pipeline.Query(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, int32(2), f.store.searches.Load())
}

func TestRepeatedQueryHasStableOutputHash(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.pipeline.Ingest(ctx, herbDoc("d1", "Andrographis paniculata"))
	require.NoError(t, err)

	req := models.QueryRequest{Query: "Andrographis fever"}
	first, err := f.pipeline.Query(ctx, req)
	require.NoError(t, err)
	f.redis.FlushAll()
	second, err := f.pipeline.Query(ctx, req)
	require.NoError(t, err)

	require.Equal(t, int32(2), f.store.searches.Load())
	assert.NotEqual(t, first.QueryID, second.QueryID)

	recs := f.recorder.Records()
	require.Len(t, recs, 3)
	assert.Equal(t, recs[1].InputHash, recs[2].InputHash)
	assert.Equal(t, recs[1].OutputHash, recs[2].OutputHash)
}

func TestDegradedResultsAreNotCached(t *testing.T) {
	f := newFixture(t, func(context.Context, string, *int) (string, error) {
		return "", errors.New("backend down")
	})
	ctx := context.Background()

	_, err := f.pipeline.Ingest(ctx, herbDoc("doc-1", "Andrographis paniculata"))
	require.NoError(t, err)

	req := models.QueryRequest{Query: "Andrographis fever", Model: generation.ModelTyphoon}
	res, err := f.pipeline.Query(ctx, req)
	require.NoError(t, err)
	assert.True(t, res.Degraded)

	_, err = f.pipeline.Query(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, int32(2), f.store.searches.Load())
}

func TestGeneratedAnswerIsReleased(t *testing.T) {
	f := newFixture(t, func(context.Context, string, *int) (string, error) {
		return "Fa Thalai is traditionally used for sore throat.", nil
	})
	ctx := context.Background()

	_, err := f.pipeline.Ingest(ctx, herbDoc("doc-1", "Andrographis paniculata"))
	require.NoError(t, err)

	res, err := f.pipeline.Query(ctx, models.QueryRequest{Query: "Andrographis sore throat", Model: generation.ModelTyphoon})
	require.NoError(t, err)
	assert.Equal(t, models.DecisionRelease, res.Decision)
	assert.Equal(t, "Fa Thalai is traditionally used for sore throat.", res.Answer)
	assert.Contains(t, res.Disclaimers, policy.GeneralDisclaimer)
}

func TestCacheOutageDoesNotFailQueries(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.pipeline.Ingest(ctx, herbDoc("doc-1", "Andrographis paniculata"))
	require.NoError(t, err)

	f.redis.Close()

	res, err := f.pipeline.Query(ctx, models.QueryRequest{Query: "Andrographis"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Context)
}

func TestIngestBatchStatsAndAudit(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	stats, err := f.pipeline.IngestBatch(ctx, []models.Document{
		herbDoc("doc-1", "Andrographis paniculata"),
		{ID: "empty", Content: ""},
		herbDoc("doc-2", "Zingiber officinale"),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.DocumentsProcessed)
	assert.Equal(t, 1, stats.DocumentsFailed)

	recs := f.recorder.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, ToolIngestBatch, recs[0].Tool)
}

func TestStatsAndModels(t *testing.T) {
	f := newFixture(t, func(context.Context, string, *int) (string, error) { return "ok", nil })
	ctx := context.Background()

	_, err := f.pipeline.Ingest(ctx, herbDoc("doc-1", "Andrographis paniculata"))
	require.NoError(t, err)

	stats, err := f.pipeline.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Store.UniqueDocuments)
	assert.Greater(t, stats.Store.TotalChunks, 0)
	assert.Equal(t, dim, stats.Embedding.Dimension)
	assert.Equal(t, 4, stats.Embedding.BatchSize)
	assert.Equal(t, 120, stats.Chunker.ChunkSize)
	assert.Equal(t, 5, stats.Retrieval.TopK)
	assert.Equal(t, 1, stats.Policy.MinCitations)
	assert.Equal(t, generation.ModelTyphoon, stats.Default)
	assert.Empty(t, stats.Models)

	assert.Len(t, f.pipeline.Models(), 3)
	assert.NoError(t, f.pipeline.ValidateModel(""))
	assert.NoError(t, f.pipeline.ValidateModel(generation.AutoModel))
	assert.True(t, errors.Is(f.pipeline.ValidateModel("nope"), models.ErrAdapterLookup))
}
