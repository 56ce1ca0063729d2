package app

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thfmn/ttm-rag/internal/generation"
	"github.com/thfmn/ttm-rag/internal/models"
	"github.com/thfmn/ttm-rag/internal/vector"
	"github.com/thfmn/ttm-rag/pkg/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Chunker:   config.ChunkerConfig{ChunkSize: 200, Overlap: 20, MinChunkSize: 50},
		Embedding: config.EmbeddingConfig{Provider: "hash", Dimension: 256, BatchSize: 8, Workers: 2, TimeoutSec: 5, CacheSize: 100},
		Vector: config.VectorConfig{
			Backend: "sqlite",
			MaxTopK: 20,
			SQLite:  config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "ttm.db")},
		},
		Query:      config.QueryConfig{TopK: 3, MaxContextChars: 1000, CacheEnabled: true},
		Ingestion:  config.IngestionConfig{BatchSize: 4, CleanHTML: true, RedactPII: true},
		Generation: config.GenerationConfig{DefaultModel: generation.ModelTyphoon, TimeoutSec: 1},
		Policy:     config.PolicyConfig{MinCitations: 3, Threshold: 0.6},
	}
}

func atoiPort(t *testing.T, port string) int {
	t.Helper()
	n, err := strconv.Atoi(port)
	require.NoError(t, err)
	return n
}

func TestBuildWithSQLiteAndHashEmbedder(t *testing.T) {
	ctx := context.Background()
	a, err := Build(ctx, testConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	assert.Equal(t, vector.KindFallback, a.Store.Kind())
	assert.Equal(t, 256, a.Embedder.Dimension())

	n, err := a.Pipeline.Ingest(ctx, models.Document{
		ID:      "doc-1",
		Content: "<html><body><p>Plai (Zingiber cassumunar) is used in herbal compress balls.</p><p>Contact someone@example.com</p></body></html>",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	res, err := a.Pipeline.Query(ctx, models.QueryRequest{Query: "herbal compress balls"})
	require.NoError(t, err)
	require.NotEmpty(t, res.Context)
	assert.NotContains(t, res.Context[0].Content, "<p>")
	assert.NotContains(t, res.Context[0].Content, "someone@example.com")
	assert.Contains(t, res.Context[0].Content, "[REDACTED]")
}

func TestBuildWithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.Redis = config.RedisConfig{Enabled: true, Host: mr.Host(), Port: atoiPort(t, mr.Port()), QueryTTLSec: 60, EmbeddingTTLSec: 60}

	ctx := context.Background()
	a, err := Build(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	_, err = a.Pipeline.Ingest(ctx, models.Document{ID: "doc-1", Content: "Fa thalai is a bitter herb used for sore throat."})
	require.NoError(t, err)
	_, err = a.Pipeline.Query(ctx, models.QueryRequest{Query: "sore throat"})
	require.NoError(t, err)

	assert.NotEmpty(t, mr.Keys())
}

func TestBuildSurvivesRedisOutage(t *testing.T) {
	cfg := testConfig(t)
	cfg.Redis = config.RedisConfig{Enabled: true, Host: "127.0.0.1", Port: 1}

	a, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	assert.Nil(t, a.cache)
}

func TestBuildRejectsUnknownBackends(t *testing.T) {
	cfg := testConfig(t)
	cfg.Vector.Backend = "faiss"
	_, err := Build(context.Background(), cfg)
	assert.True(t, errors.Is(err, models.ErrConfiguration))

	cfg = testConfig(t)
	cfg.Embedding.Provider = "word2vec"
	_, err = Build(context.Background(), cfg)
	assert.True(t, errors.Is(err, models.ErrConfiguration))

	cfg = testConfig(t)
	cfg.Embedding.Provider = "openai"
	_, err = Build(context.Background(), cfg)
	assert.True(t, errors.Is(err, models.ErrEmbedderUnavailable))
}

func TestNewRegistryBindsCatalog(t *testing.T) {
	cfg := testConfig(t)
	cfg.Generation.DefaultModel = generation.ModelGPT4oMini

	r, err := NewRegistry(cfg)
	require.NoError(t, err)
	assert.Equal(t, generation.ModelGPT4oMini, r.Default().ID)
	assert.Len(t, r.Models(), 3)

	// No API key: the adapter is built but degraded.
	a, err := r.Get(context.Background(), generation.ModelGPT4oMini)
	require.NoError(t, err)
	assert.Equal(t, generation.StatusDegraded, a.ModelInfo().Status)
}

func TestNewPreprocessChain(t *testing.T) {
	cfg := testConfig(t)
	assert.Equal(t, 3, NewPreprocessChain(cfg).Len())

	cfg.Ingestion.CleanHTML = false
	cfg.Ingestion.RedactPII = false
	assert.Equal(t, 1, NewPreprocessChain(cfg).Len())
}
