package embedding

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thfmn/ttm-rag/internal/cache/redis"
	"github.com/thfmn/ttm-rag/internal/models"
)

// mockBackend wraps the hash backend and records every call.
type mockBackend struct {
	inner *HashBackend
	dim   int
	err   error
	block bool

	mu      sync.Mutex
	calls   int
	batches [][]string
}

func newMockBackend(dim int) *mockBackend {
	return &mockBackend{inner: NewHashBackend(dim), dim: dim}
}

func (m *mockBackend) Name() string   { return "mock" }
func (m *mockBackend) Dimension() int { return m.dim }

func (m *mockBackend) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	m.calls++
	m.batches = append(m.batches, append([]string(nil), texts...))
	m.mu.Unlock()

	if m.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if m.err != nil {
		return nil, m.err
	}
	return m.inner.Embed(ctx, texts)
}

func (m *mockBackend) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func newEmbedder(t *testing.T, backend Backend, cfg Config, shared SharedCache) *Embedder {
	t.Helper()
	if cfg.CacheSize == 0 {
		cfg.CacheSize = 1000
	}
	e, err := New(backend, cfg, shared)
	require.NoError(t, err)
	return e
}

func TestEmbedOneCachesIdenticalText(t *testing.T) {
	backend := newMockBackend(16)
	e := newEmbedder(t, backend, Config{BatchSize: 8}, nil)
	ctx := context.Background()

	first, err := e.EmbedOne(ctx, "ขมิ้นชัน บรรเทาอาการท้องอืด")
	require.NoError(t, err)
	second, err := e.EmbedOne(ctx, "ขมิ้นชัน บรรเทาอาการท้องอืด")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, backend.callCount())

	_, err = e.EmbedOne(ctx, "  ขมิ้นชัน\n บรรเทาอาการท้องอืด ")
	require.NoError(t, err)
	assert.Equal(t, 1, backend.callCount(), "whitespace variants share a cache entry")
}

func TestEmbedReturnsCopies(t *testing.T) {
	e := newEmbedder(t, newMockBackend(4), Config{}, nil)
	ctx := context.Background()

	first, err := e.EmbedOne(ctx, "turmeric")
	require.NoError(t, err)
	first[0] = 42

	second, err := e.EmbedOne(ctx, "turmeric")
	require.NoError(t, err)
	assert.NotEqual(t, float32(42), second[0])
}

func TestEmbedBatchesAndPreservesOrder(t *testing.T) {
	backend := newMockBackend(8)
	e := newEmbedder(t, backend, Config{BatchSize: 32, Workers: 3}, nil)

	texts := make([]string, 70)
	for i := range texts {
		texts[i] = fmt.Sprintf("passage %d", i)
	}
	texts = append(texts, "passage 3", "passage 3")

	vecs, err := e.Embed(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vecs, len(texts))
	assert.Equal(t, 3, backend.callCount())

	ref := NewHashBackend(8)
	for i, text := range texts {
		want, err := ref.Embed(context.Background(), []string{text})
		require.NoError(t, err)
		assert.Equal(t, want[0], vecs[i], "text %d", i)
	}
}

func TestEmbedDimensionMismatch(t *testing.T) {
	backend := newMockBackend(8)
	backend.inner = NewHashBackend(4)
	e := newEmbedder(t, backend, Config{}, nil)

	_, err := e.EmbedOne(context.Background(), "x")
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrConfiguration))
}

func TestEmbedBackendFailureIsUnavailable(t *testing.T) {
	backend := newMockBackend(8)
	backend.err = errors.New("connection refused")
	e := newEmbedder(t, backend, Config{}, nil)

	_, err := e.EmbedOne(context.Background(), "x")
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrEmbedderUnavailable))

	backend.err = nil
	vec, err := e.EmbedOne(context.Background(), "x")
	require.NoError(t, err)
	assert.Len(t, vec, 8)
	assert.Equal(t, 2, backend.callCount(), "failures are not cached")
}

func TestEmbedTimeout(t *testing.T) {
	backend := newMockBackend(8)
	backend.block = true
	e := newEmbedder(t, backend, Config{Timeout: 20 * time.Millisecond}, nil)

	_, err := e.EmbedOne(context.Background(), "slow")
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrTimeout))
}

func TestNewWithoutBackend(t *testing.T) {
	_, err := New(nil, Config{}, nil)
	assert.True(t, errors.Is(err, models.ErrEmbedderUnavailable))
}

func TestSharedCacheTier(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	shared := redis.NewFromClient(rdb, time.Hour, time.Minute)

	first := newMockBackend(8)
	e1 := newEmbedder(t, first, Config{}, shared)
	want, err := e1.EmbedOne(context.Background(), "Prasaplai")
	require.NoError(t, err)

	second := newMockBackend(8)
	e2 := newEmbedder(t, second, Config{}, shared)
	got, err := e2.EmbedOne(context.Background(), "Prasaplai")
	require.NoError(t, err)

	assert.Equal(t, want, got)
	assert.Equal(t, 0, second.callCount())
}

func TestHashBackendSimilarity(t *testing.T) {
	b := NewHashBackend(256)
	vecs, err := b.Embed(context.Background(), []string{
		"ginger relieves nausea",
		"ginger for nausea relief",
		"temple architecture history",
		"",
	})
	require.NoError(t, err)

	cos := func(a, b []float32) float64 {
		var dot float64
		for i := range a {
			dot += float64(a[i]) * float64(b[i])
		}
		return dot
	}
	assert.Greater(t, cos(vecs[0], vecs[1]), cos(vecs[0], vecs[2]))
	assert.InDelta(t, 1.0, cos(vecs[3], vecs[3]), 1e-6, "empty text still yields a unit vector")
}
