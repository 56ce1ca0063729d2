package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewFromClient(rdb, time.Hour, time.Minute), mr
}

func TestEmbeddingRoundTrip(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	_, ok, err := c.GetEmbedding(ctx, "abc")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.SetEmbedding(ctx, "abc", []float32{0.25, -0.5, 1}))
	vec, ok, err := c.GetEmbedding(ctx, "abc")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []float32{0.25, -0.5, 1}, vec)
	assert.Equal(t, time.Hour, mr.TTL(embeddingPrefix+"abc"))
}

func TestQueryCacheInvalidation(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	type result struct {
		Answer string `json:"answer"`
	}

	require.NoError(t, c.SetQuery(ctx, "q1", result{Answer: "a1"}))
	require.NoError(t, c.SetQuery(ctx, "q2", result{Answer: "a2"}))
	require.NoError(t, c.SetEmbedding(ctx, "keep", []float32{1}))

	var got result
	ok, err := c.GetQuery(ctx, "q1", &got)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "a1", got.Answer)

	require.NoError(t, c.InvalidateQueries(ctx))

	ok, err = c.GetQuery(ctx, "q1", &got)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, mr.Exists(queryPrefix+"q2"))
	assert.True(t, mr.Exists(embeddingPrefix+"keep"))
}

func TestNewClientFailsWithoutServer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := NewClient(ctx, Options{Host: "127.0.0.1", Port: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to redis")
}
