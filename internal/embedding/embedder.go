package embedding

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/thfmn/ttm-rag/internal/metrics"
	"github.com/thfmn/ttm-rag/internal/models"
	"github.com/thfmn/ttm-rag/pkg/logger"
	"github.com/thfmn/ttm-rag/pkg/utils"
)

// Backend computes embeddings for a batch of texts. Implementations return
// exactly one vector per input, in input order.
type Backend interface {
	Name() string
	Dimension() int
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// SharedCache is an optional second cache tier shared between processes.
type SharedCache interface {
	GetEmbedding(ctx context.Context, key string) ([]float32, bool, error)
	SetEmbedding(ctx context.Context, key string, embedding []float32) error
}

type Config struct {
	BatchSize int
	Workers   int
	Timeout   time.Duration
	// CacheSize bounds the in-process cache; zero disables it.
	CacheSize int
}

type Embedder struct {
	backend Backend
	cfg     Config
	shared  SharedCache

	mu    sync.RWMutex
	cache map[string][]float32
}

func New(backend Backend, cfg Config, shared SharedCache) (*Embedder, error) {
	if backend == nil {
		return nil, fmt.Errorf("%w: no embedding backend configured", models.ErrEmbedderUnavailable)
	}
	if backend.Dimension() <= 0 {
		return nil, fmt.Errorf("%w: embedding dimension must be positive", models.ErrConfiguration)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	logger.Info("Embedder initialized",
		zap.String("backend", backend.Name()),
		zap.Int("dimension", backend.Dimension()),
		zap.Int("batch_size", cfg.BatchSize),
		zap.Int("workers", cfg.Workers),
		zap.Bool("shared_cache", shared != nil),
	)

	return &Embedder{
		backend: backend,
		cfg:     cfg,
		shared:  shared,
		cache:   make(map[string][]float32),
	}, nil
}

func (e *Embedder) Dimension() int {
	return e.backend.Dimension()
}

func (e *Embedder) BackendName() string {
	return e.backend.Name()
}

func (e *Embedder) BatchSize() int {
	return e.cfg.BatchSize
}

func (e *Embedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	out, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// Embed returns one vector per text. Texts are normalized before hashing and
// embedding, so inputs differing only in whitespace share a vector.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	results := make([][]float32, len(texts))
	positions := make(map[string][]int)
	normalized := make(map[string]string)
	var order []string

	for i, text := range texts {
		norm := utils.NormalizeText(text)
		key := e.cacheKey(norm)
		if _, seen := positions[key]; !seen {
			order = append(order, key)
			normalized[key] = norm
		}
		positions[key] = append(positions[key], i)
	}

	var missing []string
	for _, key := range order {
		if vec, ok := e.lookup(ctx, key); ok {
			for _, i := range positions[key] {
				results[i] = clone(vec)
			}
			continue
		}
		missing = append(missing, key)
	}

	if len(missing) > 0 {
		inputs := make([]string, len(missing))
		for i, key := range missing {
			inputs[i] = normalized[key]
		}

		computed, err := e.compute(ctx, inputs)
		if err != nil {
			return nil, err
		}

		for i, key := range missing {
			e.store(ctx, key, computed[i])
			for _, pos := range positions[key] {
				results[pos] = clone(computed[i])
			}
		}
	}

	return results, nil
}

// compute runs the backend over inputs in BatchSize slices on a bounded pool.
func (e *Embedder) compute(ctx context.Context, inputs []string) ([][]float32, error) {
	out := make([][]float32, len(inputs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)

	for start := 0; start < len(inputs); start += e.cfg.BatchSize {
		start := start
		end := start + e.cfg.BatchSize
		if end > len(inputs) {
			end = len(inputs)
		}

		g.Go(func() error {
			began := time.Now()
			vecs, err := e.backend.Embed(gctx, inputs[start:end])
			metrics.EmbeddingDuration.WithLabelValues(e.backend.Name()).Observe(time.Since(began).Seconds())
			if err != nil {
				return err
			}
			if len(vecs) != end-start {
				return fmt.Errorf("%w: backend %s returned %d vectors for %d texts",
					models.ErrEmbedderUnavailable, e.backend.Name(), len(vecs), end-start)
			}
			for i, vec := range vecs {
				if len(vec) != e.backend.Dimension() {
					return fmt.Errorf("%w: backend %s returned dimension %d, expected %d",
						models.ErrConfiguration, e.backend.Name(), len(vec), e.backend.Dimension())
				}
				out[start+i] = vec
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, e.classify(ctx, err)
	}

	logger.Debug("Embeddings computed",
		zap.String("backend", e.backend.Name()),
		zap.Int("count", len(inputs)),
	)

	return out, nil
}

func (e *Embedder) classify(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, models.ErrConfiguration),
		errors.Is(err, models.ErrEmbedderUnavailable),
		errors.Is(err, models.ErrTimeout):
		return err
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: embedding with %s: %v", models.ErrTimeout, e.backend.Name(), err)
	default:
		return fmt.Errorf("%w: %s: %v", models.ErrEmbedderUnavailable, e.backend.Name(), err)
	}
}

func (e *Embedder) cacheKey(normalized string) string {
	return utils.SHA256Hex([]byte(e.backend.Name() + "\x00" + normalized))
}

func (e *Embedder) lookup(ctx context.Context, key string) ([]float32, bool) {
	if e.cfg.CacheSize > 0 {
		e.mu.RLock()
		vec, ok := e.cache[key]
		e.mu.RUnlock()
		if ok {
			metrics.CacheHits.WithLabelValues("embedding_local").Inc()
			return vec, true
		}
		metrics.CacheMisses.WithLabelValues("embedding_local").Inc()
	}

	if e.shared == nil {
		return nil, false
	}

	vec, ok, err := e.shared.GetEmbedding(ctx, key)
	if err != nil {
		logger.Warn("Shared embedding cache read failed", zap.Error(err))
		return nil, false
	}
	if !ok || len(vec) != e.backend.Dimension() {
		metrics.CacheMisses.WithLabelValues("embedding_shared").Inc()
		return nil, false
	}

	metrics.CacheHits.WithLabelValues("embedding_shared").Inc()
	e.remember(key, vec)
	return vec, true
}

func (e *Embedder) store(ctx context.Context, key string, vec []float32) {
	e.remember(key, vec)
	if e.shared != nil {
		if err := e.shared.SetEmbedding(ctx, key, vec); err != nil {
			logger.Warn("Shared embedding cache write failed", zap.Error(err))
		}
	}
}

func (e *Embedder) remember(key string, vec []float32) {
	if e.cfg.CacheSize <= 0 {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.cache[key]; ok {
		return
	}
	if len(e.cache) >= e.cfg.CacheSize {
		for k := range e.cache {
			delete(e.cache, k)
			break
		}
	}
	e.cache[key] = clone(vec)
}

func clone(vec []float32) []float32 {
	out := make([]float32, len(vec))
	copy(out, vec)
	return out
}
