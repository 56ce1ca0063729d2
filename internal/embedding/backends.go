package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/thfmn/ttm-rag/internal/llm"
	"github.com/thfmn/ttm-rag/internal/models"
	"github.com/thfmn/ttm-rag/internal/ollama"
)

// OpenAIBackend embeds through an OpenAI-compatible embeddings endpoint.
type OpenAIBackend struct {
	client    *llm.Client
	model     string
	dimension int
}

func NewOpenAIBackend(client *llm.Client, model string, dimension int) (*OpenAIBackend, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: openai client not configured", models.ErrEmbedderUnavailable)
	}
	return &OpenAIBackend{client: client, model: model, dimension: dimension}, nil
}

func (b *OpenAIBackend) Name() string   { return "openai:" + b.model }
func (b *OpenAIBackend) Dimension() int { return b.dimension }

func (b *OpenAIBackend) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return b.client.Embed(ctx, texts)
}

// OllamaBackend embeds through a local or remote Ollama server.
type OllamaBackend struct {
	client    *ollama.Client
	dimension int
}

func NewOllamaBackend(client *ollama.Client, dimension int) (*OllamaBackend, error) {
	if client == nil || client.BaseURL() == "" {
		return nil, fmt.Errorf("%w: ollama base url not configured", models.ErrEmbedderUnavailable)
	}
	return &OllamaBackend{client: client, dimension: dimension}, nil
}

func (b *OllamaBackend) Name() string   { return "ollama:" + b.client.Model() }
func (b *OllamaBackend) Dimension() int { return b.dimension }

func (b *OllamaBackend) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return b.client.Embed(ctx, texts)
}

// HashBackend is a deterministic feature-hashing embedder. It needs no model
// or network and is meant for development corpora and tests. Tokens are
// whitespace separated words plus character trigrams, so unsegmented Thai
// text still produces overlapping features.
type HashBackend struct {
	dimension int
}

func NewHashBackend(dimension int) *HashBackend {
	return &HashBackend{dimension: dimension}
}

func (b *HashBackend) Name() string   { return fmt.Sprintf("hash:%d", b.dimension) }
func (b *HashBackend) Dimension() int { return b.dimension }

func (b *HashBackend) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = b.vector(text)
	}
	return out, nil
}

func (b *HashBackend) vector(text string) []float32 {
	vec := make([]float64, b.dimension)
	for _, feature := range features(text) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(feature))
		sum := h.Sum64()
		idx := int(sum % uint64(b.dimension))
		if sum&(1<<63) != 0 {
			vec[idx]--
		} else {
			vec[idx]++
		}
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	norm = math.Sqrt(norm)

	out := make([]float32, b.dimension)
	if norm == 0 {
		out[0] = 1
		return out
	}
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out
}

func features(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return unicode.IsSpace(r) || (unicode.IsPunct(r) && r != '\'')
	})

	feats := make([]string, 0, len(words)*4)
	for _, w := range words {
		feats = append(feats, "w:"+w)
		runes := []rune(w)
		for i := 0; i+3 <= len(runes); i++ {
			feats = append(feats, "c:"+string(runes[i:i+3]))
		}
	}
	return feats
}
