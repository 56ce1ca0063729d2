package generation

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/thfmn/ttm-rag/internal/llm"
	"github.com/thfmn/ttm-rag/internal/metrics"
	"github.com/thfmn/ttm-rag/internal/models"
	"github.com/thfmn/ttm-rag/internal/ollama"
	"github.com/thfmn/ttm-rag/pkg/logger"
	"github.com/thfmn/ttm-rag/pkg/retry"
)

// Factory builds the adapter for one catalog entry. It is called at most
// once per model id for the lifetime of a Registry.
type Factory func(ctx context.Context, desc models.ModelDescriptor) (Adapter, error)

type LocalConfig struct {
	Endpoint     ollama.Endpoint
	HTTPClient   *http.Client
	Timeout      time.Duration
	ProbeTimeout time.Duration
	Temperature  float32
	MaxTokens    int
	Retry        *retry.Config
}

// NewLocalFactory serves a catalog model from an Ollama server.
func NewLocalFactory(cfg LocalConfig) Factory {
	return func(ctx context.Context, desc models.ModelDescriptor) (Adapter, error) {
		client := ollama.NewClient(cfg.Endpoint, cfg.HTTPClient)

		probeTimeout := cfg.ProbeTimeout
		if probeTimeout <= 0 {
			probeTimeout = 2 * time.Second
		}
		probe := ProbeOllama(ctx, client, probeTimeout)

		retryCfg := retry.Config{
			MaxAttempts:    2,
			InitialDelay:   500 * time.Millisecond,
			MaxDelay:       2 * time.Second,
			Multiplier:     2.0,
			JitterFraction: 0.1,
			Retryable:      retryableOllama,
			Logger:         logger.GetLogger(),
		}
		if cfg.Retry != nil {
			retryCfg = *cfg.Retry
		}

		complete := func(ctx context.Context, prompt string, seed *int) (string, error) {
			return retry.DoWithResult(ctx, retryCfg, func(ctx context.Context) (string, error) {
				return client.Chat(ctx, ollama.ChatRequest{
					System:      SystemPrompt,
					Prompt:      prompt,
					Seed:        seed,
					Temperature: cfg.Temperature,
					MaxTokens:   cfg.MaxTokens,
				})
			})
		}

		logger.Info("Local model adapter constructed",
			zap.String("model", desc.ID),
			zap.String("ollama_model", client.Model()),
			zap.Bool("ready", probe.OK),
			zap.String("reason", probe.Reason),
		)

		return newModelAdapter(desc, probe, cfg.Timeout, complete), nil
	}
}

func retryableOllama(err error) bool {
	var se *ollama.StatusError
	if errors.As(err, &se) {
		return se.StatusCode == http.StatusTooManyRequests || se.StatusCode >= 500
	}
	return true
}

// NewHostedFactory serves a catalog model from the OpenAI API.
func NewHostedFactory(cfg llm.Config) Factory {
	return newOpenAIFactory(cfg, false)
}

// NewCompatibleFactory serves a catalog model from an OpenAI-compatible
// endpoint, which must have its own base URL.
func NewCompatibleFactory(cfg llm.Config) Factory {
	return newOpenAIFactory(cfg, true)
}

func newOpenAIFactory(cfg llm.Config, needBaseURL bool) Factory {
	return func(_ context.Context, desc models.ModelDescriptor) (Adapter, error) {
		probe := ProbeCredentials(cfg.APIKey, cfg.BaseURL, needBaseURL)

		c := cfg
		if c.Name == "" {
			c.Name = desc.ID
		}
		client := llm.NewClient(c)

		complete := func(ctx context.Context, prompt string, seed *int) (string, error) {
			resp, err := client.Complete(ctx, llm.CompletionRequest{
				SystemPrompt: SystemPrompt,
				UserPrompt:   prompt,
				Seed:         seed,
			})
			if err != nil {
				return "", err
			}
			metrics.LLMTokensUsed.WithLabelValues(desc.ID, "prompt").Add(float64(resp.Usage.PromptTokens))
			metrics.LLMTokensUsed.WithLabelValues(desc.ID, "completion").Add(float64(resp.Usage.CompletionTokens))
			return resp.Content, nil
		}

		return newModelAdapter(desc, probe, cfg.Timeout, complete), nil
	}
}

// StaticFactory wraps a ready-made adapter.
func StaticFactory(a Adapter) Factory {
	return func(context.Context, models.ModelDescriptor) (Adapter, error) {
		return a, nil
	}
}

// NewFuncAdapter builds a ready adapter around an arbitrary completion function.
func NewFuncAdapter(desc models.ModelDescriptor, timeout time.Duration, complete CompleteFunc) Adapter {
	return newModelAdapter(desc, ready(), timeout, complete)
}

// NewUnavailableAdapter is the safe adapter for catalog entries without a
// configured backend.
func NewUnavailableAdapter(desc models.ModelDescriptor, reason string) Adapter {
	return newModelAdapter(desc, degradedProbe(reason), 0, nil)
}
