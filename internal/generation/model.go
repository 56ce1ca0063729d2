package generation

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/thfmn/ttm-rag/internal/metrics"
	"github.com/thfmn/ttm-rag/internal/models"
	"github.com/thfmn/ttm-rag/pkg/logger"
)

// CompleteFunc performs one generation call against a backend.
type CompleteFunc func(ctx context.Context, prompt string, seed *int) (string, error)

// modelAdapter is shared by every variant; the variants differ in the
// CompleteFunc they wire and in how they are probed.
type modelAdapter struct {
	desc     models.ModelDescriptor
	status   Status
	reason   string
	timeout  time.Duration
	complete CompleteFunc
}

func newModelAdapter(desc models.ModelDescriptor, probe ProbeResult, timeout time.Duration, complete CompleteFunc) *modelAdapter {
	status := StatusReady
	if !probe.OK {
		status = StatusDegraded
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &modelAdapter{
		desc:     desc,
		status:   status,
		reason:   probe.Reason,
		timeout:  timeout,
		complete: complete,
	}
}

func (a *modelAdapter) ModelInfo() ModelInfo {
	return ModelInfo{ModelDescriptor: a.desc, Status: a.status, Reason: a.reason}
}

func (a *modelAdapter) Generate(ctx context.Context, req GenerateRequest) Generation {
	if a.status == StatusDegraded || a.complete == nil {
		return a.degraded(req, "model unavailable: "+a.reason)
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	prompt := req.Prompt
	if prompt == "" {
		prompt = BuildPrompt(req.Query, req.CombinedContext)
	}
	seed := int(req.Seed)

	text, err := a.complete(ctx, prompt, &seed)
	if err != nil {
		logger.Warn("Generation failed, returning fallback",
			zap.String("model", a.desc.ID),
			zap.Error(err),
		)
		reason := "model call failed"
		if errors.Is(err, context.DeadlineExceeded) {
			reason = "model call timed out"
		}
		return a.degraded(req, reason)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return a.degraded(req, "model returned an empty answer")
	}

	metrics.GenerationTotal.WithLabelValues(a.desc.ID, "ok").Inc()
	return Generation{Text: text}
}

func (a *modelAdapter) degraded(req GenerateRequest, reason string) Generation {
	metrics.GenerationTotal.WithLabelValues(a.desc.ID, "degraded").Inc()
	return Generation{
		Text:     Fallback(a.desc.ID, req),
		Degraded: true,
		Reason:   reason,
	}
}
