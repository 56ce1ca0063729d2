package generation

import (
	"context"
	"fmt"
	"time"

	"github.com/thfmn/ttm-rag/internal/ollama"
)

// ProbeResult is the outcome of a capability probe run at adapter
// construction. Reason is safe to show to API clients.
type ProbeResult struct {
	OK     bool
	Reason string
}

func ready() ProbeResult { return ProbeResult{OK: true} }

func degradedProbe(reason string) ProbeResult { return ProbeResult{Reason: reason} }

// ProbeCredentials checks static prerequisites of a hosted endpoint.
func ProbeCredentials(apiKey, baseURL string, needBaseURL bool) ProbeResult {
	if apiKey == "" {
		return degradedProbe("api key not configured")
	}
	if needBaseURL && baseURL == "" {
		return degradedProbe("base url not configured")
	}
	return ready()
}

// ProbeOllama checks that the server answers /api/tags within timeout and
// that the model has been pulled.
func ProbeOllama(ctx context.Context, client *ollama.Client, timeout time.Duration) ProbeResult {
	if client.BaseURL() == "" {
		return degradedProbe("ollama base url not configured")
	}
	found, err := client.Ping(ctx, timeout)
	if err != nil {
		return degradedProbe("ollama server unreachable")
	}
	if !found {
		return degradedProbe(fmt.Sprintf("model %s is not available on the ollama server", client.Model()))
	}
	return ready()
}
