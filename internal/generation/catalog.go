package generation

import "github.com/thfmn/ttm-rag/internal/models"

const (
	ModelTyphoon   = "hf-typhoon-7b"
	ModelGPT4oMini = "openai-gpt-4o-mini"
	ModelQwen3Code = "qwen3-code"

	// AutoModel asks the registry to pick a model with SelectModel.
	AutoModel = "auto"
)

const (
	providerOpenAI = "openai"
	providerOllama = "ollama"
	providerQwen   = "qwen"
)

// DefaultCatalog lists the built-in models with defaultID marked as default.
// An unknown defaultID leaves Typhoon as the default.
func DefaultCatalog(defaultID string) []models.ModelDescriptor {
	catalog := []models.ModelDescriptor{
		{
			ID:       ModelTyphoon,
			Name:     "Typhoon 7B (Ollama)",
			Provider: providerOllama,
			Capabilities: map[string]any{
				"local":    true,
				"language": []string{"th", "en"},
			},
		},
		{
			ID:           ModelGPT4oMini,
			Name:         "OpenAI GPT-4o-mini",
			Provider:     providerOpenAI,
			Capabilities: map[string]any{"tools": false, "streaming": true},
		},
		{
			ID:           ModelQwen3Code,
			Name:         "Qwen3-Code",
			Provider:     providerQwen,
			Capabilities: map[string]any{"code": true, "streaming": true},
		},
	}

	found := false
	for i := range catalog {
		if catalog[i].ID == defaultID {
			catalog[i].Default = true
			found = true
		}
	}
	if !found {
		catalog[0].Default = true
	}
	return catalog
}
