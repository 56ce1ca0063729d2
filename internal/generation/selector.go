package generation

import "strings"

// Constraints steer model selection for the "auto" model id.
type Constraints struct {
	Persona        string   `json:"persona,omitempty"`
	Language       string   `json:"language,omitempty"`
	AllowExternal  bool     `json:"allow_external,omitempty"`
	MaxCostPerCall *float64 `json:"max_cost_per_call,omitempty"`
}

// DefaultCosts are rough per-call prices in USD.
func DefaultCosts() map[string]float64 {
	return map[string]float64{
		ModelTyphoon:   0.0,
		ModelGPT4oMini: 0.003,
		ModelQwen3Code: 0.0,
	}
}

// SetCost overrides the per-call price used by SelectModel.
func (r *Registry) SetCost(id string, usd float64) {
	r.costs[id] = usd
}

// SelectModel picks a catalog model under c. OpenAI models are candidates
// only when AllowExternal is set. Thai and mixed-language queries prefer the
// local Typhoon model.
func (r *Registry) SelectModel(c Constraints) string {
	candidates := make(map[string]bool, len(r.catalog))
	for _, d := range r.catalog {
		if !c.AllowExternal && d.Provider == providerOpenAI {
			continue
		}
		if c.MaxCostPerCall != nil && r.costs[d.ID] > *c.MaxCostPerCall {
			continue
		}
		candidates[d.ID] = true
	}

	switch strings.ToLower(c.Language) {
	case "th", "mixed":
		if candidates[ModelTyphoon] {
			return ModelTyphoon
		}
	}

	if c.Persona == "clinician" && c.AllowExternal && candidates[ModelGPT4oMini] {
		return ModelGPT4oMini
	}

	for _, pref := range []string{ModelTyphoon, ModelQwen3Code, ModelGPT4oMini} {
		if candidates[pref] {
			return pref
		}
	}

	for _, d := range r.catalog {
		if candidates[d.ID] {
			return d.ID
		}
	}
	return r.defaultID
}
