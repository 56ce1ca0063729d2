package generation

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/thfmn/ttm-rag/internal/models"
	"github.com/thfmn/ttm-rag/pkg/logger"
)

// Registry maps catalog model ids to lazily built adapters. Each adapter is
// constructed at most once and kept for the lifetime of the registry. mu only
// guards the adapter map; construction runs outside it, one flight per id.
type Registry struct {
	catalog   []models.ModelDescriptor
	byID      map[string]models.ModelDescriptor
	factories map[string]Factory
	defaultID string
	costs     map[string]float64

	mu       sync.RWMutex
	adapters map[string]Adapter
	building singleflight.Group
}

func NewRegistry(catalog []models.ModelDescriptor, factories map[string]Factory) (*Registry, error) {
	if len(catalog) == 0 {
		return nil, fmt.Errorf("%w: model catalog is empty", models.ErrConfiguration)
	}

	r := &Registry{
		catalog:   make([]models.ModelDescriptor, 0, len(catalog)),
		byID:      make(map[string]models.ModelDescriptor, len(catalog)),
		factories: make(map[string]Factory, len(factories)),
		costs:     DefaultCosts(),
		adapters:  make(map[string]Adapter),
	}

	for _, d := range catalog {
		if d.ID == "" || d.ID == AutoModel {
			return nil, fmt.Errorf("%w: invalid model id %q", models.ErrConfiguration, d.ID)
		}
		if _, dup := r.byID[d.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate model id %q", models.ErrConfiguration, d.ID)
		}
		if d.Default {
			if r.defaultID != "" {
				return nil, fmt.Errorf("%w: models %q and %q are both marked default", models.ErrConfiguration, r.defaultID, d.ID)
			}
			r.defaultID = d.ID
		}
		r.byID[d.ID] = d
		r.catalog = append(r.catalog, d)
	}
	if r.defaultID == "" {
		r.defaultID = r.catalog[0].ID
		r.catalog[0].Default = true
		r.byID[r.defaultID] = r.catalog[0]
	}

	for id, f := range factories {
		if _, ok := r.byID[id]; !ok {
			return nil, fmt.Errorf("%w: factory for unknown model %q", models.ErrConfiguration, id)
		}
		r.factories[id] = f
	}

	return r, nil
}

// Models returns the catalog in declaration order.
func (r *Registry) Models() []models.ModelDescriptor {
	out := make([]models.ModelDescriptor, len(r.catalog))
	copy(out, r.catalog)
	return out
}

func (r *Registry) Default() models.ModelDescriptor {
	return r.byID[r.defaultID]
}

// Validate reports whether id names a catalog model. "auto" is accepted.
func (r *Registry) Validate(id string) error {
	if id == AutoModel {
		return nil
	}
	if _, ok := r.byID[id]; !ok {
		return fmt.Errorf("%w: unknown model id %q (available: %s)", models.ErrAdapterLookup, id, strings.Join(r.ids(), ", "))
	}
	return nil
}

// Resolve maps a requested id to a catalog id, routing "auto" through
// SelectModel with c.
func (r *Registry) Resolve(id string, c Constraints) (string, error) {
	if id == AutoModel {
		return r.SelectModel(c), nil
	}
	if err := r.Validate(id); err != nil {
		return "", err
	}
	return id, nil
}

// Get returns the adapter for id, building it on first use.
func (r *Registry) Get(ctx context.Context, id string) (Adapter, error) {
	if err := r.Validate(id); err != nil {
		return nil, err
	}
	if id == AutoModel {
		id = r.SelectModel(Constraints{})
	}

	if a, ok := r.cached(id); ok {
		return a, nil
	}

	v, err, _ := r.building.Do(id, func() (any, error) {
		if a, ok := r.cached(id); ok {
			return a, nil
		}

		a, err := r.build(ctx, id)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		r.adapters[id] = a
		r.mu.Unlock()

		info := a.ModelInfo()
		logger.Info("Model adapter ready",
			zap.String("model", id),
			zap.String("status", string(info.Status)),
			zap.String("reason", info.Reason),
		)
		return a, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Adapter), nil
}

func (r *Registry) cached(id string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[id]
	return a, ok
}

// build runs the factory for id. Errors are returned, not remembered, so the
// next Get tries again.
func (r *Registry) build(ctx context.Context, id string) (Adapter, error) {
	desc := r.byID[id]
	factory, ok := r.factories[id]
	if !ok {
		return NewUnavailableAdapter(desc, "no backend configured"), nil
	}
	a, err := factory(ctx, desc)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to construct adapter %q: %v", models.ErrConfiguration, id, err)
	}
	return a, nil
}

// Loaded returns the info of every adapter built so far.
func (r *Registry) Loaded() []ModelInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ModelInfo, 0, len(r.adapters))
	for _, d := range r.catalog {
		if a, ok := r.adapters[d.ID]; ok {
			out = append(out, a.ModelInfo())
		}
	}
	return out
}

func (r *Registry) ids() []string {
	ids := make([]string, len(r.catalog))
	for i, d := range r.catalog {
		ids[i] = d.ID
	}
	return ids
}
