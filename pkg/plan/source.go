package plan

import (
	"context"
	"errors"
	"maps"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

type inMemSource struct {
	mu    sync.RWMutex
	plans Catalog
}

// NewInMemSource returns an in-memory Source with a copy of the given plans.
// Panics if no plans are provided so the service never starts with an empty
// catalog.
func NewInMemSource(plans ...Plan) Source {
	if len(plans) == 0 {
		panic("plan: at least one plan is required")
	}
	catalog := make(Catalog, len(plans))
	for _, p := range plans {
		catalog[p.PriceID] = p
	}
	return &inMemSource{plans: catalog}
}

// Load returns a copy of the catalog so callers cannot mutate the source.
func (s *inMemSource) Load(_ context.Context) (Catalog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	catalog := maps.Clone(s.plans)
	if err := catalog.Validate(); err != nil {
		return nil, err
	}
	return catalog, nil
}

type yamlSource struct {
	path string
}

// NewYAMLSource returns a Source that reads the catalog from a YAML file.
// The file holds a list of plans:
//
//	- price_id: price_pro_monthly
//	  name: Pro Monthly
//	  tier: PRO
//	  interval: monthly
//	  amount: 900
//	  currency: USD
//
// Adding a plan is a config change, not a code change.
func NewYAMLSource(path string) Source {
	return &yamlSource{path: path}
}

func (s *yamlSource) Load(_ context.Context) (Catalog, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return nil, errors.Join(ErrFailedToLoadPlans, err)
	}

	var plans []Plan
	if err := yaml.Unmarshal(raw, &plans); err != nil {
		return nil, errors.Join(ErrFailedToLoadPlans, err)
	}

	catalog := make(Catalog, len(plans))
	for _, p := range plans {
		catalog[p.PriceID] = p
	}
	if err := catalog.Validate(); err != nil {
		return nil, err
	}
	return catalog, nil
}
