package keypool

import (
	"log/slog"
	"sort"

	"autovideo/internal/config"
)

// Registry maps provider names to their pools. It is fixed at construction.
type Registry struct {
	pools map[string]*Pool
}

// NewRegistry wraps pre-built pools.
func NewRegistry(pools ...*Pool) *Registry {
	r := &Registry{pools: make(map[string]*Pool, len(pools))}
	for _, pool := range pools {
		if pool != nil {
			r.pools[pool.Provider()] = pool
		}
	}
	return r
}

// NewRegistryFromConfig builds one pool per enabled provider.
func NewRegistryFromConfig(cfg *config.Config, logger *slog.Logger, opts ...Option) *Registry {
	base := []Option{WithLocation(cfg.ResetLocation()), WithLogger(logger)}
	base = append(base, opts...)
	var pools []*Pool
	for _, name := range []string{config.ProviderGemini, config.ProviderOpenAI} {
		settings, _ := cfg.Provider(name)
		if !settings.Enabled {
			continue
		}
		pools = append(pools, New(name, settings.APIKeys, base...))
	}
	return NewRegistry(pools...)
}

// Pool returns the pool for provider.
func (r *Registry) Pool(provider string) (*Pool, bool) {
	if r == nil {
		return nil, false
	}
	pool, ok := r.pools[provider]
	return pool, ok
}

// Snapshots returns every pool's diagnostic view sorted by provider.
func (r *Registry) Snapshots() []Snapshot {
	if r == nil {
		return nil
	}
	out := make([]Snapshot, 0, len(r.pools))
	for _, pool := range r.pools {
		out = append(out, pool.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out
}
