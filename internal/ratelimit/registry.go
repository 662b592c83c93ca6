package ratelimit

import (
	"sort"
	"time"

	"autovideo/internal/config"
)

// Limiter pairs a provider's ceiling window with its adaptive throttle.
type Limiter struct {
	Window   *Window
	Throttle *Throttle
}

// Registry holds one Limiter per provider. It is fixed at construction.
type Registry struct {
	limiters map[string]*Limiter
}

// NewRegistry builds an empty registry; use Add to populate it.
func NewRegistry() *Registry {
	return &Registry{limiters: make(map[string]*Limiter)}
}

// Add registers a limiter for provider.
func (r *Registry) Add(provider string, limiter *Limiter) {
	r.limiters[provider] = limiter
}

// NewRegistryFromConfig creates limiters for every enabled provider.
func NewRegistryFromConfig(cfg *config.Config, now func() time.Time) *Registry {
	r := NewRegistry()
	for _, name := range []string{config.ProviderGemini, config.ProviderOpenAI} {
		settings, _ := cfg.Provider(name)
		if !settings.Enabled {
			continue
		}
		steps := make([]time.Duration, 0, len(settings.ThrottleStepsSeconds))
		for _, seconds := range settings.ThrottleStepsSeconds {
			steps = append(steps, time.Duration(seconds)*time.Second)
		}
		r.Add(name, &Limiter{
			Window: NewWindow(settings.MaxPerMinute, settings.MaxPerHour, now, cfg.ResetLocation()),
			Throttle: NewThrottle(ThrottleConfig{
				Floor:      time.Duration(settings.ThrottleFloorMS) * time.Millisecond,
				Steps:      steps,
				Multiplier: settings.ThrottleMultiplier,
				Max:        time.Duration(settings.ThrottleMaxSeconds) * time.Second,
			}, now),
		})
	}
	return r
}

// Limiter returns the limiter for provider.
func (r *Registry) Limiter(provider string) (*Limiter, bool) {
	if r == nil {
		return nil, false
	}
	limiter, ok := r.limiters[provider]
	return limiter, ok
}

// ProviderStatus is a diagnostic view of one provider's limits.
type ProviderStatus struct {
	Provider      string         `json:"provider"`
	Window        WindowSnapshot `json:"window"`
	ThrottleDelay time.Duration  `json:"throttle_delay"`
	Signals       int            `json:"throttle_signals"`
}

// Snapshots returns every provider's status sorted by name.
func (r *Registry) Snapshots() []ProviderStatus {
	if r == nil {
		return nil
	}
	out := make([]ProviderStatus, 0, len(r.limiters))
	for name, limiter := range r.limiters {
		out = append(out, ProviderStatus{
			Provider:      name,
			Window:        limiter.Window.Snapshot(),
			ThrottleDelay: limiter.Throttle.Delay(),
			Signals:       limiter.Throttle.Signals(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out
}
