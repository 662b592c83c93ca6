package stage

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Health summarizes whether a configured stage can run.
type Health struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// Registry maps stage names to their logic.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]Func
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]Func)}
}

// Register binds name to fn, replacing any previous binding.
func (r *Registry) Register(name string, fn Func) {
	name = strings.TrimSpace(name)
	if name == "" || fn == nil {
		return
	}
	r.mu.Lock()
	r.funcs[name] = fn
	r.mu.Unlock()
}

// Lookup returns the Func registered for name.
func (r *Registry) Lookup(name string) (Func, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[name]
	return fn, ok
}

// Names lists registered stages alphabetically.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Check reports readiness for each stage in order.
func (r *Registry) Check(stages []string) []Health {
	out := make([]Health, 0, len(stages))
	for _, name := range stages {
		if _, ok := r.Lookup(name); ok {
			out = append(out, Health{Name: name, Ready: true})
			continue
		}
		out = append(out, Health{Name: name, Detail: fmt.Sprintf("no logic registered for stage %q", name)})
	}
	return out
}

// Missing returns the configured stages that have no registered Func.
func (r *Registry) Missing(stages []string) []string {
	var missing []string
	for _, h := range r.Check(stages) {
		if !h.Ready {
			missing = append(missing, h.Name)
		}
	}
	return missing
}
