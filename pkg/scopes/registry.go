// Package scopes holds the per-tool scope declarations and enforces them on
// tool listing and tool calls. The Protected Resource Metadata advertisement
// is derived from the same registry, never configured separately.
package scopes

import (
	"sort"
	"sync"
)

// Registry maps tool names to their required scopes. Tools register once at
// startup; reads happen on every request.
type Registry struct {
	mu       sync.RWMutex
	required map[string][]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{required: make(map[string][]string)}
}

// Register declares the required scopes for a tool. Registering the same
// tool again replaces the declaration.
func (r *Registry) Register(tool string, required ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.required[tool] = append([]string(nil), required...)
}

// RequiredFor returns the declared scopes for a tool. Unregistered tools
// require none.
func (r *Registry) RequiredFor(tool string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.required[tool]
}

// Missing returns the declared scopes the caller does not hold. A nil
// granted set means scope enforcement is off (Basic modes) and nothing is
// missing.
func (r *Registry) Missing(tool string, granted []string) []string {
	if granted == nil {
		return nil
	}
	have := make(map[string]bool, len(granted))
	for _, s := range granted {
		have[s] = true
	}
	var missing []string
	for _, s := range r.RequiredFor(tool) {
		if !have[s] {
			missing = append(missing, s)
		}
	}
	sort.Strings(missing)
	return missing
}

// Union returns the sorted union of every registered tool's required
// scopes. This is the PRM scopes_supported set.
func (r *Registry) Union() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := make(map[string]bool)
	for _, required := range r.required {
		for _, s := range required {
			set[s] = true
		}
	}
	union := make([]string, 0, len(set))
	for s := range set {
		union = append(union, s)
	}
	sort.Strings(union)
	return union
}
