// Package registry holds the tool catalog exposed through the gateway.
//
// The catalog is the full set of tools the backend server declares, each
// tagged with free-form category strings. The registry additionally tracks
// the live, advertisable set: the authorization middleware removes tools a
// caller is not entitled to so that subsequent listing and invocation cannot
// reach them.
package registry

import (
	"errors"
	"sync"
)

// ErrToolNotFound is returned when removing a tool that is not in the live set.
// Removal is expected to be idempotent; callers treat this as a no-op.
var ErrToolNotFound = errors.New("tool not found")

// ToolDescriptor describes a single tool in the catalog.
// Name uniqueness is guaranteed by whoever populates the registry, not here.
type ToolDescriptor struct {
	Name string   `json:"name"`
	Tags []string `json:"tags"`
}

// HasAnyTag reports whether the tool carries at least one of the given tags.
func (d ToolDescriptor) HasAnyTag(tags []string) bool {
	for _, want := range tags {
		for _, have := range d.Tags {
			if want == have {
				return true
			}
		}
	}
	return false
}

// Registry is the tool catalog interface the decision engine depends on.
type Registry interface {
	// Catalog returns the full declared tool catalog, independent of what is
	// currently advertisable.
	Catalog() []ToolDescriptor

	// RemoveTool takes a tool out of the live, advertisable set.
	// Returns ErrToolNotFound if the tool is already gone.
	RemoveTool(name string) error

	// RestoreAll resets the live set back to the full catalog.
	RestoreAll()
}

// InMemoryRegistry is a mutex-guarded Registry implementation seeded from
// configuration. It is safe for concurrent use by request handlers.
type InMemoryRegistry struct {
	mu      sync.RWMutex
	catalog []ToolDescriptor
	live    map[string]struct{}
}

// NewInMemoryRegistry creates a registry with the given catalog. All tools
// start out live.
func NewInMemoryRegistry(catalog []ToolDescriptor) *InMemoryRegistry {
	r := &InMemoryRegistry{catalog: catalog}
	r.RestoreAll()
	return r
}

// Catalog returns a copy of the full declared catalog.
func (r *InMemoryRegistry) Catalog() []ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ToolDescriptor, len(r.catalog))
	copy(out, r.catalog)
	return out
}

// RemoveTool takes a tool out of the live set.
func (r *InMemoryRegistry) RemoveTool(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.live[name]; !ok {
		return ErrToolNotFound
	}
	delete(r.live, name)
	return nil
}

// RestoreAll resets the live set to the full catalog.
func (r *InMemoryRegistry) RestoreAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	live := make(map[string]struct{}, len(r.catalog))
	for _, tool := range r.catalog {
		live[tool.Name] = struct{}{}
	}
	r.live = live
}

// IsLive reports whether the tool is currently advertisable.
func (r *InMemoryRegistry) IsLive(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.live[name]
	return ok
}
