// Package plugins defines the common interface for repository content sources
package plugins

import (
	"context"
	"sort"

	"github.com/briangreenhill/gitreal/cache"
)

// Target identifies a repository snapshot on a source host.
// An empty Branch means the repository's default branch.
type Target struct {
	Host   string `json:"host"`
	Owner  string `json:"owner"`
	Repo   string `json:"repo"`
	Branch string `json:"branch,omitempty"`
}

// Key returns the cache key for the target.
func (t Target) Key() string {
	return cache.RepoKey(t.Owner, t.Repo, t.Branch)
}

// Source defines the minimal interface that all content sources must implement
type Source interface {
	// Name returns the host the source serves (e.g., "github.com")
	Name() string

	// Fetch retrieves the repository and flattens it into a single text document
	Fetch(ctx context.Context, t Target) (string, error)
}

// Registry manages available content sources
type Registry struct {
	sources map[string]Source
}

// NewRegistry creates a new source registry
func NewRegistry() *Registry {
	return &Registry{
		sources: make(map[string]Source),
	}
}

// Register adds a source to the registry, replacing any source with the same name
func (r *Registry) Register(source Source) {
	r.sources[source.Name()] = source
}

// Get retrieves a source by name
func (r *Registry) Get(name string) (Source, bool) {
	source, exists := r.sources[name]
	return source, exists
}

// List returns all registered source names in sorted order
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
