// Package resources exposes read-only snapshots of daemon state over
// the MCP resources surface. Each resource is a URI bound to a provider
// that renders the current state on demand.
package resources

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	ErrNotFound = errors.New("resource not found")
	ErrDenied   = errors.New("resource access denied")
)

// Provider renders the current content of a resource. It is called on
// every read, so implementations should snapshot rather than block.
type Provider func(ctx context.Context) (string, error)

type Resource struct {
	URI         string
	Name        string
	Description string
	MimeType    string
	Provider    Provider
}

type Registry struct {
	mu    sync.RWMutex
	byURI map[string]Resource
	order []string
}

func NewRegistry() *Registry {
	return &Registry{byURI: make(map[string]Resource)}
}

func (r *Registry) Register(res Resource) error {
	if res.URI == "" {
		return fmt.Errorf("resource has no uri")
	}
	if res.Provider == nil {
		return fmt.Errorf("resource %s has no provider", res.URI)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byURI[res.URI]; exists {
		return fmt.Errorf("resource already registered: %s", res.URI)
	}
	r.byURI[res.URI] = res
	r.order = append(r.order, res.URI)
	return nil
}

// List returns the registered resources in registration order.
func (r *Registry) List() []Resource {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Resource, 0, len(r.order))
	for _, uri := range r.order {
		out = append(out, r.byURI[uri])
	}
	return out
}

// Read renders the resource at uri. The returned Resource carries the
// metadata (mime type) the caller needs to frame the content.
func (r *Registry) Read(ctx context.Context, uri string) (Resource, string, error) {
	r.mu.RLock()
	res, ok := r.byURI[uri]
	r.mu.RUnlock()

	if !ok {
		return Resource{}, "", fmt.Errorf("%w: %s", ErrNotFound, uri)
	}

	text, err := res.Provider(ctx)
	if err != nil {
		return res, "", err
	}
	return res, text, nil
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byURI)
}
