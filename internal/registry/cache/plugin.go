package cache

import (
	"context"
	"fmt"
	"time"
)

// QueryEmbeddingCache caches query embeddings so repeated searches skip the
// embedding provider. Keys are derived from the model name and query text.
type QueryEmbeddingCache interface {
	// Available reports whether the cache is actually backed by storage.
	Available() bool
	Get(ctx context.Context, model, query string) ([]float32, error)
	Set(ctx context.Context, model, query string, embedding []float32, ttl time.Duration) error
}

// Loader creates a cache from config.
type Loader func(ctx context.Context) (QueryEmbeddingCache, error)

// Plugin represents a cache plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a cache plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered cache plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named cache plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown cache %q; valid: %v", name, Names())
}
