package noop

import (
	"context"
	"time"

	"github.com/openmem/openmem/internal/registry/cache"
)

func init() {
	cache.Register(cache.Plugin{
		Name: "none",
		Loader: func(ctx context.Context) (cache.QueryEmbeddingCache, error) {
			return &noopQueryCache{}, nil
		},
	})
}

type noopQueryCache struct{}

func (n *noopQueryCache) Available() bool { return false }
func (n *noopQueryCache) Get(_ context.Context, _, _ string) ([]float32, error) {
	return nil, nil
}
func (n *noopQueryCache) Set(_ context.Context, _, _ string, _ []float32, _ time.Duration) error {
	return nil
}

var _ cache.QueryEmbeddingCache = (*noopQueryCache)(nil)
