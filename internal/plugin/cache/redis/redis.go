package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/openmem/openmem/internal/config"
	registrycache "github.com/openmem/openmem/internal/registry/cache"
	goredis "github.com/redis/go-redis/v9"
)

const defaultTTL = 10 * time.Minute

func init() {
	registrycache.Register(registrycache.Plugin{
		Name:   "redis",
		Loader: load,
	})
}

func load(ctx context.Context) (registrycache.QueryEmbeddingCache, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.RedisURL == "" {
		return nil, fmt.Errorf("redis cache: OPENMEM_REDIS_URL is required")
	}
	ttl := cfg.CacheQueryTTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return LoadFromURLWithTTL(ctx, cfg.RedisURL, ttl)
}

// LoadFromURL creates a QueryEmbeddingCache from a Redis-compatible URL.
func LoadFromURL(ctx context.Context, redisURL string) (registrycache.QueryEmbeddingCache, error) {
	return LoadFromURLWithTTL(ctx, redisURL, defaultTTL)
}

// LoadFromURLWithTTL creates a cache with an explicit default TTL.
func LoadFromURLWithTTL(ctx context.Context, redisURL string, ttl time.Duration) (registrycache.QueryEmbeddingCache, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis cache: invalid URL: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis cache: ping failed: %w", err)
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &redisQueryCache{client: client, ttl: ttl}, nil
}

type redisQueryCache struct {
	client *goredis.Client
	ttl    time.Duration
}

// queryKey hashes the query text so arbitrary user input never appears in
// Redis keys.
func queryKey(model, query string) string {
	sum := sha256.Sum256([]byte(query))
	return fmt.Sprintf("openmem:embed:%s:%s", model, hex.EncodeToString(sum[:]))
}

func (c *redisQueryCache) Available() bool {
	return true
}

func (c *redisQueryCache) Get(ctx context.Context, model, query string) ([]float32, error) {
	data, err := c.client.Get(ctx, queryKey(model, query)).Bytes()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var embedding []float32
	if err := json.Unmarshal(data, &embedding); err != nil {
		return nil, err
	}
	return embedding, nil
}

func (c *redisQueryCache) Set(ctx context.Context, model, query string, embedding []float32, ttl time.Duration) error {
	data, err := json.Marshal(embedding)
	if err != nil {
		return err
	}
	if ttl == 0 {
		ttl = c.ttl
	}
	return c.client.Set(ctx, queryKey(model, query), data, ttl).Err()
}

var _ registrycache.QueryEmbeddingCache = (*redisQueryCache)(nil)
