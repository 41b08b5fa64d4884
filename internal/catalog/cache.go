package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// CachedCatalog is a read-through Redis cache in front of another Catalog.
// Cache errors are logged and fall through to the backing catalog.
type CachedCatalog struct {
	next   Catalog
	client *redis.Client
	ttl    time.Duration
}

func NewCachedCatalog(next Catalog, client *redis.Client, ttl time.Duration) *CachedCatalog {
	return &CachedCatalog{next: next, client: client, ttl: ttl}
}

func cacheKey(ref string) string {
	return fmt.Sprintf("catalog:product:%s", ref)
}

func (c *CachedCatalog) Lookup(ctx context.Context, ref string) (*Product, error) {
	key := cacheKey(ref)

	raw, err := c.client.Get(ctx, key).Result()
	switch {
	case err == nil:
		var p Product
		if jerr := json.Unmarshal([]byte(raw), &p); jerr == nil {
			return &p, nil
		}
		slog.WarnContext(ctx, "[catalog] dropping corrupt cache entry", "key", key)
	case !errors.Is(err, redis.Nil):
		slog.WarnContext(ctx, "[catalog] cache read failed", "key", key, "error", err)
	}

	p, err := c.next.Lookup(ctx, ref)
	if err != nil || p == nil {
		return p, err
	}

	b, err := json.Marshal(p)
	if err == nil {
		err = c.client.Set(ctx, key, b, c.ttl).Err()
	}
	if err != nil {
		slog.WarnContext(ctx, "[catalog] cache write failed", "key", key, "error", err)
	}
	return p, nil
}

// Invalidate drops the cached entry for ref, e.g. after a price change.
func (c *CachedCatalog) Invalidate(ctx context.Context, ref string) error {
	return c.client.Del(ctx, cacheKey(ref)).Err()
}
