// Package verdictcache caches computed verdicts in Redis keyed by
// (change_id, source snapshot version). Verdicts are pure functions of the
// snapshot, so a cache hit skips the whole rule sequence for an unchanged
// change. The cache is best-effort: errors degrade to recomputation.
package verdictcache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"changegate/internal/domain"
)

type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

func New(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

func key(id domain.ChangeID, version string) string {
	return fmt.Sprintf("verdict:%s:%s", version, id)
}

// Get returns the cached verdict, or ok=false on miss or any cache error.
func (c *Cache) Get(ctx context.Context, id domain.ChangeID, version string) (domain.Verdict, bool) {
	raw, err := c.client.Get(ctx, key(id, version)).Bytes()
	if err != nil {
		// Misses and infrastructure errors both fall back to recomputation.
		return domain.Verdict{}, false
	}
	var v domain.Verdict
	if err := json.Unmarshal(raw, &v); err != nil {
		return domain.Verdict{}, false
	}
	return v, true
}

// Put stores the verdict; failures are ignored.
func (c *Cache) Put(ctx context.Context, version string, v domain.Verdict) {
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.client.Set(ctx, key(v.ChangeID, version), raw, c.ttl)
}
