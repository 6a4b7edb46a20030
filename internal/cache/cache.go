// Package cache fronts PlatformClient directory listings with a
// short-TTL Redis cache, nil-safe when Redis isn't configured. Grounded
// on gateway/internal/handler/auth.go's auth_decision cache idiom:
// `if h.redis != nil { Get/Set with TTL }`, retargeted from an auth
// decision to a file listing (SPEC_FULL.md supplement 3).
package cache

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Aadithya-J/code_nest/services/runtime-service/internal/platform"
)

// DefaultTTL matches the browser-side DirectoryCache's ~2s freshness
// window (spec.md §4.10), so a fleet of stateless HttpSurface replicas
// still gets a single-call guarantee under repeated polling.
const DefaultTTL = 2 * time.Second

// DirectoryListingCache is nil-safe: a *DirectoryListingCache with a nil
// client turns every Get/Set into a no-op, so the composition root can
// build one unconditionally regardless of whether RUNTIME_REDIS_ADDR is
// set.
type DirectoryListingCache struct {
	client *redis.Client
	ttl    time.Duration
}

// New builds a cache. Pass addr == "" to opt out entirely (returns a
// cache with a nil client, safe to call Get/Set on).
func New(addr string, ttl time.Duration) *DirectoryListingCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if addr == "" {
		return &DirectoryListingCache{ttl: ttl}
	}
	return &DirectoryListingCache{client: redis.NewClient(&redis.Options{Addr: addr}), ttl: ttl}
}

func key(token, platformPath string) string {
	return "runtime:dirlist:" + token + ":" + platformPath
}

// Get returns a cached listing for (token, platformPath), or (nil,
// false) on a cache miss or when Redis isn't configured.
func (c *DirectoryListingCache) Get(ctx context.Context, token, platformPath string) ([]platform.FileEntry, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	raw, err := c.client.Get(ctx, key(token, platformPath)).Result()
	if err != nil {
		if err != redis.Nil {
			log.Printf("cache: get failed: %v", err)
		}
		return nil, false
	}
	var entries []platform.FileEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		log.Printf("cache: unmarshal failed: %v", err)
		return nil, false
	}
	return entries, true
}

// Set caches a listing for (token, platformPath) for the configured TTL.
func (c *DirectoryListingCache) Set(ctx context.Context, token, platformPath string, entries []platform.FileEntry) {
	if c == nil || c.client == nil {
		return
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		log.Printf("cache: marshal failed: %v", err)
		return
	}
	if err := c.client.Set(ctx, key(token, platformPath), raw, c.ttl).Err(); err != nil {
		log.Printf("cache: set failed: %v", err)
	}
}

// Invalidate drops the cached listing for (token, platformPath). The
// HTTP write/mkdir/delete handlers use InvalidateToken instead.
func (c *DirectoryListingCache) Invalidate(ctx context.Context, token, platformPath string) {
	if c == nil || c.client == nil {
		return
	}
	if err := c.client.Del(ctx, key(token, platformPath)).Err(); err != nil {
		log.Printf("cache: invalidate failed: %v", err)
	}
}

// InvalidateToken drops every cached listing for token, regardless of
// path, matching pkg/runtimeclient/directorycache.go's InvalidateToken
// so a write anywhere under a session invalidates every other
// already-cached listing for that session, not just its parent
// directory.
func (c *DirectoryListingCache) InvalidateToken(ctx context.Context, token string) {
	if c == nil || c.client == nil {
		return
	}
	pattern := key(token, "*")
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			log.Printf("cache: invalidate token scan failed: %v", err)
			return
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				log.Printf("cache: invalidate token delete failed: %v", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return
		}
	}
}

// Close releases the underlying Redis connection, if any.
func (c *DirectoryListingCache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
