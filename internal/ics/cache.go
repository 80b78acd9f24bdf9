package ics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/go-redis/redis/v8"
)

// CacheEntry holds HTTP cache metadata for a single ICS URL.
type CacheEntry struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// BodyCache stores the last good body per feed URL. It only serves
// conditional requests and offline fallback; resolved schedules are never
// cached.
type BodyCache interface {
	Load(ctx context.Context, url string) (CacheEntry, []byte, error)
	Save(ctx context.Context, url string, meta CacheEntry, body []byte) error
}

type noCache struct{}

func (noCache) Load(context.Context, string) (CacheEntry, []byte, error) {
	return CacheEntry{}, nil, errors.New("cache disabled")
}

func (noCache) Save(context.Context, string, CacheEntry, []byte) error { return nil }

func cacheKey(url string) string {
	sum := sha256.Sum256([]byte(url))
	// First 16 hex chars are plenty to tell feeds apart.
	return hex.EncodeToString(sum[:8])
}

// DiskCache keeps meta.json + body.ics per URL under dir.
type DiskCache struct {
	dir string
}

// NewDiskCache creates a disk-backed cache. Example dir:
// "/var/lib/classcal/ics-cache".
func NewDiskCache(dir string) *DiskCache {
	if dir == "" {
		// Development fallback that needs no root permissions.
		dir = "./var/ics-cache"
	}
	return &DiskCache{dir: dir}
}

func (c *DiskCache) path(url string) string {
	return filepath.Join(c.dir, cacheKey(url))
}

func (c *DiskCache) Load(_ context.Context, url string) (CacheEntry, []byte, error) {
	var meta CacheEntry
	p := c.path(url)

	data, err := os.ReadFile(filepath.Join(p, "meta.json"))
	if err != nil {
		return meta, nil, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return CacheEntry{}, nil, err
	}
	body, err := os.ReadFile(filepath.Join(p, "body.ics"))
	if err != nil {
		return CacheEntry{}, nil, err
	}
	return meta, body, nil
}

func (c *DiskCache) Save(_ context.Context, url string, meta CacheEntry, body []byte) error {
	p := c.path(url)
	if err := os.MkdirAll(p, 0o700); err != nil {
		return err
	}

	// Write body first so meta never points at missing body.
	if err := os.WriteFile(filepath.Join(p, "body.ics"), body, 0o600); err != nil {
		return err
	}
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(p, "meta.json"), data, 0o600)
}

// redisKV is the part of go-redis the cache needs; *redis.Client and
// *redis.ClusterClient both satisfy it.
type redisKV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// RedisCache shares fetched bodies between several displays in one school,
// so a flaky feed only needs to succeed once for all of them.
type RedisCache struct {
	client redisKV
	prefix string
	ttl    time.Duration
}

// NewRedisCache wraps a go-redis client. ttl <= 0 keeps entries forever.
func NewRedisCache(client redisKV, ttl time.Duration) *RedisCache {
	if ttl < 0 {
		ttl = 0
	}
	return &RedisCache{client: client, prefix: "classcal:ics:", ttl: ttl}
}

type redisRecord struct {
	Meta CacheEntry `json:"meta"`
	Body []byte     `json:"body"`
}

func (c *RedisCache) Load(ctx context.Context, url string) (CacheEntry, []byte, error) {
	raw, err := c.client.Get(ctx, c.prefix+cacheKey(url)).Bytes()
	if err != nil {
		return CacheEntry{}, nil, err
	}
	var rec redisRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return CacheEntry{}, nil, err
	}
	return rec.Meta, rec.Body, nil
}

func (c *RedisCache) Save(ctx context.Context, url string, meta CacheEntry, body []byte) error {
	data, err := json.Marshal(redisRecord{Meta: meta, Body: body})
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.prefix+cacheKey(url), data, c.ttl).Err()
}
