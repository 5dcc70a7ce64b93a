package receiver

import (
    "context"
    "sync"
    "time"

    redis "github.com/redis/go-redis/v9"
)

// DedupStore remembers processed idempotency keys for the retention window.
// Processed reports whether a key has been recorded; MarkProcessed records it
// and returns true exactly once per key, false on later calls.
type DedupStore interface {
    Processed(ctx context.Context, key string) (bool, error)
    MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// RedisDedup stores processed keys with SETNX and a TTL, so dedup state is
// shared across receiver replicas and expires with the replay window.
type RedisDedup struct {
    rdb    *redis.Client
    prefix string
}

func NewRedisDedup(url string) (*RedisDedup, error) {
    opt, err := redis.ParseURL(url)
    if err != nil {
        return nil, err
    }
    return &RedisDedup{rdb: redis.NewClient(opt), prefix: "webhook:processed:"}, nil
}

func (d *RedisDedup) Processed(ctx context.Context, key string) (bool, error) {
    n, err := d.rdb.Exists(ctx, d.prefix+key).Result()
    return n > 0, err
}

func (d *RedisDedup) MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error) {
    return d.rdb.SetNX(ctx, d.prefix+key, "1", ttl).Result()
}

// MemoryDedup is a single-process dedup store for tests and dev receivers.
type MemoryDedup struct {
    mu   sync.Mutex
    seen map[string]time.Time
}

func NewMemoryDedup() *MemoryDedup {
    return &MemoryDedup{seen: map[string]time.Time{}}
}

func (d *MemoryDedup) Processed(ctx context.Context, key string) (bool, error) {
    d.mu.Lock()
    defer d.mu.Unlock()
    exp, ok := d.seen[key]
    return ok && exp.After(time.Now()), nil
}

func (d *MemoryDedup) MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error) {
    d.mu.Lock()
    defer d.mu.Unlock()
    now := time.Now()
    if exp, ok := d.seen[key]; ok && exp.After(now) {
        return false, nil
    }
    d.seen[key] = now.Add(ttl)
    return true, nil
}
