package pesapal

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// tokenExpirySkew is subtracted from the gateway expiry so a cached
	// token is never presented in its last seconds.
	tokenExpirySkew = 30 * time.Second

	// fallbackTokenTTL is used when the gateway expiry is missing or
	// cannot be parsed. Pesapal tokens live for five minutes.
	fallbackTokenTTL = 4 * time.Minute
)

// TokenCache stores bearer tokens between Authenticate calls.
// Implementations must be safe for concurrent use.
type TokenCache interface {
	// Get returns the cached token, or ok=false when none is cached.
	Get(ctx context.Context, key string) (tok Token, ok bool, err error)

	// Set caches tok for ttl.
	Set(ctx context.Context, key string, tok Token, ttl time.Duration) error

	// Delete evicts the token under key. Deleting a missing key is not an
	// error.
	Delete(ctx context.Context, key string) error
}

// TokenCacheKey identifies credentials without exposing them.
func TokenCacheKey(cfg GatewayConfig) string {
	sum := sha256.Sum256([]byte(cfg.ConsumerKey))
	return fmt.Sprintf("pesapal:token:%s:%s", cfg.Environment, hex.EncodeToString(sum[:8]))
}

func tokenTTL(tok Token, now time.Time) time.Duration {
	if tok.ExpiresAt.IsZero() {
		return fallbackTokenTTL
	}
	return tok.ExpiresAt.Sub(now) - tokenExpirySkew
}

// MemoryTokenCache keeps tokens in process memory.
type MemoryTokenCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	token   Token
	expires time.Time
}

// NewMemoryTokenCache creates an empty in-process cache.
func NewMemoryTokenCache() *MemoryTokenCache {
	return &MemoryTokenCache{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (c *MemoryTokenCache) Get(_ context.Context, key string) (Token, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return Token{}, false, nil
	}
	if !c.now().Before(e.expires) {
		delete(c.entries, key)
		return Token{}, false, nil
	}
	return e.token, true, nil
}

func (c *MemoryTokenCache) Set(_ context.Context, key string, tok Token, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = memoryEntry{token: tok, expires: c.now().Add(ttl)}
	return nil
}

func (c *MemoryTokenCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

// RedisTokenCache shares tokens between service instances through Redis.
type RedisTokenCache struct {
	client *redis.Client
}

// NewRedisTokenCache wraps an existing Redis client.
func NewRedisTokenCache(client *redis.Client) *RedisTokenCache {
	return &RedisTokenCache{client: client}
}

func (c *RedisTokenCache) Get(ctx context.Context, key string) (Token, bool, error) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Token{}, false, nil
	}
	if err != nil {
		return Token{}, false, fmt.Errorf("redis get %s: %w", key, err)
	}

	var tok Token
	if err := json.Unmarshal(raw, &tok); err != nil {
		return Token{}, false, fmt.Errorf("decode cached token: %w", err)
	}
	return tok, tok.Value != "", nil
}

func (c *RedisTokenCache) Set(ctx context.Context, key string, tok Token, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	raw, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}
	if err := c.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (c *RedisTokenCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}
