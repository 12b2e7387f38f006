package genai

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/openai/openai-go"
)

const redisOpTimeout = 2 * time.Second

// responseCache is shared by every client derived from one CachedClient.
type responseCache struct {
	local *expirable.LRU[string, string]
	redis *redis.Client
	ttl   time.Duration
}

// CachedClient serves repeated text completions from an in-process LRU and,
// when configured, a shared Redis tier. Tool calls are never cached.
type CachedClient struct {
	inner       ClientInterface
	cache       *responseCache
	temperature float64
}

// CacheOption configures a CachedClient.
type CacheOption func(*responseCache)

// WithRedis adds a Redis tier behind the in-process cache.
func WithRedis(client *redis.Client) CacheOption {
	return func(c *responseCache) { c.redis = client }
}

// NewCachedClient wraps inner with a response cache of the given size and TTL.
// A TTL <= 0 disables expiration.
func NewCachedClient(inner ClientInterface, size int, ttl time.Duration, opts ...CacheOption) (*CachedClient, error) {
	if size <= 0 {
		return nil, fmt.Errorf("cache size must be positive, got %d", size)
	}
	if ttl < 0 {
		ttl = 0
	}
	rc := &responseCache{local: expirable.NewLRU[string, string](size, nil, ttl), ttl: ttl}
	for _, opt := range opts {
		opt(rc)
	}
	return &CachedClient{inner: inner, cache: rc, temperature: -1}, nil
}

// NewRedisClient connects to addr. A failed ping is logged and nil returned so
// callers run with the local tier only.
func NewRedisClient(ctx context.Context, addr string) *redis.Client {
	if addr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := client.Ping(pingCtx).Result(); err != nil {
		slog.Warn("genai.NewRedisClient: redis unavailable, using local cache only", "addr", addr, "error", err)
		client.Close()
		return nil
	}
	slog.Info("genai.NewRedisClient: connected to redis cache", "addr", addr)
	return client
}

func (c *CachedClient) Model() string { return c.inner.Model() }

func (c *CachedClient) WithModel(model string) ClientInterface {
	return &CachedClient{inner: c.inner.WithModel(model), cache: c.cache, temperature: c.temperature}
}

func (c *CachedClient) WithTemperature(t float64) ClientInterface {
	return &CachedClient{inner: c.inner.WithTemperature(t), cache: c.cache, temperature: t}
}

func (c *CachedClient) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	key := c.key("generate", systemPrompt, userPrompt)
	if content, ok := c.get(ctx, key); ok {
		return content, nil
	}
	content, err := c.inner.Generate(ctx, systemPrompt, userPrompt)
	if err != nil {
		return "", err
	}
	c.put(ctx, key, content)
	return content, nil
}

func (c *CachedClient) GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	payload, err := json.Marshal(messages)
	if err != nil {
		return c.inner.GenerateWithMessages(ctx, messages)
	}
	key := c.key("messages", string(payload))
	if content, ok := c.get(ctx, key); ok {
		return content, nil
	}
	content, err := c.inner.GenerateWithMessages(ctx, messages)
	if err != nil {
		return "", err
	}
	c.put(ctx, key, content)
	return content, nil
}

func (c *CachedClient) GenerateWithTools(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion, tools []openai.ChatCompletionToolParam) (*ToolCallResponse, error) {
	return c.inner.GenerateWithTools(ctx, messages, tools)
}

func (c *CachedClient) key(parts ...string) string {
	h := sha256.New()
	h.Write([]byte(c.inner.Model()))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatFloat(c.temperature, 'f', -1, 64)))
	for _, p := range parts {
		h.Write([]byte{0})
		h.Write([]byte(p))
	}
	return "insureguide:llm:" + hex.EncodeToString(h.Sum(nil))
}

func (c *CachedClient) get(ctx context.Context, key string) (string, bool) {
	if content, ok := c.cache.local.Get(key); ok {
		cacheHitsTotal.WithLabelValues("local").Inc()
		return content, true
	}

	if c.cache.redis != nil {
		rctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
		defer cancel()
		content, err := c.cache.redis.Get(rctx, key).Result()
		if err == nil {
			cacheHitsTotal.WithLabelValues("redis").Inc()
			c.cache.local.Add(key, content)
			return content, true
		}
		if err != redis.Nil {
			slog.Debug("CachedClient.get: redis lookup failed", "error", err)
		}
	}
	cacheMissesTotal.Inc()
	return "", false
}

func (c *CachedClient) put(ctx context.Context, key, content string) {
	c.cache.local.Add(key, content)
	if c.cache.redis == nil {
		return
	}
	rctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()
	if err := c.cache.redis.Set(rctx, key, content, c.cache.ttl).Err(); err != nil {
		slog.Warn("CachedClient.put: failed to cache response in redis", "error", err)
	}
}
