package middlewares

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jellydator/ttlcache/v3"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const IdempotencyHeader = "X-Idempotency-Key"

type CachedResponse struct {
	Status int    `json:"status"`
	Body   []byte `json:"body"`
}

// ResponseCache stores successful responses by idempotency key.
type ResponseCache interface {
	Get(ctx context.Context, key string) (*CachedResponse, error)
	Set(ctx context.Context, key string, resp CachedResponse) error
}

type RedisResponseCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisResponseCache(rdb *redis.Client, ttl time.Duration) *RedisResponseCache {
	return &RedisResponseCache{rdb: rdb, ttl: ttl}
}

func (c *RedisResponseCache) Get(ctx context.Context, key string) (*CachedResponse, error) {
	raw, err := c.rdb.Get(ctx, "idempotency:"+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var resp CachedResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *RedisResponseCache) Set(ctx context.Context, key string, resp CachedResponse) error {
	raw, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, "idempotency:"+key, raw, c.ttl).Err()
}

type MemoryResponseCache struct {
	cache *ttlcache.Cache[string, CachedResponse]
}

func NewMemoryResponseCache(ttl time.Duration) *MemoryResponseCache {
	cache := ttlcache.New(ttlcache.WithTTL[string, CachedResponse](ttl))
	go cache.Start()
	return &MemoryResponseCache{cache: cache}
}

func (c *MemoryResponseCache) Stop() { c.cache.Stop() }

func (c *MemoryResponseCache) Get(_ context.Context, key string) (*CachedResponse, error) {
	item := c.cache.Get(key)
	if item == nil {
		return nil, nil
	}
	resp := item.Value()
	return &resp, nil
}

func (c *MemoryResponseCache) Set(_ context.Context, key string, resp CachedResponse) error {
	c.cache.Set(key, resp, ttlcache.DefaultTTL)
	return nil
}

type bodyWriter struct {
	gin.ResponseWriter
	body []byte
}

func (w *bodyWriter) Write(b []byte) (int, error) {
	w.body = append(w.body, b...)
	return w.ResponseWriter.Write(b)
}

// Idempotency replays the stored response when a request carries an
// idempotency key that already produced a successful response. Cache errors
// never fail the request.
func Idempotency(cache ResponseCache, logr *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(IdempotencyHeader)
		if key == "" {
			c.Next()
			return
		}
		ctx := c.Request.Context()

		cached, err := cache.Get(ctx, key)
		if err != nil {
			logr.Warn("idempotency lookup failed", zap.String("key", key), zap.Error(err))
		}
		if cached != nil {
			c.Header("Idempotent-Replay", "true")
			c.Data(cached.Status, "application/json", cached.Body)
			c.Abort()
			return
		}

		bw := &bodyWriter{ResponseWriter: c.Writer}
		c.Writer = bw
		c.Next()

		if status := c.Writer.Status(); status < http.StatusBadRequest {
			if err := cache.Set(ctx, key, CachedResponse{Status: status, Body: bw.body}); err != nil {
				logr.Warn("failed to store idempotent response", zap.String("key", key), zap.Error(err))
			}
		}
	}
}
