package entity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"scan-comply/pkg/models"
)

// Tier is a shared cache level behind the in-memory cache, so verification
// results survive restarts and are reused across workers.
type Tier interface {
	Get(ctx context.Context, uen string) (models.CachedVerification, bool, error)
	Set(ctx context.Context, entry models.CachedVerification) error
}

const redisKeyPrefix = "scan-comply:uen:"

// RedisTier stores cached verifications in Redis with a matching TTL.
type RedisTier struct {
	client redis.Cmdable
	now    func() time.Time
}

// NewRedisTier wraps client. now is used to reject entries whose ExpiresAt
// has passed before Redis expired the key.
func NewRedisTier(client redis.Cmdable, now func() time.Time) *RedisTier {
	if now == nil {
		now = time.Now
	}
	return &RedisTier{client: client, now: now}
}

func (t *RedisTier) Get(ctx context.Context, uen string) (models.CachedVerification, bool, error) {
	raw, err := t.client.Get(ctx, redisKeyPrefix+uen).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.CachedVerification{}, false, nil
	}
	if err != nil {
		return models.CachedVerification{}, false, fmt.Errorf("redis get %s: %w", uen, err)
	}
	var entry models.CachedVerification
	if err := json.Unmarshal(raw, &entry); err != nil {
		return models.CachedVerification{}, false, fmt.Errorf("decode cached %s: %w", uen, err)
	}
	if entry.Expired(t.now()) {
		return models.CachedVerification{}, false, nil
	}
	return entry, true, nil
}

func (t *RedisTier) Set(ctx context.Context, entry models.CachedVerification) error {
	ttl := entry.ExpiresAt.Sub(t.now())
	if ttl <= 0 {
		return nil
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode cached %s: %w", entry.UEN, err)
	}
	if err := t.client.Set(ctx, redisKeyPrefix+entry.UEN, raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", entry.UEN, err)
	}
	return nil
}

// NewRedisClient parses url and pings the server. An empty url means the
// tier is not configured and returns nil, nil.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	if url == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}
