package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/temcen/affinity/pkg/models"
)

const resultKeyPrefix = "recommendations:"

// ResultKey builds the cache key for a user's recommendations under a parameter hash.
func ResultKey(userID uuid.UUID, paramsHash string) string {
	return fmt.Sprintf("%s%s:%s", resultKeyPrefix, userID, paramsHash)
}

func userPrefix(userID uuid.UUID) string {
	return resultKeyPrefix + userID.String() + ":"
}

// ResultCache stores ranked recommendation results keyed by (user, params hash).
type ResultCache interface {
	Get(ctx context.Context, userID uuid.UUID, paramsHash string) (*models.RecommendationResult, bool, error)
	Set(ctx context.Context, userID uuid.UUID, paramsHash string, result *models.RecommendationResult, ttl time.Duration) error
	InvalidateUser(ctx context.Context, userID uuid.UUID) error
	EvictExpired(ctx context.Context) int
}

// MemoryResultCache keeps results in a TTLCache.
type MemoryResultCache struct {
	entries *TTLCache[*models.RecommendationResult]
}

func NewMemoryResultCache(now func() time.Time) *MemoryResultCache {
	return &MemoryResultCache{entries: NewTTLCache[*models.RecommendationResult](defaultShards, now)}
}

func (m *MemoryResultCache) Get(ctx context.Context, userID uuid.UUID, paramsHash string) (*models.RecommendationResult, bool, error) {
	res, ok := m.entries.Get(ResultKey(userID, paramsHash))
	if !ok {
		return nil, false, nil
	}
	c := *res
	c.Recommendations = append([]models.MatchScore(nil), res.Recommendations...)
	return &c, true, nil
}

func (m *MemoryResultCache) Set(ctx context.Context, userID uuid.UUID, paramsHash string, result *models.RecommendationResult, ttl time.Duration) error {
	c := *result
	c.Recommendations = append([]models.MatchScore(nil), result.Recommendations...)
	m.entries.Set(ResultKey(userID, paramsHash), &c, ttl)
	return nil
}

func (m *MemoryResultCache) InvalidateUser(ctx context.Context, userID uuid.UUID) error {
	m.entries.DeletePrefix(userPrefix(userID))
	return nil
}

func (m *MemoryResultCache) EvictExpired(ctx context.Context) int {
	return m.entries.EvictExpired()
}

// RedisResultCache shares results across instances. Redis expires keys itself,
// so EvictExpired is a no-op.
type RedisResultCache struct {
	client *redis.Client
}

func NewRedisResultCache(client *redis.Client) *RedisResultCache {
	return &RedisResultCache{client: client}
}

func (r *RedisResultCache) Get(ctx context.Context, userID uuid.UUID, paramsHash string) (*models.RecommendationResult, bool, error) {
	data, err := r.client.Get(ctx, ResultKey(userID, paramsHash)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cached recommendations: %w", err)
	}

	var result models.RecommendationResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, false, fmt.Errorf("failed to decode cached recommendations: %w", err)
	}
	return &result, true, nil
}

func (r *RedisResultCache) Set(ctx context.Context, userID uuid.UUID, paramsHash string, result *models.RecommendationResult, ttl time.Duration) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, ResultKey(userID, paramsHash), data, ttl).Err()
}

func (r *RedisResultCache) InvalidateUser(ctx context.Context, userID uuid.UUID) error {
	var keys []string
	iter := r.client.Scan(ctx, 0, userPrefix(userID)+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan cached recommendations: %w", err)
	}
	if len(keys) > 0 {
		return r.client.Del(ctx, keys...).Err()
	}
	return nil
}

func (r *RedisResultCache) EvictExpired(ctx context.Context) int {
	return 0
}
