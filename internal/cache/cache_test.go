package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temcen/affinity/pkg/models"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func TestTTLCache_LazyExpiry(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	c := NewTTLCache[int](4, clock.Now)

	c.Set("a", 1, time.Minute)
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	clock.Advance(time.Minute)
	_, ok = c.Get("a")
	assert.False(t, ok, "entry must expire at its deadline")
	assert.Equal(t, 0, c.Len(), "expired entry is dropped on read")
}

func TestTTLCache_EvictExpiredAndPrefix(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	c := NewTTLCache[string](0, clock.Now)

	c.Set("user:1:a", "x", time.Minute)
	c.Set("user:1:b", "y", time.Hour)
	c.Set("user:2:a", "z", time.Hour)

	clock.Advance(2 * time.Minute)
	assert.Equal(t, 1, c.EvictExpired())
	assert.Equal(t, 2, c.Len())

	assert.Equal(t, 1, c.DeletePrefix("user:1:"))
	_, ok := c.Get("user:2:a")
	assert.True(t, ok)
}

func TestTTLCache_ConcurrentAccess(t *testing.T) {
	c := NewTTLCache[int](8, nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := fmt.Sprintf("k%d", (i*100+j)%50)
				c.Set(key, j, time.Minute)
				c.Get(key)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 50, c.Len())
}

func TestMemoryResultCache_InvalidateUser(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Now()}
	rc := NewMemoryResultCache(clock.Now)

	alice, bob := uuid.New(), uuid.New()
	result := &models.RecommendationResult{UserID: alice, Recommendations: []models.MatchScore{{CandidateID: uuid.New(), TotalScore: 0.7}}}

	require.NoError(t, rc.Set(ctx, alice, "h1", result, 30*time.Minute))
	require.NoError(t, rc.Set(ctx, alice, "h2", result, 30*time.Minute))
	require.NoError(t, rc.Set(ctx, bob, "h1", result, 30*time.Minute))

	got, ok, err := rc.Get(ctx, alice, "h1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, got.Recommendations, 1)

	require.NoError(t, rc.InvalidateUser(ctx, alice))
	_, ok, _ = rc.Get(ctx, alice, "h2")
	assert.False(t, ok)
	_, ok, _ = rc.Get(ctx, bob, "h1")
	assert.True(t, ok)

	clock.Advance(31 * time.Minute)
	assert.Equal(t, 1, rc.EvictExpired(ctx))
}

func TestRedisResultCache_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skip("Redis not available")
	}

	rc := NewRedisResultCache(client)
	userID := uuid.New()
	result := &models.RecommendationResult{UserID: userID, CandidatePool: 3}

	require.NoError(t, rc.Set(ctx, userID, "abc", result, time.Minute))
	got, ok, err := rc.Get(ctx, userID, "abc")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3, got.CandidatePool)

	require.NoError(t, rc.InvalidateUser(ctx, userID))
	_, ok, err = rc.Get(ctx, userID, "abc")
	require.NoError(t, err)
	assert.False(t, ok)
}
