//go:build redis_integration

package session

import (
	"context"
	"os"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestRedisStoreRoundTrip(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set; skipping integration test")
	}
	opt, err := redis.ParseURL(url)
	require.NoError(t, err)
	rdb := redis.NewClient(opt)
	defer rdb.Close()

	ctx := context.Background()
	r := NewRedis(rdb, time.Minute)
	require.NoError(t, r.Put(ctx, &Session{ID: "it-session", Tenant: "t1", State: StateReviewing}))
	got, err := r.Get(ctx, "it-session")
	require.NoError(t, err)
	require.Equal(t, StateReviewing, got.State)

	_, err = r.GetSnapshot(ctx, "it-session-missing")
	require.ErrorIs(t, err, ErrNoSnapshot)
	ttl, err := rdb.TTL(ctx, sessionKey("it-session")).Result()
	require.NoError(t, err)
	require.Greater(t, ttl, time.Duration(0))
}
