package shared

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestIdempotencyClaimRelease(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := NewIdempotencyStore(client, "rxoptima-app", time.Hour)
	ctx := context.Background()

	require.NoError(t, store.Claim(ctx, "checkout", "k1"))
	require.ErrorIs(t, store.Claim(ctx, "checkout", "k1"), ErrIdempotencyConflict)
	require.NoError(t, store.Claim(ctx, "fill", "k1"))
	require.True(t, mr.Exists("rxoptima-app:idempotency:checkout:k1"))
	require.Equal(t, time.Hour, mr.TTL("rxoptima-app:idempotency:checkout:k1"))

	require.NoError(t, store.Release(ctx, "checkout", "k1"))
	require.NoError(t, store.Claim(ctx, "checkout", "k1"))

	require.Error(t, store.Claim(ctx, "checkout", ""))
	require.Error(t, store.Claim(ctx, "", "k2"))

	var nilStore *IdempotencyStore
	require.Error(t, nilStore.Claim(ctx, "checkout", "k1"))
	require.NoError(t, nilStore.Release(ctx, "checkout", "k1"))
}

func TestIdempotencyKeysExpire(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := NewIdempotencyStore(client, "ns", time.Minute)
	ctx := context.Background()

	require.NoError(t, store.Claim(ctx, "checkout", "k"))
	mr.FastForward(2 * time.Minute)
	require.NoError(t, store.Claim(ctx, "checkout", "k"))
}
