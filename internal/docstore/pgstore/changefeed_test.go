package pgstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestChangeFeedDeliversAcrossRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	receiver := NewChangeFeed(client, "", nil)
	require.NoError(t, receiver.Start(ctx))
	changes, stop := receiver.Listen("ns/users/u/inventory")
	defer stop()

	publisher := NewChangeFeed(client, "", nil)
	require.NoError(t, publisher.Publish(ctx, "ns/users/u/inventory"))

	select {
	case <-changes:
	case <-time.After(2 * time.Second):
		t.Fatal("change notification not delivered")
	}
}

func TestChangeFeedLocalDispatchCoalesces(t *testing.T) {
	feed := NewChangeFeed(nil, "", nil)
	changes, stop := feed.Listen("a")
	other, stopOther := feed.Listen("b")
	defer stopOther()

	require.NoError(t, feed.Publish(context.Background(), "a", "a", "a"))
	require.Len(t, changes, 1)
	require.Len(t, other, 0)

	stop()
	stop()
	<-changes
	require.NoError(t, feed.Publish(context.Background(), "a"))
	require.Len(t, changes, 0)
}
