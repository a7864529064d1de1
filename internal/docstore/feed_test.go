package docstore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFeedDeliversCurrentThenUpdatesInOrder(t *testing.T) {
	feed := NewFeed([]string{"a"})
	var order []string
	cancelFirst := feed.Subscribe(func(v []string) { order = append(order, "first:"+v[0]) })
	cancelSecond := feed.Subscribe(func(v []string) { order = append(order, "second:"+v[0]) })

	feed.Publish([]string{"b"})
	require.Equal(t, []string{"first:a", "second:a", "first:b", "second:b"}, order)

	cancelFirst()
	cancelFirst()
	feed.Publish([]string{"c"})
	require.Equal(t, "second:c", order[len(order)-1])
	require.Len(t, order, 5)
	require.Equal(t, 1, feed.Subscribers())

	cancelSecond()
	require.Equal(t, []string{"c"}, feed.Current())
	require.Zero(t, feed.Subscribers())
}
