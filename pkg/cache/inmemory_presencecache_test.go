package cache_test

import (
	"context"
	"testing"

	"github.com/illmade-knight/go-railfeed/pkg/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type berthValue struct {
	Description string `json:"description" firestore:"description"`
	AreaID      string `json:"area_id" firestore:"area_id"`
}

func TestInMemoryPresenceCache(t *testing.T) {
	ctx := context.Background()
	const testKey = "berth:Q1:0101"
	testValue := berthValue{Description: "1A23", AreaID: "Q1"}

	c := cache.NewInMemoryPresenceCache[string, berthValue]()
	t.Cleanup(func() { _ = c.Close() })

	t.Run("Fetch miss", func(t *testing.T) {
		_, err := c.Fetch(ctx, "berth:Q1:9999")
		require.Error(t, err)
		assert.ErrorIs(t, err, cache.ErrNotFound)
	})

	t.Run("Set, Fetch, and Delete cycle", func(t *testing.T) {
		require.NoError(t, c.Set(ctx, testKey, testValue))
		assert.Equal(t, 1, c.Len())

		retrieved, err := c.Fetch(ctx, testKey)
		require.NoError(t, err)
		assert.Equal(t, testValue, retrieved)

		require.NoError(t, c.Delete(ctx, testKey))
		_, err = c.Fetch(ctx, testKey)
		assert.ErrorIs(t, err, cache.ErrNotFound)
		assert.Zero(t, c.Len())
	})

	t.Run("Delete of a missing key is a no-op", func(t *testing.T) {
		assert.NoError(t, c.Delete(ctx, "berth:ZZ:0000"))
	})
}

func TestSeenSet(t *testing.T) {
	_, err := cache.NewSeenSet[string](0)
	require.Error(t, err)

	s, err := cache.NewSeenSet[string](2)
	require.NoError(t, err)

	assert.False(t, s.Seen("ID:1"), "first sighting is new")
	assert.True(t, s.Seen("ID:1"), "second sighting is a duplicate")
	assert.False(t, s.Seen("ID:2"))

	// ID:2 is newest, so adding ID:3 evicts ID:1.
	assert.False(t, s.Seen("ID:3"))
	assert.Equal(t, 2, s.Len())
	assert.False(t, s.Seen("ID:1"), "evicted key is new again")

	s.Forget("ID:3")
	assert.False(t, s.Seen("ID:3"))
}

func TestSeenSet_RepeatRefreshesRecency(t *testing.T) {
	s, err := cache.NewSeenSet[string](2)
	require.NoError(t, err)

	s.Seen("a")
	s.Seen("b")
	s.Seen("a") // a is now most recent
	s.Seen("c") // evicts b

	assert.True(t, s.Seen("a"))
	assert.False(t, s.Seen("b"))
}
