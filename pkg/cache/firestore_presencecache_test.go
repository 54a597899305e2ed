//go:build integration

package cache_test

import (
	"context"
	"os"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/illmade-knight/go-railfeed/pkg/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Runs against the emulator at FIRESTORE_EMULATOR_HOST, which the client picks up itself.
func TestFirestorePresenceCache_Integration(t *testing.T) {
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	t.Cleanup(cancel)

	const collectionName = "berths"
	client, err := firestore.NewClient(ctx, "test-project")
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	presenceCache, err := cache.NewFirestorePresenceCache[string, berthValue](client, collectionName)
	require.NoError(t, err)

	const testKey = "berth:Q3:0204"
	testValue := berthValue{Description: "2B45", AreaID: "Q3"}

	require.NoError(t, presenceCache.Set(ctx, testKey, testValue))

	doc, err := client.Collection(collectionName).Doc(testKey).Get(ctx)
	require.NoError(t, err)
	require.True(t, doc.Exists())

	retrieved, err := presenceCache.Fetch(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, testValue, retrieved)

	require.NoError(t, presenceCache.Delete(ctx, testKey))
	_, err = client.Collection(collectionName).Doc(testKey).Get(ctx)
	require.Error(t, err)
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = presenceCache.Fetch(ctx, testKey)
	assert.ErrorIs(t, err, cache.ErrNotFound)
}

func TestNewFirestorePresenceCache_Validation(t *testing.T) {
	_, err := cache.NewFirestorePresenceCache[string, berthValue](nil, "berths")
	assert.Error(t, err)
}
