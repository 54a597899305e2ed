package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestorePresenceCache is a PresenceCache keeping one document per key. It
// suits deployments already on GCP that do not run Redis.
type FirestorePresenceCache[K comparable, V any] struct {
	client     *firestore.Client
	collection string
}

// NewFirestorePresenceCache wraps an existing client; its lifecycle stays with the caller.
func NewFirestorePresenceCache[K comparable, V any](
	client *firestore.Client,
	collectionName string,
) (*FirestorePresenceCache[K, V], error) {
	if client == nil {
		return nil, errors.New("firestore client cannot be nil")
	}
	if collectionName == "" {
		return nil, errors.New("firestore collection name cannot be empty")
	}
	return &FirestorePresenceCache[K, V]{
		client:     client,
		collection: collectionName,
	}, nil
}

// docID maps a key onto a valid document id; '/' separates path segments in Firestore.
func docID[K comparable](key K) string {
	return strings.ReplaceAll(fmt.Sprintf("%v", key), "/", "_")
}

func (c *FirestorePresenceCache[K, V]) Set(ctx context.Context, key K, value V) error {
	id := docID(key)
	if _, err := c.client.Collection(c.collection).Doc(id).Set(ctx, value); err != nil {
		return fmt.Errorf("failed to set presence in firestore for key %s: %w", id, err)
	}
	return nil
}

func (c *FirestorePresenceCache[K, V]) Fetch(ctx context.Context, key K) (V, error) {
	var zero V
	id := docID(key)
	docSnap, err := c.client.Collection(c.collection).Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return zero, fmt.Errorf("%s: %w", id, ErrNotFound)
		}
		return zero, fmt.Errorf("firestore get failed for key %s: %w", id, err)
	}
	var value V
	if err := docSnap.DataTo(&value); err != nil {
		return zero, fmt.Errorf("failed to decode presence data for key %s: %w", id, err)
	}
	return value, nil
}

func (c *FirestorePresenceCache[K, V]) Delete(ctx context.Context, key K) error {
	id := docID(key)
	if _, err := c.client.Collection(c.collection).Doc(id).Delete(ctx); err != nil {
		if status.Code(err) == codes.NotFound {
			return nil
		}
		return fmt.Errorf("firestore delete failed for key %s: %w", id, err)
	}
	return nil
}

// Close is a no-op; the client is owned by the caller.
func (c *FirestorePresenceCache[K, V]) Close() error {
	return nil
}
