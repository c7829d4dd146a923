package mirror

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/josh-kwaku/simsync/internal/domain"
)

const (
	CollectionSims  = "sims"
	CollectionSold  = "sold"
	CollectionAdmin = "admin"
)

// Collection is one keyed document set in the mirror, stored as a Redis hash
// whose fields are document keys and whose values are JSON documents.
type Collection[T any] struct {
	client redis.UniversalClient
	key    string
}

func NewCollection[T any](client redis.UniversalClient, namespace, name string) *Collection[T] {
	return &Collection[T]{
		client: client,
		key:    fmt.Sprintf("simsync:%s:%s", namespace, name),
	}
}

func NewAccountMirror(client redis.UniversalClient, namespace string) *Collection[domain.AccountRecord] {
	return NewCollection[domain.AccountRecord](client, namespace, CollectionSims)
}

func NewSoldMirror(client redis.UniversalClient, namespace string) *Collection[domain.SoldRecord] {
	return NewCollection[domain.SoldRecord](client, namespace, CollectionSold)
}

// NewAdminMirror is the cross-owner aggregate that receives every successful
// refresh. Documents are keyed by user_id like the owner collection.
func NewAdminMirror(client redis.UniversalClient, namespace string) *Collection[domain.AccountRecord] {
	return NewCollection[domain.AccountRecord](client, CollectionAdmin, namespace)
}

func (c *Collection[T]) Key() string {
	return c.key
}

func (c *Collection[T]) Upsert(ctx context.Context, key string, doc T) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("Upsert: marshal: %w", err)
	}
	if err := c.client.HSet(ctx, c.key, key, payload).Err(); err != nil {
		return fmt.Errorf("Upsert: %w", err)
	}
	return nil
}

func (c *Collection[T]) GetAll(ctx context.Context) ([]T, error) {
	raw, err := c.client.HGetAll(ctx, c.key).Result()
	if err != nil {
		return nil, fmt.Errorf("GetAll: %w", err)
	}
	docs, err := Normalize[T](raw)
	if err != nil {
		return nil, fmt.Errorf("GetAll: %w", err)
	}
	return docs, nil
}

func (c *Collection[T]) Delete(ctx context.Context, key string) error {
	if err := c.client.HDel(ctx, c.key, key).Err(); err != nil {
		return fmt.Errorf("Delete: %w", err)
	}
	return nil
}

func (c *Collection[T]) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
