// Package idempotency stores Idempotency-Key → order id mappings in Redis.
package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"

	"github.com/xenking/marketplace/internal/domain/order"
)

// keyOrderCreate is idem:order:create:{buyer}:{key} → order id.
const keyOrderCreate = "idem:order:create:%s:%s"

// DefaultTTL is how long a key is remembered.
const DefaultTTL = 24 * time.Hour

// Client is the subset of redis.Cmdable used by Store.
type Client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
}

// NewClient returns a Redis client for addr.
func NewClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})
}

// Store implements order.IdempotencyStore.
type Store struct {
	rdb Client
	ttl time.Duration
}

var _ order.IdempotencyStore = (*Store)(nil)

// New returns a Store. A non-positive ttl selects DefaultTTL.
func New(rdb Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{rdb: rdb, ttl: ttl}
}

// Lookup returns the order created for key by buyerID, if any.
func (s *Store) Lookup(ctx context.Context, buyerID, key string) (string, bool, error) {
	id, err := s.rdb.Get(ctx, fmt.Sprintf(keyOrderCreate, buyerID, key)).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return "", false, nil
	case err != nil:
		return "", false, errors.Wrap(err, "get idempotency key")
	}
	return id, true, nil
}

// Remember maps key to orderID. The first stored mapping wins.
func (s *Store) Remember(ctx context.Context, buyerID, key, orderID string) error {
	if err := s.rdb.SetNX(ctx, fmt.Sprintf(keyOrderCreate, buyerID, key), orderID, s.ttl).Err(); err != nil {
		return errors.Wrap(err, "set idempotency key")
	}
	return nil
}
