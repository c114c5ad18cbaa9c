package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// RunLockStore implements ports.RunLockStore using Redis SET NX. The TTL
// bounds how long a crashed holder can block the next reconciliation run.
type RunLockStore struct {
	client *goredis.Client
	prefix string
}

// NewRunLockStore creates a new Redis-backed run lock store.
func NewRunLockStore(client *goredis.Client) *RunLockStore {
	return &RunLockStore{
		client: client,
		prefix: "runlock:",
	}
}

// TryLock attempts to take the named lock. Returns false when already held.
func (s *RunLockStore) TryLock(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.prefix+name, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis run lock: %w", err)
	}
	return ok, nil
}

// Unlock releases the named lock.
func (s *RunLockStore) Unlock(ctx context.Context, name string) error {
	if err := s.client.Del(ctx, s.prefix+name).Err(); err != nil {
		return fmt.Errorf("redis run unlock: %w", err)
	}
	return nil
}
