package presence

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Registry is the authoritative set of currently-claimed usernames. Set
// membership is the sole arbiter of "username taken"; every instance reads
// and writes the same set.
type Registry interface {
	IsAvailable(ctx context.Context, username string) (bool, error)
	Claim(ctx context.Context, username string) error
	Release(ctx context.Context, username string) error
	ListActive(ctx context.Context) ([]string, error)
}

type RedisRegistry struct {
	client *redis.Client
	key    string
}

func NewRedisRegistry(client *redis.Client, key string) *RedisRegistry {
	return &RedisRegistry{client: client, key: key}
}

func (r *RedisRegistry) IsAvailable(ctx context.Context, username string) (bool, error) {
	taken, err := r.client.SIsMember(ctx, r.key, username).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check username: %w", err)
	}
	return !taken, nil
}

// Claim is idempotent: re-adding a member is a no-op.
func (r *RedisRegistry) Claim(ctx context.Context, username string) error {
	if err := r.client.SAdd(ctx, r.key, username).Err(); err != nil {
		return fmt.Errorf("failed to claim username: %w", err)
	}
	return nil
}

// Release is idempotent: removing an absent member is a no-op.
func (r *RedisRegistry) Release(ctx context.Context, username string) error {
	if err := r.client.SRem(ctx, r.key, username).Err(); err != nil {
		return fmt.Errorf("failed to release username: %w", err)
	}
	return nil
}

func (r *RedisRegistry) ListActive(ctx context.Context) ([]string, error) {
	members, err := r.client.SMembers(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list active users: %w", err)
	}
	return members, nil
}
