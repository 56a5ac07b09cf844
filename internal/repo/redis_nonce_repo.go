package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	nonceKeyPrefix = "siwe:nonce:"
	nonceUnused    = "unused"
	nonceUsed      = "used"
)

type redisNonceRepo struct {
	client *redis.Client
}

// NewRedisNonceRepo creates a NonceRepo backed by Redis keys that expire with the nonce TTL
func NewRedisNonceRepo(client *redis.Client) NonceRepo {
	return &redisNonceRepo{client: client}
}

func (r *redisNonceRepo) Create(ctx context.Context, nonce string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return fmt.Errorf("nonce already expired")
	}
	ok, err := r.client.SetNX(ctx, nonceKeyPrefix+nonce, nonceUnused, ttl).Result()
	if err != nil {
		return fmt.Errorf("store nonce: %w", err)
	}
	if !ok {
		return ErrConflict
	}
	return nil
}

// Consume flips the key to "used" with SET XX GET KEEPTTL, so two concurrent
// consumers observe different previous values and exactly one wins.
// Expired keys are gone from Redis and report ErrNotFound.
func (r *redisNonceRepo) Consume(ctx context.Context, nonce string) error {
	prev, err := r.client.SetArgs(ctx, nonceKeyPrefix+nonce, nonceUsed, redis.SetArgs{
		Mode:    "XX",
		Get:     true,
		KeepTTL: true,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		return fmt.Errorf("consume nonce: %w", err)
	}
	if prev != nonceUnused {
		return ErrNonceUsed
	}
	return nil
}

// DeleteExpired is a no-op; Redis expires nonce keys on its own
func (r *redisNonceRepo) DeleteExpired(context.Context) (int64, error) {
	return 0, nil
}
