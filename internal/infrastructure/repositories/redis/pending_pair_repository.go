package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"nearcast/internal/core/domain"
	"nearcast/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

// pendingPairTTL bounds how long an unanswered pairing request survives.
// The control connection keeping it alive never waits longer than this.
const pendingPairTTL = 10 * time.Minute

type RedisPendingPairRepository struct {
	client *redis.Client
	prefix string
}

func NewRedisPendingPairRepository(client *redis.Client) ports.PendingPairRepository {
	return &RedisPendingPairRepository{
		client: client,
		prefix: "nearcast:pair:",
	}
}

func (r *RedisPendingPairRepository) pairKey(id domain.PairID) string {
	return r.prefix + string(id)
}

func (r *RedisPendingPairRepository) indexKey() string {
	return r.prefix + "pending"
}

func (r *RedisPendingPairRepository) Add(ctx context.Context, pair *domain.PendingPair) error {
	data, err := json.Marshal(pair)
	if err != nil {
		return fmt.Errorf("failed to marshal pending pair: %w", err)
	}

	if err := r.client.Set(ctx, r.pairKey(pair.ID), data, pendingPairTTL).Err(); err != nil {
		return fmt.Errorf("failed to set pending pair in Redis: %w", err)
	}

	if err := r.client.SAdd(ctx, r.indexKey(), string(pair.ID)).Err(); err != nil {
		return fmt.Errorf("failed to index pending pair: %w", err)
	}

	return nil
}

func (r *RedisPendingPairRepository) GetByID(ctx context.Context, id domain.PairID) (*domain.PendingPair, error) {
	data, err := r.client.Get(ctx, r.pairKey(id)).Result()
	if err == redis.Nil {
		return nil, domain.ErrPairNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pending pair from Redis: %w", err)
	}

	var pair domain.PendingPair
	if err := json.Unmarshal([]byte(data), &pair); err != nil {
		return nil, fmt.Errorf("failed to unmarshal pending pair: %w", err)
	}

	return &pair, nil
}

func (r *RedisPendingPairRepository) Remove(ctx context.Context, id domain.PairID) error {
	if err := r.client.SRem(ctx, r.indexKey(), string(id)).Err(); err != nil {
		return fmt.Errorf("failed to remove pending pair from index: %w", err)
	}

	deleted, err := r.client.Del(ctx, r.pairKey(id)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete pending pair from Redis: %w", err)
	}
	if deleted == 0 {
		return domain.ErrPairNotFound
	}

	return nil
}

func (r *RedisPendingPairRepository) RemoveByConnection(ctx context.Context, connID domain.ConnectionID) (*domain.PendingPair, error) {
	pairs, err := r.List(ctx)
	if err != nil {
		return nil, err
	}

	for _, pair := range pairs {
		if pair.ConnectionID == connID {
			if err := r.Remove(ctx, pair.ID); err != nil {
				return nil, err
			}
			return pair, nil
		}
	}

	return nil, domain.ErrPairNotFound
}

func (r *RedisPendingPairRepository) List(ctx context.Context) ([]*domain.PendingPair, error) {
	ids, err := r.client.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get pending pairs from Redis: %w", err)
	}

	var pairs []*domain.PendingPair
	for _, idStr := range ids {
		pair, err := r.GetByID(ctx, domain.PairID(idStr))
		if err != nil {
			// Expired entries stay in the index until listed; prune them here
			r.client.SRem(ctx, r.indexKey(), idStr)
			continue
		}
		pairs = append(pairs, pair)
	}

	return pairs, nil
}
