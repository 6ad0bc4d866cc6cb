package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"nearcast/internal/core/domain"
	"nearcast/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

type RedisHistoryRepository struct {
	client *redis.Client
	key    string
	cap    int
}

// NewRedisHistoryRepository keeps the most recent cap records in a Redis
// list, newest first. A cap of zero disables retention entirely.
func NewRedisHistoryRepository(client *redis.Client, cap int) ports.SessionHistoryRepository {
	return &RedisHistoryRepository{
		client: client,
		key:    "nearcast:history",
		cap:    cap,
	}
}

func (r *RedisHistoryRepository) Append(ctx context.Context, record *domain.SessionRecord) error {
	if r.cap == 0 {
		return nil
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal session record: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, r.key, data)
	pipe.LTrim(ctx, r.key, 0, int64(r.cap-1))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append session record: %w", err)
	}

	return nil
}

func (r *RedisHistoryRepository) List(ctx context.Context, limit int) ([]*domain.SessionRecord, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}

	entries, err := r.client.LRange(ctx, r.key, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read session history: %w", err)
	}

	records := make([]*domain.SessionRecord, 0, len(entries))
	for _, entry := range entries {
		var record domain.SessionRecord
		if err := json.Unmarshal([]byte(entry), &record); err != nil {
			continue
		}
		records = append(records, &record)
	}

	return records, nil
}
