package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	schemaVersionKey     = "nearcast:schema:version"
	currentSchemaVersion = 1
)

// Migration is a one-time transformation of the stored key layout.
type Migration struct {
	Version int
	Up      func(ctx context.Context, client *redis.Client) error
}

// Migrate brings the store up to the current schema version. Each pending
// step runs once; the version key records progress so restarts do not
// repeat work.
func Migrate(ctx context.Context, client *redis.Client, logger *zap.SugaredLogger) error {
	version, err := schemaVersion(ctx, client)
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if version >= currentSchemaVersion {
		return nil
	}

	for _, m := range migrations() {
		if m.Version <= version {
			continue
		}
		if logger != nil {
			logger.Infow("running store migration", "version", m.Version)
		}
		if err := m.Up(ctx, client); err != nil {
			return fmt.Errorf("migration %d failed: %w", m.Version, err)
		}
		if err := client.Set(ctx, schemaVersionKey, m.Version, 0).Err(); err != nil {
			return fmt.Errorf("failed to record schema version: %w", err)
		}
	}

	return nil
}

func schemaVersion(ctx context.Context, client *redis.Client) (int, error) {
	v, err := client.Get(ctx, schemaVersionKey).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return v, nil
}

// migrations returns the schema steps in order. Version 1 adopts the key
// layout (nearcast:session:*, nearcast:pair:*, nearcast:history) and drops
// active-set members whose session payload is gone, which an interrupted
// delete can leave behind.
func migrations() []Migration {
	return []Migration{
		{
			Version: 1,
			Up: func(ctx context.Context, client *redis.Client) error {
				const activeKey = "nearcast:session:active"

				ids, err := client.SMembers(ctx, activeKey).Result()
				if err != nil {
					return err
				}
				for _, id := range ids {
					exists, err := client.Exists(ctx, "nearcast:session:"+id).Result()
					if err != nil {
						return err
					}
					if exists == 0 {
						if err := client.SRem(ctx, activeKey, id).Err(); err != nil {
							return err
						}
					}
				}
				return nil
			},
		},
	}
}
