package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	schemaVersionKey     = keyPrefix + "schema:version"
	currentSchemaVersion = 1
)

type Migration struct {
	Version int
	Up      func(ctx context.Context, client *redis.Client) error
}

// Migrate runs the migrations newer than the stored schema version.
func Migrate(ctx context.Context, client *redis.Client, logger *zap.SugaredLogger) error {
	currentVersion, err := getSchemaVersion(ctx, client)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	if currentVersion >= currentSchemaVersion {
		logger.Debugw("Redis schema is up to date", "version", currentVersion)
		return nil
	}

	for _, migration := range migrations() {
		if migration.Version <= currentVersion {
			continue
		}
		logger.Infow("Running Redis migration", "version", migration.Version)

		if err := migration.Up(ctx, client); err != nil {
			return fmt.Errorf("migration %d failed: %w", migration.Version, err)
		}
		if err := client.Set(ctx, schemaVersionKey, migration.Version, 0).Err(); err != nil {
			return fmt.Errorf("failed to update schema version: %w", err)
		}
	}
	return nil
}

func getSchemaVersion(ctx context.Context, client *redis.Client) (int, error) {
	val, err := client.Get(ctx, schemaVersionKey).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return val, nil
}

func migrations() []Migration {
	return []Migration{
		{
			// The recent-results key must be a list; drop anything else left
			// under that name.
			Version: 1,
			Up: func(ctx context.Context, client *redis.Client) error {
				kind, err := client.Type(ctx, recentKey).Result()
				if err != nil {
					return err
				}
				if kind != "none" && kind != "list" {
					return client.Del(ctx, recentKey).Err()
				}
				return nil
			},
		},
	}
}
