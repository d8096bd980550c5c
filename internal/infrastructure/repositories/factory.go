package repositories

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"roadwatch/internal/core/ports"
	"roadwatch/internal/infrastructure/repositories/memory"
	redisrepo "roadwatch/internal/infrastructure/repositories/redis"
	"roadwatch/pkg/config"
)

// RepositoryFactory picks Redis when it is enabled and reachable and falls
// back to memory otherwise.
type RepositoryFactory struct {
	recentLimit int
	resultTTL   time.Duration
	redisClient *redis.Client
	logger      *zap.SugaredLogger
}

func NewRepositoryFactory(cfg *config.Config, logger *zap.SugaredLogger) *RepositoryFactory {
	factory := &RepositoryFactory{
		recentLimit: cfg.Redis.RecentLimit,
		resultTTL:   cfg.Redis.ResultTTL,
		logger:      logger,
	}

	if cfg.Redis.Enabled {
		client, err := redisrepo.NewRedisClient(
			cfg.Redis.Address,
			cfg.Redis.Password,
			cfg.Redis.DB,
			cfg.Redis.PoolSize,
			logger,
		)
		if err != nil {
			logger.Warnw("Failed to connect to Redis, falling back to memory repositories", "error", err)
		} else {
			factory.redisClient = client
			logger.Info("Using Redis result repository")
			return factory
		}
	}

	logger.Info("Using memory result repository")
	return factory
}

func (f *RepositoryFactory) UsingRedis() bool {
	return f.redisClient != nil
}

func (f *RepositoryFactory) CreateResultRepository() ports.ResultRepository {
	if f.redisClient != nil {
		return redisrepo.NewResultRepository(f.redisClient, f.recentLimit, f.resultTTL)
	}
	return memory.NewResultRepository(f.recentLimit)
}

func (f *RepositoryFactory) Close() error {
	if f.redisClient != nil {
		return f.redisClient.Close()
	}
	return nil
}

// HealthCheck pings Redis when it is in use.
func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	if f.redisClient != nil {
		return f.redisClient.Ping(ctx).Err()
	}
	return nil
}
