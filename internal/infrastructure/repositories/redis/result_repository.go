package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"roadwatch/internal/core/domain"
	"roadwatch/internal/core/ports"
)

const (
	keyPrefix = "roadwatch:"
	recentKey = keyPrefix + "results:recent"
)

// ResultRepository keeps the newest results as a capped JSON list so several
// API replicas can serve the same run.
type ResultRepository struct {
	client   *redis.Client
	capacity int64
	ttl      time.Duration
}

func NewResultRepository(client *redis.Client, capacity int, ttl time.Duration) ports.ResultRepository {
	if capacity <= 0 {
		capacity = 100
	}
	return &ResultRepository{client: client, capacity: int64(capacity), ttl: ttl}
}

func (r *ResultRepository) Save(ctx context.Context, result domain.FrameResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, recentKey, data)
		pipe.LTrim(ctx, recentKey, 0, r.capacity-1)
		if r.ttl > 0 {
			pipe.Expire(ctx, recentKey, r.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store result in Redis: %w", err)
	}
	return nil
}

func (r *ResultRepository) Latest(ctx context.Context) (*domain.FrameResult, error) {
	data, err := r.client.LIndex(ctx, recentKey, 0).Bytes()
	if err == redis.Nil {
		return nil, domain.ErrResultNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get result from Redis: %w", err)
	}

	var result domain.FrameResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal result: %w", err)
	}
	return &result, nil
}

func (r *ResultRepository) Recent(ctx context.Context, limit int) ([]domain.FrameResult, error) {
	stop := int64(limit) - 1
	if limit <= 0 || int64(limit) > r.capacity {
		stop = r.capacity - 1
	}

	items, err := r.client.LRange(ctx, recentKey, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list results from Redis: %w", err)
	}

	results := make([]domain.FrameResult, 0, len(items))
	for _, item := range items {
		var result domain.FrameResult
		if err := json.Unmarshal([]byte(item), &result); err != nil {
			return nil, fmt.Errorf("failed to unmarshal result: %w", err)
		}
		results = append(results, result)
	}
	return results, nil
}

// Close leaves the shared client to the factory.
func (r *ResultRepository) Close() error {
	return nil
}
