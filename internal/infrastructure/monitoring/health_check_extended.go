package monitoring

import (
	"context"
	"fmt"
	"time"

	"roadwatch/internal/core/domain"
	"roadwatch/internal/core/ports"
)

// StatusSource exposes the stream connection status.
type StatusSource interface {
	Status() domain.StreamStatus
}

// AddStreamCheck fails while the stream is not connected or when no frame
// arrived within staleAfter.
func (h *HealthChecker) AddStreamCheck(source StatusSource, staleAfter, interval time.Duration) {
	h.AddCheck("stream", func(ctx context.Context) (bool, error) {
		status := source.Status()
		if !status.Connected {
			return false, fmt.Errorf("stream %s", status.State)
		}
		if staleAfter > 0 && status.SinceLastFrame != nil && *status.SinceLastFrame > staleAfter {
			return false, fmt.Errorf("no frame for %s", status.SinceLastFrame.Round(time.Millisecond))
		}
		return true, nil
	}, interval, time.Second)
}

// AddRepositoryCheck verifies the result repository answers queries.
func (h *HealthChecker) AddRepositoryCheck(repo ports.ResultRepository, interval, timeout time.Duration) {
	h.AddCheck("repository", func(ctx context.Context) (bool, error) {
		if _, err := repo.Recent(ctx, 1); err != nil {
			return false, err
		}
		return true, nil
	}, interval, timeout)
}

// AddPingCheck registers a dependency reachable through a ping function,
// such as the Redis client.
func (h *HealthChecker) AddPingCheck(name string, ping func(ctx context.Context) error, interval, timeout time.Duration) {
	h.AddCheck(name, func(ctx context.Context) (bool, error) {
		if err := ping(ctx); err != nil {
			return false, err
		}
		return true, nil
	}, interval, timeout)
}
