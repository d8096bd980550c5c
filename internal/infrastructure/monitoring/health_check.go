package monitoring

import (
	"context"
	"sync"
	"time"

	"roadwatch/pkg/clock"
)

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

type HealthChecker struct {
	clock  clock.Clock
	mu     sync.RWMutex
	checks []HealthCheck
	last   map[string]string
}

type HealthCheck struct {
	Name     string
	Check    func(ctx context.Context) (bool, error)
	Interval time.Duration
	Timeout  time.Duration
}

type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

func NewHealthChecker(clk clock.Clock) *HealthChecker {
	if clk == nil {
		clk = clock.Real{}
	}
	return &HealthChecker{
		clock: clk,
		last:  make(map[string]string),
	}
}

func (h *HealthChecker) AddCheck(name string, check func(ctx context.Context) (bool, error), interval, timeout time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.checks = append(h.checks, HealthCheck{
		Name:     name,
		Check:    check,
		Interval: interval,
		Timeout:  timeout,
	})
}

// CheckAll runs every check now. The overall status is unhealthy if any
// check fails.
func (h *HealthChecker) CheckAll(ctx context.Context) HealthStatus {
	h.mu.RLock()
	checks := append([]HealthCheck(nil), h.checks...)
	h.mu.RUnlock()

	status := HealthStatus{
		Status:    StatusHealthy,
		Timestamp: h.clock.Now(),
		Checks:    make(map[string]string, len(checks)),
	}

	for _, check := range checks {
		result := h.run(ctx, check)
		status.Checks[check.Name] = result
		if result != StatusHealthy {
			status.Status = StatusUnhealthy
		}
	}
	return status
}

// IsReady reports whether every check passes.
func (h *HealthChecker) IsReady(ctx context.Context) bool {
	return h.CheckAll(ctx).Status == StatusHealthy
}

// LastResults returns the outcome of the most recent run of each check.
func (h *HealthChecker) LastResults() map[string]string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make(map[string]string, len(h.last))
	for k, v := range h.last {
		out[k] = v
	}
	return out
}

// StartBackgroundChecks runs each check on its interval until ctx is done.
func (h *HealthChecker) StartBackgroundChecks(ctx context.Context) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, check := range h.checks {
		if check.Interval > 0 {
			go h.runCheckPeriodically(ctx, check)
		}
	}
}

func (h *HealthChecker) runCheckPeriodically(ctx context.Context, check HealthCheck) {
	ticker := time.NewTicker(check.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.run(ctx, check)
		}
	}
}

func (h *HealthChecker) run(ctx context.Context, check HealthCheck) string {
	if check.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, check.Timeout)
		defer cancel()
	}

	result := StatusHealthy
	healthy, err := check.Check(ctx)
	switch {
	case err != nil:
		result = err.Error()
	case !healthy:
		result = "check failed"
	}

	h.mu.Lock()
	h.last[check.Name] = result
	h.mu.Unlock()
	return result
}
