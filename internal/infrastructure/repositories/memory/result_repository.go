package memory

import (
	"context"
	"sync"

	"roadwatch/internal/core/domain"
	"roadwatch/internal/core/ports"
)

const DefaultCapacity = 100

// ResultRepository keeps the newest results in a fixed-size ring.
type ResultRepository struct {
	mu      sync.RWMutex
	results []domain.FrameResult
	next    int
	size    int
}

func NewResultRepository(capacity int) ports.ResultRepository {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &ResultRepository{results: make([]domain.FrameResult, capacity)}
}

func (r *ResultRepository) Save(ctx context.Context, result domain.FrameResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.results[r.next] = result
	r.next = (r.next + 1) % len(r.results)
	if r.size < len(r.results) {
		r.size++
	}
	return nil
}

func (r *ResultRepository) Latest(ctx context.Context) (*domain.FrameResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.size == 0 {
		return nil, domain.ErrResultNotFound
	}
	latest := r.results[r.index(0)]
	return &latest, nil
}

// Recent returns up to limit results, newest first.
func (r *ResultRepository) Recent(ctx context.Context, limit int) ([]domain.FrameResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 || limit > r.size {
		limit = r.size
	}
	out := make([]domain.FrameResult, 0, limit)
	for i := 0; i < limit; i++ {
		out = append(out, r.results[r.index(i)])
	}
	return out, nil
}

func (r *ResultRepository) Close() error {
	return nil
}

// index maps age (0 = newest) to a slot. Caller holds mu.
func (r *ResultRepository) index(age int) int {
	n := len(r.results)
	return ((r.next-1-age)%n + n) % n
}
