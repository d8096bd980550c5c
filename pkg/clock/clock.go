// Package clock abstracts the wall clock so retry waits, idle eviction and
// throttling can be driven deterministically in tests.
package clock

import (
	"sync"
	"time"
)

// Clock provides the subset of time operations the frame loop needs.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
	// After delivers the current time once d has elapsed.
	After(d time.Duration) <-chan time.Time
}

// Real implements Clock with the time package.
type Real struct{}

func (Real) Now() time.Time                         { return time.Now() }
func (Real) Since(t time.Time) time.Duration        { return time.Since(t) }
func (Real) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Mock is a manually driven clock. After records the requested wait,
// advances the mock time by it and fires immediately.
type Mock struct {
	mu    sync.Mutex
	now   time.Time
	waits []time.Duration
}

func NewMock(t time.Time) *Mock {
	return &Mock{now: t}
}

func (m *Mock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Mock) Since(t time.Time) time.Duration {
	return m.Now().Sub(t)
}

func (m *Mock) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}

func (m *Mock) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

func (m *Mock) After(d time.Duration) <-chan time.Time {
	m.mu.Lock()
	m.waits = append(m.waits, d)
	m.now = m.now.Add(d)
	now := m.now
	m.mu.Unlock()

	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

// Waits returns every duration passed to After, in call order.
func (m *Mock) Waits() []time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]time.Duration, len(m.waits))
	copy(out, m.waits)
	return out
}
