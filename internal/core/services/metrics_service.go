package services

import (
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"roadwatch/internal/core/domain"
	"roadwatch/pkg/clock"
)

// processingWindow bounds the samples kept for latency percentiles.
const processingWindow = 512

// MetricsService aggregates run statistics for periodic logging and the
// stats endpoint.
type MetricsService struct {
	clock clock.Clock

	mu                sync.RWMutex
	startedAt         time.Time
	frames            uint64
	vehicles          uint64
	detectionFailures uint64
	sinkFailures      uint64
	totalProcessing   time.Duration
	recent            []float64
	next              int
}

func NewMetricsService(clk clock.Clock) *MetricsService {
	if clk == nil {
		clk = clock.Real{}
	}
	return &MetricsService{
		clock:     clk,
		startedAt: clk.Now(),
		recent:    make([]float64, 0, processingWindow),
	}
}

// Reset restarts the statistics window, typically when a run starts.
func (m *MetricsService) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.startedAt = m.clock.Now()
	m.frames = 0
	m.vehicles = 0
	m.detectionFailures = 0
	m.sinkFailures = 0
	m.totalProcessing = 0
	m.recent = m.recent[:0]
	m.next = 0
}

func (m *MetricsService) RecordFrame(result domain.FrameResult) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.frames++
	m.vehicles += uint64(result.VehicleCount)
	m.totalProcessing += result.ProcessingTime

	sec := result.ProcessingTime.Seconds()
	if len(m.recent) < processingWindow {
		m.recent = append(m.recent, sec)
	} else {
		m.recent[m.next] = sec
		m.next = (m.next + 1) % processingWindow
	}
}

func (m *MetricsService) RecordDetectionFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.detectionFailures++
}

func (m *MetricsService) RecordSinkFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sinkFailures++
}

// Snapshot returns the statistics since the last Reset.
func (m *MetricsService) Snapshot() domain.RunStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := domain.RunStats{
		FramesProcessed:   m.frames,
		VehiclesDetected:  m.vehicles,
		DetectionFailures: m.detectionFailures,
		SinkFailures:      m.sinkFailures,
		Elapsed:           m.clock.Since(m.startedAt),
	}
	if stats.Elapsed > 0 {
		stats.AverageFPS = float64(m.frames) / stats.Elapsed.Seconds()
	}
	if m.frames > 0 {
		stats.AverageProcessing = m.totalProcessing / time.Duration(m.frames)
	}
	if len(m.recent) > 0 {
		sorted := make([]float64, len(m.recent))
		copy(sorted, m.recent)
		sort.Float64s(sorted)
		stats.ProcessingP95 = secondsToDuration(stat.Quantile(0.95, stat.Empirical, sorted, nil))
	}
	return stats
}

func secondsToDuration(sec float64) time.Duration {
	return time.Duration(sec * float64(time.Second))
}
