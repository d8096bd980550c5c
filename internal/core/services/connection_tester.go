package services

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"roadwatch/internal/core/domain"
	"roadwatch/internal/core/ports"
	"roadwatch/pkg/clock"
	"roadwatch/pkg/utils"
)

const (
	lowFPSThreshold         = 15
	veryLowFPSThreshold     = 10
	maxRecommendedWidth     = 1920
	maxRecommendedHeight    = 1080
	unstableFrameTimeVarSec = 0.01
)

// ConnectionTester measures whether a stream is usable before a detection
// run: connection time, sustained read rate and frame-time jitter.
type ConnectionTester struct {
	url       string
	connector ports.StreamConnector
	duration  time.Duration
	clock     clock.Clock
	logger    *zap.SugaredLogger
}

func NewConnectionTester(url string, connector ports.StreamConnector, duration time.Duration, clk clock.Clock, logger *zap.SugaredLogger) *ConnectionTester {
	if clk == nil {
		clk = clock.Real{}
	}
	return &ConnectionTester{
		url:       utils.RedactURL(url),
		connector: connector,
		duration:  duration,
		clock:     clk,
		logger:    logger,
	}
}

// Probe connects, reads frames for the configured duration and reports.
func (t *ConnectionTester) Probe(ctx context.Context) domain.ProbeReport {
	started := t.clock.Now()
	report := domain.ProbeReport{
		URL:      t.url,
		TestedAt: started,
	}

	t.logger.Infow("Testing stream connection", "url", t.url, "duration", t.duration)

	err := WithSession(ctx, t.connector, func(ctx context.Context) error {
		report.ConnectionTime = t.clock.Since(started)
		status := t.connector.Status()
		report.Properties = status.Properties

		t.logger.Infow("Stream connection successful", "connection_time", report.ConnectionTime)

		perf := t.measure(ctx)
		report.Performance = &perf
		report.Success = true
		report.Recommendations = Recommendations(report.Properties, perf)
		return nil
	})
	if err != nil {
		report.ConnectionTime = t.clock.Since(started)
		report.Error = err.Error()
		report.Recommendations = ErrorRecommendations(report.Error)
		t.logger.Errorw("Connection test failed", "error", err)
	}

	report.TestDuration = t.clock.Since(started)
	return report
}

func (t *ConnectionTester) measure(ctx context.Context) domain.ProbePerformance {
	start := t.clock.Now()
	var frameTimes []float64

	for t.clock.Since(start) < t.duration && ctx.Err() == nil {
		frameStart := t.clock.Now()
		if _, err := t.connector.ReadFrame(ctx); err != nil {
			t.logger.Warnw("Failed to read frame during performance test", "error", err)
			break
		}
		frameTimes = append(frameTimes, t.clock.Since(frameStart).Seconds())
	}

	total := t.clock.Since(start)
	perf := domain.ProbePerformance{
		TotalFrames: len(frameTimes),
		TotalTime:   total,
	}
	if total > 0 {
		perf.AverageFPS = float64(len(frameTimes)) / total.Seconds()
	}
	if len(frameTimes) > 0 {
		mean, variance := stat.PopMeanVariance(frameTimes, nil)
		perf.AverageFrameTime = secondsToDuration(mean)
		perf.MinFrameTime = secondsToDuration(floats.Min(frameTimes))
		perf.MaxFrameTime = secondsToDuration(floats.Max(frameTimes))
		perf.FrameTimeVariance = variance
	}

	t.logger.Infow("Performance results",
		"frames", perf.TotalFrames,
		"elapsed", utils.FormatDuration(perf.TotalTime),
		"average_fps", perf.AverageFPS,
		"average_frame_time", utils.FormatDuration(perf.AverageFrameTime),
		"min_frame_time", utils.FormatDuration(perf.MinFrameTime),
		"max_frame_time", utils.FormatDuration(perf.MaxFrameTime),
	)
	return perf
}

// Recommendations suggests tuning steps for a working stream.
func Recommendations(props *domain.StreamProperties, perf domain.ProbePerformance) []string {
	var recs []string

	if perf.AverageFPS < lowFPSThreshold {
		recs = append(recs,
			"Consider reducing stream resolution for better performance",
			"Use wired network connection instead of WiFi",
		)
	}
	if perf.AverageFPS < veryLowFPSThreshold {
		recs = append(recs,
			"Performance is very low - check network bandwidth",
			"Consider using a lower quality stream",
		)
	}
	if props != nil && (props.Width > maxRecommendedWidth || props.Height > maxRecommendedHeight) {
		recs = append(recs, "High resolution detected - consider 1080p or lower for better performance")
	}
	if perf.FrameTimeVariance > unstableFrameTimeVarSec {
		recs = append(recs,
			"High frame time variance detected - network may be unstable",
			"Consider using a more stable network connection",
		)
	}

	return append(recs,
		"Ensure camera and computer are on the same network",
		"Check if other applications are using network bandwidth",
	)
}

// ErrorRecommendations suggests troubleshooting steps for a failed connection.
func ErrorRecommendations(errMsg string) []string {
	recs := []string{
		"Check if the camera IP address is correct",
		"Verify username and password credentials",
		"Ensure the camera is accessible on the network",
		"Try accessing the camera's web interface first",
		"Check if RTSP is enabled on the camera",
		"Verify port 554 is not blocked by firewall",
		"Test with a different RTSP client (e.g., VLC media player)",
	}

	lower := strings.ToLower(errMsg)
	if strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline exceeded") {
		recs = append(recs, "Connection timeout - check network latency")
	}
	if strings.Contains(lower, "authentication") || strings.Contains(lower, "unauthorized") {
		recs = append(recs, "Authentication failed - verify credentials")
	}
	return recs
}
