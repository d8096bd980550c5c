package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"roadwatch/internal/core/domain"
	"roadwatch/pkg/clock"
)

type detectFunc func(frame domain.Frame) ([]domain.Detection, error)

type fakeDetector struct {
	mu    sync.Mutex
	fn    detectFunc
	calls int
}

func (d *fakeDetector) Detect(_ context.Context, frame domain.Frame) ([]domain.Detection, error) {
	d.mu.Lock()
	d.calls++
	d.mu.Unlock()
	return d.fn(frame)
}

// mockSink records calls through testify's mock package.
type mockSink struct {
	mock.Mock
	name string
}

func (s *mockSink) Name() string { return s.name }

func (s *mockSink) Handle(ctx context.Context, frame domain.Frame, result *domain.FrameResult) error {
	args := s.Called(ctx, frame, result)
	return args.Error(0)
}

type pipelineHarness struct {
	manager  *StreamManager
	opener   *fakeOpener
	clock    *clock.Mock
	metrics  *recordingMetrics
	tracks   *TrackHistoryStore
	results  []domain.FrameResult
	pipeline *Pipeline
}

func newPipelineHarness(t *testing.T, opener *fakeOpener, detector *fakeDetector, cfg PipelineConfig, metersPerUnit float64, sinks ...*mockSink) *pipelineHarness {
	t.Helper()
	h := &pipelineHarness{
		opener:  opener,
		clock:   clock.NewMock(testStart),
		metrics: newRecordingMetrics(),
		tracks:  NewTrackHistoryStore(10),
	}
	logger := zaptest.NewLogger(t).Sugar()
	h.manager = NewStreamManager(testEndpoint(t, 2), opener, h.clock, h.metrics, logger)

	deps := PipelineDeps{
		Stream:    h.manager,
		Detector:  detector,
		Tracks:    h.tracks,
		Estimator: NewKinematicEstimator(metersPerUnit),
		Callback:  func(r domain.FrameResult) { h.results = append(h.results, r) },
		Metrics:   h.metrics,
		Clock:     h.clock,
		Logger:    logger,
	}
	for _, s := range sinks {
		deps.Sinks = append(deps.Sinks, s)
	}
	if cfg.RunID == "" {
		cfg.RunID = "run-test"
	}
	h.pipeline = NewPipeline(cfg, deps)
	return h
}

func (h *pipelineHarness) frameNumbers() []uint64 {
	var out []uint64
	for _, r := range h.results {
		out = append(out, r.FrameNumber)
	}
	return out
}

// framesAt builds n frames captured dt apart, tagged 1..n by Width.
func framesAt(n int, dt time.Duration) []readResult {
	reads := make([]readResult, n)
	for i := range reads {
		reads[i] = readResult{frame: domain.Frame{Width: i + 1, Height: 1, CapturedAt: testStart.Add(time.Duration(i) * dt)}}
	}
	return reads
}

func finiteCapture(reads []readResult) *fakeCapture {
	c := newFakeCapture(fileProps(len(reads)), reads...)
	c.tail = domain.ErrEndOfStream
	return c
}

func car(id domain.TrackID, x, y float64) domain.Detection {
	return domain.Detection{
		TrackID:    id,
		HasTrackID: true,
		ClassLabel: "car",
		Confidence: 0.9,
		Box:        domain.BoundingBox{X: x, Y: y, Width: 40, Height: 20},
	}
}

func TestPipeline_TenFrameRightwardVehicle(t *testing.T) {
	capture := finiteCapture(framesAt(10, 100*time.Millisecond))
	detector := &fakeDetector{fn: func(f domain.Frame) ([]domain.Detection, error) {
		// 10 units per frame at 10 fps is 100 units/s.
		return []domain.Detection{car(1, float64(f.Width-1)*10, 50)}, nil
	}}
	h := newPipelineHarness(t, &fakeOpener{results: []openResult{{capture: capture}}}, detector, PipelineConfig{}, 0.01)

	require.NoError(t, h.pipeline.Start(context.Background()))

	require.Len(t, h.results, 10)
	assert.Equal(t, []uint64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, h.frameNumbers())

	first := h.results[0].Vehicles[0]
	assert.Nil(t, first.Kinematics.SpeedKPH)
	assert.Equal(t, domain.DirectionUnknown, first.Kinematics.Direction)

	last := h.results[9]
	require.Equal(t, 1, last.VehicleCount)
	v := last.Vehicles[0]
	assert.Equal(t, domain.TrackID(1), v.TrackID)
	assert.Equal(t, "car", v.Class)
	require.NotNil(t, v.Kinematics.SpeedKPH)
	assert.InDelta(t, 3.6, *v.Kinematics.SpeedKPH, 1e-6)
	assert.Equal(t, domain.DirectionRight, v.Kinematics.Direction)
	assert.Equal(t, 1.0, v.Kinematics.Reliability)
	assert.Equal(t, domain.RunID("run-test"), last.RunID)

	assert.Equal(t, 1, capture.closeCount(), "released after the run")
	assert.Equal(t, uint64(10), h.pipeline.Stats().FramesProcessed)
	assert.Equal(t, 10, h.metrics.frames)
}

func TestPipeline_FiltersClassesConfidenceAndUntracked(t *testing.T) {
	capture := finiteCapture(framesAt(1, time.Millisecond))
	detector := &fakeDetector{fn: func(domain.Frame) ([]domain.Detection, error) {
		person := car(2, 0, 0)
		person.ClassLabel = "person"
		weak := car(3, 0, 0)
		weak.Confidence = 0.2
		untracked := car(4, 0, 0)
		untracked.HasTrackID = false
		truck := car(5, 0, 0)
		truck.ClassLabel = "Truck"
		return []domain.Detection{car(1, 0, 0), person, weak, untracked, truck}, nil
	}}
	h := newPipelineHarness(t, &fakeOpener{results: []openResult{{capture: capture}}}, detector,
		PipelineConfig{ConfidenceThreshold: 0.5}, 1)

	require.NoError(t, h.pipeline.Start(context.Background()))

	require.Len(t, h.results, 1)
	result := h.results[0]
	assert.Equal(t, 2, result.VehicleCount)
	assert.Equal(t, len(result.Vehicles), result.VehicleCount)
	assert.Equal(t, domain.TrackID(1), result.Vehicles[0].TrackID)
	assert.Equal(t, "truck", result.Vehicles[1].Class)
	assert.Equal(t, []domain.TrackID{1, 5}, h.tracks.TrackIDs())
}

func TestPipeline_CustomClassList(t *testing.T) {
	capture := finiteCapture(framesAt(1, time.Millisecond))
	detector := &fakeDetector{fn: func(domain.Frame) ([]domain.Detection, error) {
		bike := car(9, 0, 0)
		bike.ClassLabel = "bicycle"
		return []domain.Detection{car(1, 0, 0), bike}, nil
	}}
	h := newPipelineHarness(t, &fakeOpener{results: []openResult{{capture: capture}}}, detector,
		PipelineConfig{VehicleClasses: []string{"bicycle"}}, 1)

	require.NoError(t, h.pipeline.Start(context.Background()))

	require.Len(t, h.results[0].Vehicles, 1)
	assert.Equal(t, "bicycle", h.results[0].Vehicles[0].Class)
}

func TestPipeline_DetectorErrorDegradesAndContinues(t *testing.T) {
	capture := finiteCapture(framesAt(3, 100*time.Millisecond))
	errModel := errors.New("inference server unavailable")
	detector := &fakeDetector{fn: func(f domain.Frame) ([]domain.Detection, error) {
		if f.Width == 2 {
			return nil, errModel
		}
		return []domain.Detection{car(1, float64(f.Width), 0)}, nil
	}}
	h := newPipelineHarness(t, &fakeOpener{results: []openResult{{capture: capture}}}, detector, PipelineConfig{}, 1)

	require.NoError(t, h.pipeline.Start(context.Background()))

	require.Len(t, h.results, 3)
	assert.Equal(t, []uint64{1, 2, 3}, h.frameNumbers())
	assert.Empty(t, h.results[1].Vehicles)
	assert.Equal(t, 0, h.results[1].VehicleCount)
	assert.Contains(t, h.results[1].DetectionError, "inference server unavailable")
	assert.Empty(t, h.results[2].DetectionError)
	assert.Equal(t, 1, h.metrics.detectionFailures)
	assert.Equal(t, uint64(1), h.pipeline.Stats().DetectionFailures)
}

func TestPipeline_SinkFailuresAreIsolated(t *testing.T) {
	capture := finiteCapture(framesAt(3, 100*time.Millisecond))
	detector := &fakeDetector{fn: func(domain.Frame) ([]domain.Detection, error) { return nil, nil }}

	var order []string
	bad := &mockSink{name: "report"}
	bad.On("Handle", mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { order = append(order, "report") }).
		Return(errors.New("disk full"))
	good := &mockSink{name: "log"}
	good.On("Handle", mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { order = append(order, "log") }).
		Return(nil)

	h := newPipelineHarness(t, &fakeOpener{results: []openResult{{capture: capture}}}, detector, PipelineConfig{}, 1, bad, good)
	h.pipeline.deps.Callback = func(r domain.FrameResult) {
		order = append(order, "callback")
		h.results = append(h.results, r)
	}

	require.NoError(t, h.pipeline.Start(context.Background()))

	assert.Len(t, h.results, 3)
	bad.AssertNumberOfCalls(t, "Handle", 3)
	good.AssertNumberOfCalls(t, "Handle", 3)
	assert.Equal(t, []string{"callback", "report", "log", "callback", "report", "log", "callback", "report", "log"}, order)
	assert.Equal(t, 3, h.metrics.sinkFailures["report"])
	assert.Zero(t, h.metrics.sinkFailures["log"])
}

func TestPipeline_SinkSeesMutationsOfEarlierSinks(t *testing.T) {
	capture := finiteCapture(framesAt(1, time.Millisecond))
	detector := &fakeDetector{fn: func(domain.Frame) ([]domain.Detection, error) { return nil, nil }}

	frames := &mockSink{name: "frame"}
	frames.On("Handle", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { args.Get(2).(*domain.FrameResult).FrameSaved = true }).
		Return(nil)
	reports := &mockSink{name: "report"}
	reports.On("Handle", mock.Anything, mock.Anything, mock.MatchedBy(func(r *domain.FrameResult) bool {
		return r.FrameSaved
	})).Return(nil)

	h := newPipelineHarness(t, &fakeOpener{results: []openResult{{capture: capture}}}, detector, PipelineConfig{}, 1, frames, reports)

	require.NoError(t, h.pipeline.Start(context.Background()))

	reports.AssertExpectations(t)
	assert.False(t, h.results[0].FrameSaved, "callback runs before side effects")
}

func TestPipeline_FrameNumbersGaplessAcrossReconnect(t *testing.T) {
	first := newFakeCapture(liveProps(), append(framesAt(2, 100*time.Millisecond), failedRead(domain.ErrEmptyFrame))...)
	second := finiteCapture(framesAt(2, 100*time.Millisecond))
	opener := &fakeOpener{results: []openResult{{capture: first}, {capture: second}}}
	detector := &fakeDetector{fn: func(domain.Frame) ([]domain.Detection, error) { return nil, nil }}
	h := newPipelineHarness(t, opener, detector, PipelineConfig{}, 1)

	require.NoError(t, h.pipeline.Start(context.Background()))

	assert.Equal(t, []uint64{1, 2, 3, 4}, h.frameNumbers())
	assert.Equal(t, 1, first.closeCount())
	assert.Equal(t, 1, second.closeCount())
	assert.Equal(t, 1, h.manager.Status().Reconnects)
}

func TestPipeline_ExhaustedRetriesEndsRun(t *testing.T) {
	capture := newFakeCapture(liveProps(), framesAt(1, time.Millisecond)...)
	opener := &fakeOpener{results: []openResult{{capture: capture}}}
	detector := &fakeDetector{fn: func(domain.Frame) ([]domain.Detection, error) { return nil, nil }}
	h := newPipelineHarness(t, opener, detector, PipelineConfig{}, 1)

	err := h.pipeline.Start(context.Background())

	var exhausted *domain.ExhaustedRetriesError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 2, exhausted.Attempts)
	assert.Len(t, h.results, 1)
	assert.Equal(t, 1, capture.closeCount())
	assert.Equal(t, domain.StateDisconnected, h.manager.Status().State)
}

func TestPipeline_CancellationStopsAndReleases(t *testing.T) {
	capture := newFakeCapture(liveProps(), framesAt(50, 10*time.Millisecond)...)
	opener := &fakeOpener{results: []openResult{{capture: capture}}}
	detector := &fakeDetector{fn: func(domain.Frame) ([]domain.Detection, error) { return nil, nil }}
	h := newPipelineHarness(t, opener, detector, PipelineConfig{}, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.pipeline.deps.Callback = func(r domain.FrameResult) {
		h.results = append(h.results, r)
		if len(h.results) == 3 {
			cancel()
		}
	}

	err := h.pipeline.Start(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, h.results, 3)
	assert.Equal(t, 1, capture.closeCount())
}

func TestPipeline_RejectedSampleStillProducesDetection(t *testing.T) {
	frames := []readResult{
		{frame: domain.Frame{Width: 1, CapturedAt: testStart}},
		{frame: domain.Frame{Width: 2, CapturedAt: testStart}},
	}
	capture := finiteCapture(frames)
	detector := &fakeDetector{fn: func(f domain.Frame) ([]domain.Detection, error) {
		return []domain.Detection{car(1, float64(f.Width), 0)}, nil
	}}
	h := newPipelineHarness(t, &fakeOpener{results: []openResult{{capture: capture}}}, detector, PipelineConfig{}, 1)

	require.NoError(t, h.pipeline.Start(context.Background()))

	require.Len(t, h.results, 2)
	require.Len(t, h.results[1].Vehicles, 1)
	assert.Equal(t, 1, h.results[1].Vehicles[0].Kinematics.Samples)
	assert.Len(t, h.tracks.Window(1), 1)
}

func TestPipeline_EvictsIdleTracksEveryFrame(t *testing.T) {
	capture := finiteCapture(framesAt(2, 0))
	detector := &fakeDetector{fn: func(f domain.Frame) ([]domain.Detection, error) {
		if f.Width == 1 {
			return []domain.Detection{car(1, 0, 0)}, nil
		}
		return nil, nil
	}}
	h := newPipelineHarness(t, &fakeOpener{results: []openResult{{capture: capture}}}, detector,
		PipelineConfig{IdleTimeout: time.Second}, 1)

	_, err := h.pipeline.ProcessFrame(context.Background(), domain.Frame{Width: 1, CapturedAt: testStart})
	require.NoError(t, err)
	assert.Equal(t, 1, h.tracks.Len())

	h.clock.Advance(2 * time.Second)
	_, err = h.pipeline.ProcessFrame(context.Background(), domain.Frame{Width: 2, CapturedAt: h.clock.Now()})
	require.NoError(t, err)

	assert.Zero(t, h.tracks.Len())
	assert.Zero(t, h.metrics.activeTracks)
}

func TestPipeline_ThrottlesToMaxFPS(t *testing.T) {
	capture := finiteCapture(framesAt(5, 10*time.Millisecond))
	detector := &fakeDetector{fn: func(domain.Frame) ([]domain.Detection, error) { return nil, nil }}
	h := newPipelineHarness(t, &fakeOpener{results: []openResult{{capture: capture}}}, detector,
		PipelineConfig{MaxFPS: 50}, 1)

	started := time.Now()
	require.NoError(t, h.pipeline.Start(context.Background()))

	assert.Len(t, h.results, 5)
	assert.GreaterOrEqual(t, time.Since(started), 70*time.Millisecond)
}

func TestPipeline_GeneratesRunID(t *testing.T) {
	p := NewPipeline(PipelineConfig{}, PipelineDeps{Logger: zaptest.NewLogger(t).Sugar()})
	assert.NotEmpty(t, p.RunID())
}
