package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"roadwatch/internal/core/domain"
	"roadwatch/internal/core/ports"
	"roadwatch/pkg/clock"
	"roadwatch/pkg/logger"
	"roadwatch/pkg/tracing"
	"roadwatch/pkg/utils"
)

// DefaultVehicleClasses is the detector label allow-list used when none is
// configured.
var DefaultVehicleClasses = []string{"car", "truck", "bus", "motorcycle"}

type PipelineConfig struct {
	RunID               domain.RunID
	VehicleClasses      []string
	ConfidenceThreshold float64
	MaxFPS              float64 // 0 disables throttling
	IdleTimeout         time.Duration
	StatsInterval       time.Duration
}

type PipelineDeps struct {
	Stream    ports.StreamConnector
	Detector  ports.Detector
	Tracks    ports.TrackStore
	Estimator ports.KinematicEstimator
	Sinks     []ports.Sink
	Callback  ports.ResultCallback
	Metrics   ports.MetricsRecorder
	Stats     *MetricsService
	Clock     clock.Clock
	Logger    *zap.SugaredLogger
}

// Pipeline reads frames, runs detection and tracking and fans results out to
// the callback and sinks. A Pipeline runs one frame loop at a time.
type Pipeline struct {
	cfg     PipelineConfig
	deps    PipelineDeps
	classes map[string]bool
	limiter *rate.Limiter
	logs    *logger.ContextLogger

	frameNumber uint64
}

func NewPipeline(cfg PipelineConfig, deps PipelineDeps) *Pipeline {
	if cfg.RunID == "" {
		cfg.RunID = domain.RunID(utils.GenerateRunID())
	}
	if len(cfg.VehicleClasses) == 0 {
		cfg.VehicleClasses = DefaultVehicleClasses
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 5 * time.Second
	}
	if cfg.StatsInterval <= 0 {
		cfg.StatsInterval = 5 * time.Second
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	if deps.Metrics == nil {
		deps.Metrics = noopMetrics{}
	}
	if deps.Stats == nil {
		deps.Stats = NewMetricsService(deps.Clock)
	}
	if deps.Tracks == nil {
		deps.Tracks = NewTrackHistoryStore(DefaultHistorySize)
	}
	if deps.Estimator == nil {
		deps.Estimator = NewKinematicEstimator(1)
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop().Sugar()
	}

	classes := make(map[string]bool, len(cfg.VehicleClasses))
	for _, c := range cfg.VehicleClasses {
		classes[utils.NormalizeLabel(c)] = true
	}

	p := &Pipeline{
		cfg:     cfg,
		deps:    deps,
		classes: classes,
		logs:    logger.NewContextLogger(deps.Logger.Desugar()),
	}
	if cfg.MaxFPS > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(cfg.MaxFPS), 1)
	}
	return p
}

func (p *Pipeline) RunID() domain.RunID {
	return p.cfg.RunID
}

// log scopes the logger to this run and to any session or trace id in ctx.
func (p *Pipeline) log(ctx context.Context) *zap.SugaredLogger {
	return p.logs.Sugared(logger.WithRunID(ctx, string(p.cfg.RunID)))
}

// Start connects to the stream, runs the frame loop and releases the stream
// on every exit path.
func (p *Pipeline) Start(ctx context.Context) error {
	ctx = logger.WithRunID(ctx, string(p.cfg.RunID))
	p.log(ctx).Infow("Starting detection pipeline",
		"vehicle_classes", p.cfg.VehicleClasses,
		"confidence_threshold", p.cfg.ConfidenceThreshold,
		"max_fps", p.cfg.MaxFPS,
	)
	return WithSession(ctx, p.deps.Stream, p.Run)
}

// Run executes the frame loop until the stream ends, ctx is cancelled or the
// stream is lost for good. End of a finite stream returns nil.
func (p *Pipeline) Run(ctx context.Context) error {
	p.deps.Stats.Reset()
	lastStats := p.deps.Clock.Now()
	defer p.logStats(ctx, "Final detection statistics")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if _, err := p.ProcessNext(ctx); err != nil {
			if errors.Is(err, domain.ErrEndOfStream) {
				p.log(ctx).Infow("Stream finished")
				return nil
			}
			return err
		}

		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				return fmt.Errorf("throttle: %w", err)
			}
		}

		if now := p.deps.Clock.Now(); now.Sub(lastStats) >= p.cfg.StatsInterval {
			p.logStats(ctx, "Detection statistics")
			lastStats = now
		}
	}
}

// ProcessNext reads one frame and runs it through the pipeline.
func (p *Pipeline) ProcessNext(ctx context.Context) (domain.FrameResult, error) {
	frame, err := p.deps.Stream.ReadFrame(ctx)
	if err != nil {
		return domain.FrameResult{}, err
	}
	if id := p.deps.Stream.Status().SessionID; id != "" {
		ctx = logger.WithSessionID(ctx, string(id))
	}
	return p.ProcessFrame(ctx, frame)
}

// ProcessFrame detects, tracks and reports a single frame. Detector and sink
// failures are absorbed; only cancellation is returned.
func (p *Pipeline) ProcessFrame(ctx context.Context, frame domain.Frame) (domain.FrameResult, error) {
	ctx, span := tracing.StartSpan(ctx, "pipeline.process_frame")
	defer span.End()

	tracing.AddSpanAttributes(ctx, tracing.RunIDKey.String(string(p.cfg.RunID)))
	if id := logger.SessionIDFromContext(ctx); id != "" {
		tracing.AddSpanAttributes(ctx, tracing.SessionIDKey.String(id))
	}

	start := p.deps.Clock.Now()
	p.frameNumber++
	frameNumber := p.frameNumber

	ts := frame.CapturedAt
	if ts.IsZero() {
		ts = start
	}

	var detectionErr string
	detections, err := p.deps.Detector.Detect(ctx, frame)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.FrameResult{}, ctxErr
		}
		p.log(ctx).Warnw("Detection failed", "frame_number", frameNumber, "error", err)
		tracing.RecordError(ctx, err)
		p.deps.Metrics.RecordDetectionFailure()
		p.deps.Stats.RecordDetectionFailure()
		detectionErr = err.Error()
		detections = nil
	}

	vehicles := make([]domain.VehicleDetection, 0, len(detections))
	for _, d := range detections {
		if !p.accept(d) {
			continue
		}

		if err := p.deps.Tracks.Record(d.TrackID, d.Box.Centroid(), ts); err != nil {
			p.log(ctx).Debugw("Track sample rejected", "track_id", d.TrackID, "error", err)
		}

		vehicles = append(vehicles, domain.VehicleDetection{
			TrackID:    d.TrackID,
			Class:      utils.NormalizeLabel(d.ClassLabel),
			Confidence: d.Confidence,
			Box:        d.Box,
			Kinematics: p.deps.Estimator.Estimate(p.deps.Tracks.Window(d.TrackID)),
		})
	}

	if evicted := p.deps.Tracks.EvictIdle(p.deps.Clock.Now(), p.cfg.IdleTimeout); len(evicted) > 0 {
		p.log(ctx).Debugw("Evicted idle tracks", "track_ids", evicted)
	}
	p.deps.Metrics.SetActiveTracks(p.deps.Tracks.Len())

	result := domain.NewFrameResult(p.cfg.RunID, frameNumber, ts, p.deps.Clock.Since(start), vehicles)
	result.DetectionError = detectionErr

	tracing.AddSpanAttributes(ctx,
		tracing.FrameNumberKey.Int64(int64(frameNumber)),
		tracing.VehicleCountKey.Int(result.VehicleCount),
		attribute.Float64("frame.fps", result.FPS()),
		attribute.Bool("detection.failed", detectionErr != ""),
	)
	for _, v := range result.Vehicles {
		attrs := []attribute.KeyValue{
			tracing.TrackIDKey.Int64(int64(v.TrackID)),
			attribute.String("vehicle.class", v.Class),
		}
		if v.Kinematics.SpeedKPH != nil {
			attrs = append(attrs, attribute.Float64("vehicle.speed_kph", *v.Kinematics.SpeedKPH))
		}
		tracing.AddSpanEvent(ctx, "vehicle", attrs...)
	}

	if p.deps.Callback != nil {
		p.deps.Callback(result)
	}

	p.runSinks(ctx, frame, &result)

	p.deps.Metrics.RecordFrame(result)
	p.deps.Stats.RecordFrame(result)

	return result, nil
}

func (p *Pipeline) accept(d domain.Detection) bool {
	if !d.HasTrackID {
		return false
	}
	if !p.classes[utils.NormalizeLabel(d.ClassLabel)] {
		return false
	}
	return d.Confidence >= p.cfg.ConfidenceThreshold
}

func (p *Pipeline) runSinks(ctx context.Context, frame domain.Frame, result *domain.FrameResult) {
	for _, sink := range p.deps.Sinks {
		sinkCtx, span := tracing.TraceSink(ctx, sink.Name(), result.FrameNumber)
		err := sink.Handle(sinkCtx, frame, result)
		if err != nil {
			tracing.RecordError(sinkCtx, err)
		}
		span.End()
		if err != nil {
			sideErr := &domain.SideEffectError{Sink: sink.Name(), FrameNumber: result.FrameNumber, Err: err}
			p.log(ctx).Warnw("Output sink failed", "sink", sink.Name(), "frame_number", result.FrameNumber, "error", sideErr)
			p.deps.Metrics.RecordSinkFailure(sink.Name())
			p.deps.Stats.RecordSinkFailure()
		}
	}
}

func (p *Pipeline) logStats(ctx context.Context, msg string) {
	stats := p.deps.Stats.Snapshot()
	p.log(ctx).Infow(msg,
		"frames_processed", stats.FramesProcessed,
		"vehicles_detected", stats.VehiclesDetected,
		"average_fps", stats.AverageFPS,
		"average_processing", utils.FormatDuration(stats.AverageProcessing),
		"processing_p95", utils.FormatDuration(stats.ProcessingP95),
		"detection_failures", stats.DetectionFailures,
		"sink_failures", stats.SinkFailures,
		"elapsed", utils.FormatDuration(stats.Elapsed),
	)
}

// Stats exposes the current run statistics.
func (p *Pipeline) Stats() domain.RunStats {
	return p.deps.Stats.Snapshot()
}
