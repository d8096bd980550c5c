package sinks

import (
	"context"

	"go.uber.org/zap"

	"roadwatch/internal/core/domain"
	"roadwatch/internal/core/ports"
	"roadwatch/pkg/units"
)

// Publisher sends a result to an external consumer.
type Publisher interface {
	Publish(ctx context.Context, result domain.FrameResult) error
}

// Broadcaster pushes a result to live viewers without blocking.
type Broadcaster interface {
	Broadcast(result domain.FrameResult)
}

// FrameSink saves the frame image and marks the result as saved. It must
// run before sinks that persist the result.
type FrameSink struct {
	store  ports.FrameStore
	logger *zap.SugaredLogger
}

func NewFrameSink(store ports.FrameStore, logger *zap.SugaredLogger) *FrameSink {
	return &FrameSink{store: store, logger: logger}
}

func (s *FrameSink) Name() string { return "frame" }

func (s *FrameSink) Handle(ctx context.Context, frame domain.Frame, result *domain.FrameResult) error {
	path, err := s.store.SaveFrame(ctx, *result, frame)
	if err != nil {
		return err
	}
	result.FrameSaved = true
	s.logger.Debugw("Frame saved", "frame_number", result.FrameNumber, "path", path)
	return nil
}

// ReportSink persists every result to a ReportStore.
type ReportSink struct {
	name  string
	store ports.ReportStore
}

func NewReportSink(name string, store ports.ReportStore) *ReportSink {
	return &ReportSink{name: name, store: store}
}

func (s *ReportSink) Name() string { return s.name }

func (s *ReportSink) Handle(ctx context.Context, _ domain.Frame, result *domain.FrameResult) error {
	return s.store.SaveReport(ctx, *result)
}

// RepositorySink keeps results queryable through the HTTP API.
type RepositorySink struct {
	repo ports.ResultRepository
}

func NewRepositorySink(repo ports.ResultRepository) *RepositorySink {
	return &RepositorySink{repo: repo}
}

func (s *RepositorySink) Name() string { return "repository" }

func (s *RepositorySink) Handle(ctx context.Context, _ domain.Frame, result *domain.FrameResult) error {
	return s.repo.Save(ctx, *result)
}

type PublishSink struct {
	name      string
	publisher Publisher
}

func NewPublishSink(name string, publisher Publisher) *PublishSink {
	return &PublishSink{name: name, publisher: publisher}
}

func (s *PublishSink) Name() string { return s.name }

func (s *PublishSink) Handle(ctx context.Context, _ domain.Frame, result *domain.FrameResult) error {
	return s.publisher.Publish(ctx, *result)
}

type DisplaySink struct {
	hub Broadcaster
}

func NewDisplaySink(hub Broadcaster) *DisplaySink {
	return &DisplaySink{hub: hub}
}

func (s *DisplaySink) Name() string { return "display" }

func (s *DisplaySink) Handle(_ context.Context, _ domain.Frame, result *domain.FrameResult) error {
	s.hub.Broadcast(*result)
	return nil
}

// LogSink writes one line per detected vehicle, with speed in unit.
type LogSink struct {
	logger *zap.SugaredLogger
	unit   string
}

func NewLogSink(logger *zap.SugaredLogger, unit string) *LogSink {
	if !units.IsValid(unit) {
		unit = units.KPH
	}
	return &LogSink{logger: logger, unit: unit}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Handle(_ context.Context, _ domain.Frame, result *domain.FrameResult) error {
	for _, v := range result.Vehicles {
		fields := []interface{}{
			"frame_number", result.FrameNumber,
			"vehicle_id", v.TrackID,
			"vehicle_type", v.Class,
			"confidence", v.Confidence,
			"direction", v.Kinematics.Direction,
			"reliability", v.Kinematics.Reliability,
		}
		if v.Kinematics.SpeedKPH != nil {
			mps := *v.Kinematics.SpeedKPH / 3.6
			fields = append(fields, "speed", units.ConvertSpeed(mps, s.unit), "unit", s.unit)
		}
		s.logger.Infow("Vehicle detected", fields...)
	}
	return nil
}
