package ports

import (
	"context"
	"time"

	"roadwatch/internal/core/domain"
)

// Capture is an open handle on a video source. Read returns
// domain.ErrEmptyFrame when no frame is obtainable and domain.ErrEndOfStream
// once a finite source is exhausted.
type Capture interface {
	Read() (domain.Frame, error)
	Properties() domain.StreamProperties
	Close() error
}

// CaptureOpener opens captures. Implementations apply the endpoint's buffer
// size hint.
type CaptureOpener interface {
	Open(ctx context.Context, endpoint domain.StreamEndpoint) (Capture, error)
}

// Detector returns the tracked objects found in a frame.
type Detector interface {
	Detect(ctx context.Context, frame domain.Frame) ([]domain.Detection, error)
}

// StreamConnector owns one stream session.
type StreamConnector interface {
	Connect(ctx context.Context) error
	ConnectWithRetry(ctx context.Context) error
	ReadFrame(ctx context.Context) (domain.Frame, error)
	Release() error
	Status() domain.StreamStatus
}

// TrackStore keeps the bounded position history of every live track.
type TrackStore interface {
	Record(id domain.TrackID, position domain.Point, ts time.Time) error
	Window(id domain.TrackID) []domain.TrackSample
	EvictIdle(now time.Time, idleThreshold time.Duration) []domain.TrackID
	Len() int
	TrackIDs() []domain.TrackID
}

// KinematicEstimator derives speed and heading from a track window.
type KinematicEstimator interface {
	Estimate(window []domain.TrackSample) domain.KinematicEstimate
}

// ResultCallback receives every FrameResult in frame order.
type ResultCallback func(result domain.FrameResult)

// Sink is an optional per-frame side effect. A failing sink never stops the
// frame loop.
type Sink interface {
	Name() string
	Handle(ctx context.Context, frame domain.Frame, result *domain.FrameResult) error
}

// MetricsRecorder receives pipeline and stream telemetry.
type MetricsRecorder interface {
	RecordFrame(result domain.FrameResult)
	RecordDetectionFailure()
	RecordSinkFailure(sink string)
	RecordConnectAttempt(success bool)
	RecordReconnect()
	SetConnectionState(state domain.ConnectionState)
	SetActiveTracks(n int)
}
