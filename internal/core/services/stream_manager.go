package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"roadwatch/internal/core/domain"
	"roadwatch/internal/core/ports"
	"roadwatch/pkg/clock"
	"roadwatch/pkg/logger"
	"roadwatch/pkg/retry"
	"roadwatch/pkg/utils"
)

// StreamManager owns the connection to one video source. Connect, ReadFrame
// and Release are called from the frame loop goroutine; Status is safe from
// any goroutine.
type StreamManager struct {
	endpoint domain.StreamEndpoint
	opener   ports.CaptureOpener
	clock    clock.Clock
	metrics  ports.MetricsRecorder
	logger   *zap.SugaredLogger
	logs     *logger.ContextLogger

	mu      sync.RWMutex
	session domain.StreamSession
	capture ports.Capture
	pending *domain.Frame
	readSeq uint64
}

func NewStreamManager(
	endpoint domain.StreamEndpoint,
	opener ports.CaptureOpener,
	clk clock.Clock,
	metrics ports.MetricsRecorder,
	log *zap.SugaredLogger,
) *StreamManager {
	if clk == nil {
		clk = clock.Real{}
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	log = log.With("url", utils.RedactURL(endpoint.URL))
	return &StreamManager{
		endpoint: endpoint,
		opener:   opener,
		clock:    clk,
		metrics:  metrics,
		logger:   log,
		logs:     logger.NewContextLogger(log.Desugar()),
		session:  domain.StreamSession{State: domain.StateDisconnected},
	}
}

// log picks up the run and session ids carried by ctx.
func (m *StreamManager) log(ctx context.Context) *zap.SugaredLogger {
	return m.logs.Sugared(ctx)
}

// Connect performs a single connection attempt and probes one frame. The
// probe frame is returned by the next ReadFrame.
func (m *StreamManager) Connect(ctx context.Context) error {
	return m.connect(ctx, domain.StateDisconnected)
}

func (m *StreamManager) connect(ctx context.Context, failState domain.ConnectionState) error {
	m.closeCapture()

	m.mu.Lock()
	m.session.State = domain.StateConnecting
	m.session.ConnectionAttempts++
	attempt := m.session.ConnectionAttempts
	m.mu.Unlock()
	m.metrics.SetConnectionState(domain.StateConnecting)

	m.log(ctx).Infow("Connecting to stream", "attempt", attempt)

	openCtx := ctx
	if m.endpoint.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		openCtx, cancel = context.WithTimeout(ctx, m.endpoint.ConnectTimeout)
		defer cancel()
	}

	capture, err := m.opener.Open(openCtx, m.endpoint)
	if err != nil {
		m.failAttempt(failState)
		return &domain.ConnectError{Kind: domain.OpenFailed, URL: utils.RedactURL(m.endpoint.URL), Err: err}
	}

	frame, err := capture.Read()
	if err != nil {
		if cerr := capture.Close(); cerr != nil {
			m.log(ctx).Warnw("Failed to close capture after empty probe", "error", cerr)
		}
		m.failAttempt(failState)
		return &domain.ConnectError{Kind: domain.NoFrame, URL: utils.RedactURL(m.endpoint.URL), Err: err}
	}

	props := capture.Properties()
	props.IsLive = props.FrameCount <= 0
	now := m.clock.Now()

	m.mu.Lock()
	m.readSeq++
	frame.Seq = m.readSeq
	if frame.CapturedAt.IsZero() {
		frame.CapturedAt = now
	}
	m.capture = capture
	m.pending = &frame
	m.session.ID = domain.SessionID(utils.GenerateSessionID())
	m.session.State = domain.StateConnected
	m.session.LastFrameAt = now
	m.session.Properties = &props
	sessionID := m.session.ID
	m.mu.Unlock()

	m.metrics.RecordConnectAttempt(true)
	m.metrics.SetConnectionState(domain.StateConnected)

	m.log(logger.WithSessionID(ctx, string(sessionID))).Infow("Stream connected",
		"width", props.Width,
		"height", props.Height,
		"fps", props.FPS,
		"live", props.IsLive,
	)
	return nil
}

func (m *StreamManager) failAttempt(state domain.ConnectionState) {
	m.mu.Lock()
	m.session.State = state
	m.mu.Unlock()
	m.metrics.RecordConnectAttempt(false)
	m.metrics.SetConnectionState(state)
}

// ConnectWithRetry makes up to MaxRetries attempts with a fixed delay between
// them. The wait aborts when ctx is cancelled.
func (m *StreamManager) ConnectWithRetry(ctx context.Context) error {
	return m.connectWithRetry(ctx, domain.StateDisconnected)
}

func (m *StreamManager) connectWithRetry(ctx context.Context, failState domain.ConnectionState) error {
	cfg := retry.Config{
		Enabled:     true,
		MaxAttempts: m.endpoint.MaxRetries,
		Delay:       m.endpoint.RetryDelay,
		Clock:       m.clock,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			m.log(ctx).Warnw("Stream connection attempt failed",
				"attempt", attempt,
				"max_attempts", m.endpoint.MaxRetries,
				"retry_in", delay,
				"error", err,
			)
		},
	}

	err := retry.Retry(ctx, cfg, func(int) error {
		return m.connect(ctx, failState)
	})
	if err == nil {
		return nil
	}

	m.setState(domain.StateDisconnected)

	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) {
		m.log(ctx).Errorw("Stream connection failed, retries exhausted",
			"attempts", exhausted.Attempts,
			"error", exhausted.Last,
		)
		return &domain.ExhaustedRetriesError{Attempts: exhausted.Attempts, Last: exhausted.Last}
	}
	return err
}

// ReadFrame returns the next frame. A failed read releases the handle and
// runs one reconnect cycle inline; the caller gets either a frame from the
// new connection or an *domain.ExhaustedRetriesError.
func (m *StreamManager) ReadFrame(ctx context.Context) (domain.Frame, error) {
	m.mu.Lock()
	if m.pending != nil {
		frame := *m.pending
		m.pending = nil
		m.mu.Unlock()
		return frame, nil
	}
	capture := m.capture
	live := m.session.Properties == nil || m.session.Properties.IsLive
	m.mu.Unlock()

	if capture == nil {
		return domain.Frame{}, domain.ErrNotConnected
	}

	frame, err := capture.Read()
	if err == nil {
		now := m.clock.Now()
		m.mu.Lock()
		m.readSeq++
		frame.Seq = m.readSeq
		if frame.CapturedAt.IsZero() {
			frame.CapturedAt = now
		}
		m.session.LastFrameAt = now
		m.mu.Unlock()
		return frame, nil
	}

	if errors.Is(err, domain.ErrEndOfStream) && !live {
		m.log(ctx).Infow("End of stream reached")
		return domain.Frame{}, domain.ErrEndOfStream
	}

	m.log(ctx).Warnw("Failed to read frame, reconnecting", "error", err)
	m.setState(domain.StateDegraded)
	m.closeCapture()
	m.metrics.RecordReconnect()

	if err := m.connectWithRetry(ctx, domain.StateDegraded); err != nil {
		return domain.Frame{}, err
	}

	m.mu.Lock()
	m.session.Reconnects++
	m.mu.Unlock()

	return m.ReadFrame(ctx)
}

// Release closes the capture. It is idempotent.
func (m *StreamManager) Release() error {
	err := m.closeCapture()
	m.setState(domain.StateDisconnected)
	if err != nil {
		return fmt.Errorf("failed to release stream: %w", err)
	}
	return nil
}

func (m *StreamManager) closeCapture() error {
	m.mu.Lock()
	capture := m.capture
	m.capture = nil
	m.pending = nil
	m.mu.Unlock()

	if capture == nil {
		return nil
	}
	m.logger.Infow("Releasing stream")
	return capture.Close()
}

func (m *StreamManager) setState(state domain.ConnectionState) {
	m.mu.Lock()
	m.session.State = state
	m.mu.Unlock()
	m.metrics.SetConnectionState(state)
}

// Status returns a snapshot of the current session.
func (m *StreamManager) Status() domain.StreamStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := domain.StreamStatus{
		SessionID:          m.session.ID,
		State:              m.session.State,
		Connected:          m.session.State == domain.StateConnected,
		ConnectionAttempts: m.session.ConnectionAttempts,
		Reconnects:         m.session.Reconnects,
	}
	if !m.session.LastFrameAt.IsZero() {
		last := m.session.LastFrameAt
		since := m.clock.Since(last)
		status.LastFrameAt = &last
		status.SinceLastFrame = &since
	}
	if m.session.Properties != nil {
		props := *m.session.Properties
		status.Properties = &props
	}
	return status
}

// WithSession connects with retry, runs fn and always releases the stream
// afterwards, including when fn panics.
func WithSession(ctx context.Context, connector ports.StreamConnector, fn func(ctx context.Context) error) (err error) {
	if err := connector.ConnectWithRetry(ctx); err != nil {
		return err
	}
	defer func() {
		if rerr := connector.Release(); rerr != nil && err == nil {
			err = rerr
		}
	}()

	return fn(ctx)
}

type noopMetrics struct{}

func (noopMetrics) RecordFrame(domain.FrameResult)            {}
func (noopMetrics) RecordDetectionFailure()                   {}
func (noopMetrics) RecordSinkFailure(string)                  {}
func (noopMetrics) RecordConnectAttempt(bool)                 {}
func (noopMetrics) RecordReconnect()                          {}
func (noopMetrics) SetConnectionState(domain.ConnectionState) {}
func (noopMetrics) SetActiveTracks(int)                       {}
