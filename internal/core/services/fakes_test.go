package services

import (
	"context"
	"errors"
	"sync"

	"roadwatch/internal/core/domain"
	"roadwatch/internal/core/ports"
)

var errOpen = errors.New("connection refused")

type readResult struct {
	frame domain.Frame
	err   error
}

// fakeCapture replays scripted reads and then returns tail forever.
type fakeCapture struct {
	mu     sync.Mutex
	reads  []readResult
	tail   error
	props  domain.StreamProperties
	closed int
}

func newFakeCapture(props domain.StreamProperties, reads ...readResult) *fakeCapture {
	return &fakeCapture{reads: reads, tail: domain.ErrEmptyFrame, props: props}
}

func (c *fakeCapture) Read() (domain.Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.reads) == 0 {
		return domain.Frame{}, c.tail
	}
	r := c.reads[0]
	c.reads = c.reads[1:]
	return r.frame, r.err
}

func (c *fakeCapture) Properties() domain.StreamProperties { return c.props }

func (c *fakeCapture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return nil
}

func (c *fakeCapture) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type openResult struct {
	capture *fakeCapture
	err     error
}

// fakeOpener hands out scripted captures in order.
type fakeOpener struct {
	mu      sync.Mutex
	results []openResult
	calls   int
	opened  []*fakeCapture
	onOpen  func(call int)
}

func (o *fakeOpener) Open(ctx context.Context, _ domain.StreamEndpoint) (ports.Capture, error) {
	o.mu.Lock()
	o.calls++
	call := o.calls
	var r openResult
	if len(o.results) > 0 {
		r = o.results[0]
		o.results = o.results[1:]
	} else {
		r = openResult{err: errOpen}
	}
	if r.capture != nil {
		o.opened = append(o.opened, r.capture)
	}
	hook := o.onOpen
	o.mu.Unlock()

	if hook != nil {
		hook(call)
	}
	if r.err != nil {
		return nil, r.err
	}
	return r.capture, nil
}

func (o *fakeOpener) callCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls
}

func liveProps() domain.StreamProperties {
	return domain.StreamProperties{Width: 1280, Height: 720, FPS: 25}
}

func fileProps(frames int) domain.StreamProperties {
	return domain.StreamProperties{Width: 640, Height: 480, FPS: 30, FrameCount: frames}
}

// frameTagged returns a frame identified by its Width.
func frameTagged(tag int) readResult {
	return readResult{frame: domain.Frame{Width: tag, Height: 1}}
}

func failedRead(err error) readResult {
	return readResult{err: err}
}

// recordingMetrics counts the calls the pipeline makes.
type recordingMetrics struct {
	mu                sync.Mutex
	frames            int
	detectionFailures int
	sinkFailures      map[string]int
	connectOK         int
	connectFailed     int
	reconnects        int
	states            []domain.ConnectionState
	activeTracks      int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{sinkFailures: map[string]int{}}
}

func (m *recordingMetrics) RecordFrame(domain.FrameResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames++
}

func (m *recordingMetrics) RecordDetectionFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.detectionFailures++
}

func (m *recordingMetrics) RecordSinkFailure(sink string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sinkFailures[sink]++
}

func (m *recordingMetrics) RecordConnectAttempt(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if success {
		m.connectOK++
	} else {
		m.connectFailed++
	}
}

func (m *recordingMetrics) RecordReconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconnects++
}

func (m *recordingMetrics) SetConnectionState(s domain.ConnectionState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states = append(m.states, s)
}

func (m *recordingMetrics) SetActiveTracks(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeTracks = n
}
