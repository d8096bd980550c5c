package capture

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"roadwatch/internal/core/domain"
	"roadwatch/internal/core/ports"
)

// GocvOpener opens video sources through OpenCV. Numeric addresses are
// treated as local device indexes.
type GocvOpener struct {
	logger *zap.SugaredLogger
}

func NewGocvOpener(logger *zap.SugaredLogger) *GocvOpener {
	return &GocvOpener{logger: logger}
}

type openResult struct {
	vc  *gocv.VideoCapture
	err error
}

// Open blocks until OpenCV has opened the source or ctx is done. OpenCV has
// no cancellable open, so a late handle is closed in the background.
func (o *GocvOpener) Open(ctx context.Context, endpoint domain.StreamEndpoint) (ports.Capture, error) {
	done := make(chan openResult, 1)
	go func() {
		vc, err := gocv.OpenVideoCapture(source(endpoint.URL))
		done <- openResult{vc: vc, err: err}
	}()

	var res openResult
	select {
	case res = <-done:
	case <-ctx.Done():
		go func() {
			late := <-done
			if late.vc != nil {
				late.vc.Close()
			}
		}()
		return nil, fmt.Errorf("open stream: %w", ctx.Err())
	}

	if res.err != nil {
		return nil, fmt.Errorf("open stream: %w", res.err)
	}
	if !res.vc.IsOpened() {
		res.vc.Close()
		return nil, fmt.Errorf("open stream: capture not opened")
	}

	if endpoint.BufferSize > 0 {
		res.vc.Set(gocv.VideoCaptureBufferSize, float64(endpoint.BufferSize))
	}

	c := &VideoCapture{
		vc:  res.vc,
		mat: gocv.NewMat(),
		props: domain.StreamProperties{
			Width:      int(res.vc.Get(gocv.VideoCaptureFrameWidth)),
			Height:     int(res.vc.Get(gocv.VideoCaptureFrameHeight)),
			FPS:        res.vc.Get(gocv.VideoCaptureFPS),
			FrameCount: int(res.vc.Get(gocv.VideoCaptureFrameCount)),
		},
	}

	o.logger.Debugw("Video capture opened",
		"width", c.props.Width,
		"height", c.props.Height,
		"fps", c.props.FPS,
		"frame_count", c.props.FrameCount,
		"buffer_size", endpoint.BufferSize,
	)
	return c, nil
}

// VideoCapture is an open OpenCV handle. It reuses one Mat across reads.
type VideoCapture struct {
	mu     sync.Mutex
	vc     *gocv.VideoCapture
	mat    gocv.Mat
	props  domain.StreamProperties
	closed bool
}

func (c *VideoCapture) Read() (domain.Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return domain.Frame{}, domain.ErrNotConnected
	}
	if ok := c.vc.Read(&c.mat); !ok || c.mat.Empty() {
		return domain.Frame{}, readFailure(c.vc.Get(gocv.VideoCapturePosFrames), c.props.FrameCount)
	}

	img, err := c.mat.ToImage()
	if err != nil {
		return domain.Frame{}, fmt.Errorf("%w: %v", domain.ErrEmptyFrame, err)
	}
	return domain.Frame{
		Width:  c.mat.Cols(),
		Height: c.mat.Rows(),
		Image:  img,
	}, nil
}

func (c *VideoCapture) Properties() domain.StreamProperties {
	return c.props
}

func (c *VideoCapture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	if err := c.mat.Close(); err != nil {
		c.vc.Close()
		return fmt.Errorf("close frame buffer: %w", err)
	}
	return c.vc.Close()
}

func source(address string) interface{} {
	if idx, err := strconv.Atoi(address); err == nil && idx >= 0 {
		return idx
	}
	return address
}

// readFailure tells an exhausted finite source from a transient empty read.
func readFailure(position float64, frameCount int) error {
	if frameCount > 0 && int(position) >= frameCount {
		return domain.ErrEndOfStream
	}
	return domain.ErrEmptyFrame
}
