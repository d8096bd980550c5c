package detection

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image/jpeg"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"roadwatch/internal/core/domain"
	"roadwatch/pkg/circuitbreaker"
	"roadwatch/pkg/optimize"
	"roadwatch/pkg/tracing"
)

const maxErrorBody = 512

type Config struct {
	Endpoint    string
	Timeout     time.Duration
	JPEGQuality int
}

// HTTPDetector sends each frame as a JPEG to a tracking inference service
// and decodes the tracked boxes it returns.
type HTTPDetector struct {
	endpoint string
	quality  int
	client   *http.Client
	breaker  *circuitbreaker.CircuitBreaker
	logger   *zap.SugaredLogger
}

type wireBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

type wireDetection struct {
	TrackID    *int64  `json:"track_id"`
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"`
	Box        wireBox `json:"box"`
}

type wireResponse struct {
	Detections []wireDetection `json:"detections"`
}

func NewHTTPDetector(cfg Config, breaker *circuitbreaker.CircuitBreaker, logger *zap.SugaredLogger) *HTTPDetector {
	quality := cfg.JPEGQuality
	if quality <= 0 || quality > 100 {
		quality = jpeg.DefaultQuality
	}
	return &HTTPDetector{
		endpoint: cfg.Endpoint,
		quality:  quality,
		client:   &http.Client{Timeout: cfg.Timeout},
		breaker:  breaker,
		logger:   logger,
	}
}

func (d *HTTPDetector) Detect(ctx context.Context, frame domain.Frame) ([]domain.Detection, error) {
	if frame.Image == nil {
		return nil, domain.ErrEmptyFrame
	}

	ctx, span := tracing.TraceDetector(ctx, d.endpoint, frame.Seq)
	defer span.End()

	body := optimize.FrameBuffers.Get()
	defer optimize.FrameBuffers.Put(body)
	if err := jpeg.Encode(body, frame.Image, &jpeg.Options{Quality: d.quality}); err != nil {
		return nil, fmt.Errorf("encode frame %d: %w", frame.Seq, err)
	}

	call := func(ctx context.Context) ([]domain.Detection, error) {
		return d.post(ctx, body.Bytes())
	}

	var (
		detections []domain.Detection
		err        error
	)
	if d.breaker != nil {
		detections, err = circuitbreaker.ExecuteWithResult(ctx, d.breaker, call)
	} else {
		detections, err = call(ctx)
	}
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}

	tracing.AddSpanAttributes(ctx, tracing.VehicleCountKey.Int(len(detections)))
	return detections, nil
}

func (d *HTTPDetector) post(ctx context.Context, payload []byte) ([]domain.Detection, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build detector request: %w", err)
	}
	req.Header.Set("Content-Type", "image/jpeg")
	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("detector request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("detector returned %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}

	var decoded wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode detector response: %w", err)
	}

	detections := make([]domain.Detection, 0, len(decoded.Detections))
	for _, w := range decoded.Detections {
		det := domain.Detection{
			ClassLabel: w.Class,
			Confidence: w.Confidence,
			Box: domain.BoundingBox{
				X:      w.Box.X,
				Y:      w.Box.Y,
				Width:  w.Box.Width,
				Height: w.Box.Height,
			},
		}
		if w.TrackID != nil {
			det.TrackID = domain.TrackID(*w.TrackID)
			det.HasTrackID = true
		}
		detections = append(detections, det)
	}
	return detections, nil
}
