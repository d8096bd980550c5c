package domain

import (
	"fmt"
	"image"
	"net/url"
	"strings"
	"time"
)

type SessionID string
type RunID string

// StreamEndpoint identifies a video source. It is a value type and never
// mutated after NewStreamEndpoint.
type StreamEndpoint struct {
	URL            string
	ConnectTimeout time.Duration
	MaxRetries     int
	RetryDelay     time.Duration
	BufferSize     int
}

// NewStreamEndpoint validates and builds an endpoint. Plain file paths are
// accepted alongside scheme://[user:pass@]host[:port]/path addresses.
func NewStreamEndpoint(rawURL string, connectTimeout time.Duration, maxRetries int, retryDelay time.Duration, bufferSize int) (StreamEndpoint, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return StreamEndpoint{}, fmt.Errorf("%w: address is empty", ErrInvalidEndpoint)
	}
	if strings.Contains(rawURL, "://") {
		u, err := url.Parse(rawURL)
		if err != nil {
			return StreamEndpoint{}, fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
		}
		if u.Host == "" {
			return StreamEndpoint{}, fmt.Errorf("%w: missing host", ErrInvalidEndpoint)
		}
	}
	if maxRetries < 1 {
		return StreamEndpoint{}, fmt.Errorf("%w: max retries must be >= 1", ErrInvalidEndpoint)
	}
	if retryDelay < 0 {
		return StreamEndpoint{}, fmt.Errorf("%w: retry delay must be >= 0", ErrInvalidEndpoint)
	}
	if connectTimeout < 0 {
		return StreamEndpoint{}, fmt.Errorf("%w: connect timeout must be >= 0", ErrInvalidEndpoint)
	}
	if bufferSize < 0 {
		return StreamEndpoint{}, fmt.Errorf("%w: buffer size must be >= 0", ErrInvalidEndpoint)
	}

	return StreamEndpoint{
		URL:            rawURL,
		ConnectTimeout: connectTimeout,
		MaxRetries:     maxRetries,
		RetryDelay:     retryDelay,
		BufferSize:     bufferSize,
	}, nil
}

type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateDegraded
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *ConnectionState) UnmarshalText(text []byte) error {
	for _, candidate := range []ConnectionState{StateDisconnected, StateConnecting, StateConnected, StateDegraded} {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown connection state %q", text)
}

type StreamProperties struct {
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	FPS        float64 `json:"fps"`
	FrameCount int     `json:"frame_count"`
	IsLive     bool    `json:"is_live"`
}

// StreamSession is the mutable state owned by the connection manager.
type StreamSession struct {
	ID                 SessionID
	State              ConnectionState
	LastFrameAt        time.Time
	ConnectionAttempts int
	Reconnects         int
	Properties         *StreamProperties
}

// StreamStatus is a read-only snapshot of a StreamSession.
type StreamStatus struct {
	SessionID          SessionID         `json:"session_id,omitempty"`
	State              ConnectionState   `json:"state"`
	Connected          bool              `json:"is_connected"`
	ConnectionAttempts int               `json:"connection_attempts"`
	Reconnects         int               `json:"reconnects"`
	LastFrameAt        *time.Time        `json:"last_frame_time,omitempty"`
	SinceLastFrame     *time.Duration    `json:"time_since_last_frame,omitempty"`
	Properties         *StreamProperties `json:"stream_properties,omitempty"`
}

// Frame is one decoded picture from the source.
type Frame struct {
	Seq        uint64
	CapturedAt time.Time
	Width      int
	Height     int
	Image      image.Image
}
