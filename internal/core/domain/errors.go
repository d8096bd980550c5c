package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotConnected       = errors.New("stream not connected")
	ErrEmptyFrame         = errors.New("no frame available")
	ErrEndOfStream        = errors.New("end of stream")
	ErrNonMonotonicSample = errors.New("sample timestamp not after previous sample")
	ErrTrackNotFound      = errors.New("track not found")
	ErrResultNotFound     = errors.New("frame result not found")
	ErrInvalidEndpoint    = errors.New("invalid stream endpoint")
)

// ConnectFailure classifies why a single connect attempt failed.
type ConnectFailure int

const (
	OpenFailed ConnectFailure = iota
	NoFrame
)

func (f ConnectFailure) String() string {
	switch f {
	case OpenFailed:
		return "open_failed"
	case NoFrame:
		return "no_frame"
	default:
		return "unknown"
	}
}

// ConnectError is returned by a single connect attempt. It is always retryable.
type ConnectError struct {
	Kind ConnectFailure
	URL  string
	Err  error
}

func (e *ConnectError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("connect %s: %s: %v", e.URL, e.Kind, e.Err)
	}
	return fmt.Sprintf("connect %s: %s", e.URL, e.Kind)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// ExhaustedRetriesError is terminal for the current session.
type ExhaustedRetriesError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedRetriesError) Error() string {
	return fmt.Sprintf("stream connection failed after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedRetriesError) Unwrap() error {
	return e.Last
}

// SideEffectError wraps a failure of an optional per-frame side effect.
type SideEffectError struct {
	Sink        string
	FrameNumber uint64
	Err         error
}

func (e *SideEffectError) Error() string {
	return fmt.Sprintf("sink %s failed on frame %d: %v", e.Sink, e.FrameNumber, e.Err)
}

func (e *SideEffectError) Unwrap() error {
	return e.Err
}

// IsExhausted reports whether err ends the stream session.
func IsExhausted(err error) bool {
	var exhausted *ExhaustedRetriesError
	return errors.As(err, &exhausted)
}
