package domain

import (
	"math"
	"time"
)

// BoundingBox is centre based, matching the xywh layout trackers emit.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (b BoundingBox) Centroid() Point {
	return Point{X: b.X, Y: b.Y}
}

// Detection is one object reported by the external detector for a frame.
type Detection struct {
	TrackID    TrackID
	HasTrackID bool
	ClassLabel string
	Confidence float64
	Box        BoundingBox
}

type Direction string

const (
	DirectionRight       Direction = "Right"
	DirectionBottomRight Direction = "Bottom Right"
	DirectionBottom      Direction = "Bottom"
	DirectionBottomLeft  Direction = "Bottom Left"
	DirectionLeft        Direction = "Left"
	DirectionTopLeft     Direction = "Top Left"
	DirectionTop         Direction = "Top"
	DirectionTopRight    Direction = "Top Right"
	DirectionUnknown     Direction = "Unknown"
)

// CompassSectors is ordered by increasing screen-space angle starting at 0 rad.
var CompassSectors = [8]Direction{
	DirectionRight,
	DirectionBottomRight,
	DirectionBottom,
	DirectionBottomLeft,
	DirectionLeft,
	DirectionTopLeft,
	DirectionTop,
	DirectionTopRight,
}

// KinematicEstimate is derived per frame and never stored on its own.
type KinematicEstimate struct {
	SpeedKPH    *float64  `json:"kph"`
	Heading     *float64  `json:"direction"`
	Direction   Direction `json:"direction_label"`
	Reliability float64   `json:"reliability"`
	Samples     int       `json:"samples"`
}

type VehicleDetection struct {
	TrackID    TrackID           `json:"vehicle_id"`
	Class      string            `json:"vehicle_type"`
	Confidence float64           `json:"detection_confidence"`
	Box        BoundingBox       `json:"vehicle_coordinates"`
	Kinematics KinematicEstimate `json:"speed_info"`
}

type FrameResult struct {
	RunID          RunID              `json:"run_id"`
	FrameNumber    uint64             `json:"frame_number"`
	Timestamp      time.Time          `json:"timestamp"`
	ProcessingTime time.Duration      `json:"processing_time_ns"`
	VehicleCount   int                `json:"number_of_vehicles_detected"`
	Vehicles       []VehicleDetection `json:"detected_vehicles"`
	FrameSaved     bool               `json:"frame_saved"`
	DetectionError string             `json:"detection_error,omitempty"`
}

// NewFrameResult keeps VehicleCount consistent with Vehicles.
func NewFrameResult(runID RunID, frameNumber uint64, ts time.Time, processing time.Duration, vehicles []VehicleDetection) FrameResult {
	if vehicles == nil {
		vehicles = []VehicleDetection{}
	}
	return FrameResult{
		RunID:          runID,
		FrameNumber:    frameNumber,
		Timestamp:      ts,
		ProcessingTime: processing,
		VehicleCount:   len(vehicles),
		Vehicles:       vehicles,
	}
}

// FPS is the instantaneous rate implied by the processing time.
func (r FrameResult) FPS() float64 {
	if r.ProcessingTime <= 0 {
		return 0
	}
	return 1 / r.ProcessingTime.Seconds()
}

func (r FrameResult) ProcessingMillis() float64 {
	return math.Round(float64(r.ProcessingTime.Microseconds())) / 1000
}
