package domain

import "time"

// RunStats summarises a pipeline run.
type RunStats struct {
	FramesProcessed   uint64        `json:"frames_processed"`
	VehiclesDetected  uint64        `json:"vehicles_detected"`
	DetectionFailures uint64        `json:"detection_failures"`
	SinkFailures      uint64        `json:"sink_failures"`
	Elapsed           time.Duration `json:"elapsed_ns"`
	AverageFPS        float64       `json:"average_fps"`
	AverageProcessing time.Duration `json:"average_processing_ns"`
	ProcessingP95     time.Duration `json:"processing_p95_ns"`
}

// ProbePerformance is measured by the connection probe.
type ProbePerformance struct {
	TotalFrames       int           `json:"total_frames"`
	TotalTime         time.Duration `json:"total_time_ns"`
	AverageFPS        float64       `json:"average_fps"`
	AverageFrameTime  time.Duration `json:"average_frame_time_ns"`
	MinFrameTime      time.Duration `json:"min_frame_time_ns"`
	MaxFrameTime      time.Duration `json:"max_frame_time_ns"`
	FrameTimeVariance float64       `json:"frame_time_variance"`
}

// ProbeReport is the outcome of a connection probe.
type ProbeReport struct {
	URL             string            `json:"rtsp_url"`
	TestedAt        time.Time         `json:"test_timestamp"`
	TestDuration    time.Duration     `json:"test_duration_ns"`
	Success         bool              `json:"success"`
	ConnectionTime  time.Duration     `json:"connection_time_ns"`
	Properties      *StreamProperties `json:"stream_properties,omitempty"`
	Performance     *ProbePerformance `json:"performance_metrics,omitempty"`
	Error           string            `json:"error_message,omitempty"`
	Recommendations []string          `json:"recommendations"`
}
