package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"roadwatch/internal/core/domain"
)

var connectionStates = []domain.ConnectionState{
	domain.StateDisconnected,
	domain.StateConnecting,
	domain.StateConnected,
	domain.StateDegraded,
}

// PrometheusCollector exports pipeline and stream telemetry as roadwatch_*
// series. It implements ports.MetricsRecorder.
type PrometheusCollector struct {
	framesProcessed   prometheus.Counter
	vehiclesDetected  prometheus.Counter
	detectionFailures prometheus.Counter
	reconnects        prometheus.Counter
	sinkFailures      *prometheus.CounterVec
	connectAttempts   *prometheus.CounterVec

	connectionState *prometheus.GaugeVec
	activeTracks    prometheus.Gauge
	frameVehicles   prometheus.Gauge

	processingDuration prometheus.Histogram
	vehicleSpeed       *prometheus.HistogramVec
}

// NewPrometheusCollector registers the collector's series with reg.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	factory := promauto.With(reg)
	return &PrometheusCollector{
		framesProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "roadwatch_frames_processed_total",
			Help: "Total number of frames run through detection",
		}),
		vehiclesDetected: factory.NewCounter(prometheus.CounterOpts{
			Name: "roadwatch_vehicles_detected_total",
			Help: "Total number of vehicle detections across all frames",
		}),
		detectionFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "roadwatch_detection_failures_total",
			Help: "Frames for which the detector returned an error",
		}),
		reconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "roadwatch_stream_reconnects_total",
			Help: "Reconnect cycles started after a failed frame read",
		}),
		sinkFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "roadwatch_sink_failures_total",
			Help: "Failed per-frame side effects",
		}, []string{"sink"}),
		connectAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "roadwatch_stream_connect_attempts_total",
			Help: "Stream connection attempts by outcome",
		}, []string{"result"}),

		connectionState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "roadwatch_stream_connection_state",
			Help: "1 for the current stream connection state, 0 otherwise",
		}, []string{"state"}),
		activeTracks: factory.NewGauge(prometheus.GaugeOpts{
			Name: "roadwatch_active_tracks",
			Help: "Tracks currently held in the history store",
		}),
		frameVehicles: factory.NewGauge(prometheus.GaugeOpts{
			Name: "roadwatch_frame_vehicles",
			Help: "Vehicles reported in the most recent frame",
		}),

		processingDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "roadwatch_frame_processing_seconds",
			Help:    "Wall time to detect, track and assemble one frame",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
		}),
		vehicleSpeed: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "roadwatch_vehicle_speed_kph",
			Help:    "Estimated vehicle speeds",
			Buckets: []float64{5, 10, 20, 30, 40, 50, 60, 80, 100, 130, 160},
		}, []string{"class"}),
	}
}

func (p *PrometheusCollector) RecordFrame(result domain.FrameResult) {
	p.framesProcessed.Inc()
	p.vehiclesDetected.Add(float64(result.VehicleCount))
	p.frameVehicles.Set(float64(result.VehicleCount))
	p.processingDuration.Observe(result.ProcessingTime.Seconds())

	for _, v := range result.Vehicles {
		if v.Kinematics.SpeedKPH != nil {
			p.vehicleSpeed.WithLabelValues(v.Class).Observe(*v.Kinematics.SpeedKPH)
		}
	}
}

func (p *PrometheusCollector) RecordDetectionFailure() {
	p.detectionFailures.Inc()
}

func (p *PrometheusCollector) RecordSinkFailure(sink string) {
	p.sinkFailures.WithLabelValues(sink).Inc()
}

func (p *PrometheusCollector) RecordConnectAttempt(success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	p.connectAttempts.WithLabelValues(result).Inc()
}

func (p *PrometheusCollector) RecordReconnect() {
	p.reconnects.Inc()
}

func (p *PrometheusCollector) SetConnectionState(state domain.ConnectionState) {
	for _, s := range connectionStates {
		value := 0.0
		if s == state {
			value = 1
		}
		p.connectionState.WithLabelValues(s.String()).Set(value)
	}
}

func (p *PrometheusCollector) SetActiveTracks(n int) {
	p.activeTracks.Set(float64(n))
}
