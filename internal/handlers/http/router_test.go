package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"roadwatch/internal/core/domain"
	"roadwatch/internal/core/services"
	"roadwatch/internal/infrastructure/middleware"
	"roadwatch/internal/infrastructure/monitoring"
	"roadwatch/internal/infrastructure/repositories/memory"
)

type fixedStatus struct {
	status domain.StreamStatus
}

func (f fixedStatus) Status() domain.StreamStatus { return f.status }

type fixedStats struct {
	stats domain.RunStats
}

func (f fixedStats) Stats() domain.RunStats { return f.stats }

type apiFixture struct {
	router  *gin.Engine
	results *memory.ResultRepository
	tracks  *services.TrackHistoryStore
}

func newFixture(t *testing.T, status domain.StreamStatus) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zaptest.NewLogger(t).Sugar()

	results := memory.NewResultRepository(10).(*memory.ResultRepository)
	tracks := services.NewTrackHistoryStore(10)
	source := fixedStatus{status}

	health := monitoring.NewHealthChecker(nil)
	health.AddStreamCheck(source, 10*time.Second, 0)
	health.AddRepositoryCheck(results, 0, time.Second)

	reg := prometheus.NewRegistry()
	monitoring.NewPrometheusCollector(reg).RecordFrame(domain.FrameResult{})

	handler := NewDetectionHandler(source, results, tracks, services.NewKinematicEstimator(0.01), fixedStats{domain.RunStats{FramesProcessed: 12}})
	router := NewRouter(RouterConfig{
		RateLimit: middleware.RateLimitConfig{Enabled: false},
		Gatherer:  reg,
	}, handler, health, nil, logger)

	return &apiFixture{router: router, results: results, tracks: tracks}
}

func (f *apiFixture) get(t *testing.T, path string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))

	var body map[string]interface{}
	if w.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	}
	return w, body
}

func connected() domain.StreamStatus {
	since := 40 * time.Millisecond
	return domain.StreamStatus{
		SessionID:          "session_1",
		State:              domain.StateConnected,
		Connected:          true,
		ConnectionAttempts: 1,
		SinceLastFrame:     &since,
		Properties:         &domain.StreamProperties{Width: 1280, Height: 720, FPS: 25, IsLive: true},
	}
}

func TestRouter_StreamStatus(t *testing.T) {
	f := newFixture(t, connected())

	w, body := f.get(t, "/api/v1/stream/status")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "connected", body["state"])
	assert.Equal(t, true, body["is_connected"])
	assert.Equal(t, float64(1280), body["stream_properties"].(map[string]interface{})["width"])
}

func TestRouter_LatestResult(t *testing.T) {
	f := newFixture(t, connected())

	w, body := f.get(t, "/api/v1/results/latest")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", body["error"])

	require.NoError(t, f.results.Save(context.Background(), domain.NewFrameResult("run", 5, time.Unix(0, 0).UTC(), time.Millisecond, nil)))

	w, body = f.get(t, "/api/v1/results/latest")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(5), body["frame_number"])
}

func TestRouter_ListResults(t *testing.T) {
	f := newFixture(t, connected())
	for i := uint64(1); i <= 4; i++ {
		require.NoError(t, f.results.Save(context.Background(), domain.NewFrameResult("run", i, time.Unix(0, 0).UTC(), time.Millisecond, nil)))
	}

	w, body := f.get(t, "/api/v1/results?limit=2")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), body["count"])
	first := body["results"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, float64(4), first["frame_number"])

	for _, bad := range []string{"0", "abc", "501"} {
		w, body = f.get(t, "/api/v1/results?limit="+bad)
		assert.Equal(t, http.StatusBadRequest, w.Code, bad)
		assert.Equal(t, "INVALID_INPUT", body["error"])
	}
}

func TestRouter_ListTracks(t *testing.T) {
	f := newFixture(t, connected())
	start := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		ts := start.Add(time.Duration(i) * time.Second)
		require.NoError(t, f.tracks.Record(3, domain.Point{X: float64(i) * 100, Y: 50}, ts))
	}

	w, body := f.get(t, "/api/v1/tracks")
	assert.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, float64(1), body["count"])

	track := body["tracks"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, float64(3), track["vehicle_id"])
	assert.Equal(t, float64(10), track["samples"])
	info := track["speed_info"].(map[string]interface{})
	assert.Equal(t, "Right", info["direction_label"])
	assert.InDelta(t, 3.6, info["kph"], 1e-9)
}

func TestRouter_Stats(t *testing.T) {
	f := newFixture(t, connected())

	w, body := f.get(t, "/api/v1/stats")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(12), body["frames_processed"])
}

func TestRouter_HealthAndReady(t *testing.T) {
	f := newFixture(t, connected())
	w, _ := f.get(t, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	w, body := f.get(t, "/ready")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", body["status"])

	down := newFixture(t, domain.StreamStatus{State: domain.StateDegraded})
	w, body = down.get(t, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "stream degraded", body["checks"].(map[string]interface{})["stream"])
}

func TestRouter_Metrics(t *testing.T) {
	f := newFixture(t, connected())

	w, _ := f.get(t, "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "roadwatch_frames_processed_total 1")
}
