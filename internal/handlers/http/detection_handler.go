package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"roadwatch/internal/core/domain"
	"roadwatch/internal/core/ports"
	apperrors "roadwatch/pkg/errors"
	"roadwatch/pkg/validation"
)

const (
	defaultResultLimit = 20
	maxResultLimit     = 500
)

// StatusSource exposes the stream connection status.
type StatusSource interface {
	Status() domain.StreamStatus
}

// StatsSource exposes run statistics.
type StatsSource interface {
	Stats() domain.RunStats
}

// TrackView is one live track as served by the API.
type TrackView struct {
	TrackID    domain.TrackID           `json:"vehicle_id"`
	Samples    int                      `json:"samples"`
	LastSeen   *domain.TrackSample      `json:"last_seen,omitempty"`
	Kinematics domain.KinematicEstimate `json:"speed_info"`
}

// DetectionHandler serves read-only views of the running pipeline.
type DetectionHandler struct {
	stream    StatusSource
	results   ports.ResultRepository
	tracks    ports.TrackStore
	estimator ports.KinematicEstimator
	stats     StatsSource
}

func NewDetectionHandler(
	stream StatusSource,
	results ports.ResultRepository,
	tracks ports.TrackStore,
	estimator ports.KinematicEstimator,
	stats StatsSource,
) *DetectionHandler {
	return &DetectionHandler{
		stream:    stream,
		results:   results,
		tracks:    tracks,
		estimator: estimator,
		stats:     stats,
	}
}

func (h *DetectionHandler) GetStreamStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.stream.Status())
}

func (h *DetectionHandler) GetLatestResult(c *gin.Context) {
	result, err := h.results.Latest(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *DetectionHandler) ListResults(c *gin.Context) {
	limit := defaultResultLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			c.Error(apperrors.NewInvalidInputError("limit must be an integer").WithContext("limit", raw))
			return
		}
		limit = n
	}
	if err := validation.ValidateLimit(limit, maxResultLimit); err != nil {
		c.Error(apperrors.NewInvalidInputError(err.Error()).WithContext("limit", limit))
		return
	}

	results, err := h.results.Recent(c.Request.Context(), limit)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"results": results,
		"count":   len(results),
	})
}

func (h *DetectionHandler) ListTracks(c *gin.Context) {
	ids := h.tracks.TrackIDs()
	tracks := make([]TrackView, 0, len(ids))
	for _, id := range ids {
		window := h.tracks.Window(id)
		if len(window) == 0 {
			continue
		}
		last := window[len(window)-1]
		tracks = append(tracks, TrackView{
			TrackID:    id,
			Samples:    len(window),
			LastSeen:   &last,
			Kinematics: h.estimator.Estimate(window),
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"tracks": tracks,
		"count":  len(tracks),
	})
}

func (h *DetectionHandler) GetRunStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.stats.Stats())
}
