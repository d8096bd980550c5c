package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"roadwatch/internal/core/domain"
	apperrors "roadwatch/pkg/errors"
	"roadwatch/pkg/logger"
)

// ErrorHandlerMiddleware renders the last handler error as a structured JSON
// response. Domain errors are mapped to AppErrors first.
func ErrorHandlerMiddleware(log *zap.SugaredLogger) gin.HandlerFunc {
	logs := logger.NewContextLogger(log.Desugar())
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last().Err

		appErr := apperrors.GetAppError(err)
		if appErr == nil {
			appErr = FromDomainError(err)
		}

		if appErr.HTTPStatus >= http.StatusInternalServerError {
			logs.LogError(c.Request.Context(), err, "Request failed",
				zap.String("code", string(appErr.Code)),
				zap.String("message", appErr.Message),
				zap.Int("status", appErr.HTTPStatus),
				zap.String("path", c.Request.URL.Path),
				zap.String("method", c.Request.Method),
			)
		} else {
			log.Debugw("Request rejected",
				"code", appErr.Code,
				"status", appErr.HTTPStatus,
				"path", c.Request.URL.Path,
			)
		}

		c.JSON(appErr.HTTPStatus, appErr.Body())
	}
}

// FromDomainError maps domain sentinels onto HTTP-facing AppErrors.
func FromDomainError(err error) *apperrors.AppError {
	switch {
	case errors.Is(err, domain.ErrResultNotFound):
		return apperrors.WrapError(err, apperrors.ErrCodeNotFound, "no frame result available yet", http.StatusNotFound)
	case errors.Is(err, domain.ErrTrackNotFound):
		return apperrors.WrapError(err, apperrors.ErrCodeNotFound, "track not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrNotConnected), domain.IsExhausted(err):
		return apperrors.WrapError(err, apperrors.ErrCodeServiceUnavailable, "stream unavailable", http.StatusServiceUnavailable)
	case errors.Is(err, domain.ErrInvalidEndpoint):
		return apperrors.WrapError(err, apperrors.ErrCodeInvalidInput, err.Error(), http.StatusBadRequest)
	default:
		return apperrors.WrapError(err, apperrors.ErrCodeInternal, "Internal server error", http.StatusInternalServerError)
	}
}

// RecoveryMiddleware turns handler panics into 500 responses.
func RecoveryMiddleware(log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Errorw("Panic recovered",
					"error", err,
					"path", c.Request.URL.Path,
					"method", c.Request.Method,
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, apperrors.NewInternalError("Internal server error").Body())
			}
		}()

		c.Next()
	}
}
