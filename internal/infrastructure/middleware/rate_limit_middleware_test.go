package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func rateLimitedRouter(cfg RateLimitConfig) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(NewHTTPRateLimitMiddleware(cfg))
	router.GET("/test", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return router
}

func get(router *gin.Engine, forwardedFor string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	if forwardedFor != "" {
		req.Header.Set("X-Forwarded-For", forwardedFor)
	}
	router.ServeHTTP(w, req)
	return w
}

func TestHTTPRateLimitMiddleware_Disabled_AllowsRequests(t *testing.T) {
	router := rateLimitedRouter(RateLimitConfig{Enabled: false})

	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, get(router, "").Code)
	}
}

func TestHTTPRateLimitMiddleware_Enabled_RateLimited(t *testing.T) {
	router := rateLimitedRouter(RateLimitConfig{Enabled: true, RequestsPerSecond: 1, Burst: 1})

	assert.Equal(t, http.StatusOK, get(router, "").Code)

	limited := get(router, "")
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.Equal(t, "1", limited.Header().Get("Retry-After"))
	assert.Contains(t, limited.Body.String(), "RATE_LIMITED")
}

func TestHTTPRateLimitMiddleware_PerClient(t *testing.T) {
	router := rateLimitedRouter(RateLimitConfig{Enabled: true, RequestsPerSecond: 1, Burst: 1})

	assert.Equal(t, http.StatusOK, get(router, "10.0.0.1").Code)
	assert.Equal(t, http.StatusOK, get(router, "10.0.0.2, 172.16.0.1").Code)
	assert.Equal(t, http.StatusTooManyRequests, get(router, "10.0.0.1").Code)
}
