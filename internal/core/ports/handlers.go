package ports

import (
	"github.com/gin-gonic/gin"
)

type HTTPHandler interface {
	GetStreamStatus(c *gin.Context)
	GetLatestResult(c *gin.Context)
	ListResults(c *gin.Context)
	ListTracks(c *gin.Context)
	GetRunStats(c *gin.Context)
}

type DisplayHandler interface {
	HandleConnection(c *gin.Context)
}
