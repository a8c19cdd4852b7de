package collector

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Router serves the report on GET /metrics and GET /. Everything else is 404.
func (c *Collector) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/metrics", c.handleMetrics)
	r.GET("/", c.handleMetrics)
	r.NoRoute(func(ctx *gin.Context) {
		ctx.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})
	return r
}

func (c *Collector) handleMetrics(ctx *gin.Context) {
	report, err := c.Sample(ctx.Request.Context())
	if err != nil {
		ctx.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, report)
}
