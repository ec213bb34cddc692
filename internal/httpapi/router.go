package httpapi

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
)

// NewRouter wires the endpoints onto a gin engine with panic recovery and
// access logging through logger.
func NewRouter(h *Handler, logger *slog.Logger) *gin.Engine {
	if logger == nil {
		logger = slog.Default()
	}

	r := gin.New()
	r.Use(gin.Recovery(), accessLog(logger))

	r.GET("/healthz", Health)
	r.HEAD("/healthz", Health)

	v1 := r.Group("/v1")
	{
		v1.POST("/rectify", h.Rectify)
	}

	return r
}

func accessLog(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"bytes", c.Writer.Size(),
			"elapsed", time.Since(start))
	}
}
