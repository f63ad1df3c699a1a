package router

import (
	"log"
	"time"

	"github.com/gin-gonic/gin"

	"integrator/middleware"
)

// Logger writes one line per request, tagged with the request id so it can be
// matched with the controller's delivery log line.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		line := "%s %s -> %d (%s) ip=%s bytes=%d request_id=%s"
		if status >= 500 {
			line = "ERROR " + line
		}
		log.Printf(line, c.Request.Method, c.Request.URL.Path, status, time.Since(start).Round(time.Microsecond),
			c.ClientIP(), c.Writer.Size(), middleware.RequestIDFrom(c))
	}
}
