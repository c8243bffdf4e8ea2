package httpapi

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/media-service/internal/artifact"
	"github.com/gin-gonic/gin"
)

const healthPath = "/health"

// Recovery turns a handler panic into a 500 and logs the stack.
func Recovery(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			recovered := recover()
			if recovered == nil {
				return
			}

			log.Error("Panic recovered on %s %s: %v\n%s",
				c.Request.Method, c.Request.URL.Path, recovered, debug.Stack())

			c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		}()

		c.Next()
	}
}

// RequestLogger logs every request except health checks, at a level chosen
// by the response status.
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == healthPath {
			c.Next()

			return
		}

		start := time.Now()

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		switch {
		case status >= http.StatusInternalServerError:
			log.Error("%s %s -> %d in %s (client %s)", c.Request.Method, c.Request.URL.Path, status, latency, c.ClientIP())
		case status >= http.StatusBadRequest:
			log.Warn("%s %s -> %d in %s (client %s)", c.Request.Method, c.Request.URL.Path, status, latency, c.ClientIP())
		default:
			log.Info("%s %s -> %d in %s (client %s)", c.Request.Method, c.Request.URL.Path, status, latency, c.ClientIP())
		}
	}
}

// BodySizeLimit caps the request body at maxBytes. Zero disables the cap.
func BodySizeLimit(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if maxBytes > 0 && c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		}

		c.Next()
	}
}

// SweepAfterRequest runs a retention sweep once each response has been
// written, in addition to the periodic sweeper.
func SweepAfterRequest(store *artifact.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Request.URL.Path == healthPath {
			return
		}

		store.Sweep(time.Now())
	}
}
