package daemon

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/lockbox/pkg/lockbox"
)

// Logger is the logrus logger handler
func ginLogger(logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		// other handler can change c.Path so:
		path := c.Request.URL.Path
		start := time.Now()
		c.Next()
		stop := time.Since(start)
		latency := int(math.Ceil(float64(stop.Nanoseconds()) / 1000000.0))
		statusCode := c.Writer.Status()
		dataLength := c.Writer.Size()
		if dataLength < 0 {
			dataLength = 0
		}

		fields := logrus.Fields{
			"statusCode": statusCode,
			"latency":    latency, // time to process
			"method":     c.Request.Method,
			"path":       path,
			"dataLength": dataLength,
		}
		if name := c.Param("name"); name != "" {
			fields["lockbox"] = name
		}
		entry := logger.WithFields(fields)

		msg := fmt.Sprintf("%s %s %d (%dms)", c.Request.Method, path, statusCode, latency)
		if len(c.Errors) > 0 {
			msg += ": " + c.Errors.ByType(gin.ErrorTypePrivate).String()
		}
		//nolint:gocritic
		if statusCode >= http.StatusInternalServerError {
			entry.Error(msg)
		} else if statusCode >= http.StatusBadRequest {
			entry.Warn(msg)
		} else {
			entry.Debug(msg)
		}
	}
}

// statusForError maps lockbox errors to HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, lockbox.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, lockbox.ErrValidation),
		errors.Is(err, lockbox.ErrNameConflict),
		errors.Is(err, lockbox.ErrInvariantViolation):
		return http.StatusBadRequest
	case errors.Is(err, lockbox.ErrResourceExhausted):
		return http.StatusConflict
	case errors.Is(err, lockbox.ErrClosed):
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

func abortWithError(c *gin.Context, code int, err error) {
	c.IndentedJSON(code, err.Error())
	_ = c.AbortWithError(code, err)
}

// abortWithLockboxError aborts with the status matching err.
func abortWithLockboxError(c *gin.Context, err error) {
	abortWithError(c, statusForError(err), err)
}
