package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urmzd/ninho/pkg/api/handlers"
)

// maxJSONBody bounds command and identity payloads. Firmware uploads set
// their own limit.
const maxJSONBody = 64 << 10

// SetupMiddleware installs recovery, logging, CORS and the body limit.
func SetupMiddleware(r *gin.Engine) {
	r.Use(gin.Recovery())
	r.Use(RequestLogger())

	// The lesson UI runs on another origin (dev server or hosted page).
	r.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Cache-Control"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}))
	r.Use(LimitJSONBody(maxJSONBody))
}

// LimitJSONBody caps JSON request bodies at n bytes.
func LimitJSONBody(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil && strings.HasPrefix(c.ContentType(), "application/json") {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		}
		c.Next()
	}
}

// RequestLogger logs one line per request. Failed device calls carry the
// error kind so a flaky cable shows up as DISCONNECTED rather than a bare 503.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		var ev *zerolog.Event
		switch {
		case status >= http.StatusInternalServerError:
			ev = log.Error()
		case status >= http.StatusBadRequest:
			ev = log.Warn()
		case status == http.StatusSwitchingProtocols, c.Writer.Header().Get("Content-Type") == "text/event-stream":
			// streams stay open for minutes
			ev = log.Debug()
		default:
			ev = log.Info()
		}

		if kind := c.GetString(handlers.ErrorKindKey); kind != "" {
			ev = ev.Str("kind", kind)
		}
		if err := c.Errors.Last(); err != nil {
			ev = ev.Err(err.Err)
		}

		ev.Str("method", c.Request.Method).
			Str("path", c.Request.URL.RequestURI()).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("request")
	}
}
