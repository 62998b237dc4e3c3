// Package applog wires the gateway's zerolog sink and the per-request
// logging middleware that wraps every turn, mirroring the pack's
// request-scoped-logger pattern against net/http instead of gin.
package applog

import (
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// New builds the base logger: structured JSON to stdout at the level
// levelName names (info if it does not parse).
func New(levelName string) zerolog.Logger {
	level, err := zerolog.ParseLevel(levelName)
	if err != nil {
		level = zerolog.InfoLevel
	}
	return zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Middleware logs one line per HTTP request: method, path, status, latency,
// and a per-request id so a turn's log lines can be correlated without
// ever printing the request body (which may carry a PIN as `response`).
func Middleware(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = uuid.New().String()
			}
			reqLogger := log.With().Str("requestId", requestID).Logger()
			r = r.WithContext(reqLogger.WithContext(r.Context()))

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			event := reqLogger.Info()
			if rec.status >= 500 {
				event = reqLogger.Error()
			} else if rec.status >= 400 {
				event = reqLogger.Warn()
			}
			event.
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", rec.status).
				Dur("latency", time.Since(start)).
				Msg("request completed")
		})
	}
}

// FromContext retrieves the per-request logger zerolog stashed via
// WithContext, falling back to a disabled logger if none was attached.
func FromContext(r *http.Request) *zerolog.Logger {
	return zerolog.Ctx(r.Context())
}
