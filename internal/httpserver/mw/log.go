// Package mw holds the world-list server's middleware.
package mw

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"gnomepatch/internal/logger"
)

// WorldCountHeader carries the number of worlds a world-list response
// holds. Handlers set it and Log reports it.
const WorldCountHeader = "X-World-Count"

// recorder remembers what a handler sent.
type recorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *recorder) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *recorder) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

// Log returns a middleware that logs one "http_request" line per request.
// Server errors log at error level and client errors at warn.
func Log(log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &recorder{ResponseWriter: w}
			next.ServeHTTP(rw, r)

			if rw.status == 0 {
				rw.status = http.StatusOK
			}
			route := r.URL.Path
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}
			fields := []zap.Field{
				logger.String("method", r.Method),
				logger.String("route", route),
				logger.Int("status", rw.status),
				logger.Int("bytes", rw.bytes),
				logger.String("content_type", rw.Header().Get("Content-Type")),
				logger.Duration("duration", time.Since(start)),
				logger.String("request_id", middleware.GetReqID(r.Context())),
			}
			if n, err := strconv.Atoi(rw.Header().Get(WorldCountHeader)); err == nil {
				fields = append(fields, logger.Int("worlds", n))
			}

			switch {
			case rw.status >= 500:
				log.Error("http_request", fields...)
			case rw.status >= 400:
				log.Warn("http_request", fields...)
			default:
				log.Info("http_request", fields...)
			}
		})
	}
}
