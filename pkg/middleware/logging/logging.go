// Package logging provides the middleware that logs every completed request.
package logging

import (
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/apereo/persondir/pkg/logger"
	"github.com/apereo/persondir/pkg/middleware/requestid"
)

const (
	httpMethodKey      = "http_method"
	httpPathKey        = "http_path"
	httpStatusKey      = "http_status"
	requestIDKey       = "request_id"
	traceIDKey         = "trace_id"
	queryDurationKey   = "query_duration_ms"
	httpReqCompleteKey = "http_req_complete"

	healthCheckPath = "/healthz"
)

// statusWriter captures the status code written by the handler.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Middleware logs one line per completed request. It must come after the
// request ID middleware.
func Middleware(l logger.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == healthCheckPath {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		durationMs := strconv.FormatInt(time.Since(start).Milliseconds(), 10)

		fields := []zap.Field{
			zap.String(httpMethodKey, r.Method),
			zap.String(httpPathKey, r.URL.Path),
			zap.Int(httpStatusKey, sw.status),
			zap.String(queryDurationKey, durationMs),
		}

		if id, ok := requestid.FromContext(r.Context()); ok {
			fields = append(fields, zap.String(requestIDKey, id))
		}

		if spanCtx := trace.SpanContextFromContext(r.Context()); spanCtx.TraceID().IsValid() {
			fields = append(fields, zap.String(traceIDKey, spanCtx.TraceID().String()))
		}

		l.Info(httpReqCompleteKey, fields...)
	})
}
