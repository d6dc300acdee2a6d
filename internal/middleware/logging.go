package middleware

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/wudi/gateway/internal/reqctx"
)

// Logging returns a middleware that emits one structured access-log entry
// per request via the supplied logger, using fields from the request's
// RequestContext once downstream stages (routing, forwarding) have
// annotated it.
func Logging(logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			lrw := &loggingResponseWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(lrw, r)

			duration := time.Since(start)
			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", lrw.status),
				zap.Int64("bytes", lrw.bytes),
				zap.Duration("duration", duration),
				zap.String("remote_addr", reqctx.ClientIP(r)),
			}
			if rc, ok := reqctx.FromContext(r.Context()); ok {
				fields = append(fields,
					zap.String("correlation_id", rc.CorrelationID),
					zap.Int("attempt", rc.Attempt),
					zap.Bool("from_cache", rc.FromCache),
				)
				if rc.MatchedRoute != "" {
					fields = append(fields, zap.String("route", rc.MatchedRoute))
				}
				if rc.UpstreamName != "" {
					fields = append(fields, zap.String("upstream", rc.UpstreamName))
				}
				if rc.Principal != "" {
					fields = append(fields, zap.String("principal", rc.Principal))
				}
			}

			switch {
			case lrw.status >= 500:
				logger.Error("request", fields...)
			case lrw.status >= 400:
				logger.Warn("request", fields...)
			default:
				logger.Info("request", fields...)
			}
		})
	}
}

// loggingResponseWriter wraps http.ResponseWriter to capture status and bytes.
type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (lrw *loggingResponseWriter) WriteHeader(status int) {
	lrw.status = status
	lrw.ResponseWriter.WriteHeader(status)
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	n, err := lrw.ResponseWriter.Write(b)
	lrw.bytes += int64(n)
	return n, err
}

// Flush implements http.Flusher.
func (lrw *loggingResponseWriter) Flush() {
	if f, ok := lrw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Status returns the recorded status code.
func (lrw *loggingResponseWriter) Status() int {
	return lrw.status
}

// BytesWritten returns the number of bytes written.
func (lrw *loggingResponseWriter) BytesWritten() int64 {
	return lrw.bytes
}
