package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"

	"github.com/wudi/gateway/internal/errors"
	"github.com/wudi/gateway/internal/reqctx"
)

// Recovery returns a middleware that recovers panics from downstream
// handlers, logs them with a stack trace, and renders the canonical 500
// error document instead of letting the connection die mid-response.
func Recovery(logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					stack := debug.Stack()

					var correlationID string
					if rc, ok := reqctx.FromContext(r.Context()); ok {
						correlationID = rc.CorrelationID
					}

					logger.Error("panic recovered",
						zap.Any("panic", rec),
						zap.ByteString("stack", stack),
						zap.String("correlation_id", correlationID),
						zap.String("path", r.URL.Path),
					)

					gwErr := errors.ErrInternal.
						WithDetails(fmt.Sprintf("panic: %v", rec)).
						WithRequest(r.Method, r.URL.Path)
					if correlationID != "" {
						gwErr = gwErr.WithCorrelationID(correlationID)
					}
					gwErr.WriteJSON(w)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
