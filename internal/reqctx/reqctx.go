// Package reqctx carries the gateway's per-request RequestContext (spec §3)
// through the pipeline via the standard context.Context, and generates the
// correlation id at ingress.
package reqctx

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

func init() {
	// Batch crypto/rand reads into a pool to avoid a syscall per UUID.
	uuid.EnableRandPool()
}

// CorrelationIDHeader is the header carrying the request's correlation id,
// both accepted from trusted upstream proxies and echoed to the client.
const CorrelationIDHeader = "X-Correlation-ID"

// RequestContext is the per-in-flight-request state threaded through the
// pipeline: route matcher, auth, cache, forwarder, and logging all read and
// annotate the same instance.
type RequestContext struct {
	CorrelationID string
	StartTime     time.Time
	MatchedRoute  string // route rule's service name, once matched
	Principal     string // authenticated subject, empty if unauthenticated
	UpstreamName  string
	Attempt       int
	FromCache     bool
}

// Elapsed returns time since the request began.
func (rc *RequestContext) Elapsed() time.Duration {
	return time.Since(rc.StartTime)
}

type contextKey struct{}

// New builds a RequestContext, generating a correlation id (or reusing the
// incoming X-Correlation-ID header, since the gateway trusts its own edge).
func New(r *http.Request) *RequestContext {
	id := r.Header.Get(CorrelationIDHeader)
	if id == "" {
		id = uuid.New().String()
	}
	return &RequestContext{
		CorrelationID: id,
		StartTime:     time.Now(),
	}
}

// WithContext attaches rc to ctx.
func WithContext(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, contextKey{}, rc)
}

// FromContext retrieves the RequestContext previously attached by WithContext.
func FromContext(ctx context.Context) (*RequestContext, bool) {
	rc, ok := ctx.Value(contextKey{}).(*RequestContext)
	return rc, ok
}

// ClientIP extracts the caller's address, preferring the first hop of a
// well-formed X-Forwarded-For, then X-Real-IP, then RemoteAddr.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if first := strings.TrimSpace(strings.SplitN(xff, ",", 2)[0]); first != "" {
			return first
		}
	}
	if xrip := r.Header.Get("X-Real-IP"); xrip != "" {
		return xrip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
