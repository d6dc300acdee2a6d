// Package proxy implements the gateway's resilient HTTP forwarder (spec §4.3,
// §4.4): header rewriting, a pooled transport per upstream, and a
// retry-through-breaker forwarding attempt.
package proxy

import (
	"context"
	stderrors "errors"
	"io"
	"net/http"
	"net/http/httptrace"
	"strings"
	"time"

	"github.com/wudi/gateway/internal/auth"
	"github.com/wudi/gateway/internal/circuitbreaker"
	"github.com/wudi/gateway/internal/errors"
	"github.com/wudi/gateway/internal/metrics"
	"github.com/wudi/gateway/internal/reqctx"
	"github.com/wudi/gateway/internal/retry"
)

// hopHeaders are stripped from both the outbound request and the inbound
// response (spec §4.3).
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// RemoveHopHeaders strips connection-scoped headers from h in place. Used on
// both the outbound request, the inbound response streamed to the client, and
// any response headers persisted into the cache — a cached entry must never
// replay hop-by-hop headers to a later reader (spec §8 invariant #7).
func RemoveHopHeaders(h http.Header) {
	for _, name := range hopHeaders {
		h.Del(name)
	}
}

// Target describes where a request is forwarded: the upstream's logical name
// (for headers/metrics/breaker lookup) and its base URL.
type Target struct {
	Upstream string
	BaseURL  string
}

// circuitOpenError is the sentinel preSendErr returned by an attempt when the
// upstream's breaker is open; it never reaches the network.
type circuitOpenError struct{}

func (circuitOpenError) Error() string { return "proxy: circuit open" }

var errCircuitOpen circuitOpenError

// errTransientStatus marks a response carrying a retryable status (5xx,
// 429) as a breaker failure without discarding the response itself.
var errTransientStatus = stderrors.New("proxy: transient upstream status")

// Forwarder forwards requests to upstreams through a pooled transport,
// wrapped in a per-upstream retry policy and circuit breaker.
type Forwarder struct {
	transports    *TransportPool
	breakers      *circuitbreaker.Registry
	retry         retry.Policy
	timeout       time.Duration
	gatewaySecret string
	metrics       *metrics.Collector
}

// NewForwarder builds a Forwarder. timeout is the default per-attempt
// deadline (spec §4.4, default 30s); gatewaySecret, if non-empty, is sent as
// X-Gateway-Secret on every outbound request.
func NewForwarder(transports *TransportPool, breakers *circuitbreaker.Registry, policy retry.Policy, timeout time.Duration, gatewaySecret string, collector *metrics.Collector) *Forwarder {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Forwarder{
		transports:    transports,
		breakers:      breakers,
		retry:         policy,
		timeout:       timeout,
		gatewaySecret: gatewaySecret,
		metrics:       collector,
	}
}

// Forward sends r to target, applying header rewriting, per-attempt timeout,
// retry, and the upstream's circuit breaker. The returned error, if any, is
// always a *errors.GatewayError ready to render at the ingress edge.
//
// Never returns both a non-nil response and a non-nil error. On success the
// caller must close resp.Body.
func (f *Forwarder) Forward(ctx context.Context, r *http.Request, target Target, principal auth.Principal, authenticated bool) (*http.Response, error) {
	breaker := f.breakers.Get(target.Upstream)
	transport := f.transports.Get(target.Upstream)

	bodyBytes, err := bufferBody(r)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindBadGateway, "failed to buffer request body")
	}

	rc, _ := reqctx.FromContext(ctx)
	var route string
	if rc != nil {
		route = rc.MatchedRoute
	}

	attempt := func(attemptCtx context.Context) (*http.Response, error) {
		if breaker.State() == circuitbreaker.StateOpen {
			return nil, errCircuitOpen
		}

		out, buildErr := f.buildOutboundRequest(attemptCtx, r, target, principal, authenticated, bodyBytes)
		if buildErr != nil {
			return nil, buildErr
		}

		raw, breakerErr := breaker.Execute(func() (any, error) {
			resp, wrote, err := roundTripTracked(transport, out)
			if err != nil {
				if wrote {
					// The request headers (and possibly part of the body)
					// had been written before this failure — retry.Policy
					// must not treat it as blanket pre-send.
					return nil, &retry.PostSendError{Err: err}
				}
				return nil, err
			}
			if retry.IsRetryableStatus(resp.StatusCode) {
				// Counts as a breaker failure, but the response still flows
				// up so retry.Policy can apply its own idempotency rule.
				return resp, errTransientStatus
			}
			return resp, nil
		})
		if breakerErr != nil {
			if circuitbreaker.IsOpenErr(breakerErr) {
				return nil, errCircuitOpen
			}
			if stderrors.Is(breakerErr, errTransientStatus) {
				return raw.(*http.Response), nil
			}
			return nil, breakerErr // a *retry.PostSendError, or a failure before any of the request was written
		}
		return raw.(*http.Response), nil
	}

	var onRetry func(int)
	if f.metrics != nil && route != "" {
		onRetry = func(int) { f.metrics.RecordRetry(route) }
	}

	resp, execErr := f.retry.Execute(ctx, r.Method, func(attemptCtx context.Context) (*http.Response, error) {
		timeoutCtx, cancel := context.WithTimeout(attemptCtx, f.timeout)
		defer cancel()
		return attempt(timeoutCtx)
	}, onRetry)

	if execErr != nil {
		return nil, classifyForwardError(execErr)
	}
	return resp, nil
}

// roundTripTracked runs the request through transport, reporting whether any
// of the request had been written to the connection by the time an error
// occurred. Go's http.Transport doesn't expose this distinction directly;
// httptrace.ClientTrace.WroteHeaders fires once the request headers have been
// written, before the body is sent, regardless of how the rest later fails.
func roundTripTracked(transport http.RoundTripper, req *http.Request) (resp *http.Response, wrote bool, err error) {
	trace := &httptrace.ClientTrace{
		WroteHeaders: func() {
			wrote = true
		},
	}
	req = req.WithContext(httptrace.WithClientTrace(req.Context(), trace))
	resp, err = transport.RoundTrip(req)
	return resp, wrote, err
}

// classifyForwardError maps a retry.Execute failure onto the canonical
// forwarding error taxonomy (spec §7).
func classifyForwardError(err error) *errors.GatewayError {
	if stderrors.Is(err, circuitOpenError{}) {
		return errors.New(errors.KindServiceUnavailable, "circuit open").WithErrorCode("CircuitOpen")
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.New(errors.KindGatewayTimeout, "upstream request timed out")
	}
	return errors.Wrap(err, errors.KindServiceUnavailable, "upstream unreachable")
}

// buildOutboundRequest rewrites r into a request bound for target, per the
// header contract in spec §4.3.
func (f *Forwarder) buildOutboundRequest(ctx context.Context, r *http.Request, target Target, principal auth.Principal, authenticated bool, bodyBytes []byte) (*http.Request, error) {
	url := strings.TrimRight(target.BaseURL, "/") + r.URL.Path
	if r.URL.RawQuery != "" {
		url += "?" + r.URL.RawQuery
	}

	var body io.Reader
	if bodyBytes != nil {
		body = newByteReader(bodyBytes)
	}

	out, err := http.NewRequestWithContext(ctx, r.Method, url, body)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindBadGateway, "failed to build upstream request")
	}

	out.Header = make(http.Header, len(r.Header)+8)
	for k, vv := range r.Header {
		out.Header[k] = append([]string(nil), vv...)
	}
	RemoveHopHeaders(out.Header)

	rc, _ := reqctx.FromContext(ctx)
	correlationID := ""
	if rc != nil {
		correlationID = rc.CorrelationID
	}

	out.Header.Set("X-Gateway-Request-Id", correlationID)
	out.Header.Set("X-Gateway-Service", target.Upstream)
	out.Header.Set("X-Gateway-Forwarded-For", reqctx.ClientIP(r))
	out.Header.Set("X-Gateway-Original-Host", r.Host)
	out.Header.Set("X-Gateway-Timestamp", time.Now().UTC().Format(time.RFC3339))
	if f.gatewaySecret != "" {
		out.Header.Set("X-Gateway-Secret", f.gatewaySecret)
	}

	if authenticated {
		if principal.ID != "" {
			out.Header.Set("X-User-Id", principal.ID)
		}
		if principal.Email != "" {
			out.Header.Set("X-User-Email", principal.Email)
		}
		if len(principal.Roles) > 0 {
			out.Header.Set("X-User-Roles", strings.Join(principal.Roles, ","))
		}
		if principal.Name != "" {
			out.Header.Set("X-User-Name", principal.Name)
		}
	}

	// Authorization is preserved verbatim so the upstream can re-verify it.
	if bearer := r.Header.Get("Authorization"); bearer != "" {
		out.Header.Set("Authorization", bearer)
	}

	return out, nil
}

// bufferBody reads and replaces r.Body so it can be replayed across retries.
// A nil/empty body returns nil, nil.
func bufferBody(r *http.Request) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	data, err := io.ReadAll(r.Body)
	r.Body.Close()
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(newByteReader(data))
	return data, nil
}

type byteReader struct {
	data []byte
	pos  int
}

func newByteReader(data []byte) *byteReader {
	return &byteReader{data: data}
}

func (b *byteReader) Read(p []byte) (int, error) {
	if b.pos >= len(b.data) {
		return 0, io.EOF
	}
	n := copy(p, b.data[b.pos:])
	b.pos += n
	return n, nil
}

// CopyResponse writes resp to w, stripping hop-by-hop headers and streaming
// the body without buffering it in full.
func CopyResponse(w http.ResponseWriter, resp *http.Response) error {
	dst := w.Header()
	for k, vv := range resp.Header {
		dst[k] = append([]string(nil), vv...)
	}
	RemoveHopHeaders(dst)

	w.WriteHeader(resp.StatusCode)
	if resp.Body == nil {
		return nil
	}
	_, err := io.Copy(w, resp.Body)
	return err
}
