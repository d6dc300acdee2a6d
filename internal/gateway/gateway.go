// Package gateway wires the gateway's pipeline stages — CORS, rate
// limiting, authentication, routing, caching, and forwarding — into a
// single http.Handler (spec §4).
package gateway

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/wudi/gateway/internal/auth"
	"github.com/wudi/gateway/internal/cache"
	"github.com/wudi/gateway/internal/circuitbreaker"
	"github.com/wudi/gateway/internal/config"
	gwerrors "github.com/wudi/gateway/internal/errors"
	"github.com/wudi/gateway/internal/health"
	"github.com/wudi/gateway/internal/metrics"
	"github.com/wudi/gateway/internal/middleware"
	"github.com/wudi/gateway/internal/middleware/cors"
	"github.com/wudi/gateway/internal/proxy"
	"github.com/wudi/gateway/internal/ratelimit"
	"github.com/wudi/gateway/internal/reqctx"
	"github.com/wudi/gateway/internal/retry"
	"github.com/wudi/gateway/internal/router"
)

// Gateway composes every pipeline stage and serves the gateway's ingress.
type Gateway struct {
	config    *config.Config
	router    *router.Router
	validator *auth.Validator
	limiter   *ratelimit.Manager
	breakers  *circuitbreaker.Registry
	forwarder *proxy.Forwarder
	cache     *cache.Cache
	checker   *health.Checker
	metrics   *metrics.Collector
	cors      *cors.Handler
	logger    *zap.Logger

	startedAt time.Time
}

// New builds a Gateway from cfg: compiles the routing table, starts the
// health prober, and wires the forwarder's transport pool and circuit
// breaker registry to cfg.Gate.Services.
func New(cfg *config.Config, logger *zap.Logger) (*Gateway, error) {
	validator, err := auth.New(cfg.Jwt, cfg.Server.IsProduction())
	if err != nil {
		return nil, err
	}

	collector := metrics.NewCollector()
	breakers := circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig)
	transports := proxy.NewTransportPool(proxy.DefaultTransportConfig)

	forwarder := proxy.NewForwarder(transports, breakers, retry.DefaultPolicy, cfg.Gate.DefaultTimeout(), cfg.Gate.GatewaySecret, collector)

	store := cache.NewMemoryStore(10000, cfg.Gate.CacheTTL())
	respCache := cache.New(store, cfg.Gate.CacheTTL(), 1<<20, nil)

	checker := health.NewChecker(cfg.HealthChecks.CheckInterval(), cfg.HealthChecks.ProbeTimeout(), func(name string, status health.Status) {
		collector.SetBackendHealth(name, status == health.StatusHealthy)
	})
	for name, baseURL := range cfg.Gate.Services {
		checker.AddBackend(health.Backend{Name: name, BaseURL: baseURL, Ready: true})
	}
	checker.Start()

	g := &Gateway{
		config:    cfg,
		router:    router.New(cfg.Gate.AllowedRoutes),
		validator: validator,
		limiter:   ratelimit.NewManager(),
		breakers:  breakers,
		forwarder: forwarder,
		cache:     respCache,
		checker:   checker,
		metrics:   collector,
		cors:      cors.New(cfg.CORS),
		logger:    logger,
		startedAt: time.Now(),
	}
	return g, nil
}

// Close releases background resources (health prober, rate limiters).
func (g *Gateway) Close() {
	g.checker.Stop()
	g.limiter.Close()
}

// Handler returns the gateway's full HTTP handler: observability endpoints
// mounted directly, the main pipeline behind recovery/logging middleware.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", health.Handler(g.checker))
	mux.HandleFunc("/health/live", health.LiveHandler)
	mux.HandleFunc("/health/ready", health.ReadyHandler(g.checker))
	mux.Handle("/metrics", g.metrics.Handler())
	mux.HandleFunc("/info", g.infoHandler)
	mux.HandleFunc("/", g.serveHTTP)

	chain := middleware.NewBuilder().
		Use(middleware.Recovery(g.logger)).
		Use(middleware.Logging(g.logger))
	return chain.Handler(mux)
}

// serveHTTP runs the main pipeline: CORS, rate limit, auth, route match +
// authorize, cache, forward (spec §4).
func (g *Gateway) serveHTTP(w http.ResponseWriter, r *http.Request) {
	rc := reqctx.New(r)
	r = r.WithContext(reqctx.WithContext(r.Context(), rc))
	w.Header().Set(reqctx.CorrelationIDHeader, rc.CorrelationID)

	if router.IsSystemPath(r.URL.Path) {
		http.NotFound(w, r)
		return
	}

	rule, matched := g.router.Match(r.Method, r.URL.Path)

	if g.cors.IsPreflight(r) {
		g.cors.HandlePreflight(w, r)
		return
	}
	g.cors.ApplyHeaders(w, r)

	if !g.limiter.Admit(w, r, matched && rule.Public) {
		return
	}

	principal, authenticated := g.authenticate(r)

	switch router.Authorize(rule, matched, principal, authenticated) {
	case router.DecisionDeny:
		gwerrors.ErrForbidden.WithRequest(r.Method, r.URL.Path).WithCorrelationID(rc.CorrelationID).WriteJSON(w)
		return
	case router.DecisionUnauthorized:
		w.Header().Set("WWW-Authenticate", "Bearer")
		gwerrors.ErrUnauthorized.WithRequest(r.Method, r.URL.Path).WithCorrelationID(rc.CorrelationID).WriteJSON(w)
		return
	}

	rc.MatchedRoute = rule.Service
	rc.UpstreamName = rule.Service
	if authenticated {
		rc.Principal = principal.ID
	}

	baseURL, ok := g.config.Gate.Services[rule.Service]
	if !ok {
		gwerrors.ErrInternal.WithDetails("service has no configured base URL").WithCorrelationID(rc.CorrelationID).WriteJSON(w)
		return
	}
	target := proxy.Target{Upstream: rule.Service, BaseURL: baseURL}

	if g.config.Gate.MaxPayloadSizeBytes > 0 {
		if r.ContentLength > g.config.Gate.MaxPayloadSizeBytes {
			gwerrors.ErrPayloadTooLarge.WithRequest(r.Method, r.URL.Path).WithCorrelationID(rc.CorrelationID).WriteJSON(w)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, g.config.Gate.MaxPayloadSizeBytes)
	}

	if g.config.Gate.EnableCaching && cache.Cacheable(r) {
		g.serveWithCache(w, r, target, principal, authenticated, rc)
		return
	}

	g.forward(w, r, target, principal, authenticated, rc)
}

// errNotCacheable is the fetch-side sentinel used to signal "forwarded fine,
// just not storable" back out of GetOrFetch without caching a non-2xx or
// oversized body.
var errNotCacheable = gwerrors.New(gwerrors.KindInternal, "response not cacheable")

// serveWithCache applies the single-flight cache lookup around forwarding
// (spec §4.5): a hit is replayed directly, a miss forwards once per key and
// shares the result with concurrent identical misses.
func (g *Gateway) serveWithCache(w http.ResponseWriter, r *http.Request, target proxy.Target, principal auth.Principal, authenticated bool, rc *reqctx.RequestContext) {
	key := g.cache.BuildKey(target.Upstream, r)

	entry, _, err := g.cache.GetOrFetch(key, func() (*cache.Entry, error) {
		resp, ferr := g.forwarder.Forward(r.Context(), r, target, principal, authenticated)
		if ferr != nil {
			return nil, ferr
		}
		defer resp.Body.Close()

		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return nil, gwerrors.Wrap(readErr, gwerrors.KindBadGateway, "failed to read upstream response")
		}
		if !g.cache.Storable(resp.StatusCode, int64(len(body))) {
			return nil, errNotCacheable
		}
		headers := resp.Header.Clone()
		proxy.RemoveHopHeaders(headers)
		return &cache.Entry{
			StatusCode: resp.StatusCode,
			Headers:    headers,
			Body:       body,
			TTL:        g.cache.TTLFor(resp.Header),
		}, nil
	})

	if err != nil {
		if err == errNotCacheable {
			// The upstream response wasn't eligible for storage. Re-forward
			// outside the cache so the client still gets a fresh response
			// (the cached fetch above already consumed the first one).
			g.forward(w, r, target, principal, authenticated, rc)
			return
		}
		g.writeForwardError(w, err, rc)
		return
	}

	rc.FromCache = true
	dst := w.Header()
	for k, vv := range entry.Headers {
		dst[k] = vv
	}
	w.Header().Set("X-Cache", "HIT")
	w.WriteHeader(entry.StatusCode)
	w.Write(entry.Body)
}

// forward streams the upstream response directly to w without caching it.
func (g *Gateway) forward(w http.ResponseWriter, r *http.Request, target proxy.Target, principal auth.Principal, authenticated bool, rc *reqctx.RequestContext) {
	resp, err := g.forwarder.Forward(r.Context(), r, target, principal, authenticated)
	if err != nil {
		g.writeForwardError(w, err, rc)
		return
	}
	defer resp.Body.Close()
	w.Header().Set("X-Cache", "BYPASS")
	proxy.CopyResponse(w, resp)
}

func (g *Gateway) writeForwardError(w http.ResponseWriter, err error, rc *reqctx.RequestContext) {
	if gwErr, ok := gwerrors.AsGatewayError(err); ok {
		gwErr.WithCorrelationID(rc.CorrelationID).WriteJSON(w)
		return
	}
	gwerrors.Wrap(err, gwerrors.KindBadGateway, "upstream request failed").WithCorrelationID(rc.CorrelationID).WriteJSON(w)
}

// authenticate extracts and validates the bearer token, if present. An
// invalid or missing token simply means the caller is anonymous — whether
// that's acceptable is the router's decision, not this stage's.
func (g *Gateway) authenticate(r *http.Request) (auth.Principal, bool) {
	principal, err := g.validator.ValidateRequest(r)
	if err != nil {
		return auth.Principal{}, false
	}
	return principal, true
}

// infoDocument is the supplemented /info endpoint's response shape.
type infoDocument struct {
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptimeSeconds"`
	RouteCount    int    `json:"routeCount"`
	UpstreamCount int    `json:"upstreamCount"`
}

func (g *Gateway) infoHandler(w http.ResponseWriter, r *http.Request) {
	doc := infoDocument{
		Version:       "dev",
		UptimeSeconds: int64(time.Since(g.startedAt).Seconds()),
		RouteCount:    len(g.config.Gate.AllowedRoutes),
		UpstreamCount: len(g.config.Gate.Services),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(doc)
}
