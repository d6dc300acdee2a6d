// Package cors implements the gateway's CORS preflight handling (spec §4.8):
// a single global policy, not a per-route table — the spec names one CORS
// stage in the pipeline, not a configuration surface per route.
package cors

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/wudi/gateway/internal/config"
)

// Handler applies one CORS policy to every request.
type Handler struct {
	enabled          bool
	allowOrigins     []string
	allowMethods     string
	allowHeaders     string
	allowCredentials bool
	maxAge           string
	allowAllOrigins  bool
}

// New builds a Handler from cfg.
func New(cfg config.CORSConfig) *Handler {
	h := &Handler{
		enabled:          cfg.Enabled,
		allowOrigins:     cfg.AllowOrigins,
		allowCredentials: cfg.AllowCredentials,
	}

	if len(cfg.AllowMethods) > 0 {
		h.allowMethods = strings.Join(cfg.AllowMethods, ", ")
	} else {
		h.allowMethods = "GET, POST, PUT, DELETE, PATCH, OPTIONS"
	}

	if len(cfg.AllowHeaders) > 0 {
		h.allowHeaders = strings.Join(cfg.AllowHeaders, ", ")
	} else {
		h.allowHeaders = "Content-Type, Authorization"
	}

	if cfg.MaxAgeSeconds > 0 {
		h.maxAge = strconv.Itoa(cfg.MaxAgeSeconds)
	} else {
		h.maxAge = "86400"
	}

	for _, o := range cfg.AllowOrigins {
		if o == "*" {
			h.allowAllOrigins = true
			break
		}
	}

	return h
}

// IsEnabled reports whether CORS handling is configured on.
func (h *Handler) IsEnabled() bool {
	return h.enabled
}

// IsPreflight reports whether r is a CORS preflight request.
func (h *Handler) IsPreflight(r *http.Request) bool {
	return h.enabled && r.Method == http.MethodOptions &&
		r.Header.Get("Origin") != "" && r.Header.Get("Access-Control-Request-Method") != ""
}

// HandlePreflight writes the 204 preflight response with CORS headers.
func (h *Handler) HandlePreflight(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	w.Header().Set("Vary", "Origin, Access-Control-Request-Method, Access-Control-Request-Headers")
	if !h.isOriginAllowed(origin) {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	w.Header().Set("Access-Control-Allow-Origin", h.responseOrigin(origin))
	w.Header().Set("Access-Control-Allow-Methods", h.allowMethods)
	w.Header().Set("Access-Control-Allow-Headers", h.allowHeaders)
	if h.allowCredentials {
		w.Header().Set("Access-Control-Allow-Credentials", "true")
	}
	w.Header().Set("Access-Control-Max-Age", h.maxAge)
	w.WriteHeader(http.StatusNoContent)
}

// ApplyHeaders adds CORS headers to a normal (non-preflight) response.
func (h *Handler) ApplyHeaders(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin == "" || !h.isOriginAllowed(origin) {
		return
	}

	w.Header().Set("Access-Control-Allow-Origin", h.responseOrigin(origin))
	if h.allowCredentials {
		w.Header().Set("Access-Control-Allow-Credentials", "true")
	}
	w.Header().Set("Vary", "Origin")
}

func (h *Handler) responseOrigin(origin string) string {
	if h.allowAllOrigins && !h.allowCredentials {
		return "*"
	}
	return origin
}

func (h *Handler) isOriginAllowed(origin string) bool {
	if h.allowAllOrigins {
		return true
	}
	for _, allowed := range h.allowOrigins {
		if allowed == origin {
			return true
		}
		if strings.HasPrefix(allowed, "*.") {
			if strings.HasSuffix(origin, allowed[1:]) {
				return true
			}
		}
	}
	return false
}
