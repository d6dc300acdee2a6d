// Package router implements the gateway's route matcher (spec §4.1):
// longest-pathPrefix-wins matching over method and path, with the
// authorization decision table layered on top of a match.
package router

import (
	"strings"

	"github.com/wudi/gateway/internal/auth"
	"github.com/wudi/gateway/internal/config"
)

// SystemPaths are intercepted before the matcher and always allowed without
// auth: the health/metrics/docs observability surface.
var SystemPaths = map[string]bool{
	"/health":       true,
	"/health/live":  true,
	"/health/ready": true,
	"/metrics":      true,
	"/swagger":      true,
	"/info":         true,
}

// IsSystemPath reports whether path bypasses the matcher entirely.
func IsSystemPath(path string) bool {
	return SystemPaths[path]
}

// Decision is the outcome of matching plus authorizing a request.
type Decision int

const (
	// DecisionDeny is a 403: no rule matched, or roles didn't overlap.
	DecisionDeny Decision = iota
	// DecisionUnauthorized is a 401: auth required but no valid principal.
	DecisionUnauthorized
	// DecisionAllow means the request may proceed to the forwarder.
	DecisionAllow
)

// Router holds the compiled routing table and evaluates the matching and
// authorization policy per request.
type Router struct {
	rules []compiledRule
}

type compiledRule struct {
	rule    config.RouteConfig
	methods map[string]bool
}

// New compiles a routing table from the config's ordered rule list.
func New(rules []config.RouteConfig) *Router {
	compiled := make([]compiledRule, len(rules))
	for i, rule := range rules {
		methods := make(map[string]bool, len(rule.Methods))
		for _, m := range rule.Methods {
			methods[strings.ToUpper(m)] = true
		}
		compiled[i] = compiledRule{rule: rule, methods: methods}
	}
	return &Router{rules: compiled}
}

// Match finds the rule whose pathPrefix is the longest match for path among
// rules whose methods contain method. Returns ok=false on no match.
func (rt *Router) Match(method, path string) (config.RouteConfig, bool) {
	var best *config.RouteConfig
	bestLen := -1

	for _, cr := range rt.rules {
		if !cr.methods[method] {
			continue
		}
		if !strings.HasPrefix(path, cr.rule.PathPrefix) {
			continue
		}
		if l := len(cr.rule.PathPrefix); l > bestLen {
			bestLen = l
			r := cr.rule
			best = &r
		}
	}

	if best == nil {
		return config.RouteConfig{}, false
	}
	return *best, true
}

// Authorize applies the decision table (spec §4.1) to a matched rule given
// the request's principal (zero-value Principal if unauthenticated).
func Authorize(rule config.RouteConfig, matched bool, principal auth.Principal, authenticated bool) Decision {
	if !matched {
		return DecisionDeny
	}
	if !rule.RequiresAuth {
		return DecisionAllow
	}
	if !authenticated {
		return DecisionUnauthorized
	}
	if len(rule.RequiredRoles) == 0 {
		return DecisionAllow
	}
	for _, required := range rule.RequiredRoles {
		for _, held := range principal.Roles {
			if required == held {
				return DecisionAllow
			}
		}
	}
	return DecisionDeny
}
