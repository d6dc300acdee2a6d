package router

import (
	"testing"

	"github.com/wudi/gateway/internal/auth"
	"github.com/wudi/gateway/internal/config"
)

func TestMatchPicksLongestPrefix(t *testing.T) {
	rt := New([]config.RouteConfig{
		{Service: "users", Methods: []string{"GET"}, PathPrefix: "/users"},
		{Service: "users-admin", Methods: []string{"GET"}, PathPrefix: "/users/admin"},
	})

	rule, ok := rt.Match("GET", "/users/admin/panel")
	if !ok {
		t.Fatal("expected a match")
	}
	if rule.Service != "users-admin" {
		t.Errorf("Service = %q, want users-admin (longest prefix wins)", rule.Service)
	}
}

func TestMatchFiltersByMethod(t *testing.T) {
	rt := New([]config.RouteConfig{
		{Service: "users", Methods: []string{"GET"}, PathPrefix: "/users"},
	})

	if _, ok := rt.Match("POST", "/users/1"); ok {
		t.Error("expected no match for an unlisted method")
	}
}

func TestMatchNoPrefixMatch(t *testing.T) {
	rt := New([]config.RouteConfig{
		{Service: "users", Methods: []string{"GET"}, PathPrefix: "/users"},
	})

	if _, ok := rt.Match("GET", "/reports/1"); ok {
		t.Error("expected no match for an unrelated path")
	}
}

func TestIsSystemPath(t *testing.T) {
	for _, p := range []string{"/health", "/health/live", "/health/ready", "/metrics", "/swagger", "/info"} {
		if !IsSystemPath(p) {
			t.Errorf("expected %q to be a system path", p)
		}
	}
	if IsSystemPath("/users") {
		t.Error("expected /users to not be a system path")
	}
}

func TestAuthorizeNoMatchDenies(t *testing.T) {
	if got := Authorize(config.RouteConfig{}, false, auth.Principal{}, false); got != DecisionDeny {
		t.Errorf("Authorize = %v, want DecisionDeny", got)
	}
}

func TestAuthorizePublicRouteAllowsAnonymous(t *testing.T) {
	rule := config.RouteConfig{RequiresAuth: false}
	if got := Authorize(rule, true, auth.Principal{}, false); got != DecisionAllow {
		t.Errorf("Authorize = %v, want DecisionAllow", got)
	}
}

func TestAuthorizeRequiresAuthWithoutPrincipal(t *testing.T) {
	rule := config.RouteConfig{RequiresAuth: true}
	if got := Authorize(rule, true, auth.Principal{}, false); got != DecisionUnauthorized {
		t.Errorf("Authorize = %v, want DecisionUnauthorized", got)
	}
}

func TestAuthorizeRequiresAuthNoRolesConfigured(t *testing.T) {
	rule := config.RouteConfig{RequiresAuth: true}
	if got := Authorize(rule, true, auth.Principal{ID: "u1"}, true); got != DecisionAllow {
		t.Errorf("Authorize = %v, want DecisionAllow", got)
	}
}

func TestAuthorizeRoleMismatchDenies(t *testing.T) {
	rule := config.RouteConfig{RequiresAuth: true, RequiredRoles: []string{"admin"}}
	if got := Authorize(rule, true, auth.Principal{ID: "u1", Roles: []string{"viewer"}}, true); got != DecisionDeny {
		t.Errorf("Authorize = %v, want DecisionDeny", got)
	}
}

func TestAuthorizeRoleMatchAllows(t *testing.T) {
	rule := config.RouteConfig{RequiresAuth: true, RequiredRoles: []string{"admin", "owner"}}
	if got := Authorize(rule, true, auth.Principal{ID: "u1", Roles: []string{"owner"}}, true); got != DecisionAllow {
		t.Errorf("Authorize = %v, want DecisionAllow", got)
	}
}
