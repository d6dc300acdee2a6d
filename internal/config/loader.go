package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/goccy/go-yaml"
)

var validHTTPMethods = map[string]bool{
	"GET": true, "HEAD": true, "POST": true, "PUT": true,
	"DELETE": true, "PATCH": true, "OPTIONS": true,
}

// systemLabelPattern enforces DNS-label-like upstream names (spec §3 Services).
var systemLabelPattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9-]*$`)

// Loader reads and validates the gateway's YAML config document.
type Loader struct {
	envPattern *regexp.Regexp
}

// NewLoader creates a configuration loader.
func NewLoader() *Loader {
	return &Loader{
		envPattern: regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`),
	}
}

// Load reads a config file from disk and parses it.
func (l *Loader) Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return l.Parse(data)
}

// Parse parses configuration from YAML bytes, applying defaults and validation.
func (l *Loader) Parse(data []byte) (*Config, error) {
	expanded := l.expandEnvVars(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}

	if err := l.validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} references with environment variable values.
func (l *Loader) expandEnvVars(input string) string {
	return l.envPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := strings.TrimPrefix(strings.TrimSuffix(match, "}"), "${")
		if value, ok := os.LookupEnv(varName); ok {
			return value
		}
		return match
	})
}

// validate checks the static invariants from spec §3/§4.2.
func (l *Loader) validate(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", cfg.Server.Port)
	}

	for name, base := range cfg.Gate.Services {
		if !systemLabelPattern.MatchString(name) {
			return fmt.Errorf("service name %q is not a DNS-label-like token", name)
		}
		u, err := url.Parse(base)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("service %q has an invalid base URL %q", name, base)
		}
	}

	for i, route := range cfg.Gate.AllowedRoutes {
		if err := l.validateRoute(route, cfg); err != nil {
			return fmt.Errorf("allowedRoutes[%d]: %w", i, err)
		}
	}

	if cfg.Server.IsProduction() && cfg.Jwt.SecretKey == "" {
		return fmt.Errorf("jwt.secretKey is required in production")
	}

	return nil
}

func (l *Loader) validateRoute(route RouteConfig, cfg *Config) error {
	if !strings.HasPrefix(route.PathPrefix, "/") {
		return fmt.Errorf("pathPrefix %q must start with '/'", route.PathPrefix)
	}
	if len(route.Methods) == 0 {
		return fmt.Errorf("route %q must declare at least one method", route.PathPrefix)
	}
	for _, m := range route.Methods {
		if !validHTTPMethods[strings.ToUpper(m)] {
			return fmt.Errorf("route %q: unsupported method %q", route.PathPrefix, m)
		}
	}
	if route.Service == "" {
		return fmt.Errorf("route %q: service is required", route.PathPrefix)
	}
	if _, ok := cfg.Gate.Services[route.Service]; !ok {
		return fmt.Errorf("route %q: upstream %q is not declared in gate.services", route.PathPrefix, route.Service)
	}
	return nil
}
