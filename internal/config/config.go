// Package config loads and validates the gateway's static routing/services table.
package config

import "time"

// Config is the root configuration document loaded at boot.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Gate         GateConfig         `yaml:"gate"`
	Jwt          JWTConfig          `yaml:"jwt"`
	Redis        RedisConfig        `yaml:"redis"`
	HealthChecks HealthChecksConfig `yaml:"healthChecks"`
	Logging      LoggingConfig      `yaml:"logging"`
	CORS         CORSConfig         `yaml:"cors"`
}

// LoggingConfig installs the package-level zap logger at boot.
type LoggingConfig struct {
	Level      string `yaml:"level"`      // debug, info, warn, error
	Output     string `yaml:"output"`     // stdout, stderr, or a file path
	MaxSize    int    `yaml:"maxSize"`    // megabytes before rotation
	MaxBackups int    `yaml:"maxBackups"` // rotated files to keep
	MaxAge     int    `yaml:"maxAge"`     // days to retain old files
	Compress   bool   `yaml:"compress"`
}

// CORSConfig controls the ingress's CORS preflight handling (spec §4.8).
type CORSConfig struct {
	Enabled          bool     `yaml:"enabled"`
	AllowOrigins     []string `yaml:"allowOrigins"`
	AllowMethods     []string `yaml:"allowMethods"`
	AllowHeaders     []string `yaml:"allowHeaders"`
	AllowCredentials bool     `yaml:"allowCredentials"`
	MaxAgeSeconds    int      `yaml:"maxAgeSeconds"`
}

// ServerConfig controls the ingress listener.
type ServerConfig struct {
	Port        int    `yaml:"port"`
	Environment string `yaml:"environment"` // "production" or "development"
}

// GateConfig is the routing/services table and resilience defaults.
type GateConfig struct {
	Services               map[string]string `yaml:"services"`
	AllowedRoutes          []RouteConfig     `yaml:"allowedRoutes"`
	DefaultTimeoutSeconds  int               `yaml:"defaultTimeoutSeconds"`
	MaxPayloadSizeBytes    int64             `yaml:"maxPayloadSizeBytes"`
	EnableCaching          bool              `yaml:"enableCaching"`
	CacheExpirationMinutes int               `yaml:"cacheExpirationMinutes"`
	Secret                 string            `yaml:"secret"`
	GatewaySecret          string            `yaml:"gatewaySecret"` // sent upstream as X-Gateway-Secret when set
}

// RouteConfig is one entry of the allowed-routes table (spec §3 RouteRule).
type RouteConfig struct {
	Service       string   `yaml:"service"`
	Methods       []string `yaml:"methods"`
	PathPrefix    string   `yaml:"pathPrefix"`
	RequiresAuth  bool     `yaml:"requiresAuth"`
	RequiredRoles []string `yaml:"requiredRoles"`
	// Public routes (health, metrics, login) use the public rate-limit
	// policy instead of global (spec §4.6).
	Public bool `yaml:"public"`
}

// JWTConfig configures bearer-token validation (spec §4.2).
type JWTConfig struct {
	SecretKey                string `yaml:"secretKey"`
	Issuer                   string `yaml:"issuer"`
	Audience                 string `yaml:"audience"`
	ValidateIssuer           bool   `yaml:"validateIssuer"`
	ValidateAudience         bool   `yaml:"validateAudience"`
	ValidateLifetime         bool   `yaml:"validateLifetime"`
	ValidateIssuerSigningKey bool   `yaml:"validateIssuerSigningKey"`
}

// RedisConfig selects the cache backend. An empty ConnectionString means in-memory.
type RedisConfig struct {
	ConnectionString string `yaml:"connectionString"`
}

// HealthChecksConfig tunes the background upstream prober.
type HealthChecksConfig struct {
	CheckIntervalSeconds    int `yaml:"checkIntervalSeconds"`
	UnhealthyTimeoutSeconds int `yaml:"unhealthyTimeoutSeconds"`
}

// DefaultTimeout returns the per-attempt forwarding timeout as a Duration.
func (g GateConfig) DefaultTimeout() time.Duration {
	if g.DefaultTimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(g.DefaultTimeoutSeconds) * time.Second
}

// CacheTTL returns the configured default cache TTL as a Duration.
func (g GateConfig) CacheTTL() time.Duration {
	if g.CacheExpirationMinutes <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(g.CacheExpirationMinutes) * time.Minute
}

// CheckInterval returns the health prober's polling interval.
func (h HealthChecksConfig) CheckInterval() time.Duration {
	if h.CheckIntervalSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(h.CheckIntervalSeconds) * time.Second
}

// ProbeTimeout returns the per-probe bounded timeout.
func (h HealthChecksConfig) ProbeTimeout() time.Duration {
	if h.UnhealthyTimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(h.UnhealthyTimeoutSeconds) * time.Second
}

// IsProduction reports whether the server is configured for production.
func (s ServerConfig) IsProduction() bool {
	return s.Environment == "production"
}

// DefaultConfig returns a configuration with the defaults named in spec §6.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        8100,
			Environment: "development",
		},
		Gate: GateConfig{
			Services:               make(map[string]string),
			DefaultTimeoutSeconds:  30,
			MaxPayloadSizeBytes:    10 * 1024 * 1024,
			EnableCaching:          true,
			CacheExpirationMinutes: 5,
		},
		HealthChecks: HealthChecksConfig{
			CheckIntervalSeconds:    30,
			UnhealthyTimeoutSeconds: 10,
		},
	}
}
