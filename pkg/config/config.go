// Package config provides unified configuration for the toolgate server.
//
// Configuration is loaded with a layered approach:
//  1. Built-in defaults
//  2. YAML config file (discovered or explicitly specified)
//  3. .env file (variables already set in the process win)
//  4. Environment variable overrides (TOOLGATE_ prefix, MCP_ALLOWED_DOMAINS)
//  5. File reference resolution (_file suffix fields)
//  6. Validation
package config

import "time"

// Config holds all configuration for the toolgate server.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Tools         ToolsConfig         `yaml:"tools"`
	History       HistoryConfig       `yaml:"history"`
	Auth          AuthConfig          `yaml:"auth"`
	Observability ObservabilityConfig `yaml:"observability"`
	Log           LogConfig           `yaml:"log"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`             // default: 8080
	ReadTimeout     time.Duration `yaml:"read_timeout"`     // default: 30s
	WriteTimeout    time.Duration `yaml:"write_timeout"`    // default: 120s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // default: 15s
}

// ToolsConfig holds the provider catalog location and adapter tuning.
type ToolsConfig struct {
	Enabled    bool   `yaml:"enabled"`     // default: true
	ConfigFile string `yaml:"config_file"` // provider catalog path
	EnvFile    string `yaml:"env_file"`    // default: ".env"

	// AllowedDomains lists the origins HTTP providers may reach.
	AllowedDomains []string `yaml:"allowed_domains"`

	HandshakeTimeout     time.Duration `yaml:"handshake_timeout"`      // default: 10s
	CallTimeout          time.Duration `yaml:"call_timeout"`           // default: 30s
	GracePeriod          time.Duration `yaml:"grace_period"`           // default: 2s
	HTTPTimeout          time.Duration `yaml:"http_timeout"`           // default: 10s
	TimeoutFlagThreshold int           `yaml:"timeout_flag_threshold"` // default: 3

	// ReloadSchedule is a cron expression. Empty disables scheduled reloads.
	ReloadSchedule string `yaml:"reload_schedule"`
}

// HistoryConfig selects where completed invocations are recorded.
type HistoryConfig struct {
	Type     string         `yaml:"type"`     // "none", "memory" or "postgres", default: "memory"
	MaxSize  int            `yaml:"max_size"` // for memory store, default: 10000
	Postgres PostgresConfig `yaml:"postgres"`
}

// PostgresConfig holds PostgreSQL-specific settings.
type PostgresConfig struct {
	DSN            string `yaml:"dsn"`
	DSNFile        string `yaml:"dsn_file"`         // _file variant for dsn
	MaxConns       int32  `yaml:"max_conns"`        // default: 10
	MigrateOnStart bool   `yaml:"migrate_on_start"` // default: false

	// Retention drops older records when the store opens. Zero keeps all.
	Retention time.Duration `yaml:"retention"`
}

// AuthConfig holds inbound authentication settings for the HTTP surface.
type AuthConfig struct {
	Type      string          `yaml:"type"`     // "none", "apikey", "jwt", default: "none"
	APIKeys   []APIKeyConfig  `yaml:"api_keys"` // API key entries for type=apikey
	JWT       JWTConfig       `yaml:"jwt"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// APIKeyConfig describes a single API key entry.
type APIKeyConfig struct {
	Key         string   `yaml:"key" json:"key"`
	KeyFile     string   `yaml:"key_file" json:"key_file"` // _file variant for key
	Subject     string   `yaml:"subject" json:"subject"`
	ServiceTier string   `yaml:"service_tier" json:"service_tier"`
	Scopes      []string `yaml:"scopes" json:"scopes"`
}

// JWTConfig configures bearer token validation against a JWKS endpoint.
type JWTConfig struct {
	Issuer      string `yaml:"issuer"`
	Audience    string `yaml:"audience"`
	JWKSURL     string `yaml:"jwks_url"`
	ScopesClaim string `yaml:"scopes_claim"` // default: "scope"
	UserClaim   string `yaml:"user_claim"`   // default: "sub"
	TierClaim   string `yaml:"tier_claim"`   // default: "tier"
}

// RateLimitConfig holds per-tier request limits. Zero disables limiting.
type RateLimitConfig struct {
	DefaultRPM int            `yaml:"default_rpm"`
	Tiers      map[string]int `yaml:"tiers"`
}

// ObservabilityConfig holds monitoring and instrumentation settings.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// MetricsConfig holds Prometheus metrics endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // default: true
	Path    string `yaml:"path"`    // default: "/metrics"
}

// TracingConfig holds OTLP trace export settings.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"`     // OTLP/HTTP host:port
	Insecure    bool   `yaml:"insecure"`     // plain HTTP to the collector
	ServiceName string `yaml:"service_name"` // default: "toolgate"
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`  // "trace", "debug", "info", "warn", "error", default: "info"
	Format string `yaml:"format"` // "text" or "json", default: "text"
	Debug  string `yaml:"debug"`  // comma-separated debug categories
}

// Defaults returns a Config with all default values filled in.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    120 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Tools: ToolsConfig{
			Enabled:              true,
			EnvFile:              ".env",
			HandshakeTimeout:     10 * time.Second,
			CallTimeout:          30 * time.Second,
			GracePeriod:          2 * time.Second,
			HTTPTimeout:          10 * time.Second,
			TimeoutFlagThreshold: 3,
		},
		History: HistoryConfig{
			Type:    "memory",
			MaxSize: 10000,
			Postgres: PostgresConfig{
				MaxConns: 10,
			},
		},
		Auth: AuthConfig{
			Type: "none",
			JWT: JWTConfig{
				ScopesClaim: "scope",
				UserClaim:   "sub",
				TierClaim:   "tier",
			},
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
			Tracing: TracingConfig{
				ServiceName: "toolgate",
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
