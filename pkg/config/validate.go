package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/robfig/cron/v3"
)

// Validate checks the configuration for required fields and valid values.
// Returns an error with a descriptive field path on failure.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 {
		errs = append(errs, fmt.Errorf("server.port must be > 0, got %d", c.Server.Port))
	}

	if c.Tools.Enabled && c.Tools.ConfigFile == "" {
		errs = append(errs, fmt.Errorf("tools.config_file is required when tools.enabled is true"))
	}

	positive := []struct {
		field string
		ok    bool
	}{
		{"tools.handshake_timeout", c.Tools.HandshakeTimeout > 0},
		{"tools.call_timeout", c.Tools.CallTimeout > 0},
		{"tools.grace_period", c.Tools.GracePeriod > 0},
		{"tools.http_timeout", c.Tools.HTTPTimeout > 0},
		{"tools.timeout_flag_threshold", c.Tools.TimeoutFlagThreshold > 0},
	}
	for _, p := range positive {
		if !p.ok {
			errs = append(errs, fmt.Errorf("%s must be > 0", p.field))
		}
	}

	if c.Tools.ReloadSchedule != "" {
		if _, err := cron.ParseStandard(c.Tools.ReloadSchedule); err != nil {
			errs = append(errs, fmt.Errorf("tools.reload_schedule: %w", err))
		}
	}

	switch c.History.Type {
	case "none", "memory":
	case "postgres":
		if c.History.Postgres.DSN == "" && c.History.Postgres.DSNFile == "" {
			errs = append(errs, fmt.Errorf("history.postgres.dsn or history.postgres.dsn_file is required when history.type is \"postgres\""))
		}
	default:
		errs = append(errs, fmt.Errorf("history.type must be \"none\", \"memory\", or \"postgres\", got %q", c.History.Type))
	}
	if c.History.Postgres.Retention < 0 {
		errs = append(errs, fmt.Errorf("history.postgres.retention must be >= 0, got %s", c.History.Postgres.Retention))
	}
	if c.History.MaxSize < 0 {
		errs = append(errs, fmt.Errorf("history.max_size must be >= 0, got %d", c.History.MaxSize))
	}

	switch c.Auth.Type {
	case "none":
	case "apikey":
		if len(c.Auth.APIKeys) == 0 {
			errs = append(errs, fmt.Errorf("auth.api_keys must not be empty when auth.type is \"apikey\""))
		}
		for i, k := range c.Auth.APIKeys {
			if k.Key == "" && k.KeyFile == "" {
				errs = append(errs, fmt.Errorf("auth.api_keys[%d]: key or key_file is required", i))
			}
		}
	case "jwt":
		if c.Auth.JWT.JWKSURL == "" {
			errs = append(errs, fmt.Errorf("auth.jwt.jwks_url is required when auth.type is \"jwt\""))
		} else if _, err := url.ParseRequestURI(c.Auth.JWT.JWKSURL); err != nil {
			errs = append(errs, fmt.Errorf("auth.jwt.jwks_url: %w", err))
		}
	default:
		errs = append(errs, fmt.Errorf("auth.type must be \"none\", \"apikey\", or \"jwt\", got %q", c.Auth.Type))
	}

	if c.Observability.Tracing.Enabled && c.Observability.Tracing.Endpoint == "" {
		errs = append(errs, fmt.Errorf("observability.tracing.endpoint is required when tracing is enabled"))
	}
	if c.Observability.Metrics.Enabled && !strings.HasPrefix(c.Observability.Metrics.Path, "/") {
		errs = append(errs, fmt.Errorf("observability.metrics.path must start with \"/\", got %q", c.Observability.Metrics.Path))
	}

	switch c.Log.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level must be one of trace, debug, info, warn, error, got %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be \"text\" or \"json\", got %q", c.Log.Format))
	}

	return errors.Join(errs...)
}
