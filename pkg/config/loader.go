package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Load loads configuration from a layered set of sources.
//
// The loading order is:
//  1. Built-in defaults
//  2. YAML config file (explicit path, TOOLGATE_CONFIG env, ./config.yaml, /etc/toolgate/config.yaml)
//  3. .env file named by tools.env_file
//  4. Environment variable overrides
//  5. File reference resolution (_file suffix)
//  6. Validation
func Load(configPath string) (*Config, error) {
	cfg := Defaults()

	filePath := discoverConfigFile(configPath)
	if filePath != "" {
		if err := loadYAMLFile(filePath, &cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", filePath, err)
		}
	}

	if err := loadEnvFile(cfg.Tools.EnvFile); err != nil {
		return nil, fmt.Errorf("loading env file %s: %w", cfg.Tools.EnvFile, err)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("environment overrides: %w", err)
	}

	if err := resolveFileReferences(&cfg); err != nil {
		return nil, fmt.Errorf("resolving file references: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return &cfg, nil
}

// discoverConfigFile finds the config file path using the discovery order:
// 1. Explicit configPath argument
// 2. TOOLGATE_CONFIG environment variable
// 3. ./config.yaml in the current directory
// 4. /etc/toolgate/config.yaml
//
// Returns empty string if no config file is found.
func discoverConfigFile(configPath string) string {
	if configPath != "" {
		return configPath
	}

	if envPath := os.Getenv("TOOLGATE_CONFIG"); envPath != "" {
		return envPath
	}

	candidates := []string{
		"config.yaml",
		"/etc/toolgate/config.yaml",
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// loadYAMLFile reads and parses a YAML file into the Config struct.
// Fields not present in the YAML retain their current (default) values.
func loadYAMLFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// loadEnvFile populates the process environment from a dotenv file.
// Variables that are already set keep their value. A missing file is
// not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	err := godotenv.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// applyEnvOverrides maps environment variables to config fields.
func applyEnvOverrides(cfg *Config) error {
	var errs []error

	if v := os.Getenv("TOOLGATE_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("TOOLGATE_PORT: %w", err))
		} else {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("TOOLGATE_TOOLS_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("TOOLGATE_TOOLS_ENABLED: %w", err))
		} else {
			cfg.Tools.Enabled = enabled
		}
	}
	if v := os.Getenv("TOOLGATE_TOOLS_CONFIG"); v != "" {
		cfg.Tools.ConfigFile = v
	}

	// MCP_ALLOWED_DOMAINS is the name existing deployments already use.
	if v := os.Getenv("MCP_ALLOWED_DOMAINS"); v != "" {
		cfg.Tools.AllowedDomains = splitList(v)
	}
	if v := os.Getenv("TOOLGATE_TOOLS_ALLOWED_DOMAINS"); v != "" {
		cfg.Tools.AllowedDomains = splitList(v)
	}

	durations := []struct {
		name string
		dst  *time.Duration
	}{
		{"TOOLGATE_HANDSHAKE_TIMEOUT", &cfg.Tools.HandshakeTimeout},
		{"TOOLGATE_CALL_TIMEOUT", &cfg.Tools.CallTimeout},
		{"TOOLGATE_HTTP_TIMEOUT", &cfg.Tools.HTTPTimeout},
	}
	for _, d := range durations {
		v := os.Getenv(d.name)
		if v == "" {
			continue
		}
		dur, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", d.name, err))
			continue
		}
		*d.dst = dur
	}

	if v := os.Getenv("TOOLGATE_HISTORY"); v != "" {
		cfg.History.Type = v
	}
	if v := os.Getenv("TOOLGATE_HISTORY_SIZE"); v != "" {
		size, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("TOOLGATE_HISTORY_SIZE: %w", err))
		} else {
			cfg.History.MaxSize = size
		}
	}
	if v := os.Getenv("TOOLGATE_POSTGRES_DSN"); v != "" {
		cfg.History.Postgres.DSN = v
	}

	if v := os.Getenv("TOOLGATE_RELOAD_SCHEDULE"); v != "" {
		cfg.Tools.ReloadSchedule = v
	}
	if v := os.Getenv("TOOLGATE_AUTH_TYPE"); v != "" {
		cfg.Auth.Type = v
	}

	// TOOLGATE_API_KEYS: JSON array of API key configs.
	if v := os.Getenv("TOOLGATE_API_KEYS"); v != "" {
		keys, err := parseAPIKeysJSON(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("TOOLGATE_API_KEYS: %w", err))
		} else if len(keys) > 0 {
			cfg.Auth.APIKeys = keys
		}
	}

	if v := os.Getenv("TOOLGATE_OTLP_ENDPOINT"); v != "" {
		cfg.Observability.Tracing.Endpoint = v
		cfg.Observability.Tracing.Enabled = true
	}
	if v := os.Getenv("TOOLGATE_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}

	return errors.Join(errs...)
}

// parseAPIKeysJSON parses a JSON array of API key configurations.
func parseAPIKeysJSON(jsonStr string) ([]APIKeyConfig, error) {
	var keys []APIKeyConfig
	if err := json.Unmarshal([]byte(jsonStr), &keys); err != nil {
		return nil, fmt.Errorf("parsing API keys JSON: %w", err)
	}
	return keys, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// resolveFileReferences reads _file fields and populates the corresponding value fields.
// For each field ending in _file, if the value field is empty and the file field is set,
// the file is read, whitespace is trimmed, and the value field is populated.
func resolveFileReferences(cfg *Config) error {
	// history.postgres.dsn_file -> history.postgres.dsn
	if cfg.History.Postgres.DSNFile != "" && cfg.History.Postgres.DSN == "" {
		val, err := readSecretFile(cfg.History.Postgres.DSNFile)
		if err != nil {
			return fmt.Errorf("history.postgres.dsn_file: %w", err)
		}
		cfg.History.Postgres.DSN = val
	}

	// auth.api_keys[*].key_file -> auth.api_keys[*].key
	for i := range cfg.Auth.APIKeys {
		if cfg.Auth.APIKeys[i].KeyFile != "" && cfg.Auth.APIKeys[i].Key == "" {
			val, err := readSecretFile(cfg.Auth.APIKeys[i].KeyFile)
			if err != nil {
				return fmt.Errorf("auth.api_keys[%d].key_file: %w", i, err)
			}
			cfg.Auth.APIKeys[i].Key = val
		}
	}
	return nil
}

// readSecretFile reads a file and returns its content with surrounding whitespace trimmed.
func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
