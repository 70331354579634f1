package credentials

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"
)

// Config is the declarative authentication block of an HTTP provider.
// Type selects the strategy; the remaining fields are strategy specific.
type Config struct {
	Type string `yaml:"type" json:"type"`

	// SecretEnvVariable names the variable holding the token, API key or
	// signing secret.
	SecretEnvVariable string `yaml:"secret_env_variable,omitempty" json:"secret_env_variable,omitempty"`

	// HeaderName is the header set by api_key_header. Defaults to X-API-Key.
	HeaderName string `yaml:"header_name,omitempty" json:"header_name,omitempty"`

	UsernameEnvVariable string `yaml:"username_env_variable,omitempty" json:"username_env_variable,omitempty"`
	PasswordEnvVariable string `yaml:"password_env_variable,omitempty" json:"password_env_variable,omitempty"`

	// jwt_bearer claims.
	Issuer   string        `yaml:"issuer,omitempty" json:"issuer,omitempty"`
	Subject  string        `yaml:"subject,omitempty" json:"subject,omitempty"`
	Audience string        `yaml:"audience,omitempty" json:"audience,omitempty"`
	TTL      time.Duration `yaml:"ttl,omitempty" json:"ttl,omitempty"`

	// oauth_client_credentials.
	TokenURL                string   `yaml:"token_url,omitempty" json:"token_url,omitempty"`
	ClientIDEnvVariable     string   `yaml:"client_id_env_variable,omitempty" json:"client_id_env_variable,omitempty"`
	ClientSecretEnvVariable string   `yaml:"client_secret_env_variable,omitempty" json:"client_secret_env_variable,omitempty"`
	Scopes                  []string `yaml:"scopes,omitempty" json:"scopes,omitempty"`
}

// LookupFunc resolves an environment variable. os.LookupEnv satisfies it.
type LookupFunc func(name string) (string, bool)

// Strategy applies one authentication scheme to a set of headers. The
// headers passed to Apply are a private copy and may be mutated.
type Strategy interface {
	Apply(ctx context.Context, cfg Config, h http.Header, env LookupFunc) (http.Header, error)
}

// ConfigValidator is implemented by strategies that can check a Config
// at load time, before any call is attempted.
type ConfigValidator interface {
	ValidateConfig(cfg Config) error
}

// StrategyFunc adapts a plain function to the Strategy interface.
type StrategyFunc func(cfg Config, h http.Header, env LookupFunc) (http.Header, error)

// Apply calls f.
func (f StrategyFunc) Apply(_ context.Context, cfg Config, h http.Header, env LookupFunc) (http.Header, error) {
	return f(cfg, h, env)
}

// Registry is a named set of strategies. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
	lookup     LookupFunc
}

// Option configures a Registry.
type Option func(*Registry)

// WithLookup overrides the secret lookup function (os.LookupEnv by
// default).
func WithLookup(fn LookupFunc) Option {
	return func(r *Registry) { r.lookup = fn }
}

// NewRegistry returns a registry with no strategies.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		strategies: make(map[string]Strategy),
		lookup:     os.LookupEnv,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Default returns a registry with every built-in strategy registered.
// The OAuth strategy fetches tokens with client; pass nil for
// http.DefaultClient.
func Default(client *http.Client, opts ...Option) *Registry {
	r := NewRegistry(opts...)
	r.Register("bearer_token", BearerToken{})
	r.Register("api_key_header", APIKeyHeader{})
	r.Register("api_key_in_header", APIKeyHeader{})
	r.Register("basic_auth", BasicAuth{})
	r.Register("jwt_bearer", &JWTBearer{})
	r.Register("oauth_client_credentials", NewOAuthClientCredentials(client))
	return r
}

// Register adds or replaces the strategy for name.
func (r *Registry) Register(name string, s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[name] = s
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.strategies[name]
	return ok
}

// Names returns the registered strategy names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.strategies))
	for n := range r.strategies {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Validate checks that cfg names a registered strategy and, where the
// strategy supports it, that its fields are complete.
func (r *Registry) Validate(cfg Config) error {
	r.mu.RLock()
	s, ok := r.strategies[cfg.Type]
	r.mu.RUnlock()
	if !ok {
		return &AuthError{Kind: UnknownType, Strategy: cfg.Type}
	}
	if v, ok := s.(ConfigValidator); ok {
		if err := v.ValidateConfig(cfg); err != nil {
			return &AuthError{Kind: InvalidConfig, Strategy: cfg.Type, Cause: err}
		}
	}
	return nil
}

// Apply runs the strategy selected by name against a copy of h. On
// error the original headers are returned unmodified together with an
// *AuthError.
func (r *Registry) Apply(ctx context.Context, name string, cfg Config, h http.Header) (http.Header, error) {
	r.mu.RLock()
	s, ok := r.strategies[name]
	r.mu.RUnlock()
	if !ok {
		return h, &AuthError{Kind: UnknownType, Strategy: name}
	}
	if h == nil {
		h = http.Header{}
	}

	out, err := s.Apply(ctx, cfg, h.Clone(), r.lookup)
	if err != nil {
		if ae, ok := err.(*AuthError); ok {
			if ae.Strategy == "" {
				ae.Strategy = name
			}
			return h, ae
		}
		return h, &AuthError{Kind: TokenFailed, Strategy: name, Cause: err}
	}
	return out, nil
}

// secret resolves a required secret variable.
func secret(env LookupFunc, variable string) (string, error) {
	if variable == "" {
		return "", &AuthError{Kind: InvalidConfig, Cause: fmt.Errorf("no secret variable configured")}
	}
	v, ok := env(variable)
	if !ok || v == "" {
		return "", &AuthError{Kind: MissingSecret, Variable: variable}
	}
	return v, nil
}
