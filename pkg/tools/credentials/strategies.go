package credentials

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// BearerToken sets "Authorization: Bearer <secret>".
type BearerToken struct{}

func (BearerToken) ValidateConfig(cfg Config) error {
	if cfg.SecretEnvVariable == "" {
		return errors.New("secret_env_variable is required")
	}
	return nil
}

func (BearerToken) Apply(_ context.Context, cfg Config, h http.Header, env LookupFunc) (http.Header, error) {
	token, err := secret(env, cfg.SecretEnvVariable)
	if err != nil {
		return nil, err
	}
	h.Set("Authorization", "Bearer "+token)
	return h, nil
}

// APIKeyHeader sets a configurable header to the secret value.
type APIKeyHeader struct{}

// DefaultAPIKeyHeader is used when header_name is empty.
const DefaultAPIKeyHeader = "X-API-Key"

func (APIKeyHeader) ValidateConfig(cfg Config) error {
	if cfg.SecretEnvVariable == "" {
		return errors.New("secret_env_variable is required")
	}
	return nil
}

func (APIKeyHeader) Apply(_ context.Context, cfg Config, h http.Header, env LookupFunc) (http.Header, error) {
	key, err := secret(env, cfg.SecretEnvVariable)
	if err != nil {
		return nil, err
	}
	name := cfg.HeaderName
	if name == "" {
		name = DefaultAPIKeyHeader
	}
	h.Set(name, key)
	return h, nil
}

// BasicAuth sets HTTP basic credentials from two variables.
type BasicAuth struct{}

func (BasicAuth) ValidateConfig(cfg Config) error {
	if cfg.UsernameEnvVariable == "" || cfg.PasswordEnvVariable == "" {
		return errors.New("username_env_variable and password_env_variable are required")
	}
	return nil
}

func (BasicAuth) Apply(_ context.Context, cfg Config, h http.Header, env LookupFunc) (http.Header, error) {
	user, err := secret(env, cfg.UsernameEnvVariable)
	if err != nil {
		return nil, err
	}
	pass, err := secret(env, cfg.PasswordEnvVariable)
	if err != nil {
		return nil, err
	}
	h.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(user+":"+pass)))
	return h, nil
}

// JWTBearer mints a short-lived HS256 token signed with the secret and
// sends it as a bearer token.
type JWTBearer struct {
	// Now is used for issued-at and expiry; time.Now when nil.
	Now func() time.Time
}

// DefaultJWTTTL is the token lifetime when ttl is not configured.
const DefaultJWTTTL = 5 * time.Minute

func (j *JWTBearer) ValidateConfig(cfg Config) error {
	if cfg.SecretEnvVariable == "" {
		return errors.New("secret_env_variable is required")
	}
	if cfg.TTL < 0 {
		return errors.New("ttl must not be negative")
	}
	return nil
}

func (j *JWTBearer) Apply(_ context.Context, cfg Config, h http.Header, env LookupFunc) (http.Header, error) {
	key, err := secret(env, cfg.SecretEnvVariable)
	if err != nil {
		return nil, err
	}

	now := time.Now
	if j.Now != nil {
		now = j.Now
	}
	ttl := cfg.TTL
	if ttl == 0 {
		ttl = DefaultJWTTTL
	}
	issued := now()

	claims := jwt.RegisteredClaims{
		Issuer:    cfg.Issuer,
		Subject:   cfg.Subject,
		IssuedAt:  jwt.NewNumericDate(issued),
		ExpiresAt: jwt.NewNumericDate(issued.Add(ttl)),
		ID:        uuid.NewString(),
	}
	if cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{cfg.Audience}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	if err != nil {
		return nil, &AuthError{Kind: TokenFailed, Cause: err}
	}
	h.Set("Authorization", "Bearer "+signed)
	return h, nil
}
