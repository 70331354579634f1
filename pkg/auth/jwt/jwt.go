// Package jwt authenticates bearer JWTs whose signatures verify against
// keys published at a JWKS endpoint. RSA and ECDSA keys are accepted.
package jwt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/rhuss/toolgate/pkg/auth"
)

// Config holds the JWT authenticator configuration.
type Config struct {
	// Issuer and Audience are checked when set.
	Issuer   string
	Audience string

	JWKSURL string

	// Claim names for the identity. Defaults: sub, tier, scope.
	// The scopes claim may be a space-separated string or an array;
	// "scp" is consulted when it is missing.
	UserClaim   string
	TierClaim   string
	ScopesClaim string

	// CacheTTL bounds how long fetched keys are trusted. Default: 1h.
	CacheTTL time.Duration

	// MinRefreshInterval throttles refetches triggered by unknown key
	// IDs. Default: 30s.
	MinRefreshInterval time.Duration

	HTTPClient *http.Client
}

func (c *Config) applyDefaults() {
	if c.UserClaim == "" {
		c.UserClaim = "sub"
	}
	if c.TierClaim == "" {
		c.TierClaim = "tier"
	}
	if c.ScopesClaim == "" {
		c.ScopesClaim = "scope"
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = time.Hour
	}
	if c.MinRefreshInterval == 0 {
		c.MinRefreshInterval = 30 * time.Second
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
}

var validMethods = []string{"RS256", "RS384", "RS512", "ES256", "ES384", "ES512"}

// Authenticator validates bearer JWTs.
type Authenticator struct {
	config Config
	keys   *keySet
	parser *jwtlib.Parser
}

func New(cfg Config) *Authenticator {
	cfg.applyDefaults()

	opts := []jwtlib.ParserOption{jwtlib.WithValidMethods(validMethods), jwtlib.WithExpirationRequired()}
	if cfg.Issuer != "" {
		opts = append(opts, jwtlib.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwtlib.WithAudience(cfg.Audience))
	}

	return &Authenticator{
		config: cfg,
		keys:   newKeySet(cfg.JWKSURL, cfg.HTTPClient, cfg.CacheTTL, cfg.MinRefreshInterval),
		parser: jwtlib.NewParser(opts...),
	}
}

// Authenticate abstains without a bearer token and votes No when the
// token does not verify or lacks the subject claim.
func (a *Authenticator) Authenticate(ctx context.Context, r *http.Request) auth.Result {
	raw, ok := bearerToken(r)
	if !ok {
		return auth.Result{Decision: auth.Abstain}
	}
	if raw == "" {
		return reject(errors.New("empty bearer token"))
	}

	claims := jwtlib.MapClaims{}
	_, err := a.parser.ParseWithClaims(raw, claims, func(t *jwtlib.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("token has no kid header")
		}
		return a.keys.lookup(ctx, kid)
	})
	if err != nil {
		slog.Debug("jwt rejected", "error", err)
		return reject(fmt.Errorf("invalid token: %w", err))
	}

	subject := stringClaim(claims, a.config.UserClaim)
	if subject == "" {
		return reject(fmt.Errorf("token has no %q claim", a.config.UserClaim))
	}

	id := &auth.Identity{
		Subject:     subject,
		ServiceTier: stringClaim(claims, a.config.TierClaim),
		Scopes:      scopes(claims, a.config.ScopesClaim),
	}
	if iss := stringClaim(claims, "iss"); iss != "" {
		id.Metadata = map[string]string{"issuer": iss}
	}
	return auth.Result{Decision: auth.Yes, Identity: id}
}

func reject(err error) auth.Result {
	return auth.Result{Decision: auth.No, Err: err}
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, found := strings.Cut(r.Header.Get("Authorization"), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	return strings.TrimSpace(token), true
}

func stringClaim(claims jwtlib.MapClaims, name string) string {
	s, _ := claims[name].(string)
	return s
}

func scopes(claims jwtlib.MapClaims, name string) []string {
	v, ok := claims[name]
	if !ok {
		v = claims["scp"]
	}
	switch v := v.(type) {
	case string:
		if f := strings.Fields(v); len(f) > 0 {
			return f
		}
	case []any:
		var out []string
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
