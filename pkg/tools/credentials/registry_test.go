package credentials

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func mapLookup(m map[string]string) LookupFunc {
	return func(name string) (string, bool) {
		v, ok := m[name]
		return v, ok
	}
}

func TestApplyBuiltins(t *testing.T) {
	env := mapLookup(map[string]string{
		"TOKEN":  "tok-123",
		"APIKEY": "key-456",
		"USER":   "alice",
		"PASS":   "s3cret",
	})
	reg := Default(nil, WithLookup(env))

	tests := []struct {
		name       string
		cfg        Config
		header     string
		wantHeader string
	}{
		{
			name:       "bearer token",
			cfg:        Config{Type: "bearer_token", SecretEnvVariable: "TOKEN"},
			header:     "Authorization",
			wantHeader: "Bearer tok-123",
		},
		{
			name:       "api key default header",
			cfg:        Config{Type: "api_key_header", SecretEnvVariable: "APIKEY"},
			header:     "X-API-Key",
			wantHeader: "key-456",
		},
		{
			name:       "api key custom header via alias",
			cfg:        Config{Type: "api_key_in_header", HeaderName: "X-Weather-Key", SecretEnvVariable: "APIKEY"},
			header:     "X-Weather-Key",
			wantHeader: "key-456",
		},
		{
			name:       "basic auth",
			cfg:        Config{Type: "basic_auth", UsernameEnvVariable: "USER", PasswordEnvVariable: "PASS"},
			header:     "Authorization",
			wantHeader: "Basic " + base64.StdEncoding.EncodeToString([]byte("alice:s3cret")),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := http.Header{"Accept": []string{"application/json"}}
			out, err := reg.Apply(context.Background(), tt.cfg.Type, tt.cfg, in)
			if err != nil {
				t.Fatalf("Apply: %v", err)
			}
			if got := out.Get(tt.header); got != tt.wantHeader {
				t.Errorf("%s = %q, want %q", tt.header, got, tt.wantHeader)
			}
			if out.Get("Accept") != "application/json" {
				t.Error("existing headers must be preserved")
			}
			if in.Get(tt.header) != "" {
				t.Error("Apply must not mutate the caller's headers")
			}
		})
	}
}

func TestApplyMissingSecret(t *testing.T) {
	reg := Default(nil, WithLookup(mapLookup(map[string]string{"EMPTY": ""})))

	for _, cfg := range []Config{
		{Type: "bearer_token", SecretEnvVariable: "NOPE"},
		{Type: "bearer_token", SecretEnvVariable: "EMPTY"},
		{Type: "basic_auth", UsernameEnvVariable: "NOPE", PasswordEnvVariable: "NOPE2"},
	} {
		in := http.Header{"Accept": []string{"text/plain"}}
		out, err := reg.Apply(context.Background(), cfg.Type, cfg, in)

		var ae *AuthError
		if !errors.As(err, &ae) {
			t.Fatalf("expected *AuthError, got %v", err)
		}
		if ae.Kind != MissingSecret {
			t.Errorf("kind = %q, want %q", ae.Kind, MissingSecret)
		}
		if ae.Strategy != cfg.Type {
			t.Errorf("strategy = %q, want %q", ae.Strategy, cfg.Type)
		}
		if !reflect.DeepEqual(out, in) {
			t.Errorf("headers must be returned unmodified, got %v", out)
		}
	}
}

func TestApplyUnknownStrategy(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Apply(context.Background(), "kerberos", Config{Type: "kerberos"}, nil)
	var ae *AuthError
	if !errors.As(err, &ae) || ae.Kind != UnknownType {
		t.Fatalf("expected UnknownType, got %v", err)
	}
}

func TestRegisterCustomStrategy(t *testing.T) {
	reg := Default(nil)
	reg.Register("static_header", StrategyFunc(func(cfg Config, h http.Header, _ LookupFunc) (http.Header, error) {
		h.Set(cfg.HeaderName, "fixed")
		return h, nil
	}))

	if !reg.Has("static_header") {
		t.Fatal("expected custom strategy to be registered")
	}
	out, err := reg.Apply(context.Background(), "static_header", Config{HeaderName: "X-Static"}, nil)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if out.Get("X-Static") != "fixed" {
		t.Errorf("X-Static = %q", out.Get("X-Static"))
	}

	// Built-ins still work after extension.
	want := []string{"api_key_header", "api_key_in_header", "basic_auth", "bearer_token", "jwt_bearer", "oauth_client_credentials", "static_header"}
	if got := reg.Names(); !reflect.DeepEqual(got, want) {
		t.Errorf("Names = %v, want %v", got, want)
	}
}

func TestValidate(t *testing.T) {
	reg := Default(nil)

	tests := []struct {
		name     string
		cfg      Config
		wantKind AuthErrorKind
	}{
		{name: "valid bearer", cfg: Config{Type: "bearer_token", SecretEnvVariable: "T"}},
		{name: "bearer without variable", cfg: Config{Type: "bearer_token"}, wantKind: InvalidConfig},
		{name: "basic missing password", cfg: Config{Type: "basic_auth", UsernameEnvVariable: "U"}, wantKind: InvalidConfig},
		{name: "oauth without token url", cfg: Config{Type: "oauth_client_credentials", ClientIDEnvVariable: "A", ClientSecretEnvVariable: "B"}, wantKind: InvalidConfig},
		{name: "unknown type", cfg: Config{Type: "digest"}, wantKind: UnknownType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := reg.Validate(tt.cfg)
			if tt.wantKind == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var ae *AuthError
			if !errors.As(err, &ae) || ae.Kind != tt.wantKind {
				t.Fatalf("expected %q, got %v", tt.wantKind, err)
			}
		})
	}
}

func TestJWTBearer(t *testing.T) {
	issued := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	reg := NewRegistry(WithLookup(mapLookup(map[string]string{"SIGNING_KEY": "hmac-secret"})))
	reg.Register("jwt_bearer", &JWTBearer{Now: func() time.Time { return issued }})

	cfg := Config{
		Type:              "jwt_bearer",
		SecretEnvVariable: "SIGNING_KEY",
		Issuer:            "toolgate",
		Subject:           "agent",
		Audience:          "weather-api",
		TTL:               time.Minute,
	}
	out, err := reg.Apply(context.Background(), "jwt_bearer", cfg, nil)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	raw, ok := strings.CutPrefix(out.Get("Authorization"), "Bearer ")
	if !ok {
		t.Fatalf("Authorization = %q, want bearer token", out.Get("Authorization"))
	}

	claims := &jwt.RegisteredClaims{}
	_, err = jwt.ParseWithClaims(raw, claims, func(tok *jwt.Token) (any, error) {
		return []byte("hmac-secret"), nil
	}, jwt.WithTimeFunc(func() time.Time { return issued.Add(30 * time.Second) }), jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		t.Fatalf("parsing minted token: %v", err)
	}
	if claims.Issuer != "toolgate" || claims.Subject != "agent" {
		t.Errorf("claims = %+v", claims)
	}
	if len(claims.Audience) != 1 || claims.Audience[0] != "weather-api" {
		t.Errorf("audience = %v", claims.Audience)
	}
	if !claims.ExpiresAt.Time.Equal(issued.Add(time.Minute)) {
		t.Errorf("expires = %v, want %v", claims.ExpiresAt.Time, issued.Add(time.Minute))
	}
	if claims.ID == "" {
		t.Error("expected a token id")
	}
}
