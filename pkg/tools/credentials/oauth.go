package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// OAuthClientCredentials obtains access tokens via the OAuth 2.0
// client_credentials grant. Tokens are cached per token endpoint and
// client id, and refreshed once 80% of their lifetime has elapsed. If a
// refresh fails while the cached token is still valid, the cached token
// is used.
type OAuthClientCredentials struct {
	client  *http.Client
	nowFunc func() time.Time

	mu     sync.Mutex
	tokens map[string]*cachedToken
}

type cachedToken struct {
	mu        sync.Mutex
	token     string
	expiry    time.Time
	refreshAt time.Time
}

// tokenResponse represents the JSON response from an OAuth 2.0 token endpoint.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// NewOAuthClientCredentials creates the strategy. Token requests go
// through client, so callers can route them through the same guarded
// transport as tool calls.
func NewOAuthClientCredentials(client *http.Client) *OAuthClientCredentials {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &OAuthClientCredentials{
		client:  client,
		nowFunc: time.Now,
		tokens:  make(map[string]*cachedToken),
	}
}

func (o *OAuthClientCredentials) ValidateConfig(cfg Config) error {
	if cfg.TokenURL == "" {
		return errors.New("token_url is required")
	}
	if cfg.ClientIDEnvVariable == "" || cfg.ClientSecretEnvVariable == "" {
		return errors.New("client_id_env_variable and client_secret_env_variable are required")
	}
	return nil
}

func (o *OAuthClientCredentials) Apply(ctx context.Context, cfg Config, h http.Header, env LookupFunc) (http.Header, error) {
	clientID, err := secret(env, cfg.ClientIDEnvVariable)
	if err != nil {
		return nil, err
	}
	clientSecret, err := secret(env, cfg.ClientSecretEnvVariable)
	if err != nil {
		return nil, err
	}

	token, err := o.token(ctx, cfg, clientID, clientSecret)
	if err != nil {
		return nil, &AuthError{Kind: TokenFailed, Cause: err}
	}
	h.Set("Authorization", "Bearer "+token)
	return h, nil
}

func (o *OAuthClientCredentials) entry(key string) *cachedToken {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.tokens[key]
	if !ok {
		e = &cachedToken{}
		o.tokens[key] = e
	}
	return e
}

func (o *OAuthClientCredentials) token(ctx context.Context, cfg Config, clientID, clientSecret string) (string, error) {
	e := o.entry(cfg.TokenURL + "|" + clientID)
	e.mu.Lock()
	defer e.mu.Unlock()

	now := o.nowFunc()
	if e.token != "" && now.Before(e.refreshAt) {
		return e.token, nil
	}

	token, expiresIn, err := o.fetchToken(ctx, cfg, clientID, clientSecret)
	if err != nil {
		if e.token != "" && now.Before(e.expiry) {
			return e.token, nil
		}
		return "", fmt.Errorf("acquiring OAuth token: %w", err)
	}

	e.token = token
	e.expiry = now.Add(time.Duration(expiresIn) * time.Second)
	e.refreshAt = now.Add(time.Duration(float64(expiresIn)*0.8) * time.Second)
	return e.token, nil
}

// fetchToken performs the OAuth 2.0 client_credentials grant request.
func (o *OAuthClientCredentials) fetchToken(ctx context.Context, cfg Config, clientID, clientSecret string) (string, int, error) {
	data := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {clientID},
		"client_secret": {clientSecret},
	}
	if len(cfg.Scopes) > 0 {
		data.Set("scope", strings.Join(cfg.Scopes, " "))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return "", 0, fmt.Errorf("creating token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := o.client.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", 0, fmt.Errorf("reading token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("token endpoint returned status %d: %s", resp.StatusCode, string(body))
	}

	var tokenResp tokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return "", 0, fmt.Errorf("parsing token response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return "", 0, fmt.Errorf("token response missing access_token")
	}
	return tokenResp.AccessToken, tokenResp.ExpiresIn, nil
}
