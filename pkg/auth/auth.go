package auth

import (
	"context"
	"errors"
	"net/http"
	"slices"
)

// Decision is an authenticator's vote on a request.
type Decision int

const (
	// Yes accepts the credentials. The chain stops and the identity is used.
	Yes Decision = iota

	// No rejects credentials that were present but invalid. The chain stops.
	No

	// Abstain means the authenticator does not recognise the credentials
	// and the next one votes.
	Abstain
)

func (d Decision) String() string {
	switch d {
	case Yes:
		return "yes"
	case No:
		return "no"
	case Abstain:
		return "abstain"
	}
	return "unknown"
}

// Result is the outcome of one authentication attempt. Identity is set
// for Yes and Err for No.
type Result struct {
	Decision Decision
	Identity *Identity
	Err      error
}

// Identity is an authenticated caller. Subject keys the rate limiter and
// owns the invocation history records the caller produces.
type Identity struct {
	Subject     string
	ServiceTier string
	Scopes      []string
	Metadata    map[string]string
}

// AllScopes grants every scope.
const AllScopes = "*"

// Anonymous returns the identity used when authentication is disabled.
// It holds every scope.
func Anonymous() *Identity {
	return &Identity{Subject: "anonymous", ServiceTier: "default", Scopes: []string{AllScopes}}
}

// HasScope reports whether the identity was granted scope.
func (id *Identity) HasScope(scope string) bool {
	if id == nil {
		return false
	}
	return slices.ContainsFunc(id.Scopes, func(s string) bool {
		return s == scope || s == AllScopes
	})
}

// Authenticator examines request credentials and votes.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) Result
}

// AuthenticatorFunc adapts a function to Authenticator.
type AuthenticatorFunc func(ctx context.Context, r *http.Request) Result

func (f AuthenticatorFunc) Authenticate(ctx context.Context, r *http.Request) Result {
	return f(ctx, r)
}

var (
	ErrUnauthenticated = errors.New("authentication required")
	ErrForbidden       = errors.New("access denied")
)

// Chain asks each authenticator in order until one votes Yes or No.
type Chain struct {
	Authenticators []Authenticator

	// DefaultDecision applies when every authenticator abstains. Yes
	// admits the caller as Anonymous; anything else rejects.
	DefaultDecision Decision
}

func (c *Chain) Authenticate(ctx context.Context, r *http.Request) Result {
	for _, a := range c.Authenticators {
		if res := a.Authenticate(ctx, r); res.Decision != Abstain {
			return res
		}
	}
	if c.DefaultDecision == Yes {
		return Result{Decision: Yes, Identity: Anonymous()}
	}
	return Result{Decision: No, Err: ErrUnauthenticated}
}

type identityKey struct{}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the identity stored by WithIdentity, or nil.
func IdentityFromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey{}).(*Identity)
	return id
}

// SubjectFromContext returns the subject of the caller in ctx, or "".
func SubjectFromContext(ctx context.Context) string {
	if id := IdentityFromContext(ctx); id != nil {
		return id.Subject
	}
	return ""
}
