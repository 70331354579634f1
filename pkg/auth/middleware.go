package auth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/rhuss/toolgate/pkg/observability"
)

// DefaultBypassEndpoints are served without authentication.
var DefaultBypassEndpoints = []string{"/healthz", "/readyz", "/metrics"}

// Middleware authenticates every request not listed in bypass, applies the
// rate limiter when one is given, and stores the identity in the request
// context.
func Middleware(chain *Chain, limiter RateLimiter, bypass []string) func(http.Handler) http.Handler {
	skip := make(map[string]struct{}, len(bypass))
	for _, p := range bypass {
		skip[p] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := skip[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			id, ok := authenticate(w, r, chain)
			if !ok {
				return
			}

			if limiter != nil {
				if err := limiter.Allow(r.Context(), id); err != nil {
					slog.Warn("rate limit exceeded", "subject", id.Subject, "tier", id.ServiceTier)
					var rl *RateLimitError
					if errors.As(err, &rl) {
						secs := int(math.Ceil(rl.RetryAfter.Seconds()))
						w.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
					}
					reject(w, http.StatusTooManyRequests, "rate_limited", "too_many_requests", err.Error())
					return
				}
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// authenticate runs the chain and writes the rejection itself when the
// caller is not admitted.
func authenticate(w http.ResponseWriter, r *http.Request, chain *Chain) (*Identity, bool) {
	res := chain.Authenticate(r.Context(), r)
	switch {
	case res.Decision != Yes || res.Identity == nil:
		slog.Warn("authentication failed",
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
			"decision", res.Decision,
			"error", res.Err,
		)
		reject(w, http.StatusUnauthorized, "unauthenticated", "unauthenticated", ErrUnauthenticated.Error())
		return nil, false
	case res.Identity.Subject == "":
		slog.Error("authenticator returned an identity without subject", "path", r.URL.Path)
		writeError(w, http.StatusInternalServerError, "server_error", "internal authentication error")
		return nil, false
	}
	slog.Debug("authenticated", "subject", res.Identity.Subject, "path", r.URL.Path)
	return res.Identity, true
}

// RequireScope answers 403 unless the identity in the request context
// holds scope. It runs behind Middleware.
func RequireScope(scope string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := IdentityFromContext(r.Context()); !id.HasScope(scope) {
			slog.Warn("missing scope", "subject", SubjectFromContext(r.Context()), "scope", scope, "path", r.URL.Path)
			reject(w, http.StatusForbidden, "forbidden", "forbidden", ErrForbidden.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}

func reject(w http.ResponseWriter, status int, reason, errType, message string) {
	observability.AuthRejectedTotal.WithLabelValues(reason).Inc()
	writeError(w, status, errType, message)
}

func writeError(w http.ResponseWriter, status int, errType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"type": errType, "message": message},
	})
}
