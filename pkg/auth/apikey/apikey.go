// Package apikey authenticates static API keys sent in the X-API-Key
// header or as a bearer token. Only SHA-256 digests of the keys are held.
package apikey

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/rhuss/toolgate/pkg/auth"
)

// HeaderName carries a raw API key. It takes precedence over Authorization.
const HeaderName = "X-API-Key"

// RawKeyEntry binds a plaintext key to the identity it grants.
type RawKeyEntry struct {
	Key      string
	Identity auth.Identity
}

type entry struct {
	digest   [sha256.Size]byte
	identity auth.Identity
}

// Authenticator matches presented keys against the configured digests.
type Authenticator struct {
	entries []entry
}

// New hashes the configured keys. Entries with an empty key are dropped.
func New(keys []RawKeyEntry) *Authenticator {
	a := &Authenticator{entries: make([]entry, 0, len(keys))}
	for _, k := range keys {
		if k.Key == "" {
			continue
		}
		a.entries = append(a.entries, entry{digest: sha256.Sum256([]byte(k.Key)), identity: k.Identity})
	}
	return a
}

var errUnknownKey = errors.New("unknown api key")

// Authenticate abstains when no key is presented. Every configured digest
// is compared so the time taken does not reveal which entry matched.
func (a *Authenticator) Authenticate(_ context.Context, r *http.Request) auth.Result {
	key, presented := presentedKey(r)
	if !presented {
		return auth.Result{Decision: auth.Abstain}
	}
	if key == "" {
		return auth.Result{Decision: auth.No, Err: auth.ErrUnauthenticated}
	}

	digest := sha256.Sum256([]byte(key))
	var match *entry
	for i := range a.entries {
		if subtle.ConstantTimeCompare(digest[:], a.entries[i].digest[:]) == 1 && match == nil {
			match = &a.entries[i]
		}
	}
	if match == nil {
		return auth.Result{Decision: auth.No, Err: errUnknownKey}
	}

	id := match.identity
	id.Scopes = append([]string(nil), match.identity.Scopes...)
	return auth.Result{Decision: auth.Yes, Identity: &id}
}

func presentedKey(r *http.Request) (string, bool) {
	if v, ok := r.Header[http.CanonicalHeaderKey(HeaderName)]; ok && len(v) > 0 {
		return strings.TrimSpace(v[0]), true
	}
	scheme, token, found := strings.Cut(r.Header.Get("Authorization"), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	return strings.TrimSpace(token), true
}
