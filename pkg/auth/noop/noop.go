// Package noop admits every request as the anonymous identity. It backs
// auth type "none" so that rate limits and history ownership still see a
// subject.
package noop

import (
	"context"
	"net/http"

	"github.com/rhuss/toolgate/pkg/auth"
)

// Authenticator votes Yes for every request.
type Authenticator struct{}

func (Authenticator) Authenticate(context.Context, *http.Request) auth.Result {
	return auth.Result{Decision: auth.Yes, Identity: auth.Anonymous()}
}
