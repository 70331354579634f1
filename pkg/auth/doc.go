// Package auth decides who is calling the toolgate HTTP surface.
//
// Authenticators vote Yes, No or Abstain on each request and a Chain asks
// them in order; the first non-abstaining vote decides. Middleware stores
// the admitted Identity in the request context, where history recording
// reads its subject and RequireScope checks it on admin routes. An
// optional RateLimiter caps requests per subject and service tier.
package auth
