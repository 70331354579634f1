// Package httptool provides the HTTP transport: a stateless adapter that
// turns one configured HTTP endpoint into one tool.
//
// Every request passes the destination AllowList before any network I/O.
// The list holds exact scheme://host[:port] origins; there is no
// substring or wildcard matching. Independently of the list contents,
// loopback, link-local, unspecified and cloud metadata destinations are
// always refused, both when the URL is checked and again when the dialer
// resolves the host. Redirect hops are checked the same way.
package httptool
