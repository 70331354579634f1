// Package credentials provides the authentication strategy registry used
// by the HTTP transport. A strategy mutates outbound request headers
// given a declarative Config. Secrets are never taken from the config
// itself: the config names environment variables, and strategies resolve
// them through a LookupFunc at call time.
//
// Built-in strategies: bearer_token, api_key_header (alias
// api_key_in_header), basic_auth, jwt_bearer and
// oauth_client_credentials. Adding a strategy is one Register call.
package credentials
