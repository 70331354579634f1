package credentials

import "fmt"

// AuthErrorKind classifies an authentication failure.
type AuthErrorKind string

const (
	MissingSecret AuthErrorKind = "missing_secret"
	InvalidConfig AuthErrorKind = "invalid_config"
	UnknownType   AuthErrorKind = "unknown_type"
	TokenFailed   AuthErrorKind = "token_failed"
)

// AuthError is returned by strategies. It is non-fatal to the process:
// the HTTP transport logs it and fails the single call.
type AuthError struct {
	Kind     AuthErrorKind
	Strategy string

	// Variable is the environment variable that was missing.
	Variable string
	Cause    error
}

func (e *AuthError) Error() string {
	switch e.Kind {
	case MissingSecret:
		return fmt.Sprintf("auth %s: secret variable %s is not set", e.Strategy, e.Variable)
	case UnknownType:
		return fmt.Sprintf("auth type %q is not registered", e.Strategy)
	}
	if e.Cause != nil {
		return fmt.Sprintf("auth %s: %s: %v", e.Strategy, e.Kind, e.Cause)
	}
	return fmt.Sprintf("auth %s: %s", e.Strategy, e.Kind)
}

func (e *AuthError) Unwrap() error { return e.Cause }
