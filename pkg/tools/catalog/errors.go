package catalog

import "fmt"

// ErrorKind classifies a configuration problem.
type ErrorKind string

const (
	MissingField    ErrorKind = "missing_field"
	DuplicateName   ErrorKind = "duplicate_name"
	UnknownAuthType ErrorKind = "unknown_auth_type"
	UnknownKind     ErrorKind = "unknown_kind"
	InvalidValue    ErrorKind = "invalid_value"
	Parse           ErrorKind = "parse"
)

// ConfigError reports a problem with one provider entry, or with the
// document as a whole when Provider is empty.
type ConfigError struct {
	Kind     ErrorKind
	Provider string
	Field    string
	Detail   string
	Cause    error
}

func (e *ConfigError) Error() string {
	msg := "config"
	if e.Provider != "" {
		msg += fmt.Sprintf(" provider %q", e.Provider)
	}
	msg += ": " + string(e.Kind)
	if e.Field != "" {
		msg += " " + e.Field
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ConfigError) Unwrap() error { return e.Cause }
