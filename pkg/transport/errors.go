package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rhuss/toolgate/pkg/tools"
)

// ErrorBody is the payload of every error response.
type ErrorBody struct {
	Type     string `json:"type"`
	Message  string `json:"message"`
	Tool     string `json:"tool,omitempty"`
	Provider string `json:"provider,omitempty"`
	Status   int    `json:"upstream_status,omitempty"`
}

// ErrorResponse wraps ErrorBody as {"error": {...}}.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// Error types for failures raised by the transport itself.
const (
	ErrorTypeInvalidRequest = "invalid_request"
	ErrorTypeNotFound       = "not_found"
	ErrorTypeCanceled       = "canceled"
	ErrorTypeServerError    = "server_error"
)

// StatusClientClosedRequest is reported when the caller went away before
// the invocation finished.
const StatusClientClosedRequest = 499

// HTTPStatusFromKind maps an invocation error kind to the HTTP status
// reported to the caller.
func HTTPStatusFromKind(kind tools.InvokeErrorKind) int {
	switch kind {
	case tools.NotFound:
		return http.StatusNotFound
	case tools.ValidationFailed:
		return http.StatusBadRequest
	case tools.ProviderUnavailable:
		return http.StatusServiceUnavailable
	case tools.Timeout:
		return http.StatusGatewayTimeout
	case tools.DestinationDenied:
		return http.StatusForbidden
	case tools.AuthFailed, tools.HTTPStatus, tools.ProtocolError, tools.RemoteError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// WriteErrorResponse writes a JSON error response with the given status.
func WriteErrorResponse(w http.ResponseWriter, body ErrorBody, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{Error: body})
}

// WriteInvokeError writes err, deriving the HTTP status from its kind.
// Context errors from caller cancellation map to 499.
func WriteInvokeError(w http.ResponseWriter, err error) {
	var ie *tools.InvokeError
	if errors.As(err, &ie) {
		WriteErrorResponse(w, ErrorBody{
			Type:     string(ie.Kind),
			Message:  ie.Error(),
			Tool:     ie.Tool,
			Provider: ie.Provider,
			Status:   ie.Status,
		}, HTTPStatusFromKind(ie.Kind))
		return
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		WriteErrorResponse(w, ErrorBody{Type: ErrorTypeCanceled, Message: err.Error()}, StatusClientClosedRequest)
		return
	}
	WriteErrorResponse(w, ErrorBody{Type: ErrorTypeServerError, Message: err.Error()}, http.StatusInternalServerError)
}
