package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rhuss/toolgate/pkg/tools"
)

func TestHTTPStatusFromKind(t *testing.T) {
	tests := []struct {
		kind       tools.InvokeErrorKind
		wantStatus int
	}{
		{tools.NotFound, http.StatusNotFound},
		{tools.ValidationFailed, http.StatusBadRequest},
		{tools.ProviderUnavailable, http.StatusServiceUnavailable},
		{tools.Timeout, http.StatusGatewayTimeout},
		{tools.DestinationDenied, http.StatusForbidden},
		{tools.AuthFailed, http.StatusBadGateway},
		{tools.HTTPStatus, http.StatusBadGateway},
		{tools.ProtocolError, http.StatusBadGateway},
		{tools.RemoteError, http.StatusBadGateway},
		{tools.InvokeErrorKind("unknown"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			if got := HTTPStatusFromKind(tt.kind); got != tt.wantStatus {
				t.Errorf("HTTPStatusFromKind(%q) = %d, want %d", tt.kind, got, tt.wantStatus)
			}
		})
	}
}

func TestWriteInvokeError(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		wantStatus   int
		wantType     string
		wantProvider string
		wantUpstream int
	}{
		{
			name: "wrapped invoke error",
			err: fmt.Errorf("call: %w", &tools.InvokeError{
				Kind: tools.HTTPStatus, Tool: "fetch", Provider: "remote", Status: 503, Message: "service unavailable",
			}),
			wantStatus:   http.StatusBadGateway,
			wantType:     "http_status",
			wantProvider: "remote",
			wantUpstream: 503,
		},
		{
			name:       "denied destination",
			err:        tools.NewInvokeError(tools.DestinationDenied, "10.0.0.5 is not allowed"),
			wantStatus: http.StatusForbidden,
			wantType:   "destination_denied",
		},
		{
			name:       "caller canceled",
			err:        fmt.Errorf("invoke echo: %w", context.Canceled),
			wantStatus: StatusClientClosedRequest,
			wantType:   ErrorTypeCanceled,
		},
		{
			name:       "unclassified",
			err:        fmt.Errorf("boom"),
			wantStatus: http.StatusInternalServerError,
			wantType:   ErrorTypeServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteInvokeError(rec, tt.err)

			if rec.Code != tt.wantStatus {
				t.Errorf("status code = %d, want %d", rec.Code, tt.wantStatus)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q, want application/json", ct)
			}

			var resp ErrorResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if resp.Error.Type != tt.wantType {
				t.Errorf("error type = %q, want %q", resp.Error.Type, tt.wantType)
			}
			if resp.Error.Provider != tt.wantProvider {
				t.Errorf("error provider = %q, want %q", resp.Error.Provider, tt.wantProvider)
			}
			if resp.Error.Status != tt.wantUpstream {
				t.Errorf("upstream status = %d, want %d", resp.Error.Status, tt.wantUpstream)
			}
		})
	}
}
