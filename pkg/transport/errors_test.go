package transport

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cagekeep/broker/pkg/api"
)

func TestHTTPStatusFromError(t *testing.T) {
	tests := []struct {
		name       string
		kind       api.ErrorKind
		wantStatus int
	}{
		{"unauthorized -> 401", api.ErrorKindUnauthorized, http.StatusUnauthorized},
		{"forbidden -> 403", api.ErrorKindForbidden, http.StatusForbidden},
		{"not_found -> 404", api.ErrorKindNotFound, http.StatusNotFound},
		{"invalid_request -> 400", api.ErrorKindInvalid, http.StatusBadRequest},
		{"rate_limited -> 429", api.ErrorKindRateLimited, http.StatusTooManyRequests},
		{"queue_full -> 503", api.ErrorKindQueueFull, http.StatusServiceUnavailable},
		{"busy -> 409", api.ErrorKindBusy, http.StatusConflict},
		{"timeout -> 504", api.ErrorKindTimeout, http.StatusGatewayTimeout},
		{"rejected -> 422", api.ErrorKindRejected, http.StatusUnprocessableEntity},
		{"killed -> 422", api.ErrorKindKilled, http.StatusUnprocessableEntity},
		{"runtime_error -> 500", api.ErrorKindRuntimeError, http.StatusInternalServerError},
		{"internal -> 500", api.ErrorKindInternal, http.StatusInternalServerError},
		{"unknown kind -> 500", api.ErrorKind("unknown"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := &api.Error{Kind: tt.kind, Message: "test"}
			got := HTTPStatusFromError(err)
			if got != tt.wantStatus {
				t.Errorf("HTTPStatusFromError(%q) = %d, want %d", tt.kind, got, tt.wantStatus)
			}
		})
	}
}

func TestWriteErrorResponse(t *testing.T) {
	apiErr := api.NewInvalidRequestError("language", "is required")
	rec := httptest.NewRecorder()

	WriteErrorResponse(rec, apiErr, http.StatusBadRequest)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status code = %d, want %d", rec.Code, http.StatusBadRequest)
	}

	ct := rec.Header().Get("Content-Type")
	if ct != "application/json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/json")
	}

	var resp api.ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if resp.Error.Kind != api.ErrorKindInvalid {
		t.Errorf("error kind = %q, want %q", resp.Error.Kind, api.ErrorKindInvalid)
	}
	if resp.Error.Param != "language" {
		t.Errorf("error param = %q, want %q", resp.Error.Param, "language")
	}
	if resp.Error.Message != "is required" {
		t.Errorf("error message = %q, want %q", resp.Error.Message, "is required")
	}
}

func TestWriteAPIError(t *testing.T) {
	tests := []struct {
		name       string
		apiErr     *api.Error
		wantStatus int
	}{
		{"invalid_request", api.NewInvalidRequestError("language", "is required"), http.StatusBadRequest},
		{"not_found", api.NewNotFoundError("replay record not found"), http.StatusNotFound},
		{"internal", api.NewInternalError("internal failure"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteAPIError(rec, tt.apiErr)

			if rec.Code != tt.wantStatus {
				t.Errorf("status code = %d, want %d", rec.Code, tt.wantStatus)
			}

			var resp api.ErrorResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}

			if resp.Error.Kind != tt.apiErr.Kind {
				t.Errorf("error kind = %q, want %q", resp.Error.Kind, tt.apiErr.Kind)
			}
		})
	}
}
