package transport

import (
	"encoding/json"
	"net/http"

	"github.com/cagekeep/broker/pkg/api"
)

// HTTPStatusFromError maps an api.Error's kind to the corresponding HTTP
// status code. RateLimited/Rejected/Busy/QueueFull/Timeout/Killed never
// reach here in normal operation — per spec §7 those surface as a 200 OK
// execution result with Status carrying the kind instead. This mapping
// exists for the kinds that DO surface as transport-layer errors
// (Unauthorized, Forbidden, NotFound, Invalid, RuntimeError, Internal) plus
// a defensive fallback for the others.
func HTTPStatusFromError(err *api.Error) int {
	switch err.Kind {
	case api.ErrorKindUnauthorized:
		return http.StatusUnauthorized
	case api.ErrorKindForbidden:
		return http.StatusForbidden
	case api.ErrorKindNotFound:
		return http.StatusNotFound
	case api.ErrorKindInvalid:
		return http.StatusBadRequest
	case api.ErrorKindRateLimited:
		return http.StatusTooManyRequests
	case api.ErrorKindQueueFull:
		return http.StatusServiceUnavailable
	case api.ErrorKindBusy:
		return http.StatusConflict
	case api.ErrorKindTimeout:
		return http.StatusGatewayTimeout
	case api.ErrorKindRejected, api.ErrorKindKilled:
		return http.StatusUnprocessableEntity
	case api.ErrorKindRuntimeError, api.ErrorKindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// WriteErrorResponse writes a JSON error response using api.ErrorResponse.
func WriteErrorResponse(w http.ResponseWriter, apiErr *api.Error, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(api.ErrorResponse{Error: apiErr})
}

// WriteAPIError writes an api.Error response, deriving the HTTP status
// code from its kind.
func WriteAPIError(w http.ResponseWriter, apiErr *api.Error) {
	WriteErrorResponse(w, apiErr, HTTPStatusFromError(apiErr))
}
