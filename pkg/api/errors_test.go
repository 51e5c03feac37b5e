package api

import "testing"

func TestErrorConstructors(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		kind ErrorKind
	}{
		{"unauthorized", NewUnauthorizedError("no token"), ErrorKindUnauthorized},
		{"forbidden", NewForbiddenError("nope"), ErrorKindForbidden},
		{"rate_limited", NewRateLimitedError("slow down"), ErrorKindRateLimited},
		{"rejected", NewRejectedError("bad code"), ErrorKindRejected},
		{"busy", NewBusyError("exec lock held"), ErrorKindBusy},
		{"queue_full", NewQueueFullError("queue at capacity"), ErrorKindQueueFull},
		{"timeout", NewTimeoutError("deadline exceeded"), ErrorKindTimeout},
		{"killed", NewKilledError("oom"), ErrorKindKilled},
		{"not_found", NewNotFoundError("no such job"), ErrorKindNotFound},
		{"runtime_error", NewRuntimeError("exit 1"), ErrorKindRuntimeError},
		{"internal", NewInternalError("boom"), ErrorKindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Kind != tt.kind {
				t.Errorf("Kind = %q, want %q", tt.err.Kind, tt.kind)
			}
			if tt.err.Error() == "" {
				t.Error("Error() returned empty string")
			}
		})
	}
}

func TestInvalidRequestErrorIncludesParam(t *testing.T) {
	err := NewInvalidRequestError("language", "unsupported")
	if err.Param != "language" {
		t.Errorf("Param = %q, want \"language\"", err.Param)
	}
	want := "invalid_request: unsupported (param: language)"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
