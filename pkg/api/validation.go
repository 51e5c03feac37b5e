package api

import "fmt"

const (
	maxCodeBytes      = 1 << 20 // 1 MiB
	maxTimeoutSeconds = 600
	maxFilesPerRequest = 32
	maxFileBytes      = 10 << 20 // 10 MiB (decoded)
)

// ValidateExecutionRequest checks an ExecutionRequest for structural
// validity before it reaches the screener or session manager.
func ValidateExecutionRequest(req *ExecutionRequest) *Error {
	if req.Code == "" {
		return NewInvalidRequestError("code", "code is required")
	}
	if len(req.Code) > maxCodeBytes {
		return NewInvalidRequestError("code", fmt.Sprintf("code exceeds maximum size of %d bytes", maxCodeBytes))
	}
	if _, ok := Launcher(req.Language); !ok {
		return NewInvalidRequestError("language", fmt.Sprintf("unsupported language %q", req.Language))
	}
	if req.Persistent && !SupportsPersistent(req.Language) {
		return NewInvalidRequestError("persistent", fmt.Sprintf("language %q does not support persistent execution", req.Language))
	}
	if req.TimeoutSeconds < 0 || req.TimeoutSeconds > maxTimeoutSeconds {
		return NewInvalidRequestError("timeout_seconds", fmt.Sprintf("timeout_seconds must be between 0 and %d", maxTimeoutSeconds))
	}
	if len(req.Files) > maxFilesPerRequest {
		return NewInvalidRequestError("files", fmt.Sprintf("at most %d files may be uploaded per request", maxFilesPerRequest))
	}
	for name, content := range req.Files {
		if name == "" {
			return NewInvalidRequestError("files", "file name must not be empty")
		}
		if len(content) > maxFileBytes*4/3+4 { // rough base64 expansion bound
			return NewInvalidRequestError("files", fmt.Sprintf("file %q exceeds maximum size", name))
		}
	}
	return nil
}

// EffectiveTimeout returns the request timeout, applying defaultSeconds
// when the request left it unset.
func EffectiveTimeout(req *ExecutionRequest, defaultSeconds int) int {
	if req.TimeoutSeconds > 0 {
		return req.TimeoutSeconds
	}
	return defaultSeconds
}
