package transport

import (
	"context"
	"crypto/rand"
	"encoding/hex"

	"github.com/cagekeep/broker/pkg/api"
)

// RequestID returns middleware that assigns a unique request ID to each
// dispatch. If the incoming context already carries a request ID (set by
// the HTTP adapter from the X-Request-ID header), that value is used.
// Otherwise a new one is generated. The ID is retrievable downstream via
// RequestIDFromContext, most usefully by the Logging middleware.
func RequestID() Middleware {
	return func(next Executor) Executor {
		return requestIDExecutor{next}
	}
}

type requestIDExecutor struct {
	Executor
}

func (e requestIDExecutor) ExecuteSync(ctx context.Context, principalID string, req api.ExecutionRequest) (*api.ExecutionResult, error) {
	return e.Executor.ExecuteSync(ensureRequestID(ctx), principalID, req)
}

func (e requestIDExecutor) SubmitAsync(ctx context.Context, principalID string, req api.ExecutionRequest) (*api.Job, error) {
	return e.Executor.SubmitAsync(ensureRequestID(ctx), principalID, req)
}

func ensureRequestID(ctx context.Context) context.Context {
	if RequestIDFromContext(ctx) != "" {
		return ctx
	}
	return ContextWithRequestID(ctx, generateRequestID())
}

// generateRequestID creates a new unique request ID as a hex string.
func generateRequestID() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}
