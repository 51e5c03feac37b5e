package transport

import (
	"context"
	"fmt"

	"github.com/cagekeep/broker/pkg/api"
)

// Recovery returns middleware that catches panics during dispatch and
// converts them to internal errors instead of crashing the transport.
func Recovery() Middleware {
	return func(next Executor) Executor {
		return recoveryExecutor{next}
	}
}

type recoveryExecutor struct {
	Executor
}

func (e recoveryExecutor) ExecuteSync(ctx context.Context, principalID string, req api.ExecutionRequest) (result *api.ExecutionResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("engine: panic during execution: %v", r)
		}
	}()
	return e.Executor.ExecuteSync(ctx, principalID, req)
}

func (e recoveryExecutor) SubmitAsync(ctx context.Context, principalID string, req api.ExecutionRequest) (job *api.Job, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("engine: panic during submission: %v", r)
		}
	}()
	return e.Executor.SubmitAsync(ctx, principalID, req)
}
