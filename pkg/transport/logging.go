package transport

import (
	"context"
	"log/slog"
	"time"

	"github.com/cagekeep/broker/pkg/api"
)

// Logging returns middleware that emits structured log entries for each
// execution and submission: principal, language, duration, request ID
// (from context), and outcome.
func Logging(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next Executor) Executor {
		return loggingExecutor{Executor: next, logger: logger}
	}
}

type loggingExecutor struct {
	Executor
	logger *slog.Logger
}

func (e loggingExecutor) ExecuteSync(ctx context.Context, principalID string, req api.ExecutionRequest) (*api.ExecutionResult, error) {
	start := time.Now()
	result, err := e.Executor.ExecuteSync(ctx, principalID, req)

	attrs := []slog.Attr{
		slog.String("request_id", RequestIDFromContext(ctx)),
		slog.String("principal_id", principalID),
		slog.String("language", string(req.Language)),
		slog.Duration("duration", time.Since(start)),
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
		e.logger.LogAttrs(ctx, slog.LevelError, "execute failed", attrs...)
	} else {
		attrs = append(attrs, slog.String("status", string(result.Status)))
		e.logger.LogAttrs(ctx, slog.LevelInfo, "execute completed", attrs...)
	}
	return result, err
}

func (e loggingExecutor) SubmitAsync(ctx context.Context, principalID string, req api.ExecutionRequest) (*api.Job, error) {
	start := time.Now()
	job, err := e.Executor.SubmitAsync(ctx, principalID, req)

	attrs := []slog.Attr{
		slog.String("request_id", RequestIDFromContext(ctx)),
		slog.String("principal_id", principalID),
		slog.String("language", string(req.Language)),
		slog.Duration("duration", time.Since(start)),
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
		e.logger.LogAttrs(ctx, slog.LevelError, "submit async failed", attrs...)
	} else {
		e.logger.LogAttrs(ctx, slog.LevelInfo, "submit async accepted", attrs...)
	}
	return job, err
}
