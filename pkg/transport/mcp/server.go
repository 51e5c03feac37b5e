// Package mcp exposes the broker's execution API as an MCP server, so
// an agent or LLM host can run code in a sandbox as a tool call instead
// of a plain HTTP request.
package mcp

import (
	"context"
	"fmt"
	"net/http"

	gosdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/cagekeep/broker/pkg/api"
	"github.com/cagekeep/broker/pkg/auth"
	"github.com/cagekeep/broker/pkg/transport"
)

// executeInput is the "execute" tool's argument schema.
type executeInput struct {
	Language       string            `json:"language" jsonschema_description:"Language to run the code in (python, javascript, bash, ...)"`
	Code           string            `json:"code" jsonschema_description:"Source code to execute"`
	TimeoutSeconds int               `json:"timeout_seconds,omitempty" jsonschema_description:"Execution timeout in seconds"`
	WorkingDir     string            `json:"working_dir,omitempty" jsonschema_description:"Working directory relative to the session workspace"`
	Env            map[string]string `json:"env,omitempty" jsonschema_description:"Environment variables for the execution"`
	Persistent     bool              `json:"persistent,omitempty" jsonschema_description:"Run against the session's persistent kernel instead of a one-shot process"`
}

// NewHandler builds the broker's MCP surface: a single "execute" tool
// backed by executor, served over streamable HTTP at the returned
// handler's root. The caller mounts it under whatever path it chooses
// (spec's external surface expects /mcp).
//
// Like the HTTP adapter, this handler never authenticates requests
// itself: it reads the caller's principal from auth.IdentityFromContext,
// assuming auth.Middleware already populated the request context before
// the MCP transport's ServeHTTP runs.
func NewHandler(executor transport.Executor) http.Handler {
	server := newServer(executor)
	return gosdkmcp.NewStreamableHTTPHandler(func(r *http.Request) *gosdkmcp.Server {
		return server
	}, nil)
}

// newServer builds the underlying MCP server with its tools registered,
// separate from the HTTP transport so tests can drive it over an
// in-memory transport instead.
func newServer(executor transport.Executor) *gosdkmcp.Server {
	server := gosdkmcp.NewServer(
		&gosdkmcp.Implementation{Name: "cagekeep-broker", Version: "v1.0.0"},
		nil,
	)

	gosdkmcp.AddTool(server, &gosdkmcp.Tool{
		Name:        "execute",
		Description: "Execute code in the caller's sandbox and return stdout, stderr, and exit status",
	}, func(ctx context.Context, _ *gosdkmcp.CallToolRequest, input executeInput) (*gosdkmcp.CallToolResult, struct{}, error) {
		return handleExecute(ctx, executor, input)
	})

	return server
}

func handleExecute(ctx context.Context, executor transport.Executor, input executeInput) (*gosdkmcp.CallToolResult, struct{}, error) {
	identity := auth.IdentityFromContext(ctx)
	if identity == nil || identity.Subject == "" {
		return errorResult("no authenticated principal for this MCP session"), struct{}{}, nil
	}

	req := api.ExecutionRequest{
		Language:       api.Language(input.Language),
		Code:           input.Code,
		TimeoutSeconds: input.TimeoutSeconds,
		WorkingDir:     input.WorkingDir,
		Env:            input.Env,
		Persistent:     input.Persistent,
	}
	if apiErr := api.ValidateExecutionRequest(&req); apiErr != nil {
		return errorResult(apiErr.Message), struct{}{}, nil
	}

	result, err := executor.ExecuteSync(ctx, identity.Subject, req)
	if err != nil {
		return errorResult(err.Error()), struct{}{}, nil
	}

	return &gosdkmcp.CallToolResult{
		Content: []gosdkmcp.Content{
			&gosdkmcp.TextContent{Text: formatExecutionResult(result)},
		},
		IsError: result.Status != api.ExecutionStatusSuccess,
	}, struct{}{}, nil
}

func formatExecutionResult(r *api.ExecutionResult) string {
	out := fmt.Sprintf("status: %s\nexit_code: %d\n", r.Status, r.ExitCode)
	if r.Stdout != "" {
		out += fmt.Sprintf("stdout:\n%s\n", r.Stdout)
	}
	if r.Stderr != "" {
		out += fmt.Sprintf("stderr:\n%s\n", r.Stderr)
	}
	if r.RejectReason != "" {
		out += fmt.Sprintf("reject_reason: %s\n", r.RejectReason)
	}
	return out
}

func errorResult(msg string) *gosdkmcp.CallToolResult {
	return &gosdkmcp.CallToolResult{
		Content: []gosdkmcp.Content{&gosdkmcp.TextContent{Text: msg}},
		IsError: true,
	}
}
