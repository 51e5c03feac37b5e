package mcp

import (
	"context"
	"strings"
	"testing"

	gosdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/cagekeep/broker/pkg/api"
	"github.com/cagekeep/broker/pkg/auth"
	"github.com/cagekeep/broker/pkg/transport"
)

// fakeExecutor is a scriptable transport.Executor stub for the "execute"
// tool's handler. Only ExecuteSync is exercised here; every other method
// panics if called, since nothing in this package should reach them.
type fakeExecutor struct {
	transport.Executor
	executeSyncFn func(ctx context.Context, principalID string, req api.ExecutionRequest) (*api.ExecutionResult, error)
}

func (f *fakeExecutor) ExecuteSync(ctx context.Context, principalID string, req api.ExecutionRequest) (*api.ExecutionResult, error) {
	return f.executeSyncFn(ctx, principalID, req)
}

// connectTestClient starts server over an in-memory transport and
// returns a connected client session plus a cleanup func.
func connectTestClient(t *testing.T, ctx context.Context, server *gosdkmcp.Server) *gosdkmcp.ClientSession {
	t.Helper()

	serverTransport, clientTransport := gosdkmcp.NewInMemoryTransports()
	go func() {
		_ = server.Run(ctx, serverTransport)
	}()

	client := gosdkmcp.NewClient(&gosdkmcp.Implementation{Name: "test-client", Version: "1.0.0"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		t.Fatalf("client connect failed: %v", err)
	}
	t.Cleanup(func() { _ = session.Close() })
	return session
}

func TestExecuteToolSuccess(t *testing.T) {
	exec := &fakeExecutor{
		executeSyncFn: func(ctx context.Context, principalID string, req api.ExecutionRequest) (*api.ExecutionResult, error) {
			if principalID != "alice" {
				t.Errorf("principalID = %q, want alice", principalID)
			}
			if req.Language != api.LanguagePython {
				t.Errorf("language = %q, want python", req.Language)
			}
			return &api.ExecutionResult{Status: api.ExecutionStatusSuccess, Stdout: "3\n", ExitCode: 0}, nil
		},
	}
	server := newServer(exec)

	ctx := auth.SetIdentity(context.Background(), &auth.Identity{Subject: "alice"})
	session := connectTestClient(t, ctx, server)

	result, err := session.CallTool(ctx, &gosdkmcp.CallToolParams{
		Name:      "execute",
		Arguments: map[string]any{"language": "python", "code": "print(1+2)"},
	})
	if err != nil {
		t.Fatalf("CallTool error: %v", err)
	}
	if result.IsError {
		t.Fatalf("result.IsError = true, content = %+v", result.Content)
	}

	text, ok := result.Content[0].(*gosdkmcp.TextContent)
	if !ok {
		t.Fatalf("content[0] is not TextContent: %T", result.Content[0])
	}
	if !strings.Contains(text.Text, "3\n") {
		t.Errorf("text = %q, want it to contain stdout", text.Text)
	}
}

func TestExecuteToolRequiresIdentity(t *testing.T) {
	exec := &fakeExecutor{
		executeSyncFn: func(ctx context.Context, principalID string, req api.ExecutionRequest) (*api.ExecutionResult, error) {
			t.Fatal("ExecuteSync should not be called without an identity")
			return nil, nil
		},
	}
	server := newServer(exec)

	ctx := context.Background()
	session := connectTestClient(t, ctx, server)

	result, err := session.CallTool(ctx, &gosdkmcp.CallToolParams{
		Name:      "execute",
		Arguments: map[string]any{"language": "python", "code": "1"},
	})
	if err != nil {
		t.Fatalf("CallTool error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected IsError = true for missing identity")
	}
}

func TestExecuteToolValidationError(t *testing.T) {
	exec := &fakeExecutor{
		executeSyncFn: func(ctx context.Context, principalID string, req api.ExecutionRequest) (*api.ExecutionResult, error) {
			t.Fatal("ExecuteSync should not be called for an invalid request")
			return nil, nil
		},
	}
	server := newServer(exec)

	ctx := auth.SetIdentity(context.Background(), &auth.Identity{Subject: "alice"})
	session := connectTestClient(t, ctx, server)

	result, err := session.CallTool(ctx, &gosdkmcp.CallToolParams{
		Name:      "execute",
		Arguments: map[string]any{"language": "python", "code": ""},
	})
	if err != nil {
		t.Fatalf("CallTool error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected IsError = true for empty code")
	}
}

func TestExecuteToolNonSuccessStatusMarkedAsError(t *testing.T) {
	exec := &fakeExecutor{
		executeSyncFn: func(ctx context.Context, principalID string, req api.ExecutionRequest) (*api.ExecutionResult, error) {
			return &api.ExecutionResult{Status: api.ExecutionStatusTimeout, ExitCode: -1}, nil
		},
	}
	server := newServer(exec)

	ctx := auth.SetIdentity(context.Background(), &auth.Identity{Subject: "alice"})
	session := connectTestClient(t, ctx, server)

	result, err := session.CallTool(ctx, &gosdkmcp.CallToolParams{
		Name:      "execute",
		Arguments: map[string]any{"language": "python", "code": "while True: pass"},
	})
	if err != nil {
		t.Fatalf("CallTool error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected IsError = true for a timeout status")
	}
}
