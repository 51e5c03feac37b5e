package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// AgentClient calls a sandbox agent's REST API to execute code and check
// health. The agent enforces its own per-request timeout; the HTTP client
// timeout here is a generous outer bound against a wedged agent.
type AgentClient struct {
	httpClient *http.Client
}

// NewAgentClient creates a sandbox agent HTTP client.
func NewAgentClient() *AgentClient {
	return &AgentClient{
		httpClient: &http.Client{
			Timeout: 630 * time.Second, // above the max allowed execution timeout (600s)
		},
	}
}

// Execute sends an execution request to the sandbox agent at agentURL.
func (c *AgentClient) Execute(ctx context.Context, agentURL string, req *AgentExecRequest) (*AgentExecResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, agentURL+"/execute", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("agent request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("sandbox agent at capacity (HTTP 429)")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sandbox agent returned HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	var execResp AgentExecResponse
	if err := json.Unmarshal(respBody, &execResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return &execResp, nil
}

// Health checks whether the sandbox agent at agentURL is reachable.
func (c *AgentClient) Health(ctx context.Context, agentURL string) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, agentURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("health request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("sandbox agent unhealthy: HTTP %d", resp.StatusCode)
	}
	return nil
}
