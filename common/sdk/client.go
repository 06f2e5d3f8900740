// Package sdk is the Go client for the engine's HTTP API. It mirrors
// the server's wire types from common/models, so responses decode
// without a parallel type hierarchy.
package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/flowsync/flowsync/common/models"
)

// Client talks to one engine instance
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client for the given base URL (scheme and host, no
// trailing slash)
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 6 * time.Minute},
	}
}

// NewWithHTTPClient creates a client over a caller-owned http.Client.
// The transport timeout must exceed the engine's synchronous execution
// deadline or Execute calls will be cut short client-side.
func NewWithHTTPClient(baseURL string, httpClient *http.Client) *Client {
	return &Client{baseURL: baseURL, http: httpClient}
}

// APIError is a non-2xx response from the engine
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("engine returned %d: %s", e.StatusCode, e.Message)
}

// CreateWorkflowRequest is the body for CreateWorkflow
type CreateWorkflowRequest struct {
	Name       string                    `json:"name"`
	Definition models.WorkflowDefinition `json:"definition"`
	Status     models.WorkflowStatus     `json:"status,omitempty"`
}

// CreateWorkflow validates and stores a new workflow as version 1
func (c *Client) CreateWorkflow(ctx context.Context, req CreateWorkflowRequest) (*models.Workflow, error) {
	var wf models.Workflow
	if err := c.do(ctx, http.MethodPost, "/api/v1/workflows", req, &wf); err != nil {
		return nil, err
	}
	return &wf, nil
}

// GetWorkflow returns the latest version of a workflow
func (c *Client) GetWorkflow(ctx context.Context, id uuid.UUID) (*models.Workflow, error) {
	var wf models.Workflow
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/v1/workflows/%s", id), nil, &wf); err != nil {
		return nil, err
	}
	return &wf, nil
}

// PatchWorkflow applies an RFC 6902 patch document to the latest
// definition, creating a new version
func (c *Client) PatchWorkflow(ctx context.Context, id uuid.UUID, patch []byte) (*models.Workflow, error) {
	var wf models.Workflow
	if err := c.doRaw(ctx, http.MethodPatch, fmt.Sprintf("/api/v1/workflows/%s", id), patch, &wf); err != nil {
		return nil, err
	}
	return &wf, nil
}

// SetWorkflowStatus moves a workflow through draft/active/archived
func (c *Client) SetWorkflowStatus(ctx context.Context, id uuid.UUID, status models.WorkflowStatus) error {
	body := map[string]any{"status": status}
	return c.do(ctx, http.MethodPut, fmt.Sprintf("/api/v1/workflows/%s/status", id), body, nil)
}

// ExecuteRequest is the body for Execute
type ExecuteRequest struct {
	Input map[string]any `json:"input,omitempty"`
	Async bool           `json:"async,omitempty"`
}

// Execute runs the latest active version of a workflow. Synchronous
// calls block until the execution settles or the engine's await
// deadline elapses; the returned execution may still be running in
// that case.
func (c *Client) Execute(ctx context.Context, workflowID uuid.UUID, req ExecuteRequest) (*models.Execution, error) {
	var execution models.Execution
	path := fmt.Sprintf("/api/v1/workflows/%s/execute", workflowID)
	if err := c.do(ctx, http.MethodPost, path, req, &execution); err != nil {
		return nil, err
	}
	return &execution, nil
}

// GetExecution returns an execution with its current status and output
func (c *Client) GetExecution(ctx context.Context, id uuid.UUID) (*models.Execution, error) {
	var execution models.Execution
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/v1/executions/%s", id), nil, &execution); err != nil {
		return nil, err
	}
	return &execution, nil
}

// ListSteps returns all step rows of an execution
func (c *Client) ListSteps(ctx context.Context, executionID uuid.UUID) ([]*models.StepExecution, error) {
	var resp struct {
		Steps []*models.StepExecution `json:"steps"`
	}
	path := fmt.Sprintf("/api/v1/executions/%s/steps", executionID)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Steps, nil
}

// CancelExecution stops a running execution
func (c *Client) CancelExecution(ctx context.Context, id uuid.UUID) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/executions/%s/cancel", id), nil, nil)
}

// CreateTriggerRequest is the body for CreateTrigger
type CreateTriggerRequest struct {
	WorkflowID uuid.UUID            `json:"workflow_id"`
	Type       models.TriggerType   `json:"type"`
	Config     models.TriggerConfig `json:"config"`
	Enabled    *bool                `json:"enabled,omitempty"`
}

// CreateTrigger registers a trigger for a workflow
func (c *Client) CreateTrigger(ctx context.Context, req CreateTriggerRequest) (*models.Trigger, error) {
	var trigger models.Trigger
	if err := c.do(ctx, http.MethodPost, "/api/v1/triggers", req, &trigger); err != nil {
		return nil, err
	}
	return &trigger, nil
}

// FireWebhook delivers a payload to a webhook trigger; the execution
// runs asynchronously and the returned ID identifies the workflow, not
// the run
func (c *Client) FireWebhook(ctx context.Context, triggerID uuid.UUID, payload map[string]any) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/webhooks/%s", triggerID), payload, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var encoded []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		encoded = b
	}
	return c.doRaw(ctx, method, path, encoded, out)
}

func (c *Client) doRaw(ctx context.Context, method, path string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if userID, ok := UserIDFrom(ctx); ok {
		req.Header.Set("X-User-ID", userID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		msg := string(raw)
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			msg = apiErr.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
