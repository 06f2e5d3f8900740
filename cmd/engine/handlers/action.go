package handlers

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/flowsync/flowsync/common/logger"
	"github.com/flowsync/flowsync/common/models"
)

// ActionHandler executes action nodes. config.actionType selects the
// behavior: "http" performs a real request, "email" and "default" are
// deterministic simulations. Transport failures return an error, which
// the worker treats as failed and retryable.
type ActionHandler struct {
	httpClient *http.Client
	log        *logger.Logger
}

// NewActionHandler creates an action handler with a bounded HTTP client.
// The handler owns its own transport timeout.
func NewActionHandler(log *logger.Logger) *ActionHandler {
	return &ActionHandler{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        log,
	}
}

func (h *ActionHandler) Type() models.NodeType { return models.NodeAction }

func (h *ActionHandler) Execute(ctx context.Context, job *models.WorkerJob) (map[string]any, error) {
	actionType := configString(job.Node.Config, "actionType", "default")

	switch actionType {
	case "http":
		return h.executeHTTP(ctx, job)
	case "email":
		return h.simulateEmail(job), nil
	default:
		return h.simulateDefault(job, actionType), nil
	}
}

func (h *ActionHandler) executeHTTP(ctx context.Context, job *models.WorkerJob) (map[string]any, error) {
	config := job.Node.Config
	env := jobEnv(job)

	url := configString(config, "url", "")
	if url == "" {
		return nil, NonRetryable(fmt.Errorf("missing or invalid url in config"))
	}
	url = env.Interpolate(url)

	method := strings.ToUpper(configString(config, "method", http.MethodGet))

	var body []byte
	switch payload := config["body"].(type) {
	case string:
		body = []byte(env.Interpolate(payload))
	case map[string]any:
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		body = b
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "flowsync/1.0")
	for key, val := range configMap(config, "headers") {
		if s, ok := val.(string); ok {
			req.Header.Set(key, env.Interpolate(s))
		}
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	// JSON vs text by content-type
	var parsed any
	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			parsed = string(respBody)
		}
	} else {
		parsed = string(respBody)
	}

	return map[string]any{
		"statusCode": resp.StatusCode,
		"body":       parsed,
	}, nil
}

func (h *ActionHandler) simulateEmail(job *models.WorkerJob) map[string]any {
	config := job.Node.Config
	env := jobEnv(job)

	to := env.Interpolate(configString(config, "to", "nobody@example.com"))
	subject := env.Interpolate(configString(config, "subject", ""))

	return map[string]any{
		"actionType": "email",
		"sent":       true,
		"to":         to,
		"subject":    subject,
		"messageId":  deterministicID(job, to, subject),
	}
}

func (h *ActionHandler) simulateDefault(job *models.WorkerJob, actionType string) map[string]any {
	return map[string]any{
		"actionType": actionType,
		"message":    fmt.Sprintf("action %s executed", job.Node.Label),
		"input":      job.Input,
	}
}

// deterministicID keeps simulated side effects stable across retries
func deterministicID(job *models.WorkerJob, parts ...string) string {
	h := sha256.New()
	h.Write([]byte(job.ExecutionID.String()))
	h.Write([]byte(job.Node.ID))
	for _, p := range parts {
		h.Write([]byte(p))
	}
	return fmt.Sprintf("%x", h.Sum(nil))[:16]
}
