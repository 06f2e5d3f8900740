package handlers

import (
	"context"
	"time"

	"github.com/flowsync/flowsync/common/models"
)

// WebhookResponseHandler builds the response body returned to a webhook
// caller: either the subset named by config.responseFields or every
// previous result, optionally annotated with _metadata.
type WebhookResponseHandler struct{}

func (h *WebhookResponseHandler) Type() models.NodeType { return models.NodeWebhookResponse }

func (h *WebhookResponseHandler) Execute(_ context.Context, job *models.WorkerJob) (map[string]any, error) {
	body := make(map[string]any)

	if fields := configStrings(job.Node.Config, "responseFields"); len(fields) > 0 {
		for _, nodeID := range fields {
			if result, ok := job.PreviousResults[nodeID]; ok {
				body[nodeID] = result
			}
		}
	} else {
		for nodeID, result := range job.PreviousResults {
			body[nodeID] = result
		}
	}

	if configBool(job.Node.Config, "includeMetadata") {
		body["_metadata"] = map[string]any{
			"executionId": job.ExecutionID.String(),
			"nodeId":      job.Node.ID,
			"respondedAt": time.Now().UTC().Format(time.RFC3339),
		}
	}

	return body, nil
}
