package handlers

import (
	"context"
	"time"

	"github.com/flowsync/flowsync/common/models"
)

// DelayHandler sleeps for config.delayMs (capped at MaxDelay) or until
// config.scheduledTime (absolute, RFC 3339). The sleep is context-aware
// so shutdown does not hang on long delays.
type DelayHandler struct {
	MaxDelay time.Duration
}

func (h *DelayHandler) Type() models.NodeType { return models.NodeDelay }

func (h *DelayHandler) Execute(ctx context.Context, job *models.WorkerJob) (map[string]any, error) {
	delay := h.resolveDelay(job.Node.Config)

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return map[string]any{
		"delayedMs": delay.Milliseconds(),
	}, nil
}

func (h *DelayHandler) resolveDelay(config map[string]any) time.Duration {
	if scheduled := configString(config, "scheduledTime", ""); scheduled != "" {
		if t, err := time.Parse(time.RFC3339, scheduled); err == nil {
			if until := time.Until(t); until > 0 {
				return min(until, h.MaxDelay)
			}
			return 0
		}
	}

	if ms, ok := configNumber(config, "delayMs"); ok && ms > 0 {
		return min(time.Duration(ms)*time.Millisecond, h.MaxDelay)
	}
	return 0
}
