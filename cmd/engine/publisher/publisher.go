// Package publisher materializes step records and admits jobs onto the
// persistent queue under idempotency and backpressure control.
package publisher

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/flowsync/flowsync/common/backpressure"
	"github.com/flowsync/flowsync/common/idempotency"
	"github.com/flowsync/flowsync/common/logger"
	"github.com/flowsync/flowsync/common/metrics"
	"github.com/flowsync/flowsync/common/models"
	"github.com/flowsync/flowsync/common/queue"
	"github.com/flowsync/flowsync/common/store"
)

// Request describes one node publication
type Request struct {
	ExecutionID     uuid.UUID
	Node            models.Node
	Input           map[string]any
	PreviousResults map[string]map[string]any
	Upstream        []string
	Attempt         int // 1-based; zero means first attempt
}

// Publisher creates step rows and enqueues worker jobs
type Publisher struct {
	store   store.ExecutionStore
	queue   queue.Queue
	idem    idempotency.Store
	bp      *backpressure.Controller
	metrics *metrics.Metrics
	log     *logger.Logger
}

// New creates a publisher
func New(st store.ExecutionStore, q queue.Queue, idem idempotency.Store, bp *backpressure.Controller, m *metrics.Metrics, log *logger.Logger) *Publisher {
	return &Publisher{
		store:   st,
		queue:   q,
		idem:    idem,
		bp:      bp,
		metrics: m,
		log:     log,
	}
}

// Publish creates a pending step row for the node and enqueues its job.
// A duplicate publication (same execution and node within the idempotency
// TTL) discards the new step and returns the existing step ID. Under
// backpressure rejection the step row is created but no job is enqueued;
// the row stays pending for re-publication.
func (p *Publisher) Publish(ctx context.Context, req Request) (uuid.UUID, error) {
	attempt := req.Attempt
	if attempt < 1 {
		attempt = 1
	}

	policy := models.RetryPolicyFromConfig(req.Node.Config)
	now := time.Now()

	step := &models.StepExecution{
		ID:          uuid.New(),
		ExecutionID: req.ExecutionID,
		NodeID:      req.Node.ID,
		NodeLabel:   req.Node.Label,
		NodeType:    req.Node.Type,
		Status:      models.StepPending,
		Attempts:    attempt,
		StartedAt:   &now,
	}
	if err := p.store.CreateStep(ctx, step); err != nil {
		return uuid.Nil, fmt.Errorf("create step: %w", err)
	}

	key := idempotency.Key(req.ExecutionID, req.Node.ID)
	check, err := p.idem.CheckAndSet(ctx, key, step.ID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("idempotency check: %w", err)
	}
	if check.Duplicate {
		if err := p.store.DeleteStep(ctx, step.ID); err != nil {
			p.log.Warn("failed to delete duplicate step", "step_id", step.ID, "error", err)
		}
		p.log.Debug("duplicate publication suppressed",
			"execution_id", req.ExecutionID,
			"node_id", req.Node.ID,
			"existing_step_id", check.ExistingStepID,
		)
		return check.ExistingStepID, nil
	}

	if stats, err := p.queue.Stats(ctx); err == nil {
		p.bp.Observe(stats.Depth)
		p.metrics.ObserveQueueDepth(stats.Depth)
	}

	if !p.bp.CanAccept() {
		p.metrics.PublisherRejected()
		p.log.Warn("publication rejected by backpressure",
			"execution_id", req.ExecutionID,
			"node_id", req.Node.ID,
			"step_id", step.ID,
		)
		// Step row remains pending, eligible for later re-publication
		return step.ID, nil
	}

	job := models.WorkerJob{
		ID:              step.ID,
		ExecutionID:     req.ExecutionID,
		Node:            req.Node,
		Input:           req.Input,
		PreviousResults: req.PreviousResults,
		Upstream:        req.Upstream,
		Attempt:         attempt,
		MaxRetries:      policy.MaxRetries,
		Retry:           policy,
	}
	if err := p.queue.Enqueue(ctx, job); err != nil {
		return uuid.Nil, fmt.Errorf("enqueue job: %w", err)
	}

	p.log.Debug("job published",
		"execution_id", req.ExecutionID,
		"node_id", req.Node.ID,
		"step_id", step.ID,
		"attempt", attempt,
	)
	return step.ID, nil
}

// PublishMany sequences individual Publish calls, returning the step IDs
// in request order
func (p *Publisher) PublishMany(ctx context.Context, reqs []Request) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(reqs))
	for _, req := range reqs {
		id, err := p.Publish(ctx, req)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
