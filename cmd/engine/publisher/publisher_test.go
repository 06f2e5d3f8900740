package publisher

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowsync/flowsync/common/backpressure"
	"github.com/flowsync/flowsync/common/config"
	"github.com/flowsync/flowsync/common/idempotency"
	"github.com/flowsync/flowsync/common/logger"
	"github.com/flowsync/flowsync/common/metrics"
	"github.com/flowsync/flowsync/common/models"
	"github.com/flowsync/flowsync/common/queue"
	"github.com/flowsync/flowsync/common/store"
)

type pubEnv struct {
	mem     *store.Memory
	queue   *queue.MemoryQueue
	metrics *metrics.Metrics
	pub     *Publisher
}

func newPubEnv(t *testing.T, bpCfg config.BackpressureConfig) *pubEnv {
	t.Helper()
	log := logger.New("error", "text")
	mem := store.NewMemory()
	q := queue.NewMemoryQueue(log)
	m := metrics.New()

	idem := idempotency.NewMemoryStore(time.Minute, time.Hour)
	t.Cleanup(func() { idem.Close() })

	bp := backpressure.New(bpCfg, log)
	return &pubEnv{
		mem:     mem,
		queue:   q,
		metrics: m,
		pub:     New(mem, q, idem, bp, m, log),
	}
}

func acceptingConfig() config.BackpressureConfig {
	return config.BackpressureConfig{LowWater: 200, HighWater: 800, MaxDepth: 1000}
}

func actionNode(id string) models.Node {
	return models.Node{
		ID:    id,
		Type:  models.NodeAction,
		Label: id,
		Config: map[string]any{
			"url": "http://example.com/" + id,
		},
	}
}

func TestPublish_CreatesStepAndEnqueuesJob(t *testing.T) {
	env := newPubEnv(t, acceptingConfig())
	ctx := context.Background()
	execID := uuid.New()

	stepID, err := env.pub.Publish(ctx, Request{
		ExecutionID: execID,
		Node:        actionNode("fetch"),
		Input:       map[string]any{"user": "ada"},
		Upstream:    []string{"start"},
	})
	require.NoError(t, err)

	step, err := env.mem.GetStep(ctx, stepID)
	require.NoError(t, err)
	assert.Equal(t, models.StepPending, step.Status)
	assert.Equal(t, "fetch", step.NodeID)
	assert.Equal(t, 1, step.Attempts)

	job, err := env.queue.Dequeue(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, stepID, job.ID)
	assert.Equal(t, execID, job.ExecutionID)
	assert.Equal(t, 1, job.Attempt)
	assert.Equal(t, []string{"start"}, job.Upstream)
	assert.Equal(t, "ada", job.Input["user"])
}

func TestPublish_DuplicateSuppressed(t *testing.T) {
	env := newPubEnv(t, acceptingConfig())
	ctx := context.Background()
	req := Request{ExecutionID: uuid.New(), Node: actionNode("fetch")}

	first, err := env.pub.Publish(ctx, req)
	require.NoError(t, err)

	second, err := env.pub.Publish(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// The losing step row is removed, only one job was enqueued
	steps, err := env.mem.ListSteps(ctx, req.ExecutionID)
	require.NoError(t, err)
	assert.Len(t, steps, 1)

	stats, err := env.queue.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Depth)
}

func TestPublish_DistinctNodesNotDeduplicated(t *testing.T) {
	env := newPubEnv(t, acceptingConfig())
	ctx := context.Background()
	execID := uuid.New()

	a, err := env.pub.Publish(ctx, Request{ExecutionID: execID, Node: actionNode("a")})
	require.NoError(t, err)
	b, err := env.pub.Publish(ctx, Request{ExecutionID: execID, Node: actionNode("b")})
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	stats, _ := env.queue.Stats(ctx)
	assert.Equal(t, 2, stats.Depth)
}

func TestPublish_BackpressureRejectionLeavesStepPending(t *testing.T) {
	env := newPubEnv(t, config.BackpressureConfig{LowWater: 0, HighWater: 0, MaxDepth: 0})
	ctx := context.Background()

	stepID, err := env.pub.Publish(ctx, Request{ExecutionID: uuid.New(), Node: actionNode("fetch")})
	require.NoError(t, err)

	// Step row exists but nothing reached the queue
	step, err := env.mem.GetStep(ctx, stepID)
	require.NoError(t, err)
	assert.Equal(t, models.StepPending, step.Status)

	stats, err := env.queue.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Depth)
	assert.Equal(t, int64(1), env.metrics.Snapshot().PublisherRejections)
}

func TestPublish_RetryAttemptCarriedOntoJob(t *testing.T) {
	env := newPubEnv(t, acceptingConfig())
	ctx := context.Background()

	node := actionNode("flaky")
	node.Config["retry"] = map[string]any{"maxRetries": float64(3), "backoffMs": float64(50)}

	_, err := env.pub.Publish(ctx, Request{ExecutionID: uuid.New(), Node: node, Attempt: 2})
	require.NoError(t, err)

	job, err := env.queue.Dequeue(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, 2, job.Attempt)
	assert.Equal(t, 3, job.MaxRetries)
	assert.Equal(t, 3, job.Retry.MaxRetries)
	assert.Equal(t, 50, job.Retry.BackoffMs)
}

func TestPublishMany_ReturnsIDsInOrder(t *testing.T) {
	env := newPubEnv(t, acceptingConfig())
	ctx := context.Background()
	execID := uuid.New()

	ids, err := env.pub.PublishMany(ctx, []Request{
		{ExecutionID: execID, Node: actionNode("a")},
		{ExecutionID: execID, Node: actionNode("b")},
		{ExecutionID: execID, Node: actionNode("c")},
	})
	require.NoError(t, err)
	require.Len(t, ids, 3)

	for i, want := range []string{"a", "b", "c"} {
		step, err := env.mem.GetStep(ctx, ids[i])
		require.NoError(t, err)
		assert.Equal(t, want, step.NodeID)
	}
}
