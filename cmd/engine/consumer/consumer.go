// Package consumer runs the worker pool: it drains the job queue under
// a concurrency cap, executes node handlers, applies retry policy with
// exponential backoff, and hands terminal results to the result handler.
package consumer

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/flowsync/flowsync/cmd/engine/handlers"
	"github.com/flowsync/flowsync/cmd/engine/resulthandler"
	"github.com/flowsync/flowsync/common/audit"
	"github.com/flowsync/flowsync/common/config"
	"github.com/flowsync/flowsync/common/dlq"
	"github.com/flowsync/flowsync/common/heartbeat"
	"github.com/flowsync/flowsync/common/idempotency"
	"github.com/flowsync/flowsync/common/logger"
	"github.com/flowsync/flowsync/common/metrics"
	"github.com/flowsync/flowsync/common/models"
	"github.com/flowsync/flowsync/common/queue"
	"github.com/flowsync/flowsync/common/store"
)

// Consumer polls the queue and dispatches jobs to handlers. One
// consumer owns the whole pool; concurrency is bounded by a semaphore.
type Consumer struct {
	name        string
	queue       queue.Queue
	executions  store.ExecutionStore
	idem        idempotency.Store
	registry    *handlers.Registry
	results     *resulthandler.Handler
	deadLetters *dlq.DeadLetterSink
	hb          *heartbeat.Monitor
	metrics     *metrics.Metrics
	audit       audit.Writer
	cfg         config.EngineConfig
	log         *logger.Logger

	sem      chan struct{}
	wg       sync.WaitGroup
	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a consumer over the queue
func New(name string, q queue.Queue, executions store.ExecutionStore, idem idempotency.Store, registry *handlers.Registry, results *resulthandler.Handler, deadLetters *dlq.DeadLetterSink, hb *heartbeat.Monitor, m *metrics.Metrics, auditor audit.Writer, cfg config.EngineConfig, log *logger.Logger) *Consumer {
	return &Consumer{
		name:        name,
		queue:       q,
		executions:  executions,
		idem:        idem,
		registry:    registry,
		results:     results,
		deadLetters: deadLetters,
		hb:          hb,
		metrics:     m,
		audit:       auditor,
		cfg:         cfg,
		log:         log.WithFields(map[string]any{"component": "consumer", "worker": name}),
		sem:         make(chan struct{}, cfg.MaxConcurrency),
		stop:        make(chan struct{}),
	}
}

// Start launches the poll loop and the lock scavenger. It returns
// immediately; Stop drains in-flight work.
func (c *Consumer) Start(ctx context.Context) {
	c.wg.Add(2)
	go c.pollLoop(ctx)
	go c.scavengeLoop(ctx)
	c.log.Info("consumer started",
		"max_concurrency", c.cfg.MaxConcurrency,
		"poll_interval", c.cfg.PollInterval)
}

// Stop halts polling and waits for in-flight jobs up to the drain
// timeout. Undrained jobs stay processing; the lock scavenger of the
// next run reclaims them.
func (c *Consumer) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.log.Info("consumer drained")
	case <-time.After(c.cfg.DrainTimeout):
		c.log.Warn("drain timeout reached, abandoning in-flight jobs",
			"timeout", c.cfg.DrainTimeout)
	}
}

func (c *Consumer) pollLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-c.queue.Notifications():
		}
		c.drain(ctx)
	}
}

// drain claims pending jobs until the queue is empty or every worker
// slot is busy
func (c *Consumer) drain(ctx context.Context) {
	for {
		select {
		case c.sem <- struct{}{}:
		case <-c.stop:
			return
		case <-ctx.Done():
			return
		}

		job, err := c.queue.Dequeue(ctx, c.name)
		if err != nil {
			<-c.sem
			c.log.Error("dequeue failed", "error", err)
			return
		}
		if job == nil {
			<-c.sem
			return
		}

		c.wg.Add(1)
		go func(job *models.WorkerJob) {
			defer c.wg.Done()
			defer func() { <-c.sem }()
			c.process(ctx, job)
		}(job)
	}
}

func (c *Consumer) process(ctx context.Context, job *models.WorkerJob) {
	log := c.log.WithExecutionID(job.ExecutionID.String()).WithNodeID(job.Node.ID)

	// The step row may have been swept to skipped (cancellation, branch
	// failure) between enqueue and pickup. Only pending steps run.
	running, err := c.executions.MarkStepRunning(ctx, job.ID)
	if err != nil {
		log.Error("failed to mark step running", "error", err)
		_ = c.queue.MarkFailed(ctx, job.ID, err.Error())
		return
	}
	if !running {
		log.Info("step no longer pending, dropping job")
		_ = c.queue.MarkFailed(ctx, job.ID, "dropped: step no longer pending")
		return
	}

	c.hb.Register(job.ID, job.ExecutionID, job.Node.Label)
	defer c.hb.Deregister(job.ID)

	beatDone := make(chan struct{})
	defer close(beatDone)
	go func() {
		t := time.NewTicker(5 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-beatDone:
				return
			case <-t.C:
				c.hb.Beat(job.ID)
			}
		}
	}()

	result := c.execute(ctx, job)
	c.metrics.JobProcessed()

	if result.Failed() && result.CanRetry() && job.Attempt <= job.MaxRetries {
		c.retry(ctx, job, result, log)
		return
	}

	if result.Failed() {
		_ = c.queue.MarkFailed(ctx, job.ID, result.Error)
		if job.MaxRetries > 0 {
			c.deadLetters.Add(*job, result.Error, job.Attempt)
			c.metrics.JobDeadLettered()
			c.audit.Record(ctx, "dlq.entry", "job", job.ID.String(), map[string]any{
				"execution_id": job.ExecutionID.String(),
				"node_id":      job.Node.ID,
				"attempts":     job.Attempt,
				"error":        result.Error,
			})
		}
		log.Warn("job failed terminally",
			"attempt", job.Attempt, "error", result.Error)
	} else {
		_ = c.queue.MarkDone(ctx, job.ID, result.Result)
		log.Info("job completed",
			"node_type", job.Node.Type, "duration_ms", result.DurationMs)
	}

	if err := c.results.Handle(ctx, result); err != nil {
		log.Error("result handling failed", "error", err)
	}
}

// execute runs the node handler and converts its outcome into a result.
// Handler panics and errors both become failed results; nothing escapes
// the pool.
func (c *Consumer) execute(ctx context.Context, job *models.WorkerJob) (result *models.WorkerResult) {
	started := time.Now()
	result = &models.WorkerResult{
		JobID:       job.ID,
		StepID:      job.ID,
		ExecutionID: job.ExecutionID,
		NodeID:      job.Node.ID,
		NodeType:    job.Node.Type,
	}

	defer func() {
		result.DurationMs = time.Since(started).Milliseconds()
		if r := recover(); r != nil {
			result.Status = "failed"
			result.Error = fmt.Sprintf("handler panic: %v", r)
		}
	}()

	handler, ok := c.registry.Get(job.Node.Type)
	if !ok {
		notRetryable := false
		result.Status = "failed"
		result.Error = fmt.Sprintf("no handler registered for node type %q", job.Node.Type)
		result.Retryable = &notRetryable
		return result
	}

	out, err := handler.Execute(ctx, job)
	if err != nil {
		result.Status = "failed"
		result.Error = err.Error()
		if handlers.IsNonRetryable(err) {
			notRetryable := false
			result.Retryable = &notRetryable
		}
		return result
	}

	result.Status = "completed"
	result.Result = out
	return result
}

// retry schedules a re-enqueue after the backoff. The timer runs off
// the worker slot so a pool full of backing-off jobs still makes
// progress; Stop waits for scheduled republishes via the wait group.
func (c *Consumer) retry(ctx context.Context, job *models.WorkerJob, result *models.WorkerResult, log *logger.Logger) {
	_ = c.queue.MarkFailed(ctx, job.ID, result.Error)
	c.metrics.JobRetried()

	backoff := backoffFor(job.Retry, job.Attempt)
	log.Info("retrying job",
		"attempt", job.Attempt, "max_retries", job.MaxRetries,
		"backoff", backoff, "error", result.Error)

	c.wg.Add(1)
	time.AfterFunc(backoff, func() {
		defer c.wg.Done()
		c.republish(ctx, job, result.Error, log)
	})
}

// republish clears the idempotency key so the re-enqueued job is not
// treated as a duplicate, resets the step row, and re-enqueues the job
// with the attempt counter advanced.
func (c *Consumer) republish(ctx context.Context, job *models.WorkerJob, errMsg string, log *logger.Logger) {
	select {
	case <-c.stop:
		return
	case <-ctx.Done():
		return
	default:
	}

	if err := c.idem.Remove(ctx, idempotency.Key(job.ExecutionID, job.Node.ID)); err != nil {
		log.Error("failed to clear idempotency key before retry", "error", err)
	}
	if err := c.executions.ResetStepForRetry(ctx, job.ID, errMsg, job.Attempt+1); err != nil {
		log.Error("failed to reset step for retry", "error", err)
		return
	}

	next := *job
	next.Attempt = job.Attempt + 1
	if err := c.queue.Enqueue(ctx, next); err != nil {
		log.Error("failed to re-enqueue retry", "error", err)
	}
}

// backoffFor computes backoffMs * multiplier^(attempt-1)
func backoffFor(policy models.RetryPolicy, attempt int) time.Duration {
	ms := float64(policy.BackoffMs) * math.Pow(policy.BackoffMultiplier, float64(attempt-1))
	return time.Duration(ms) * time.Millisecond
}

func (c *Consumer) scavengeLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.LockReclaimAfter / 5)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		reclaimed, err := c.queue.ReclaimStale(ctx, c.cfg.LockReclaimAfter)
		if err != nil {
			c.log.Error("lock scavenge failed", "error", err)
			continue
		}
		if reclaimed > 0 {
			c.log.Warn("reclaimed stale job locks", "count", reclaimed)
		}
	}
}
