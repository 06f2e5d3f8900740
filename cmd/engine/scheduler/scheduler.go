// Package scheduler fires cron triggers. A single ticker scans enabled
// triggers once a minute; ticks never overlap and a trigger fires at
// most once per calendar minute.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/flowsync/flowsync/cmd/engine/orchestrator"
	"github.com/flowsync/flowsync/common/audit"
	"github.com/flowsync/flowsync/common/config"
	"github.com/flowsync/flowsync/common/logger"
	"github.com/flowsync/flowsync/common/metrics"
	"github.com/flowsync/flowsync/common/models"
	"github.com/flowsync/flowsync/common/store"
)

// Scheduler scans cron triggers on a fixed tick
type Scheduler struct {
	triggers  store.TriggerStore
	workflows store.WorkflowStore
	orc       *orchestrator.Orchestrator
	metrics   *metrics.Metrics
	audit     audit.Writer
	cfg       config.EngineConfig
	log       *logger.Logger

	tickMu   sync.Mutex
	wg       sync.WaitGroup
	stop     chan struct{}
	stopOnce sync.Once

	now func() time.Time // clock hook for tests
}

// New creates a scheduler
func New(triggers store.TriggerStore, workflows store.WorkflowStore, orc *orchestrator.Orchestrator, m *metrics.Metrics, auditor audit.Writer, cfg config.EngineConfig, log *logger.Logger) *Scheduler {
	return &Scheduler{
		triggers:  triggers,
		workflows: workflows,
		orc:       orc,
		metrics:   m,
		audit:     auditor,
		cfg:       cfg,
		log:       log.WithFields(map[string]any{"component": "scheduler"}),
		stop:      make(chan struct{}),
		now:       time.Now,
	}
}

// Start launches the tick loop
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.loop(ctx)
	s.log.Info("scheduler started", "tick", s.cfg.SchedulerTick)
}

// Stop halts the tick loop; a tick in progress finishes first
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.SchedulerTick)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick scans all enabled cron triggers once. The mutex keeps a slow
// scan from overlapping with the next tick.
func (s *Scheduler) Tick(ctx context.Context) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	triggers, err := s.triggers.ListEnabledCron(ctx)
	if err != nil {
		s.log.Error("failed to list cron triggers", "error", err)
		return
	}

	now := s.now()
	for _, trigger := range triggers {
		s.evaluate(ctx, trigger, now)
	}
}

func (s *Scheduler) evaluate(ctx context.Context, trigger *models.Trigger, now time.Time) {
	log := s.log.WithFields(map[string]any{
		"trigger_id":  trigger.ID.String(),
		"workflow_id": trigger.WorkflowID.String(),
	})

	schedule, err := ParseCron(trigger.Config.Expression)
	if err != nil {
		log.Warn("skipping trigger with invalid cron expression",
			"expression", trigger.Config.Expression, "error", err)
		return
	}
	if !schedule.ShouldRun(now) {
		return
	}

	// One fire per calendar minute, regardless of tick jitter
	if trigger.LastFiredAt != nil && trigger.LastFiredAt.Truncate(time.Minute).Equal(now.Truncate(time.Minute)) {
		return
	}

	wf, err := s.workflows.Latest(ctx, trigger.WorkflowID)
	if err != nil {
		log.Warn("skipping trigger, workflow not found", "error", err)
		return
	}
	if wf.Status != models.WorkflowActive {
		log.Info("skipping trigger, workflow not active", "status", wf.Status)
		return
	}

	var nextRun *time.Time
	if next, ok := schedule.Next(now); ok {
		nextRun = &next
	}
	if err := s.triggers.MarkFired(ctx, trigger.ID, now, nextRun); err != nil {
		log.Error("failed to record trigger fire", "error", err)
		return
	}

	s.metrics.TriggerFired()
	s.audit.Record(ctx, "trigger.fired", "trigger", trigger.ID.String(), map[string]any{
		"workflow_id": trigger.WorkflowID.String(),
		"expression":  trigger.Config.Expression,
	})
	log.Info("cron trigger fired", "expression", trigger.Config.Expression)

	s.orc.ExecuteAsync(ctx, trigger.WorkflowID, trigger.Config.Input, nil)
}
