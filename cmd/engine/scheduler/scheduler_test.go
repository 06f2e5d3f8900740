package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowsync/flowsync/cmd/engine/orchestrator"
	"github.com/flowsync/flowsync/cmd/engine/publisher"
	"github.com/flowsync/flowsync/common/audit"
	"github.com/flowsync/flowsync/common/backpressure"
	"github.com/flowsync/flowsync/common/bus"
	"github.com/flowsync/flowsync/common/config"
	"github.com/flowsync/flowsync/common/idempotency"
	"github.com/flowsync/flowsync/common/logger"
	"github.com/flowsync/flowsync/common/metrics"
	"github.com/flowsync/flowsync/common/models"
	"github.com/flowsync/flowsync/common/queue"
	"github.com/flowsync/flowsync/common/store"
)

func TestParseCron(t *testing.T) {
	for _, expr := range []string{"* * * * *", "0 9 * * 1-5", "*/5 * * * *", "30 2 1 * *"} {
		s, err := ParseCron(expr)
		require.NoError(t, err, expr)
		assert.Equal(t, expr, s.String())
	}

	for _, expr := range []string{"", "not a cron", "* * * *", "61 * * * *"} {
		_, err := ParseCron(expr)
		assert.Error(t, err, expr)
	}
}

func TestCronSchedule_ShouldRun(t *testing.T) {
	nineAM := time.Date(2026, 3, 2, 9, 0, 42, 0, time.UTC) // Monday, mid-minute

	cases := []struct {
		expr string
		want bool
	}{
		{"* * * * *", true},
		{"0 9 * * *", true},
		{"0 9 * * 1", true},  // Monday
		{"0 9 * * 2", false}, // Tuesday
		{"30 9 * * *", false},
		{"*/15 * * * *", true}, // minute 0 matches
		{"0 10 * * *", false},
	}
	for _, tc := range cases {
		s, err := ParseCron(tc.expr)
		require.NoError(t, err, tc.expr)
		assert.Equal(t, tc.want, s.ShouldRun(nineAM), tc.expr)
	}
}

// Next(t) followed by ShouldRun at that instant must agree; this is the
// round-trip law the scheduler leans on.
func TestCronSchedule_NextShouldRunRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 13, 0, 0, time.UTC)

	for _, expr := range []string{"* * * * *", "*/5 * * * *", "0 0 * * *", "30 9 * * 1"} {
		s, err := ParseCron(expr)
		require.NoError(t, err, expr)

		next, ok := s.Next(now)
		require.True(t, ok, expr)
		assert.True(t, next.After(now), expr)
		assert.True(t, s.ShouldRun(next), "%s at %s", expr, next)
	}
}

func TestCronSchedule_NextHorizon(t *testing.T) {
	// February 30th never exists
	s, err := ParseCron("0 0 30 2 *")
	require.NoError(t, err)

	_, ok := s.Next(time.Now())
	assert.False(t, ok)
}

type schedulerEnv struct {
	mem     *store.Memory
	metrics *metrics.Metrics
	sched   *Scheduler
}

func newSchedulerEnv(t *testing.T) *schedulerEnv {
	t.Helper()
	log := logger.New("error", "text")
	mem := store.NewMemory()
	m := metrics.New()

	cfg := config.EngineConfig{
		MaxConcurrency:      5,
		OrchestratorTimeout: time.Minute,
		SchedulerTick:       time.Minute,
		IdempotencyTTL:      time.Minute,
		IdempotencySweep:    time.Hour,
	}

	idem := idempotency.NewMemoryStore(cfg.IdempotencyTTL, cfg.IdempotencySweep)
	t.Cleanup(func() { idem.Close() })
	q := queue.NewMemoryQueue(log)
	bp := backpressure.New(config.BackpressureConfig{LowWater: 200, HighWater: 800, MaxDepth: 1000}, log)
	signals := bus.New(log)
	auditor := audit.NewMemoryWriter()

	pub := publisher.New(mem, q, idem, bp, m, log)
	orc := orchestrator.New(mem, mem, pub, signals, m, auditor, cfg, log)

	return &schedulerEnv{
		mem:     mem,
		metrics: m,
		sched:   New(mem, mem, orc, m, auditor, cfg, log),
	}
}

func activeWorkflow(t *testing.T, env *schedulerEnv) *models.Workflow {
	t.Helper()
	wf := &models.Workflow{
		ID:      uuid.New(),
		Version: 1,
		Name:    "nightly",
		Status:  models.WorkflowActive,
		Definition: models.WorkflowDefinition{
			Nodes: []models.Node{
				{ID: "start", Type: models.NodeStart},
				{ID: "end", Type: models.NodeEnd},
			},
			Edges: []models.Edge{{ID: "e1", Source: "start", Target: "end"}},
		},
	}
	require.NoError(t, env.mem.Create(context.Background(), wf))
	return wf
}

func cronTrigger(t *testing.T, env *schedulerEnv, workflowID uuid.UUID, expr string) *models.Trigger {
	t.Helper()
	trigger := &models.Trigger{
		ID:         uuid.New(),
		WorkflowID: workflowID,
		Type:       models.TriggerCron,
		Config:     models.TriggerConfig{Expression: expr},
		Enabled:    true,
	}
	require.NoError(t, env.mem.CreateTrigger(context.Background(), trigger))
	return trigger
}

func TestScheduler_FiresMatchingTrigger(t *testing.T) {
	env := newSchedulerEnv(t)
	wf := activeWorkflow(t, env)
	trigger := cronTrigger(t, env, wf.ID, "* * * * *")

	now := time.Date(2026, 3, 2, 9, 0, 10, 0, time.UTC)
	env.sched.now = func() time.Time { return now }

	env.sched.Tick(context.Background())

	assert.Equal(t, int64(1), env.metrics.Snapshot().TriggersFired)
	got, err := env.mem.GetTrigger(context.Background(), trigger.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastFiredAt)
	assert.True(t, got.LastFiredAt.Equal(now))
	require.NotNil(t, got.NextRunAt)
}

// Two ticks landing in the same calendar minute fire once
func TestScheduler_NoDoubleFireWithinMinute(t *testing.T) {
	env := newSchedulerEnv(t)
	wf := activeWorkflow(t, env)
	cronTrigger(t, env, wf.ID, "* * * * *")

	base := time.Date(2026, 3, 2, 9, 0, 5, 0, time.UTC)
	env.sched.now = func() time.Time { return base }
	env.sched.Tick(context.Background())

	env.sched.now = func() time.Time { return base.Add(40 * time.Second) }
	env.sched.Tick(context.Background())

	assert.Equal(t, int64(1), env.metrics.Snapshot().TriggersFired)

	// Next minute fires again
	env.sched.now = func() time.Time { return base.Add(time.Minute) }
	env.sched.Tick(context.Background())
	assert.Equal(t, int64(2), env.metrics.Snapshot().TriggersFired)
}

func TestScheduler_SkipsInactiveWorkflow(t *testing.T) {
	env := newSchedulerEnv(t)
	wf := activeWorkflow(t, env)
	trigger := cronTrigger(t, env, wf.ID, "* * * * *")
	require.NoError(t, env.mem.SetStatus(context.Background(), wf.ID, models.WorkflowArchived))

	env.sched.now = func() time.Time { return time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC) }
	env.sched.Tick(context.Background())

	assert.Equal(t, int64(0), env.metrics.Snapshot().TriggersFired)
	got, _ := env.mem.GetTrigger(context.Background(), trigger.ID)
	assert.Nil(t, got.LastFiredAt)
}

func TestScheduler_SkipsInvalidExpression(t *testing.T) {
	env := newSchedulerEnv(t)
	wf := activeWorkflow(t, env)
	cronTrigger(t, env, wf.ID, "not a cron")

	env.sched.now = time.Now
	env.sched.Tick(context.Background())
	assert.Equal(t, int64(0), env.metrics.Snapshot().TriggersFired)
}

func TestScheduler_SkipsNonMatchingMinute(t *testing.T) {
	env := newSchedulerEnv(t)
	wf := activeWorkflow(t, env)
	cronTrigger(t, env, wf.ID, "30 2 * * *")

	env.sched.now = func() time.Time { return time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC) }
	env.sched.Tick(context.Background())
	assert.Equal(t, int64(0), env.metrics.Snapshot().TriggersFired)
}
