package heartbeat

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowsync/flowsync/common/logger"
)

func newMonitor(stall time.Duration) *Monitor {
	return New(stall, logger.New("error", "text"))
}

func TestMonitor_RegisterAndDeregister(t *testing.T) {
	m := newMonitor(time.Minute)
	jobID := uuid.New()

	m.Register(jobID, uuid.New(), "Fetch")
	assert.Equal(t, 1, m.Status().InFlight)

	m.Deregister(jobID)
	assert.Equal(t, 0, m.Status().InFlight)
}

func TestMonitor_StallDetection(t *testing.T) {
	m := newMonitor(10 * time.Millisecond)
	jobID := uuid.New()

	m.Register(jobID, uuid.New(), "Slow")
	assert.Empty(t, m.Status().Stalled)

	time.Sleep(25 * time.Millisecond)

	st := m.Status()
	require.Len(t, st.Stalled, 1)
	assert.Equal(t, jobID, st.Stalled[0].JobID)
	assert.Equal(t, "Slow", st.Stalled[0].NodeLabel)
	// Stalled jobs stay in flight; surfacing is not eviction
	assert.Equal(t, 1, st.InFlight)
}

func TestMonitor_BeatResetsStall(t *testing.T) {
	m := newMonitor(30 * time.Millisecond)
	jobID := uuid.New()

	m.Register(jobID, uuid.New(), "Busy")
	time.Sleep(20 * time.Millisecond)
	m.Beat(jobID)
	time.Sleep(20 * time.Millisecond)

	// 40ms since register but only 20ms since last beat
	assert.Empty(t, m.Status().Stalled)
}

func TestMonitor_BeatUnknownJobIsNoop(t *testing.T) {
	m := newMonitor(time.Minute)
	m.Beat(uuid.New())
	assert.Equal(t, 0, m.Status().InFlight)
}
