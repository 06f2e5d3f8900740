package backpressure

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/flowsync/flowsync/common/config"
	"github.com/flowsync/flowsync/common/logger"
)

func newController() *Controller {
	return New(config.BackpressureConfig{
		LowWater:  200,
		HighWater: 800,
		MaxDepth:  1000,
	}, logger.New("error", "text"))
}

func TestController_StartsAccepting(t *testing.T) {
	c := newController()
	assert.Equal(t, StateAccepting, c.State())
	assert.True(t, c.CanAccept())
}

func TestController_Transitions(t *testing.T) {
	c := newController()

	assert.Equal(t, StateAccepting, c.Observe(100))
	assert.Equal(t, StatePressured, c.Observe(800))
	assert.Equal(t, StateRejecting, c.Observe(1000))
	assert.False(t, c.CanAccept())
	assert.Equal(t, StateAccepting, c.Observe(200))
	assert.True(t, c.CanAccept())
}

// Depth inside the hysteresis band must not flip state on its own:
// accepting stays accepting, pressured stays pressured, and rejecting
// relaxes only one level.
func TestController_Hysteresis(t *testing.T) {
	c := newController()

	assert.Equal(t, StateAccepting, c.Observe(500))

	c.Observe(900) // pressured
	assert.Equal(t, StatePressured, c.Observe(500))
	assert.Equal(t, StatePressured, c.Observe(201))
	assert.True(t, c.CanAccept())

	c.Observe(1500) // rejecting
	assert.Equal(t, StatePressured, c.Observe(500))
	assert.Equal(t, StatePressured, c.Observe(799))
	assert.Equal(t, StateAccepting, c.Observe(150))
}
