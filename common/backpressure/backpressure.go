package backpressure

import (
	"sync"

	"github.com/flowsync/flowsync/common/config"
	"github.com/flowsync/flowsync/common/logger"
)

// State is the admission state of the controller
type State string

const (
	StateAccepting State = "accepting"
	StatePressured State = "pressured"
	StateRejecting State = "rejecting"
)

// Controller is a sticky state machine over live queue depth. Once
// pressured, it only drops back to accepting when depth crosses the low
// water mark (hysteresis).
type Controller struct {
	mu        sync.Mutex
	state     State
	lowWater  int
	highWater int
	maxDepth  int
	log       *logger.Logger
}

// New creates a controller with the configured thresholds
// (lowWater <= highWater <= maxDepth)
func New(cfg config.BackpressureConfig, log *logger.Logger) *Controller {
	return &Controller{
		state:     StateAccepting,
		lowWater:  cfg.LowWater,
		highWater: cfg.HighWater,
		maxDepth:  cfg.MaxDepth,
		log:       log,
	}
}

// Observe feeds the current queue depth into the state machine and
// returns the resulting state
func (c *Controller) Observe(depth int) State {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.state
	switch {
	case depth >= c.maxDepth:
		c.state = StateRejecting
	case depth >= c.highWater:
		c.state = StatePressured
	case depth <= c.lowWater:
		c.state = StateAccepting
	default:
		// Between low and high water: rejecting relaxes to pressured,
		// pressured stays sticky, accepting stays accepting.
		if c.state == StateRejecting {
			c.state = StatePressured
		}
	}

	if c.state != prev {
		c.log.Info("backpressure state changed",
			"from", prev, "to", c.state, "depth", depth)
	}
	return c.state
}

// State returns the current admission state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// CanAccept reports whether new jobs may be admitted
func (c *Controller) CanAccept() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state != StateRejecting
}
