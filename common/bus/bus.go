package bus

import (
	"sync"

	"github.com/google/uuid"

	"github.com/flowsync/flowsync/common/logger"
	"github.com/flowsync/flowsync/common/models"
)

// Signal is the terminal notification for one execution
type Signal struct {
	Status models.ExecutionStatus `json:"status"`
	Output map[string]any         `json:"output,omitempty"`
	Error  string                 `json:"error,omitempty"`
}

// CompletionBus delivers one completion signal per execution terminal
// transition. A waiter must register strictly before the first job of the
// execution is enqueued, otherwise the signal can be lost.
type CompletionBus struct {
	mu      sync.Mutex
	waiters map[uuid.UUID]chan Signal
	log     *logger.Logger
}

// New creates an empty bus
func New(log *logger.Logger) *CompletionBus {
	return &CompletionBus{
		waiters: make(map[uuid.UUID]chan Signal),
		log:     log,
	}
}

// Register returns a one-shot channel for the execution's terminal signal
func (b *CompletionBus) Register(executionID uuid.UUID) <-chan Signal {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.waiters[executionID]
	if !ok {
		ch = make(chan Signal, 1)
		b.waiters[executionID] = ch
	}
	return ch
}

// Unregister drops the waiter for an execution. Used by callers that have
// stopped listening (e.g. orchestrator deadline).
func (b *CompletionBus) Unregister(executionID uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.waiters, executionID)
}

// Publish delivers the terminal signal at most once and releases the
// waiter. Publishing with nobody registered is a no-op.
func (b *CompletionBus) Publish(executionID uuid.UUID, sig Signal) {
	b.mu.Lock()
	ch, ok := b.waiters[executionID]
	if ok {
		delete(b.waiters, executionID)
	}
	b.mu.Unlock()

	if !ok {
		b.log.Debug("completion signal with no waiter", "execution_id", executionID)
		return
	}

	ch <- sig
	close(ch)
}

// Waiting returns the number of registered waiters
func (b *CompletionBus) Waiting() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.waiters)
}
