// Package handlers maps node types to executable units. A handler
// receives the full worker job and returns its result map; returning an
// error marks the step failed and retryable.
package handlers

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/flowsync/flowsync/cmd/engine/expression"
	"github.com/flowsync/flowsync/common/logger"
	"github.com/flowsync/flowsync/common/models"
)

// nonRetryableError marks failures that will not improve with another
// attempt, such as malformed node config.
type nonRetryableError struct {
	err error
}

func (e *nonRetryableError) Error() string { return e.err.Error() }
func (e *nonRetryableError) Unwrap() error { return e.err }

// NonRetryable wraps an error so the worker pool fails the step
// immediately instead of retrying
func NonRetryable(err error) error {
	return &nonRetryableError{err: err}
}

// IsNonRetryable reports whether the error was marked with NonRetryable
func IsNonRetryable(err error) bool {
	var nr *nonRetryableError
	return errors.As(err, &nr)
}

// Handler is the executable unit for one node type
type Handler interface {
	Type() models.NodeType
	Execute(ctx context.Context, job *models.WorkerJob) (map[string]any, error)
}

// Registry maps node types to handlers. New handlers are registered at
// startup; lookups are concurrent.
type Registry struct {
	mu       sync.RWMutex
	handlers map[models.NodeType]Handler
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[models.NodeType]Handler)}
}

// NewDefaultRegistry creates a registry with all built-in handlers
func NewDefaultRegistry(maxDelay time.Duration, log *logger.Logger) *Registry {
	r := NewRegistry()
	r.Register(&StartHandler{})
	r.Register(&EndHandler{})
	r.Register(NewActionHandler(log))
	r.Register(NewConditionHandler())
	r.Register(&DelayHandler{MaxDelay: maxDelay})
	r.Register(&ForkHandler{})
	r.Register(&JoinHandler{})
	r.Register(&TransformHandler{})
	r.Register(&WebhookResponseHandler{})
	return r
}

// Register adds or replaces the handler for its node type
func (r *Registry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[h.Type()] = h
}

// Get returns the handler for a node type
func (r *Registry) Get(t models.NodeType) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[t]
	return h, ok
}

// Has reports whether a handler is registered for the node type
func (r *Registry) Has(t models.NodeType) bool {
	_, ok := r.Get(t)
	return ok
}

// ListTypes returns all registered node types, sorted
func (r *Registry) ListTypes() []models.NodeType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]models.NodeType, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// jobEnv builds the expression resolution scope for a job
func jobEnv(job *models.WorkerJob) expression.Env {
	return expression.Env{Input: job.Input, Results: job.PreviousResults}
}
