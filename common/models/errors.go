package models

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a workflow, trigger, or execution does not exist
var ErrNotFound = errors.New("not found")

// ValidationError carries all findings from DAG validation, not just the first
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid workflow definition: %s", strings.Join(e.Errors, "; "))
}

// NotActiveError is returned when an execution is requested on a workflow
// that is not in active status
type NotActiveError struct {
	WorkflowID uuid.UUID
	Status     WorkflowStatus
}

func (e *NotActiveError) Error() string {
	return fmt.Sprintf("workflow %s is not active (status=%s)", e.WorkflowID, e.Status)
}

// ErrExecutionTimeout is surfaced to the caller when the orchestrator
// deadline elapses; the underlying execution may still progress
var ErrExecutionTimeout = errors.New("execution timed out (5m)")

// ErrExecutionCancelled marks an execution cancelled by external request;
// terminal and sticky
var ErrExecutionCancelled = errors.New("execution cancelled")
