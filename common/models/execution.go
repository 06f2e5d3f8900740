package models

import (
	"time"

	"github.com/google/uuid"
)

// ExecutionStatus represents the status of a workflow execution
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// Terminal reports whether the status is sticky: no further transitions
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionCompleted || s == ExecutionFailed || s == ExecutionCancelled
}

// StepStatus represents the status of a single step execution
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// Settled reports whether a step no longer blocks downstream nodes
func (s StepStatus) Settled() bool {
	return s == StepCompleted || s == StepSkipped
}

// Execution is one run of a workflow snapshot.
// Maps to: execution table
type Execution struct {
	ID              uuid.UUID       `db:"id" json:"id"`
	WorkflowID      uuid.UUID       `db:"workflow_id" json:"workflow_id"`
	WorkflowVersion int             `db:"workflow_version" json:"workflow_version"`
	Status          ExecutionStatus `db:"status" json:"status"`
	Input           map[string]any  `db:"input" json:"input,omitempty"`
	Output          map[string]any  `db:"output" json:"output,omitempty"`
	Error           string          `db:"error" json:"error,omitempty"`
	UserID          *string         `db:"user_id" json:"user_id,omitempty"`
	StartedAt       *time.Time      `db:"started_at" json:"started_at,omitempty"`
	CompletedAt     *time.Time      `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
}

// StepExecution is one scheduled instance of a node within an execution.
// Maps to: step_execution table
type StepExecution struct {
	ID          uuid.UUID      `db:"id" json:"id"`
	ExecutionID uuid.UUID      `db:"execution_id" json:"execution_id"`
	NodeID      string         `db:"node_id" json:"node_id"`
	NodeLabel   string         `db:"node_label" json:"node_label"`
	NodeType    NodeType       `db:"node_type" json:"node_type"`
	Status      StepStatus     `db:"status" json:"status"`
	Attempts    int            `db:"attempts" json:"attempts"`
	Result      map[string]any `db:"result" json:"result,omitempty"`
	Error       string         `db:"error" json:"error,omitempty"`
	StartedAt   *time.Time     `db:"started_at" json:"started_at,omitempty"`
	CompletedAt *time.Time     `db:"completed_at" json:"completed_at,omitempty"`
}
