package models

import (
	"time"

	"github.com/google/uuid"
)

// WorkflowStatus represents the lifecycle status of a workflow snapshot
type WorkflowStatus string

const (
	WorkflowDraft    WorkflowStatus = "draft"
	WorkflowActive   WorkflowStatus = "active"
	WorkflowArchived WorkflowStatus = "archived"
)

// NodeType enumerates the node kinds the engine can execute
type NodeType string

const (
	NodeStart           NodeType = "start"
	NodeEnd             NodeType = "end"
	NodeAction          NodeType = "action"
	NodeCondition       NodeType = "condition"
	NodeDelay           NodeType = "delay"
	NodeFork            NodeType = "fork"
	NodeJoin            NodeType = "join"
	NodeTransform       NodeType = "transform"
	NodeWebhookResponse NodeType = "webhook_response"
)

// Position is the editor placement of a node; the engine ignores it
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Node is one unit of work in a workflow definition
type Node struct {
	ID       string         `json:"id"`
	Type     NodeType       `json:"type"`
	Label    string         `json:"label"`
	Config   map[string]any `json:"config"`
	Position *Position      `json:"position,omitempty"`
}

// Edge is a dependency from one node's completion to another's eligibility.
// ConditionBranch is "true", "false", or empty (unconditional).
type Edge struct {
	ID              string `json:"id"`
	Source          string `json:"source"`
	Target          string `json:"target"`
	ConditionBranch string `json:"conditionBranch,omitempty"`
}

// WorkflowDefinition is the DAG wire shape: the only format that crosses
// the service boundary
type WorkflowDefinition struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// NodeByID returns the node with the given ID, or nil
func (d *WorkflowDefinition) NodeByID(id string) *Node {
	for i := range d.Nodes {
		if d.Nodes[i].ID == id {
			return &d.Nodes[i]
		}
	}
	return nil
}

// OutEdges returns all edges whose source is the given node
func (d *WorkflowDefinition) OutEdges(nodeID string) []Edge {
	var out []Edge
	for _, e := range d.Edges {
		if e.Source == nodeID {
			out = append(out, e)
		}
	}
	return out
}

// InEdges returns all edges whose target is the given node
func (d *WorkflowDefinition) InEdges(nodeID string) []Edge {
	var in []Edge
	for _, e := range d.Edges {
		if e.Target == nodeID {
			in = append(in, e)
		}
	}
	return in
}

// InitialNodes returns nodes with no incoming edges
func (d *WorkflowDefinition) InitialNodes() []Node {
	hasIn := make(map[string]bool, len(d.Nodes))
	for _, e := range d.Edges {
		hasIn[e.Target] = true
	}
	var initial []Node
	for _, n := range d.Nodes {
		if !hasIn[n.ID] {
			initial = append(initial, n)
		}
	}
	return initial
}

// Workflow is an immutable snapshot keyed by (ID, Version).
// Maps to: workflow table
type Workflow struct {
	ID         uuid.UUID          `db:"id" json:"id"`
	Version    int                `db:"version" json:"version"`
	Name       string             `db:"name" json:"name"`
	Definition WorkflowDefinition `db:"definition" json:"definition"`
	Status     WorkflowStatus     `db:"status" json:"status"`
	CreatedAt  time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time          `db:"updated_at" json:"updated_at"`
}
